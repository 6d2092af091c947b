package config

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"ringkv/internal/logging"
	"ringkv/internal/membership"
	"ringkv/internal/model"
	"ringkv/internal/quorum"
	"ringkv/internal/transport"
)

const (
	envPrefix = "RINGKV"

	MembershipStatic = "static"
	MembershipEtcd   = "etcd"
)

// Config holds the node configuration.
type Config struct {
	ConfigFile string `mapstructure:"config"`

	Host     string   `mapstructure:"host" validate:"required"`
	Port     int      `mapstructure:"port" validate:"min=1,max=65535"`
	Token    string   `mapstructure:"token" validate:"omitempty,hexadecimal"`
	HTTPAddr string   `mapstructure:"http-addr" validate:"required"`
	Peers    []string `mapstructure:"peers"`

	ReplicationFactor int           `mapstructure:"replication-factor" validate:"min=1"`
	ReadCount         int           `mapstructure:"read-count" validate:"min=1"`
	WriteCount        int           `mapstructure:"write-count" validate:"min=1"`
	ResponseTimeout   time.Duration `mapstructure:"response-timeout" validate:"gt=0"`
	TransportTimeout  time.Duration `mapstructure:"transport-timeout" validate:"gt=0"`

	TombstoneTTL       time.Duration `mapstructure:"tombstone-ttl" validate:"gt=0"`
	CompactionInterval time.Duration `mapstructure:"compaction-interval" validate:"gt=0"`

	Membership        string        `mapstructure:"membership" validate:"oneof=static etcd"`
	EtcdEndpoints     []string      `mapstructure:"etcd-endpoints" validate:"required_if=Membership etcd"`
	EtcdPrefix        string        `mapstructure:"etcd-prefix"`
	EtcdDialTimeout   time.Duration `mapstructure:"etcd-dial-timeout" validate:"gt=0"`
	EtcdLeaseTTL      int64         `mapstructure:"etcd-lease-ttl" validate:"min=1"`

	LogLevel       string `mapstructure:"log-level" validate:"oneof=debug info warn error"`
	LogDevelopment bool   `mapstructure:"log-development"`
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		Host:               "127.0.0.1",
		Port:               7000,
		HTTPAddr:           ":8080",
		ReplicationFactor:  3,
		ReadCount:          quorum.DefaultReadCount,
		WriteCount:         quorum.DefaultWriteCount,
		ResponseTimeout:    quorum.DefaultResponseTimeout,
		TransportTimeout:   transport.DefaultCallTimeout,
		TombstoneTTL:       24 * time.Hour,
		CompactionInterval: 10 * time.Minute,
		Membership:         MembershipStatic,
		EtcdPrefix:         membership.DefaultPrefix,
		EtcdDialTimeout:    membership.DefaultDialTimeout,
		EtcdLeaseTTL:       membership.DefaultLeaseTTL,
		LogLevel:           "info",
	}
}

// RegisterFlags defines the configuration flags on fs.
func RegisterFlags(fs *pflag.FlagSet) {
	d := Default()
	fs.String("config", "", "Path to a config file (yaml, json or toml).")
	fs.String("host", d.Host, "Address other nodes use to reach this node.")
	fs.Int("port", d.Port, "Replica (gRPC) port.")
	fs.String("token", d.Token, "Hex ring token of this node. Derived from host:port when empty.")
	fs.String("http-addr", d.HTTPAddr, "Listen address of the public HTTP API.")
	fs.StringSlice("peers", nil, "Static peers as host:port:hextoken.")
	fs.Int("replication-factor", d.ReplicationFactor, "Number of replicas per key (N).")
	fs.Int("read-count", d.ReadCount, "Read quorum (R).")
	fs.Int("write-count", d.WriteCount, "Write quorum (W).")
	fs.Duration("response-timeout", d.ResponseTimeout, "How long a request waits for its quorum.")
	fs.Duration("transport-timeout", d.TransportTimeout, "Timeout of a single replica call.")
	fs.Duration("tombstone-ttl", d.TombstoneTTL, "Age after which deleted keys are compacted.")
	fs.Duration("compaction-interval", d.CompactionInterval, "How often tombstones are compacted.")
	fs.String("membership", d.Membership, "Membership provider: static or etcd.")
	fs.StringSlice("etcd-endpoints", nil, "Etcd endpoints.")
	fs.String("etcd-prefix", d.EtcdPrefix, "Etcd key prefix of host registrations.")
	fs.Duration("etcd-dial-timeout", d.EtcdDialTimeout, "Etcd dial timeout.")
	fs.Int64("etcd-lease-ttl", d.EtcdLeaseTTL, "Etcd registration lease TTL in seconds.")
	fs.String("log-level", d.LogLevel, "Log level: debug, info, warn or error.")
	fs.Bool("log-development", d.LogDevelopment, "Human readable console logs.")
}

// Load builds the configuration from fs, the environment and the optional
// config file, in decreasing precedence, and validates it.
func Load(fs *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	if err := v.BindPFlags(fs); err != nil {
		return nil, fmt.Errorf("bind flags: %w", err)
	}
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if file := v.GetString("config"); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", file, err)
		}
	}

	cfg := Default()
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks field constraints and the peer list.
// The relation between N, R and W is left to the operator.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if _, err := ParsePeers(c.Peers); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// ParsePeers parses peers in the format "host:port:hextoken".
// Each entry may itself be a comma-separated list.
func ParsePeers(entries []string) ([]model.Host, error) {
	peers := make([]model.Host, 0, len(entries))
	for _, entry := range entries {
		for _, part := range strings.Split(entry, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			h, err := model.ParseHost(part)
			if err != nil {
				return nil, fmt.Errorf("invalid peer format: %w", err)
			}
			peers = append(peers, h)
		}
	}
	return peers, nil
}

// Self returns the host of this node.
func (c *Config) Self() (model.Host, error) {
	if c.Token == "" {
		return model.NewHost(c.Host, c.Port, model.DeriveToken(c.Host, c.Port)), nil
	}
	token, err := model.ParseToken(c.Token)
	if err != nil {
		return model.Host{}, err
	}
	return model.NewHost(c.Host, c.Port, token), nil
}

// GRPCListenAddr is the listen address of the replica service.
func (c *Config) GRPCListenAddr() string {
	return net.JoinHostPort("", strconv.Itoa(c.Port))
}

func (c *Config) QuorumConfig() quorum.Config {
	return quorum.Config{
		ReadCount:       c.ReadCount,
		WriteCount:      c.WriteCount,
		ResponseTimeout: c.ResponseTimeout,
	}
}

func (c *Config) EtcdConfig() membership.EtcdConfig {
	return membership.EtcdConfig{
		Endpoints:   c.EtcdEndpoints,
		Prefix:      c.EtcdPrefix,
		DialTimeout: c.EtcdDialTimeout,
		LeaseTTL:    c.EtcdLeaseTTL,
	}
}

func (c *Config) LogConfig() logging.Config {
	return logging.Config{
		Level:       c.LogLevel,
		Development: c.LogDevelopment,
	}
}
