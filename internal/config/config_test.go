package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ringkv/internal/model"
)

func TestParsePeers(t *testing.T) {
	tests := []struct {
		name    string
		input   []string
		want    []model.Host
		wantErr bool
	}{
		{
			name:  "empty",
			input: nil,
			want:  []model.Host{},
		},
		{
			name:  "single peer",
			input: []string{"127.0.0.1:7001:40"},
			want: []model.Host{
				model.NewHost("127.0.0.1", 7001, model.Token("\x40")),
			},
		},
		{
			name:  "multiple entries",
			input: []string{"127.0.0.1:7001:40", "127.0.0.1:7002:80"},
			want: []model.Host{
				model.NewHost("127.0.0.1", 7001, model.Token("\x40")),
				model.NewHost("127.0.0.1", 7002, model.Token("\x80")),
			},
		},
		{
			name:  "comma separated with spaces",
			input: []string{" 127.0.0.1:7001:40 , 127.0.0.1:7002:80 ,"},
			want: []model.Host{
				model.NewHost("127.0.0.1", 7001, model.Token("\x40")),
				model.NewHost("127.0.0.1", 7002, model.Token("\x80")),
			},
		},
		{
			name:    "invalid format - missing token",
			input:   []string{"127.0.0.1:7001"},
			wantErr: true,
		},
		{
			name:    "invalid format - bad port",
			input:   []string{"127.0.0.1:http:40"},
			wantErr: true,
		},
		{
			name:    "invalid format - bad token",
			input:   []string{"127.0.0.1:7001:zz"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParsePeers(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ParsePeers() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if !tt.wantErr {
				if len(got) != len(tt.want) {
					t.Errorf("ParsePeers() length = %d, want %d", len(got), len(tt.want))
					return
				}
				for i := range got {
					if got[i] != tt.want[i] {
						t.Errorf("ParsePeers()[%d] = %v, want %v", i, got[i], tt.want[i])
					}
				}
			}
		})
	}
}

func load(t *testing.T, args ...string) (*Config, error) {
	t.Helper()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(fs)
	require.NoError(t, fs.Parse(args))
	return Load(fs)
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := load(t)
	require.NoError(t, err)

	d := Default()
	assert.Equal(t, d.Host, cfg.Host)
	assert.Equal(t, d.Port, cfg.Port)
	assert.Equal(t, 3, cfg.ReplicationFactor)
	assert.Equal(t, 2, cfg.ReadCount)
	assert.Equal(t, 2, cfg.WriteCount)
	assert.Equal(t, time.Second, cfg.ResponseTimeout)
	assert.Equal(t, 30*time.Second, cfg.TransportTimeout)
	assert.Equal(t, MembershipStatic, cfg.Membership)
	assert.Empty(t, cfg.Peers)
}

func TestLoad_Flags(t *testing.T) {
	cfg, err := load(t,
		"--host", "10.0.0.1",
		"--port", "7100",
		"--token", "ab",
		"--peers", "10.0.0.2:7100:40,10.0.0.3:7100:80",
		"--read-count", "1",
		"--response-timeout", "250ms",
	)
	require.NoError(t, err)

	assert.Equal(t, "10.0.0.1", cfg.Host)
	assert.Equal(t, 7100, cfg.Port)
	assert.Equal(t, 1, cfg.ReadCount)
	assert.Equal(t, 250*time.Millisecond, cfg.ResponseTimeout)

	peers, err := ParsePeers(cfg.Peers)
	require.NoError(t, err)
	assert.Len(t, peers, 2)

	self, err := cfg.Self()
	require.NoError(t, err)
	assert.Equal(t, model.NewHost("10.0.0.1", 7100, model.Token("\xab")), self)
	assert.Equal(t, ":7100", cfg.GRPCListenAddr())
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "ringkv.yaml")
	content := "host: 10.0.0.9\nwrite-count: 3\ntombstone-ttl: 1h\n"
	require.NoError(t, os.WriteFile(file, []byte(content), 0o600))

	t.Setenv("RINGKV_WRITE_COUNT", "1")
	t.Setenv("RINGKV_LOG_LEVEL", "debug")

	cfg, err := load(t, "--config", file)
	require.NoError(t, err)

	assert.Equal(t, "10.0.0.9", cfg.Host)
	assert.Equal(t, 1, cfg.WriteCount)
	assert.Equal(t, time.Hour, cfg.TombstoneTTL)
	assert.Equal(t, "debug", cfg.LogConfig().Level)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := load(t, "--config", filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero read count", func(c *Config) { c.ReadCount = 0 }},
		{"zero write count", func(c *Config) { c.WriteCount = 0 }},
		{"zero replication factor", func(c *Config) { c.ReplicationFactor = 0 }},
		{"port out of range", func(c *Config) { c.Port = 70000 }},
		{"bad token", func(c *Config) { c.Token = "xyz" }},
		{"unknown membership", func(c *Config) { c.Membership = "zookeeper" }},
		{"etcd without endpoints", func(c *Config) { c.Membership = MembershipEtcd }},
		{"bad log level", func(c *Config) { c.LogLevel = "loud" }},
		{"bad peer", func(c *Config) { c.Peers = []string{"nope"} }},
		{"zero response timeout", func(c *Config) { c.ResponseTimeout = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestValidate_QuorumLargerThanReplicas(t *testing.T) {
	cfg := Default()
	cfg.ReadCount = 5
	assert.NoError(t, cfg.Validate())
}

func TestSelf_DerivedToken(t *testing.T) {
	cfg := Default()
	self, err := cfg.Self()
	require.NoError(t, err)
	assert.Equal(t, model.DeriveToken(cfg.Host, cfg.Port), self.Token)
}

func TestEtcdConfig(t *testing.T) {
	cfg := Default()
	cfg.Membership = MembershipEtcd
	cfg.EtcdEndpoints = []string{"127.0.0.1:2379"}
	require.NoError(t, cfg.Validate())

	ec := cfg.EtcdConfig()
	assert.Equal(t, []string{"127.0.0.1:2379"}, ec.Endpoints)
	assert.Equal(t, cfg.EtcdPrefix, ec.Prefix)
}
