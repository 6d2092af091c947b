package membership

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.etcd.io/etcd/api/v3/mvccpb"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"

	"ringkv/internal/model"
)

const (
	DefaultPrefix      = "/ringkv/hosts"
	DefaultLeaseTTL    = 10 // seconds
	DefaultDialTimeout = 5 * time.Second

	retryCount = 3
	retryDelay = time.Second
)

// EtcdConfig configures the etcd provider.
type EtcdConfig struct {
	Endpoints   []string
	Prefix      string
	DialTimeout time.Duration
	LeaseTTL    int64
}

func (c *EtcdConfig) normalize() {
	c.Prefix = strings.TrimRight(strings.TrimSpace(c.Prefix), "/")
	if c.Prefix == "" {
		c.Prefix = DefaultPrefix
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = DefaultDialTimeout
	}
	if c.LeaseTTL <= 0 {
		c.LeaseTTL = DefaultLeaseTTL
	}
}

// DialEtcd creates an etcd client for cfg.
func DialEtcd(cfg EtcdConfig, logger *zap.Logger) (*clientv3.Client, error) {
	cfg.normalize()
	if len(cfg.Endpoints) == 0 {
		return nil, errors.New("etcd endpoints are not set")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	c, err := clientv3.New(clientv3.Config{
		Endpoints:   cfg.Endpoints,
		DialTimeout: cfg.DialTimeout,
		Logger:      logger.Named("etcd-client").WithOptions(zap.IncreaseLevel(zap.WarnLevel)),
	})
	if err != nil {
		return nil, fmt.Errorf("cannot create etcd client: %w", err)
	}
	return c, nil
}

// Etcd is a membership provider backed by etcd. Each node writes its host
// under Prefix with a lease kept alive for the lifetime of the process.
type Etcd struct {
	notifier
	client *clientv3.Client
	cfg    EtcdConfig
	self   model.Host
	logger *zap.Logger

	mu      sync.Mutex
	leaseID clientv3.LeaseID
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewEtcd creates a provider registering self through client.
func NewEtcd(client *clientv3.Client, cfg EtcdConfig, self model.Host, logger *zap.Logger) *Etcd {
	cfg.normalize()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Etcd{
		client: client,
		cfg:    cfg,
		self:   self,
		logger: logger.Named("membership"),
	}
}

func (e *Etcd) CurrentHost() model.Host {
	return e.self
}

// Start registers the current host and starts watching the membership prefix.
// Registration is retried a few times before giving up.
func (e *Etcd) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	var leaseID clientv3.LeaseID
	err := e.retry(ctx, func() error {
		id, err := e.register(ctx)
		leaseID = id
		return err
	})
	if err != nil {
		cancel()
		return fmt.Errorf("cannot register %s: %w", e.self, err)
	}

	keepAlive, err := e.client.KeepAlive(runCtx, leaseID)
	if err != nil {
		cancel()
		return fmt.Errorf("cannot keep lease alive: %w", err)
	}

	e.mu.Lock()
	e.leaseID = leaseID
	e.cancel = cancel
	e.mu.Unlock()

	e.wg.Add(2)
	go func() {
		defer e.wg.Done()
		for range keepAlive {
			// drain responses; the channel closes when the lease is lost or runCtx ends
		}
		if runCtx.Err() == nil {
			e.logger.Error("lease keep-alive stopped, host will drop out of the ring", zap.Stringer("host", e.self))
		}
	}()
	go func() {
		defer e.wg.Done()
		e.watch(runCtx)
	}()

	e.logger.Info("registered host", zap.Stringer("host", e.self), zap.String("prefix", e.cfg.Prefix))
	return nil
}

func (e *Etcd) register(ctx context.Context) (clientv3.LeaseID, error) {
	lease, err := e.client.Grant(ctx, e.cfg.LeaseTTL)
	if err != nil {
		return 0, fmt.Errorf("grant lease: %w", err)
	}
	if _, err := e.client.Put(ctx, e.hostKey(e.self), e.self.String(), clientv3.WithLease(lease.ID)); err != nil {
		return 0, fmt.Errorf("put host key: %w", err)
	}
	return lease.ID, nil
}

// AvailableHosts lists the registered hosts.
func (e *Etcd) AvailableHosts(ctx context.Context) ([]model.Host, error) {
	hosts, _, err := e.list(ctx)
	return hosts, err
}

// Refresh lists the registered hosts and notifies subscribers. Lists read at
// an older revision than the last delivered one are dropped.
func (e *Etcd) Refresh(ctx context.Context) error {
	hosts, rev, err := e.list(ctx)
	if err != nil {
		return err
	}
	if e.notify(rev, hosts) {
		e.logger.Info("membership changed", zap.Stringers("hosts", hosts))
	}
	return nil
}

func (e *Etcd) list(ctx context.Context) ([]model.Host, int64, error) {
	var (
		hosts []model.Host
		rev   int64
	)
	err := e.retry(ctx, func() error {
		resp, err := e.client.Get(ctx, e.cfg.Prefix+"/", clientv3.WithPrefix())
		if err != nil {
			return err
		}
		hosts = hostsFromKVs(resp.Kvs, e.logger)
		rev = resp.Header.GetRevision()
		return nil
	})
	if err != nil {
		return nil, 0, fmt.Errorf("cannot list hosts: %w", err)
	}
	return hosts, rev, nil
}

// watch re-lists the hosts after every change under the prefix and notifies subscribers.
func (e *Etcd) watch(ctx context.Context) {
	for ctx.Err() == nil {
		hosts, rev, err := e.list(ctx)
		if err != nil {
			e.logger.Error("membership list failed", zap.Error(err))
			if !sleepCtx(ctx, retryDelay) {
				return
			}
			continue
		}
		if e.notify(rev, hosts) {
			e.logger.Info("membership changed", zap.Stringers("hosts", hosts))
		}

		wch := e.client.Watch(ctx, e.cfg.Prefix+"/", clientv3.WithPrefix(), clientv3.WithRev(rev+1))
		for resp := range wch {
			if err := resp.Err(); err != nil {
				e.logger.Warn("membership watch interrupted", zap.Error(err))
				break
			}
			if len(resp.Events) == 0 {
				continue
			}
			hosts, rev, err := e.list(ctx)
			if err != nil {
				e.logger.Error("membership list failed", zap.Error(err))
				continue
			}
			if e.notify(rev, hosts) {
				e.logger.Info("membership changed", zap.Stringers("hosts", hosts))
			}
		}
	}
}

// Close stops watching and revokes the lease so the host leaves the ring at once.
func (e *Etcd) Close() error {
	e.mu.Lock()
	cancel, leaseID := e.cancel, e.leaseID
	e.cancel = nil
	e.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	e.wg.Wait()

	ctx, done := context.WithTimeout(context.Background(), e.cfg.DialTimeout)
	defer done()
	if _, err := e.client.Revoke(ctx, leaseID); err != nil {
		return fmt.Errorf("cannot revoke lease: %w", err)
	}
	return nil
}

func (e *Etcd) hostKey(h model.Host) string {
	return e.cfg.Prefix + "/" + h.String()
}

// retry runs op up to retryCount more times, retryDelay apart.
func (e *Etcd) retry(ctx context.Context, op func() error) error {
	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(retryDelay), retryCount), ctx)
	return backoff.RetryNotify(op, b, func(err error, next time.Duration) {
		e.logger.Warn("etcd operation failed, retrying", zap.Error(err), zap.Duration("in", next))
	})
}

// hostsFromKVs parses registration values, skipping malformed entries.
func hostsFromKVs(kvs []*mvccpb.KeyValue, logger *zap.Logger) []model.Host {
	hosts := make([]model.Host, 0, len(kvs))
	for _, kv := range kvs {
		h, err := model.ParseHost(string(kv.Value))
		if err != nil {
			logger.Warn("skipping malformed host registration", zap.ByteString("key", kv.Key), zap.Error(err))
			continue
		}
		hosts = append(hosts, h)
	}
	return normalize(hosts)
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
