package quorum

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"ringkv/internal/clock"
	"ringkv/internal/metrics"
	"ringkv/internal/model"
	"ringkv/internal/repair"
	"ringkv/internal/replication"
	"ringkv/internal/ring"
)

const (
	// DefaultResponseTimeout is how long a caller waits for a quorum.
	DefaultResponseTimeout = time.Second
	DefaultReadCount       = 2
	DefaultWriteCount      = 2
)

var (
	// ErrQuorumTimeout is returned when not enough hosts answered in time,
	// whether they were slow or failed.
	ErrQuorumTimeout = errors.New("not enough good responses received from cluster")
	// ErrNoReplicas is returned when the ring has no host for a key.
	ErrNoReplicas = errors.New("no replicas available")
)

// Router performs one operation against one host.
type Router interface {
	Self() model.Host
	IsLocal(host model.Host) bool
	Get(ctx context.Context, host model.Host, key model.Key) replication.Outcome
	Put(ctx context.Context, host model.Host, obj *model.DataObject) replication.Outcome
}

// Config holds the quorum settings.
type Config struct {
	ReadCount       int
	WriteCount      int
	ResponseTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.ReadCount <= 0 {
		c.ReadCount = DefaultReadCount
	}
	if c.WriteCount <= 0 {
		c.WriteCount = DefaultWriteCount
	}
	if c.ResponseTimeout <= 0 {
		c.ResponseTimeout = DefaultResponseTimeout
	}
	return c
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Coordinator) { c.logger = l }
}

// WithMetrics sets the metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Coordinator) { c.metrics = m }
}

// WithClock sets the clock driving the response timeout.
func WithClock(clk clockwork.Clock) Option {
	return func(c *Coordinator) { c.clock = clk }
}

// Coordinator is the quorum read/write engine of a node.
type Coordinator struct {
	cfg      Config
	ring     *ring.Ring
	router   Router
	factory  *model.Factory
	repairer *repair.ReadRepairer
	logger   *zap.Logger
	metrics  *metrics.Metrics
	clock    clockwork.Clock

	// background tracks collectors and repairs that outlive the caller.
	background sync.WaitGroup
}

// New creates a coordinator.
func New(cfg Config, r *ring.Ring, router Router, factory *model.Factory, opts ...Option) *Coordinator {
	c := &Coordinator{
		cfg:     cfg.withDefaults(),
		ring:    r,
		router:  router,
		factory: factory,
		logger:  zap.NewNop(),
		clock:   clockwork.NewRealClock(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.metrics == nil {
		c.metrics = metrics.NewNop()
	}
	c.repairer = repair.NewReadRepairer(router, c.logger.Named("repair"), c.metrics)
	return c
}

// Wait blocks until all background work started so far has finished.
func (c *Coordinator) Wait() {
	c.background.Wait()
}

// verdict is what a collector hands to the waiting caller.
type verdict struct {
	obj *model.DataObject
	err error
}

// Get reads key from its replicas. It returns the newest object seen once
// ReadCount hosts answered with an object or "not found", model.ErrNotFound
// when none of them had one, and ErrQuorumTimeout otherwise. Stubs are
// returned like live objects.
func (c *Coordinator) Get(ctx context.Context, key model.Key) (*model.DataObject, error) {
	start := time.Now()
	obj, err := c.get(ctx, key)
	c.observe("get", start, err)
	return obj, err
}

func (c *Coordinator) get(ctx context.Context, key model.Key) (*model.DataObject, error) {
	logger := c.logger.With(zap.String("op", newOpID()), zap.Stringer("key", key))

	hosts := replication.ReplicasForKey(c.ring, key)
	if len(hosts) == 0 {
		return nil, ErrNoReplicas
	}
	logger.Debug("get fan-out", zap.Stringers("hosts", hosts))

	bg := context.WithoutCancel(ctx)
	responses := make(chan replication.Outcome, len(hosts))
	for _, host := range hosts {
		go func() {
			responses <- c.router.Get(bg, host, key)
		}()
	}

	result := make(chan verdict, 1)
	c.background.Add(1)
	go func() {
		defer c.background.Done()
		c.collectRead(bg, logger, hosts, responses, result)
	}()

	return c.await(ctx, result)
}

// collectRead consumes every read outcome, releases the caller once the
// verdict is known and repairs stale hosts after the last response.
func (c *Coordinator) collectRead(ctx context.Context, logger *zap.Logger, hosts []model.Host, responses <-chan replication.Outcome, result chan<- verdict) {
	remaining := c.cfg.ReadCount
	tracker := repair.NewTracker()
	released := false
	release := func(v verdict) {
		if !released {
			released = true
			result <- v
		}
	}

	for i := range hosts {
		out := <-responses
		switch out.Kind {
		case replication.Success:
			if err := tracker.Observe(out.Host, out.Object); err != nil {
				logger.Error("cannot compare replica version", zap.Stringer("host", out.Host), zap.Error(err))
				out = replication.Outcome{Kind: replication.Failure, Host: out.Host, Err: err}
			}
		case replication.NotFound:
			logger.Debug("missing data on replica", zap.Stringer("host", out.Host))
		default:
			logger.Warn("replica get failed", zap.Stringer("host", out.Host), zap.Error(out.Err))
		}
		c.metrics.ReplicaOutcomes.WithLabelValues("get", out.Kind.String()).Inc()

		if out.CountsForRead() {
			remaining--
		}
		if remaining <= 0 {
			if best := tracker.Best(); best != nil {
				release(verdict{obj: best})
			} else {
				release(verdict{err: model.ErrNotFound})
			}
		}
		if left := len(hosts) - i - 1; remaining > left {
			release(verdict{err: ErrQuorumTimeout})
		}
	}

	if stale := tracker.Stale(hosts); len(stale) > 0 {
		c.repairer.Repair(ctx, tracker.Best(), stale)
	}
}

// Put writes obj to its replicas and returns nil once WriteCount hosts accepted it.
// A write that is not newer than a replica's version fails with model.ErrStaleVersion;
// the coordinator then reads the key once in the background so read-repair spreads
// the newest version.
func (c *Coordinator) Put(ctx context.Context, obj *model.DataObject) error {
	start := time.Now()
	err := c.put(ctx, obj)
	c.observe("put", start, err)
	return err
}

// Delete writes a stub for key at version.
func (c *Coordinator) Delete(ctx context.Context, key model.Key, version clock.Version) error {
	return c.Put(ctx, c.factory.NewStub(key, version))
}

func (c *Coordinator) put(ctx context.Context, obj *model.DataObject) error {
	logger := c.logger.With(zap.String("op", newOpID()), zap.Stringer("key", obj.Key()), zap.Stringer("version", obj.Version()))

	hosts := replication.ReplicasForKey(c.ring, obj.Key())
	if len(hosts) == 0 {
		return ErrNoReplicas
	}
	logger.Debug("put fan-out", zap.Stringers("hosts", hosts))

	bg := context.WithoutCancel(ctx)
	remaining := c.cfg.WriteCount
	remotes := make([]model.Host, 0, len(hosts))
	for _, host := range hosts {
		if !c.router.IsLocal(host) {
			remotes = append(remotes, host)
			continue
		}
		// The local replica is written before any remote one.
		out := c.router.Put(bg, host, obj)
		c.metrics.ReplicaOutcomes.WithLabelValues("put", out.Kind.String()).Inc()
		switch out.Kind {
		case replication.Success:
			remaining--
		case replication.StaleVersion:
			logger.Warn("local replica holds a newer version", zap.Error(out.Err))
			c.spawn(func() { c.selfRepair(bg, logger, obj.Key()) })
			return fmt.Errorf("%w: key %s", model.ErrStaleVersion, obj.Key())
		default:
			logger.Error("local put failed", zap.Error(out.Err))
		}
	}

	responses := make(chan replication.Outcome, len(remotes))
	for _, host := range remotes {
		go func() {
			responses <- c.router.Put(bg, host, obj)
		}()
	}

	result := make(chan verdict, 1)
	c.background.Add(1)
	go func() {
		defer c.background.Done()
		c.collectWrite(bg, logger, obj, remaining, len(remotes), responses, result)
	}()

	_, err := c.await(ctx, result)
	return err
}

// collectWrite consumes the remote write outcomes. remaining is the write quorum
// left after the local put.
func (c *Coordinator) collectWrite(ctx context.Context, logger *zap.Logger, obj *model.DataObject, remaining, pending int, responses <-chan replication.Outcome, result chan<- verdict) {
	released := false
	release := func(err error) {
		if !released {
			released = true
			result <- verdict{err: err}
		}
	}
	// Without a quorum the caller waits for every host, since a late stale
	// answer must still surface as model.ErrStaleVersion.
	check := func(left int) {
		if remaining <= 0 {
			release(nil)
		}
		if left == 0 {
			release(ErrQuorumTimeout)
		}
	}

	conflict := false
	check(pending)
	for i := 0; i < pending; i++ {
		out := <-responses
		c.metrics.ReplicaOutcomes.WithLabelValues("put", out.Kind.String()).Inc()

		switch out.Kind {
		case replication.Success:
			remaining--
		case replication.StaleVersion:
			logger.Warn("replica holds a newer version", zap.Stringer("host", out.Host), zap.Error(out.Err))
			conflict = true
			release(fmt.Errorf("%w: key %s", model.ErrStaleVersion, obj.Key()))
		default:
			logger.Warn("replica put failed", zap.Stringer("host", out.Host), zap.Error(out.Err))
		}
		check(pending - i - 1)
	}

	if conflict {
		c.selfRepair(ctx, logger, obj.Key())
	}
}

// selfRepair reads key through the quorum path so that read-repair propagates
// the newest version. Errors are logged only.
func (c *Coordinator) selfRepair(ctx context.Context, logger *zap.Logger, key model.Key) {
	logger.Info("reading key to repair replicas after stale write")
	if _, err := c.Get(ctx, key); err != nil && !errors.Is(err, model.ErrNotFound) {
		logger.Warn("repair read failed", zap.Error(err))
	}
}

// await waits for the collector verdict, the response timeout or ctx.
func (c *Coordinator) await(ctx context.Context, result <-chan verdict) (*model.DataObject, error) {
	timer := c.clock.NewTimer(c.cfg.ResponseTimeout)
	defer timer.Stop()

	select {
	case v := <-result:
		return v.obj, v.err
	case <-timer.Chan():
		return nil, ErrQuorumTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Coordinator) spawn(fn func()) {
	c.background.Add(1)
	go func() {
		defer c.background.Done()
		fn()
	}()
}

func (c *Coordinator) observe(op string, start time.Time, err error) {
	c.metrics.OperationDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	c.metrics.Operations.WithLabelValues(op, resultLabel(err)).Inc()
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, model.ErrNotFound):
		return "not_found"
	case errors.Is(err, model.ErrStaleVersion):
		return "stale_version"
	case errors.Is(err, ErrQuorumTimeout):
		return "quorum_timeout"
	case errors.Is(err, ErrNoReplicas):
		return "no_replicas"
	default:
		return "error"
	}
}

func newOpID() string {
	id, err := uuid.NewV4()
	if err != nil {
		return "unknown"
	}
	return id.String()
}
