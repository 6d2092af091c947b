package node

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"ringkv/internal/clock"
	"ringkv/internal/config"
	"ringkv/internal/membership"
	"ringkv/internal/metrics"
	"ringkv/internal/model"
	"ringkv/internal/quorum"
	"ringkv/internal/replication"
	"ringkv/internal/ring"
	"ringkv/internal/storage"
	"ringkv/internal/transport"
)

const shutdownTimeout = 5 * time.Second

// lifecycle is implemented by membership providers that hold a registration.
type lifecycle interface {
	Start(ctx context.Context) error
	Close() error
}

// Option configures a Node.
type Option func(*Node)

// WithMembership replaces the provider built from the configuration.
func WithMembership(p membership.Provider) Option {
	return func(n *Node) { n.membership = p }
}

// WithClock sets the clock used for creation times and compaction.
func WithClock(clk clockwork.Clock) Option {
	return func(n *Node) { n.clock = clk }
}

// WithRegistry sets the registry the node metrics are registered on.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(n *Node) { n.registry = reg }
}

// Node represents a single node in the distributed system.
type Node struct {
	cfg    *config.Config
	self   model.Host
	logger *zap.Logger

	clock    clockwork.Clock
	registry *prometheus.Registry
	metrics  *metrics.Metrics

	factory     *model.Factory
	store       *storage.InMemoryStore
	ring        *ring.Ring
	clients     *transport.ClientManager
	remote      *transport.RemoteStore
	coordinator *quorum.Coordinator
	membership  membership.Provider
	etcd        *clientv3.Client

	grpcServer *grpc.Server
	httpServer *http.Server

	ringMu sync.Mutex // serializes membership callbacks
}

// New creates a node from cfg. Nothing is started until Serve.
func New(cfg *config.Config, logger *zap.Logger, opts ...Option) (*Node, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	self, err := cfg.Self()
	if err != nil {
		return nil, fmt.Errorf("invalid self host: %w", err)
	}

	n := &Node{
		cfg:    cfg,
		self:   self,
		logger: logger,
	}
	for _, opt := range opts {
		opt(n)
	}
	if n.clock == nil {
		n.clock = clockwork.NewRealClock()
	}
	if n.registry == nil {
		n.registry = prometheus.NewRegistry()
	}
	n.metrics = metrics.New(n.registry)

	if n.membership == nil {
		provider, etcd, err := newProvider(cfg, self, n.logger.Named("membership"))
		if err != nil {
			return nil, err
		}
		n.membership = provider
		n.etcd = etcd
	}

	n.factory = model.NewFactory(clock.DecodeCounter, n.clock)
	n.store = storage.NewInMemoryStore(n.clock)
	n.ring = ring.NewRing(cfg.ReplicationFactor)
	n.clients = transport.NewClientManager()
	n.remote = transport.NewRemoteStore(n.clients, n.factory, cfg.TransportTimeout, n.logger.Named("transport"), n.metrics)

	router := replication.NewRouter(self, n.store, n.remote)
	n.coordinator = quorum.New(cfg.QuorumConfig(), n.ring, router, n.factory,
		quorum.WithLogger(n.logger.Named("quorum")),
		quorum.WithMetrics(n.metrics),
		quorum.WithClock(n.clock),
	)

	n.grpcServer = grpc.NewServer()
	transport.RegisterReplicaServer(n.grpcServer, transport.NewServer(n.store, n.factory, n.logger.Named("replica")))

	n.httpServer = &http.Server{
		Handler:           newAPI(n).routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	n.membership.Subscribe(n.onMembershipChanged)
	return n, nil
}

// newProvider builds the configured membership provider. The etcd client, if
// any, is owned by the node.
func newProvider(cfg *config.Config, self model.Host, logger *zap.Logger) (membership.Provider, *clientv3.Client, error) {
	switch cfg.Membership {
	case config.MembershipEtcd:
		ec := cfg.EtcdConfig()
		client, err := membership.DialEtcd(ec, logger)
		if err != nil {
			return nil, nil, err
		}
		return membership.NewEtcd(client, ec, self, logger), client, nil
	default:
		peers, err := config.ParsePeers(cfg.Peers)
		if err != nil {
			return nil, nil, err
		}
		return membership.NewStatic(self, peers), nil, nil
	}
}

// Self returns the host of this node.
func (n *Node) Self() model.Host {
	return n.self
}

// Ring returns the ring of this node.
func (n *Node) Ring() *ring.Ring {
	return n.ring
}

// Coordinator returns the coordinator of this node.
func (n *Node) Coordinator() *quorum.Coordinator {
	return n.coordinator
}

// Store returns the local store.
func (n *Node) Store() *storage.InMemoryStore {
	return n.store
}

// Factory returns the object factory.
func (n *Node) Factory() *model.Factory {
	return n.factory
}

// Handler returns the public HTTP API.
func (n *Node) Handler() http.Handler {
	return n.httpServer.Handler
}

// Serve runs the replica service on grpcLis and the public API on httpLis
// until ctx is done or one of them fails.
func (n *Node) Serve(ctx context.Context, grpcLis, httpLis net.Listener) error {
	if lc, ok := n.membership.(lifecycle); ok {
		if err := lc.Start(ctx); err != nil {
			return fmt.Errorf("failed to join membership: %w", err)
		}
		defer func() {
			if err := lc.Close(); err != nil {
				n.logger.Warn("failed to leave membership", zap.Error(err))
			}
		}()
	}

	if err := n.membership.Refresh(ctx); err != nil {
		return fmt.Errorf("failed to list hosts: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		n.logger.Info("starting replica service", zap.String("addr", grpcLis.Addr().String()))
		if err := n.grpcServer.Serve(grpcLis); err != nil {
			return fmt.Errorf("replica service: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		n.logger.Info("starting http api", zap.String("addr", httpLis.Addr().String()))
		if err := n.httpServer.Serve(httpLis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http api: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		n.store.RunCompaction(gctx, n.cfg.CompactionInterval, n.cfg.TombstoneTTL, n.logger.Named("storage"), func(removed int) {
			n.metrics.TombstonesCompacted.Add(float64(removed))
		})
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		n.logger.Info("stopping node")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := n.httpServer.Shutdown(shutdownCtx); err != nil {
			n.logger.Warn("http api shutdown", zap.Error(err))
		}
		n.grpcServer.GracefulStop()
		return nil
	})

	err := g.Wait()
	n.coordinator.Wait()
	if cerr := n.clients.Close(); cerr != nil {
		n.logger.Warn("failed to close replica connections", zap.Error(cerr))
	}
	return err
}

// Close releases what New acquired. Call it after Serve returned, or instead
// of Serve when the node never ran.
func (n *Node) Close() error {
	if n.etcd == nil {
		return nil
	}
	err := n.etcd.Close()
	n.etcd = nil
	if err != nil {
		return fmt.Errorf("failed to close etcd client: %w", err)
	}
	return nil
}

// onMembershipChanged rebuilds the ring and drops state kept for hosts that left.
func (n *Node) onMembershipChanged(hosts []model.Host) {
	n.ringMu.Lock()
	defer n.ringMu.Unlock()

	previous := n.ring.Hosts()
	n.ring.Update(hosts)
	n.metrics.RingHosts.Set(float64(n.ring.Len()))

	current := make(map[model.Host]bool, len(hosts))
	for _, h := range hosts {
		current[h] = true
	}
	for _, h := range previous {
		if !current[h] && h != n.self {
			n.remote.Forget(h)
		}
	}

	n.logger.Info("ring updated", zap.Int("hosts", n.ring.Len()), zap.Stringers("members", hosts))
}
