package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"ringkv/internal/metrics"
	"ringkv/internal/model"
	"ringkv/internal/wire"
)

// DefaultCallTimeout bounds a single replica call.
const DefaultCallTimeout = 30 * time.Second

// RemoteStore reaches other nodes' local stores through the Replica service.
// Each host gets its own circuit breaker; an open breaker fails calls
// immediately, which the coordinator treats like any other host failure.
type RemoteStore struct {
	clients     *ClientManager
	factory     *model.Factory
	callTimeout time.Duration
	logger      *zap.Logger
	metrics     *metrics.Metrics

	mu       sync.Mutex
	breakers map[model.Host]*gobreaker.CircuitBreaker
}

// NewRemoteStore creates a remote store.
func NewRemoteStore(clients *ClientManager, factory *model.Factory, callTimeout time.Duration, logger *zap.Logger, m *metrics.Metrics) *RemoteStore {
	if callTimeout <= 0 {
		callTimeout = DefaultCallTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if m == nil {
		m = metrics.NewNop()
	}
	return &RemoteStore{
		clients:     clients,
		factory:     factory,
		callTimeout: callTimeout,
		logger:      logger,
		metrics:     m,
		breakers:    make(map[model.Host]*gobreaker.CircuitBreaker),
	}
}

// Get reads key from host.
func (r *RemoteStore) Get(ctx context.Context, host model.Host, key model.Key) (*model.DataObject, error) {
	res, err := r.call(ctx, host, func(ctx context.Context, c *ReplicaClient) (interface{}, error) {
		return c.Get(ctx, wrapperspb.Bytes(key.Bytes()))
	})
	if err != nil {
		return nil, err
	}

	obj, err := wire.Unmarshal(r.factory, res.(*wrapperspb.BytesValue).GetValue())
	if err != nil {
		return nil, fmt.Errorf("decode response from %s: %w", host, err)
	}
	if obj.Key() != key {
		return nil, fmt.Errorf("host %s answered for key %s instead of %s", host, obj.Key(), key)
	}
	return obj, nil
}

// Put writes obj to host.
func (r *RemoteStore) Put(ctx context.Context, host model.Host, obj *model.DataObject) error {
	_, err := r.call(ctx, host, func(ctx context.Context, c *ReplicaClient) (interface{}, error) {
		return c.Put(ctx, wrapperspb.Bytes(wire.Marshal(obj)))
	})
	return err
}

func (r *RemoteStore) call(ctx context.Context, host model.Host, fn func(context.Context, *ReplicaClient) (interface{}, error)) (interface{}, error) {
	client, err := r.clients.GetClient(host.Addr())
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, r.callTimeout)
	defer cancel()

	res, err := r.breaker(host).Execute(func() (interface{}, error) {
		res, err := fn(ctx, client)
		if err != nil {
			return nil, fromStatus(err)
		}
		return res, nil
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("host %s unavailable: %w", host, err)
		}
		return nil, err
	}
	return res, nil
}

func (r *RemoteStore) breaker(host model.Host) *gobreaker.CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cb, ok := r.breakers[host]; ok {
		return cb
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        host.String(),
		MaxRequests: 1,
		Interval:    30 * time.Second,
		Timeout:     10 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		// Not-found and stale-version are answers, not failures of the host.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, model.ErrNotFound) || errors.Is(err, model.ErrStaleVersion)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			r.logger.Warn("circuit breaker state changed",
				zap.String("host", name),
				zap.Stringer("from", from),
				zap.Stringer("to", to))
			r.metrics.BreakerTransitions.WithLabelValues(name, to.String()).Inc()
		},
	})
	r.breakers[host] = cb
	return cb
}

// Forget drops the breaker and connection of a host that left the ring.
func (r *RemoteStore) Forget(host model.Host) {
	r.mu.Lock()
	delete(r.breakers, host)
	r.mu.Unlock()
	r.clients.Forget(host.Addr())
}
