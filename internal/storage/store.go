package storage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"ringkv/internal/clock"
	"ringkv/internal/model"
)

// Store defines the interface for the local object store.
type Store interface {
	// Get returns the object stored for key, or model.ErrNotFound.
	Get(key model.Key) (*model.DataObject, error)
	// Put stores obj, failing with model.ErrStaleVersion unless obj is strictly newer
	// than the stored object for the same key.
	Put(obj *model.DataObject) error
}

// InMemoryStore is an in-memory implementation of Store.
// It's thread-safe; objects are immutable so they are shared without copying.
type InMemoryStore struct {
	mu    sync.RWMutex
	data  map[model.Key]*model.DataObject
	clock clockwork.Clock
}

// NewInMemoryStore creates a new in-memory store. clk drives tombstone compaction.
func NewInMemoryStore(clk clockwork.Clock) *InMemoryStore {
	if clk == nil {
		clk = clockwork.NewRealClock()
	}
	return &InMemoryStore{
		data:  make(map[model.Key]*model.DataObject),
		clock: clk,
	}
}

// Get retrieves an object by key. Stubs are returned like any other object.
func (s *InMemoryStore) Get(key model.Key) (*model.DataObject, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	obj, exists := s.data[key]
	if !exists {
		return nil, model.ErrNotFound
	}
	return obj, nil
}

// Put stores obj if it is strictly newer than the existing object (last writer wins by version).
func (s *InMemoryStore) Put(obj *model.DataObject) error {
	if obj == nil || obj.Version() == nil {
		return fmt.Errorf("put requires an object with a version")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, exists := s.data[obj.Key()]; exists {
		before, err := clock.IsBefore(existing.Version(), obj.Version())
		if err != nil {
			return fmt.Errorf("compare versions for key %s: %w", obj.Key(), err)
		}
		if !before {
			return fmt.Errorf("%w: key %s has %s, incoming %s", model.ErrStaleVersion, obj.Key(), existing.Version(), obj.Version())
		}
	}

	s.data[obj.Key()] = obj
	return nil
}

// Len returns the number of stored objects, stubs included.
func (s *InMemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}

// Compact removes stubs created more than ttl ago and returns how many were removed.
// Creation time is node-local and only used as a hint here.
func (s *InMemoryStore) Compact(ttl time.Duration) int {
	cutoff := s.clock.Now().Add(-ttl).UnixMilli()

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key, obj := range s.data {
		if obj.IsStub() && obj.CreationTime() < cutoff {
			delete(s.data, key)
			removed++
		}
	}
	return removed
}

// RunCompaction compacts every interval until ctx is done. onCompact, if set,
// receives the number of removed stubs after each pass.
func (s *InMemoryStore) RunCompaction(ctx context.Context, interval, ttl time.Duration, logger *zap.Logger, onCompact func(int)) {
	ticker := s.clock.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			removed := s.Compact(ttl)
			if removed > 0 {
				logger.Debug("compacted tombstones", zap.Int("removed", removed))
			}
			if onCompact != nil {
				onCompact(removed)
			}
		}
	}
}
