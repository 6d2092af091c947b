package quorum

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"ringkv/internal/clock"
	"ringkv/internal/model"
	"ringkv/internal/replication"
	"ringkv/internal/ring"
)

var errHostDown = errors.New("host down")

// fakeCluster is an in-memory Router. Every host has its own object map with
// the local store's stale-version rule. Hosts can be failed or gated: a gated
// host blocks every call until its gate is opened.
type fakeCluster struct {
	self model.Host

	mu      sync.Mutex
	data    map[model.Host]map[model.Key]*model.DataObject
	failing map[model.Host]bool
	gates   map[model.Host]chan struct{}
	gets    map[model.Host]int
	puts    map[model.Host]int
}

func newFakeCluster(self model.Host) *fakeCluster {
	return &fakeCluster{
		self:    self,
		data:    make(map[model.Host]map[model.Key]*model.DataObject),
		failing: make(map[model.Host]bool),
		gates:   make(map[model.Host]chan struct{}),
		gets:    make(map[model.Host]int),
		puts:    make(map[model.Host]int),
	}
}

func (f *fakeCluster) Self() model.Host             { return f.self }
func (f *fakeCluster) IsLocal(host model.Host) bool { return host == f.self }

func (f *fakeCluster) Get(_ context.Context, host model.Host, key model.Key) replication.Outcome {
	gate := f.enter(host, f.gets)
	<-gate

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failing[host] {
		return replication.Classify(host, nil, errHostDown)
	}
	obj, ok := f.data[host][key]
	if !ok {
		return replication.Classify(host, nil, model.ErrNotFound)
	}
	return replication.Classify(host, obj, nil)
}

func (f *fakeCluster) Put(_ context.Context, host model.Host, obj *model.DataObject) replication.Outcome {
	gate := f.enter(host, f.puts)
	<-gate

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failing[host] {
		return replication.Classify(host, obj, errHostDown)
	}
	return replication.Classify(host, obj, f.store(host, obj))
}

func (f *fakeCluster) enter(host model.Host, calls map[model.Host]int) chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	calls[host]++
	if gate, ok := f.gates[host]; ok {
		return gate
	}
	open := make(chan struct{})
	close(open)
	return open
}

func (f *fakeCluster) store(host model.Host, obj *model.DataObject) error {
	objects, ok := f.data[host]
	if !ok {
		objects = make(map[model.Key]*model.DataObject)
		f.data[host] = objects
	}
	if existing, ok := objects[obj.Key()]; ok {
		before, err := clock.IsBefore(existing.Version(), obj.Version())
		if err != nil {
			return err
		}
		if !before {
			return model.ErrStaleVersion
		}
	}
	objects[obj.Key()] = obj
	return nil
}

// seed stores obj on host directly.
func (f *fakeCluster) seed(host model.Host, obj *model.DataObject) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.store(host, obj); err != nil {
		panic(err)
	}
}

func (f *fakeCluster) fail(host model.Host) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failing[host] = true
}

// hold makes calls to host block until release is called.
func (f *fakeCluster) hold(host model.Host) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gates[host] = make(chan struct{})
}

func (f *fakeCluster) release(host model.Host) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if gate, ok := f.gates[host]; ok {
		close(gate)
		delete(f.gates, host)
	}
}

func (f *fakeCluster) versionOn(host model.Host, key model.Key) clock.Version {
	f.mu.Lock()
	defer f.mu.Unlock()
	if obj, ok := f.data[host][key]; ok {
		return obj.Version()
	}
	return nil
}

func (f *fakeCluster) getCount(host model.Host) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.gets[host]
}

func (f *fakeCluster) putCount(host model.Host) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.puts[host]
}

var (
	hostA = model.NewHost("10.0.0.1", 7000, model.Token([]byte{0x40}))
	hostB = model.NewHost("10.0.0.2", 7000, model.Token([]byte{0x80}))
	hostC = model.NewHost("10.0.0.3", 7000, model.Token([]byte{0xc0}))
	// outsider is not on the ring; a coordinator running as outsider has only remote replicas.
	outsider = model.NewHost("10.0.0.9", 7000, model.Token([]byte{0xff}))
)

var testKey = model.NewKey([]byte("user:42"))

func threeHostRing() *ring.Ring {
	r := ring.NewRing(3)
	r.Update([]model.Host{hostA, hostB, hostC})
	return r
}

func objAt(v int64) *model.DataObject {
	return model.DefaultFactory().NewObject(testKey, clock.Counter(v), []byte("value"))
}

func newTestCoordinator(t *testing.T, cluster *fakeCluster, cfg Config, opts ...Option) *Coordinator {
	t.Helper()
	if cfg.ResponseTimeout == 0 {
		cfg.ResponseTimeout = time.Second
	}
	c := New(cfg, threeHostRing(), cluster, model.DefaultFactory(), opts...)
	t.Cleanup(func() {
		for _, h := range []model.Host{hostA, hostB, hostC} {
			cluster.release(h)
		}
		c.Wait()
	})
	return c
}
