package membership

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.etcd.io/etcd/api/v3/mvccpb"
	"go.uber.org/zap"

	"ringkv/internal/model"
)

var (
	self  = model.NewHost("10.0.0.1", 7000, model.Token([]byte{0x01}))
	peer1 = model.NewHost("10.0.0.2", 7000, model.Token([]byte{0x02}))
	peer2 = model.NewHost("10.0.0.3", 7000, model.Token([]byte{0x03}))
)

func TestStatic_IncludesSelf(t *testing.T) {
	s := NewStatic(self, []model.Host{peer2, peer1, peer1})
	assert.Equal(t, self, s.CurrentHost())

	hosts, err := s.AvailableHosts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []model.Host{self, peer1, peer2}, hosts)
}

func TestStatic_SetHostsNotifies(t *testing.T) {
	s := NewStatic(self, []model.Host{peer1})

	var (
		mu       sync.Mutex
		received [][]model.Host
	)
	s.Subscribe(func(hosts []model.Host) {
		mu.Lock()
		defer mu.Unlock()
		received = append(received, hosts)
	})

	s.SetHosts([]model.Host{self, peer1, peer2})
	s.SetHosts([]model.Host{peer2, self, peer1}) // same set, no notification
	s.SetHosts([]model.Host{self})

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, received, 2)
	assert.Equal(t, []model.Host{self, peer1, peer2}, received[0])
	assert.Equal(t, []model.Host{self}, received[1])

	hosts, _ := s.AvailableHosts(context.Background())
	assert.Equal(t, []model.Host{self}, hosts)
}

func TestNotifier_ListenersGetCopies(t *testing.T) {
	var n notifier
	var got []model.Host
	n.Subscribe(func(hosts []model.Host) {
		hosts[0] = peer2
	})
	n.Subscribe(func(hosts []model.Host) {
		got = hosts
	})

	require.True(t, n.notify(1, []model.Host{self, peer1}))
	assert.Equal(t, []model.Host{self, peer1}, got)
}

func TestNotifier_DropsOlderRevisions(t *testing.T) {
	var n notifier
	var got [][]model.Host
	n.Subscribe(func(hosts []model.Host) {
		got = append(got, hosts)
	})

	require.True(t, n.notify(5, []model.Host{self, peer1, peer2}))
	// a list read before the delivered one must not replace it
	assert.False(t, n.notify(3, []model.Host{self}))
	assert.False(t, n.notify(6, []model.Host{peer2, peer1, self}))
	assert.False(t, n.notify(5, []model.Host{self}))
	require.True(t, n.notify(7, []model.Host{self}))

	require.Len(t, got, 2)
	assert.Equal(t, []model.Host{self, peer1, peer2}, got[0])
	assert.Equal(t, []model.Host{self}, got[1])
}

func TestStatic_Refresh(t *testing.T) {
	s := NewStatic(self, []model.Host{peer1})

	var got [][]model.Host
	s.Subscribe(func(hosts []model.Host) {
		got = append(got, hosts)
	})

	require.NoError(t, s.Refresh(context.Background()))
	require.NoError(t, s.Refresh(context.Background()))
	s.SetHosts([]model.Host{self, peer2})
	require.NoError(t, s.Refresh(context.Background()))

	require.Len(t, got, 2)
	assert.Equal(t, []model.Host{self, peer1}, got[0])
	assert.Equal(t, []model.Host{self, peer2}, got[1])
}

func TestHostsFromKVs(t *testing.T) {
	kvs := []*mvccpb.KeyValue{
		{Key: []byte("/ringkv/hosts/a"), Value: []byte(peer1.String())},
		{Key: []byte("/ringkv/hosts/b"), Value: []byte("garbage")},
		{Key: []byte("/ringkv/hosts/c"), Value: []byte(self.String())},
		{Key: []byte("/ringkv/hosts/d"), Value: []byte(self.String())},
	}

	hosts := hostsFromKVs(kvs, zap.NewNop())
	assert.Equal(t, []model.Host{self, peer1}, hosts)
}

func TestEtcdConfig_Normalize(t *testing.T) {
	cfg := EtcdConfig{Prefix: " /custom/prefix/ "}
	cfg.normalize()
	assert.Equal(t, "/custom/prefix", cfg.Prefix)
	assert.Equal(t, DefaultDialTimeout, cfg.DialTimeout)
	assert.Equal(t, int64(DefaultLeaseTTL), cfg.LeaseTTL)

	empty := EtcdConfig{}
	empty.normalize()
	assert.Equal(t, DefaultPrefix, empty.Prefix)
}

func TestDialEtcd_RequiresEndpoints(t *testing.T) {
	_, err := DialEtcd(EtcdConfig{}, nil)
	assert.Error(t, err)
}
