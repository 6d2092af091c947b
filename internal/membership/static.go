package membership

import (
	"context"
	"sync"

	"ringkv/internal/model"
)

// Static is a membership provider over a configured host list.
// The list only changes through SetHosts.
type Static struct {
	notifier
	self model.Host

	mu    sync.RWMutex
	hosts []model.Host
	rev   int64
}

// NewStatic creates a provider for self and its peers. self is always a member.
func NewStatic(self model.Host, peers []model.Host) *Static {
	return &Static{
		self:  self,
		hosts: normalize(append([]model.Host{self}, peers...)),
	}
}

func (s *Static) CurrentHost() model.Host {
	return s.self
}

func (s *Static) AvailableHosts(context.Context) ([]model.Host, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]model.Host(nil), s.hosts...), nil
}

// SetHosts replaces the host list and notifies subscribers when it changed.
func (s *Static) SetHosts(hosts []model.Host) {
	hosts = normalize(hosts)
	s.mu.Lock()
	s.hosts = hosts
	s.rev++
	rev := s.rev
	s.mu.Unlock()
	s.notify(rev, hosts)
}

// Refresh notifies subscribers of the current list.
func (s *Static) Refresh(context.Context) error {
	s.mu.RLock()
	hosts, rev := s.hosts, s.rev
	s.mu.RUnlock()
	s.notify(rev, hosts)
	return nil
}
