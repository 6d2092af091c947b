package membership

import (
	"context"
	"sort"
	"sync"

	"ringkv/internal/model"
)

// Listener receives the full host list after every membership change.
type Listener func(hosts []model.Host)

// Provider is the source of cluster membership.
type Provider interface {
	CurrentHost() model.Host
	AvailableHosts(ctx context.Context) ([]model.Host, error)
	Subscribe(fn Listener)
	// Refresh lists the hosts and notifies subscribers through the same path
	// as change events, so an older list never replaces a newer one.
	Refresh(ctx context.Context) error
}

// notifier fans membership changes out to listeners. Every list carries the
// revision it was read at; deliveries are serialized and lists older than the
// last delivered one are dropped.
type notifier struct {
	deliver sync.Mutex // held while listeners run

	mu        sync.Mutex
	listeners []Listener
	last      []model.Host
	rev       int64
}

func (n *notifier) Subscribe(fn Listener) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.listeners = append(n.listeners, fn)
}

// notify calls every listener unless hosts is older than rev of the previous
// delivery or equals the previously delivered set. It reports whether
// listeners were called.
func (n *notifier) notify(rev int64, hosts []model.Host) bool {
	hosts = normalize(hosts)

	n.deliver.Lock()
	defer n.deliver.Unlock()

	n.mu.Lock()
	if n.last != nil && (rev < n.rev || equalHosts(n.last, hosts)) {
		if rev > n.rev {
			n.rev = rev
		}
		n.mu.Unlock()
		return false
	}
	n.last = hosts
	n.rev = rev
	listeners := append([]Listener(nil), n.listeners...)
	n.mu.Unlock()

	for _, fn := range listeners {
		fn(append([]model.Host(nil), hosts...))
	}
	return true
}

// normalize returns a sorted copy of hosts without duplicates.
func normalize(hosts []model.Host) []model.Host {
	out := make([]model.Host, 0, len(hosts))
	seen := make(map[model.Host]bool, len(hosts))
	for _, h := range hosts {
		if !seen[h] {
			seen[h] = true
			out = append(out, h)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].String() < out[j].String()
	})
	return out
}

func equalHosts(a, b []model.Host) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
