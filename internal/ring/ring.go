package ring

import (
	"sort"
	"sync"

	"ringkv/internal/model"
)

// entry is one position on the ring.
type entry struct {
	token model.Token
	host  model.Host
}

// Ring maps hashes to replica hosts.
type Ring struct {
	mu                sync.RWMutex
	replicationFactor int
	entries           []entry // sorted by token, never mutated after swap
}

// NewRing creates an empty ring that returns up to replicationFactor hosts per coordinate.
func NewRing(replicationFactor int) *Ring {
	if replicationFactor <= 0 {
		replicationFactor = 3 // default
	}
	return &Ring{replicationFactor: replicationFactor}
}

// Update replaces the ring with hosts. The new table is built and sorted
// before the lock is taken; only the swap happens under the write lock.
func (r *Ring) Update(hosts []model.Host) {
	entries := make([]entry, 0, len(hosts))
	for _, h := range hosts {
		entries = append(entries, entry{token: h.Token, host: h})
	}
	// Stable keeps the input order for equal tokens so that identical input gives an identical ring.
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].token.Compare(entries[j].token) < 0
	})

	r.mu.Lock()
	r.entries = entries
	r.mu.Unlock()
}

// PreferredHosts returns the hosts that should hold data at coordinate hash:
// the owner of the first token >= hash (wrapping to the lowest token) followed by
// its clockwise successors, at most ReplicationFactor distinct hosts.
// An empty ring returns an empty list.
func (r *Ring) PreferredHosts(hash []byte) []model.Host {
	entries := r.snapshot()
	if len(entries) == 0 {
		return []model.Host{}
	}

	coord := model.TokenFromBytes(hash)
	// Binary search for first token >= coord
	idx := sort.Search(len(entries), func(i int) bool {
		return entries[i].token.Compare(coord) >= 0
	})
	if idx >= len(entries) {
		idx = 0
	}
	return r.walk(entries, idx)
}

// ReplicasOf returns host followed by the hosts that replicate its range.
// A host that is not on the ring has no replicas and gets an empty list.
func (r *Ring) ReplicasOf(host model.Host) []model.Host {
	entries := r.snapshot()

	idx := sort.Search(len(entries), func(i int) bool {
		return entries[i].token.Compare(host.Token) >= 0
	})
	// Hosts may share a token; find this host among the ties.
	for ; idx < len(entries) && entries[idx].token == host.Token; idx++ {
		if entries[idx].host == host {
			return r.walk(entries, idx)
		}
	}
	return []model.Host{}
}

// Hosts returns the hosts on the ring in token order.
func (r *Ring) Hosts() []model.Host {
	entries := r.snapshot()
	hosts := make([]model.Host, 0, len(entries))
	for _, e := range entries {
		hosts = append(hosts, e.host)
	}
	return hosts
}

// Len returns the number of ring positions.
func (r *Ring) Len() int {
	return len(r.snapshot())
}

// ReplicationFactor returns the maximum number of hosts per coordinate.
func (r *Ring) ReplicationFactor() int {
	return r.replicationFactor
}

func (r *Ring) snapshot() []entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.entries
}

// walk collects distinct hosts clockwise from start, stopping after one full turn.
func (r *Ring) walk(entries []entry, start int) []model.Host {
	seen := make(map[model.Host]bool)
	result := make([]model.Host, 0, r.replicationFactor)

	for i := 0; i < len(entries) && len(result) < r.replicationFactor; i++ {
		h := entries[(start+i)%len(entries)].host
		if !seen[h] {
			seen[h] = true
			result = append(result, h)
		}
	}
	return result
}
