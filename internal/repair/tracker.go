package repair

import (
	"ringkv/internal/clock"
	"ringkv/internal/model"
)

// Tracker keeps the newest object observed so far and the hosts that returned
// an object with exactly that version. It is not safe for concurrent use; the
// coordinator feeds it from a single goroutine.
type Tracker struct {
	best     *model.DataObject
	agreeing map[model.Host]bool
}

// NewTracker returns an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{agreeing: make(map[model.Host]bool)}
}

// Observe records that host returned obj.
// An error means the versions could not be compared; the object is ignored.
func (t *Tracker) Observe(host model.Host, obj *model.DataObject) error {
	if t.best == nil {
		t.best = obj
		t.agreeing[host] = true
		return nil
	}

	res, err := obj.Version().Compare(t.best.Version())
	if err != nil {
		return err
	}
	switch res {
	case clock.Equal:
		t.agreeing[host] = true
	case clock.After:
		t.best = obj
		t.agreeing = map[model.Host]bool{host: true}
	}
	// Before and Concurrent leave the host out of the agreeing set.
	return nil
}

// Best returns the newest object observed, or nil.
func (t *Tracker) Best() *model.DataObject {
	return t.best
}

// Agrees reports whether host returned the best version.
func (t *Tracker) Agrees(host model.Host) bool {
	return t.agreeing[host]
}

// AgreeingCount returns the number of hosts holding the best version.
func (t *Tracker) AgreeingCount() int {
	return len(t.agreeing)
}

// Stale returns the hosts of all that do not hold the best version, in order.
// With nothing observed there is nothing to repair and the result is empty.
func (t *Tracker) Stale(all []model.Host) []model.Host {
	if t.best == nil {
		return nil
	}
	stale := make([]model.Host, 0, len(all))
	for _, h := range all {
		if !t.agreeing[h] {
			stale = append(stale, h)
		}
	}
	return stale
}
