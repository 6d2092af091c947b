package replication

import (
	"context"
	"errors"

	"ringkv/internal/model"
	"ringkv/internal/ring"
)

// LocalStore is the object store of the current process.
type LocalStore interface {
	Get(key model.Key) (*model.DataObject, error)
	Put(obj *model.DataObject) error
}

// RemoteStore reaches the object store of another host.
// Errors wrapping model.ErrNotFound and model.ErrStaleVersion are classified as such,
// anything else is a transport or operation failure.
type RemoteStore interface {
	Get(ctx context.Context, host model.Host, key model.Key) (*model.DataObject, error)
	Put(ctx context.Context, host model.Host, obj *model.DataObject) error
}

// ReplicasForKey returns the hosts responsible for a key
// using the ring's preferred hosts.
func ReplicasForKey(r *ring.Ring, key model.Key) []model.Host {
	return r.PreferredHosts(key.Hash())
}

// Router sends operations to the local or a remote store depending on the target host.
type Router struct {
	self   model.Host
	local  LocalStore
	remote RemoteStore
}

// NewRouter creates a router for the process running as self.
func NewRouter(self model.Host, local LocalStore, remote RemoteStore) *Router {
	return &Router{self: self, local: local, remote: remote}
}

// Self returns the current host.
func (r *Router) Self() model.Host {
	return r.self
}

// IsLocal reports whether host is the current process.
func (r *Router) IsLocal(host model.Host) bool {
	return host == r.self
}

// Get reads key from host.
func (r *Router) Get(ctx context.Context, host model.Host, key model.Key) Outcome {
	var (
		obj *model.DataObject
		err error
	)
	if r.IsLocal(host) {
		obj, err = r.local.Get(key)
	} else {
		obj, err = r.remote.Get(ctx, host, key)
	}
	return Classify(host, obj, err)
}

// Put writes obj to host.
func (r *Router) Put(ctx context.Context, host model.Host, obj *model.DataObject) Outcome {
	var err error
	if r.IsLocal(host) {
		err = r.local.Put(obj)
	} else {
		err = r.remote.Put(ctx, host, obj)
	}
	return Classify(host, obj, err)
}

// Classify turns the result of a store call into an Outcome.
// For puts obj is the written object; it is carried for logging only.
func Classify(host model.Host, obj *model.DataObject, err error) Outcome {
	switch {
	case err == nil:
		return Outcome{Kind: Success, Host: host, Object: obj}
	case errors.Is(err, model.ErrNotFound):
		return Outcome{Kind: NotFound, Host: host, Err: err}
	case errors.Is(err, model.ErrStaleVersion):
		return Outcome{Kind: StaleVersion, Host: host, Err: err}
	default:
		return Outcome{Kind: Failure, Host: host, Err: err}
	}
}
