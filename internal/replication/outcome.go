package replication

import (
	"ringkv/internal/model"
)

// Kind is the class of a per-host result.
type Kind int

const (
	// Success means the host answered with an object (get) or accepted the write (put).
	Success Kind = iota
	// NotFound means the host holds nothing for the key.
	NotFound
	// StaleVersion means the host holds a version the write is not newer than.
	StaleVersion
	// Failure is any transport or store error.
	Failure
)

// String returns the label used in logs and metrics.
func (k Kind) String() string {
	switch k {
	case Success:
		return "success"
	case NotFound:
		return "not_found"
	case StaleVersion:
		return "stale_version"
	case Failure:
		return "failure"
	default:
		return "unknown"
	}
}

// Outcome is the result of one operation against one host.
type Outcome struct {
	Kind   Kind
	Host   model.Host
	Object *model.DataObject // set on Success
	Err    error             // set unless Success
}

// CountsForRead reports whether the outcome contributes to a read quorum.
// Failures never count; a host that answered "not found" does.
func (o Outcome) CountsForRead() bool {
	return o.Kind == Success || o.Kind == NotFound
}
