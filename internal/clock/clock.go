package clock

import (
	"errors"
	"fmt"
)

// ErrIncompatibleVersion is returned when two versions of different kinds are compared.
var ErrIncompatibleVersion = errors.New("incompatible version kinds")

// CompareResult represents the result of comparing two versions.
type CompareResult int

const (
	// Before indicates this version happened before the other.
	Before CompareResult = iota
	// After indicates this version happened after the other.
	After
	// Concurrent indicates the versions conflict (no ordering between them).
	Concurrent
	// Equal indicates the versions are equal.
	Equal
)

// String returns the string representation of CompareResult.
func (r CompareResult) String() string {
	switch r {
	case Before:
		return "BEFORE"
	case After:
		return "AFTER"
	case Concurrent:
		return "CONCURRENT"
	case Equal:
		return "EQUAL"
	default:
		return "UNKNOWN"
	}
}

// Version is an opaque, comparable logical timestamp.
//
// For two versions a and b of the same kind exactly one of Before, After,
// Concurrent or Equal is returned by a.Compare(b), and b.Compare(a) returns
// the mirrored result. Comparing different kinds fails with ErrIncompatibleVersion.
type Version interface {
	Compare(other Version) (CompareResult, error)
	// Bytes returns the raw form used on the wire.
	Bytes() []byte
	String() string
}

// Decoder rebuilds a version of one concrete kind from its raw bytes.
type Decoder func(raw []byte) (Version, error)

// IsBefore reports whether a happened before b.
func IsBefore(a, b Version) (bool, error) {
	return is(a, b, Before)
}

// IsAfter reports whether a happened after b.
func IsAfter(a, b Version) (bool, error) {
	return is(a, b, After)
}

// IsConflict reports whether a and b are concurrent.
func IsConflict(a, b Version) (bool, error) {
	return is(a, b, Concurrent)
}

// Same reports whether a and b are equal versions.
func Same(a, b Version) (bool, error) {
	return is(a, b, Equal)
}

func is(a, b Version, want CompareResult) (bool, error) {
	if a == nil || b == nil {
		return false, fmt.Errorf("%w: nil version", ErrIncompatibleVersion)
	}
	res, err := a.Compare(b)
	if err != nil {
		return false, err
	}
	return res == want, nil
}
