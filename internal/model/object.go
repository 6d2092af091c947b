package model

import (
	"fmt"

	"ringkv/internal/clock"
)

// DataObject is an immutable versioned value. Stubs mark deletions and carry no value.
type DataObject struct {
	key          Key
	version      clock.Version
	value        []byte
	stub         bool
	creationTime int64
}

// Key returns the object's key.
func (o *DataObject) Key() Key { return o.key }

// Version returns the object's version.
func (o *DataObject) Version() clock.Version { return o.version }

// Value returns a copy of the object's value. Stubs return nil.
func (o *DataObject) Value() []byte {
	if o.stub {
		return nil
	}
	return append([]byte(nil), o.value...)
}

// IsStub reports whether the object is a tombstone.
func (o *DataObject) IsStub() bool { return o.stub }

// CreationTime is the node-local creation time in unix milliseconds.
// It is only a hint for tombstone collection and never orders objects.
func (o *DataObject) CreationTime() int64 { return o.creationTime }

// Equal reports whether two objects share key and version.
// Value and stub flag are not part of object identity.
func (o *DataObject) Equal(other *DataObject) bool {
	if o == nil || other == nil {
		return o == other
	}
	if o.key != other.key {
		return false
	}
	same, err := clock.Same(o.version, other.version)
	return err == nil && same
}

// IsNewerThan reports whether o carries a strictly later version than other.
func (o *DataObject) IsNewerThan(other *DataObject) (bool, error) {
	return clock.IsAfter(o.version, other.version)
}

func (o *DataObject) String() string {
	if o.stub {
		return fmt.Sprintf("DataObject{key=%s version=%s stub}", o.key, o.version)
	}
	return fmt.Sprintf("DataObject{key=%s version=%s len=%d}", o.key, o.version, len(o.value))
}
