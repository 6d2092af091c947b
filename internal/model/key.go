package model

import (
	"encoding/binary"
	"encoding/hex"

	"github.com/cespare/xxhash/v2"
)

// Key identifies a stored object. Keys are compared by value.
type Key struct {
	value string
}

// NewKey returns a key holding a copy of value.
func NewKey(value []byte) Key {
	return Key{value: string(value)}
}

// Bytes returns a copy of the key's raw value.
func (k Key) Bytes() []byte {
	return []byte(k.value)
}

// Hash returns the ring coordinate of the key: xxhash64 of the value, big-endian.
func (k Key) Hash() []byte {
	return hashBytes([]byte(k.value))
}

func (k Key) Len() int {
	return len(k.value)
}

// String returns the hex form of the key, the form used in URLs and logs.
func (k Key) String() string {
	return hex.EncodeToString([]byte(k.value))
}

func hashBytes(b []byte) []byte {
	out := make([]byte, 8)
	binary.BigEndian.PutUint64(out, xxhash.Sum64(b))
	return out
}
