package clock

import (
	"encoding/binary"
	"fmt"
	"strconv"
)

// counterSize is the raw size of a Counter: a big-endian int64.
const counterSize = 8

// Counter is the default Version kind: a single monotonically increasing number.
// It never reports Concurrent.
type Counter int64

// NewCounter returns a counter version.
func NewCounter(v int64) Counter {
	return Counter(v)
}

// DecodeCounter is the Decoder for Counter versions.
func DecodeCounter(raw []byte) (Version, error) {
	if len(raw) != counterSize {
		return nil, fmt.Errorf("counter version must be %d bytes, got %d", counterSize, len(raw))
	}
	return Counter(int64(binary.BigEndian.Uint64(raw))), nil
}

// Compare compares two counters.
func (c Counter) Compare(other Version) (CompareResult, error) {
	o, ok := other.(Counter)
	if !ok {
		return Concurrent, fmt.Errorf("%w: %T and %T", ErrIncompatibleVersion, c, other)
	}
	switch {
	case c < o:
		return Before, nil
	case c > o:
		return After, nil
	default:
		return Equal, nil
	}
}

// Next returns the counter that directly follows c.
func (c Counter) Next() Counter {
	return c + 1
}

// Bytes returns the big-endian encoding of the counter.
func (c Counter) Bytes() []byte {
	buf := make([]byte, counterSize)
	binary.BigEndian.PutUint64(buf, uint64(c))
	return buf
}

func (c Counter) String() string {
	return strconv.FormatInt(int64(c), 10)
}
