package wire

import (
	"encoding/binary"
	"errors"
	"fmt"

	"ringkv/internal/model"
)

const lenSize = 4

// ErrTruncated is returned when the buffer ends inside the envelope.
var ErrTruncated = errors.New("truncated envelope")

// ErrMalformed is returned for envelopes that are complete but invalid.
var ErrMalformed = errors.New("malformed envelope")

// Size returns the encoded size of obj.
func Size(obj *model.DataObject) int {
	n := lenSize + obj.Key().Len() + lenSize + len(obj.Version().Bytes()) + 1
	if !obj.IsStub() {
		n += lenSize + len(obj.Value())
	}
	return n
}

// Marshal encodes obj into a new buffer.
func Marshal(obj *model.DataObject) []byte {
	return Append(make([]byte, 0, Size(obj)), obj)
}

// Append encodes obj onto buf.
func Append(buf []byte, obj *model.DataObject) []byte {
	buf = appendBytes(buf, obj.Key().Bytes())
	buf = appendBytes(buf, obj.Version().Bytes())
	if obj.IsStub() {
		return append(buf, 1)
	}
	buf = append(buf, 0)
	return appendBytes(buf, obj.Value())
}

// Decode reads one envelope from the front of buf and returns the object and
// the number of bytes consumed. Bytes after the envelope are left untouched.
func Decode(f *model.Factory, buf []byte) (*model.DataObject, int, error) {
	r := reader{buf: buf}

	key, err := r.bytes()
	if err != nil {
		return nil, 0, fmt.Errorf("key: %w", err)
	}
	rawVersion, err := r.bytes()
	if err != nil {
		return nil, 0, fmt.Errorf("version: %w", err)
	}
	stub, err := r.byte()
	if err != nil {
		return nil, 0, fmt.Errorf("stub flag: %w", err)
	}
	if stub > 1 {
		return nil, 0, fmt.Errorf("%w: stub flag %d", ErrMalformed, stub)
	}

	version, err := f.DecodeVersion(rawVersion)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	if stub == 1 {
		return f.NewStub(model.NewKey(key), version), r.off, nil
	}

	value, err := r.bytes()
	if err != nil {
		return nil, 0, fmt.Errorf("value: %w", err)
	}
	return f.NewObject(model.NewKey(key), version, value), r.off, nil
}

// Unmarshal decodes a buffer holding exactly one envelope.
func Unmarshal(f *model.Factory, buf []byte) (*model.DataObject, error) {
	obj, n, err := Decode(f, buf)
	if err != nil {
		return nil, err
	}
	if n != len(buf) {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrMalformed, len(buf)-n)
	}
	return obj, nil
}

func appendBytes(buf, b []byte) []byte {
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(b)))
	return append(buf, b...)
}

type reader struct {
	buf []byte
	off int
}

func (r *reader) byte() (byte, error) {
	if r.off >= len(r.buf) {
		return 0, ErrTruncated
	}
	b := r.buf[r.off]
	r.off++
	return b, nil
}

func (r *reader) bytes() ([]byte, error) {
	if len(r.buf)-r.off < lenSize {
		return nil, ErrTruncated
	}
	n := int(binary.BigEndian.Uint32(r.buf[r.off:]))
	r.off += lenSize
	if n < 0 || len(r.buf)-r.off < n {
		return nil, ErrTruncated
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b, nil
}
