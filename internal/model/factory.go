package model

import (
	"errors"

	"github.com/jonboulle/clockwork"

	"ringkv/internal/clock"
)

// Factory builds data objects for one version kind. A node builds exactly one
// factory at startup and passes it to every component that decodes or creates objects.
type Factory struct {
	decode clock.Decoder
	clock  clockwork.Clock
}

// NewFactory returns a factory using decode for versions and clk for creation times.
// A nil clock means the real clock.
func NewFactory(decode clock.Decoder, clk clockwork.Clock) *Factory {
	if clk == nil {
		clk = clockwork.NewRealClock()
	}
	return &Factory{decode: decode, clock: clk}
}

// DefaultFactory returns a factory for counter versions on the real clock.
func DefaultFactory() *Factory {
	return NewFactory(clock.DecodeCounter, nil)
}

// NewObject returns a live object stamped with the factory clock.
func (f *Factory) NewObject(key Key, version clock.Version, value []byte) *DataObject {
	return &DataObject{
		key:          key,
		version:      version,
		value:        append([]byte(nil), value...),
		creationTime: f.now(),
	}
}

// NewStub returns a tombstone for key at version.
func (f *Factory) NewStub(key Key, version clock.Version) *DataObject {
	return &DataObject{
		key:          key,
		version:      version,
		stub:         true,
		creationTime: f.now(),
	}
}

// DecodeVersion rebuilds a version of the configured kind.
func (f *Factory) DecodeVersion(raw []byte) (clock.Version, error) {
	if f.decode == nil {
		return nil, errors.New("factory has no version decoder")
	}
	return f.decode(raw)
}

// Clock returns the factory clock.
func (f *Factory) Clock() clockwork.Clock {
	return f.clock
}

func (f *Factory) now() int64 {
	return f.clock.Now().UnixMilli()
}
