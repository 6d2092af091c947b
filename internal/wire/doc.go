// Package wire encodes data objects into the length-prefixed envelope
// exchanged between replicas and with clients:
//
//	[u32 len][key][u32 len][version][stub byte][u32 len][value]
//
// All lengths are big-endian. The value section is omitted for stubs.
package wire
