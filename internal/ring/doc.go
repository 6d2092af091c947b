// Package ring implements the token ring that maps a key hash to its
// preferred replica hosts. Each host owns one token; the ring walks clockwise
// from a coordinate and collects distinct hosts up to the replication factor.
// The token table is rebuilt wholesale on membership change and swapped in
// atomically, so readers see either the old or the new ring, never a mix.
package ring
