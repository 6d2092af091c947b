// Package transport carries replica operations between nodes over gRPC.
//
// The Replica service has two unary methods. Get takes a raw key and returns
// the stored object as a wire envelope; Put takes an envelope. Both operate on
// the receiving node's local store only. Not-found and stale-version results
// travel as the NotFound and Aborted status codes so that callers can tell them
// apart from transport failures.
package transport
