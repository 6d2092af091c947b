// Package clock provides the version contract used to order replicas of the
// same key. A Version only has to answer whether it happened before, after or
// concurrently with another version of the same kind; the default Counter kind
// is a plain monotonically increasing number and never reports concurrency,
// which makes the store last-writer-wins by counter.
package clock
