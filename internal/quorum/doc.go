// Package quorum coordinates reads and writes across the replicas of a key.
//
// Every operation fans out one goroutine per preferred host. Their outcomes
// are consumed by a single collector goroutine that owns the quorum counter
// and the newest-object state, so no locks guard it. The caller waits for the
// collector's verdict or the response timeout, whichever comes first; the
// collector keeps draining responses after that and drives read-repair.
// In-flight host operations are never cancelled.
package quorum
