// Package replication routes per-host store operations and classifies their
// results. An operation against the current host goes to the local store,
// any other host is reached through the remote store. Every result is reduced
// to one Outcome so the coordinator can apply quorum rules without inspecting errors.
package replication
