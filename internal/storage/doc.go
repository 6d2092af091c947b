// Package storage provides the node-local object store. A put is accepted only
// when the incoming version is strictly newer than the stored one, and the
// check and the overwrite happen under one lock. Deletes are stored as stubs
// and removed by compaction once older than a configured age.
package storage
