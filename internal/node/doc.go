// Package node wires a ringkv process together: the local store, the replica
// service, membership driven ring updates, the coordinator and the public
// HTTP API.
package node
