// Package membership supplies the live host list of the cluster.
//
// A Provider knows the current host, lists the available hosts and notifies
// subscribers whenever the host set changes; the node feeds those lists into
// the ring. Static serves a fixed peer list. Etcd registers the current host
// under a lease so that it disappears when the process dies, and watches the
// registration prefix for changes.
package membership
