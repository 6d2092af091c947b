// Package metrics defines the Prometheus collectors exported by a node.
package metrics
