// Package repair tracks the newest object seen across replica responses and
// writes it back to replicas that answered with something older or nothing.
// Repair is best effort: failures are logged and counted, never returned.
package repair
