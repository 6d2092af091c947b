// Package model defines the value types shared by every layer of the store:
// keys, versioned data objects and ring hosts, plus the factory that builds
// data objects for one configured version kind.
package model
