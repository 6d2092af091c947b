// Package config loads node configuration from flags, RINGKV_* environment
// variables and an optional config file, and validates it.
package config
