// Package logging builds the zap logger used by every node component.
package logging
