// Package uid provides unique identifier generation for docstage.
package uid

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

// New generates a 32-character hex string suitable for use as a unique
// identifier (externalized attachment names, journal fallbacks, etc.)
// using crypto/rand.
func New() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		// Fallback: timestamp-based ID. Should never happen with crypto/rand.
		return fmt.Sprintf("%032x", time.Now().UnixNano())
	}
	return hex.EncodeToString(b)
}

// Short generates a 12-character hex token. Used for the process-wide
// service instance identifier embedded in in-progress directory names,
// where a fixed compact width keeps the names parsable.
func Short() string {
	b := make([]byte, 6)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("%012x", time.Now().UnixNano()&0xffffffffffff)
	}
	return hex.EncodeToString(b)
}
