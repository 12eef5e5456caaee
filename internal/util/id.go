package util

import (
	"crypto/rand"
	"encoding/hex"
)

// NewID returns a random hex id, optionally prefixed. Used for client-side
// temporary ids; persistent rows get database uuids.
func NewID(prefix string) string {
	bytes := make([]byte, 16)
	_, _ = rand.Read(bytes)
	if prefix == "" {
		return hex.EncodeToString(bytes)
	}
	return prefix + "_" + hex.EncodeToString(bytes)
}
