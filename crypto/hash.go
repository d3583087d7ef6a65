// Package crypto provides the hashing and ed25519 signing primitives used
// for operation identity and caller attribution.
package crypto

import (
	"crypto/sha256"
	"encoding/hex"
)

// Hash returns the SHA-256 hash of data as a lowercase hex string.
func Hash(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}
