// Package hash provides content digests used for HTTP validators.
package hash

import (
	"encoding/hex"

	"lukechampine.com/blake3"
)

// Hasher produces BLAKE3-256 hex digests.
type Hasher struct{}

// New returns a BLAKE3 hasher.
func New() *Hasher {
	return &Hasher{}
}

// Hash hashes the input and returns a hex digest.
func (h *Hasher) Hash(data []byte) string {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// ETag returns a strong entity tag for body.
func (h *Hasher) ETag(body []byte) string {
	return `"` + h.Hash(body)[:32] + `"`
}
