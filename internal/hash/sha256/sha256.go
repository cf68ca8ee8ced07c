// Package sha256 provides SHA-256 hashing for fingerprint keys.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
)

// Hasher implements capture.Hasher using SHA-256. A non-empty namespace is
// mixed into every digest, so deployments sharing a metadata table under
// different storage prefixes never collide on fingerprint keys.
type Hasher struct {
	namespace string
}

// New returns a SHA-256 hasher without a namespace.
func New() *Hasher {
	return &Hasher{}
}

// NewNamespaced returns a hasher whose digests are scoped to namespace.
func NewNamespaced(namespace string) *Hasher {
	return &Hasher{namespace: namespace}
}

// Hash returns the lowercase hex digest of data.
func (h *Hasher) Hash(data []byte) (string, error) {
	d := sha256.New()
	if h != nil && h.namespace != "" {
		d.Write([]byte(h.namespace))
		d.Write([]byte{0})
	}
	d.Write(data)
	return hex.EncodeToString(d.Sum(nil)), nil
}
