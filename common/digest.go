// Package common holds small value types shared across every package of the
// caching core: the request digest, byte-size formatting, and the clock
// abstraction used so tests can control time without sleeping.
package common

import (
	"crypto/sha256"
	"fmt"

	"github.com/holiman/uint256"
)

// Digest is the 256-bit fingerprint of a request: method + host + URL.
// Vary-selected header values are not part of it; they are matched
// separately against each candidate under the digest.
// It is backed by uint256.Int so hash-table lookups and ban/vary comparisons
// are constant-width integer compares rather than byte-slice compares.
type Digest struct {
	inner uint256.Int
}

// NewDigest hashes the given fields with SHA-256 and folds the result into
// a Digest. Order matters: callers must hash method, host and URL in a
// stable order for the digest to be reproducible across requests.
func NewDigest(parts ...[]byte) Digest {
	h := sha256.New()
	for _, p := range parts {
		h.Write(p)
	}
	var sum [32]byte
	copy(sum[:], h.Sum(nil))
	var d Digest
	d.inner.SetBytes32(sum[:])
	return d
}

// DigestFromBytes32 builds a Digest directly from a 32-byte fingerprint,
// e.g. one computed by an external VCL-equivalent hash director.
func DigestFromBytes32(b [32]byte) Digest {
	var d Digest
	d.inner.SetBytes32(b[:])
	return d
}

// Bytes32 returns the big-endian 32-byte representation, suitable as a map
// key or for logging.
func (d Digest) Bytes32() [32]byte {
	return d.inner.Bytes32()
}

// Key returns a comparable value usable directly as a Go map key.
func (d Digest) Key() [4]uint64 {
	return [4]uint64(d.inner)
}

// Equal reports whether two digests are identical.
func (d Digest) Equal(o Digest) bool {
	return d.inner == o.inner
}

// String renders the digest as a short hex prefix for logging.
func (d Digest) String() string {
	b := d.inner.Bytes32()
	return fmt.Sprintf("%x", b[:8])
}

// IsZero reports whether the digest was never assigned.
func (d Digest) IsZero() bool {
	return d.inner.IsZero()
}
