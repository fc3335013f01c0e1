// Package githash implements the hash algorithms supported by git object
// identities (OIDs). A repository uses exactly one algorithm for its
// entire lifetime; which one is recorded by extensions.objectformat in
// the repository config.
package githash

import "errors"

// ErrInvalidOid is returned when a given value isn't a valid Oid.
var ErrInvalidOid = errors.New("invalid Oid")

// ErrUnknownAlgorithm is returned when a hash algorithm name isn't
// recognized.
var ErrUnknownAlgorithm = errors.New("unknown hash algorithm")

// Hash represents a hash algorithm supported by git. Two are currently
// standardized: SHA-1 (the historical default) and SHA-256 (the
// transitional format, gated behind extensions.objectformat=sha256).
type Hash interface {
	// Name returns the git name of the algorithm ("sha1" or "sha256").
	Name() string
	// Size returns the length, in bytes, of an Oid produced by this hash.
	Size() int
	// Sum returns the Oid of the given content.
	Sum(content []byte) Oid
	// NewOidFromHex parses the ASCII-hex representation of an Oid
	// (e.g. "9b91da06e69613397b38e0808e0ba5ee6983251b").
	NewOidFromHex(hex string) (Oid, error)
	// NewOidFromBytes wraps a raw, already-decoded Oid. len(b) must
	// equal Size().
	NewOidFromBytes(b []byte) (Oid, error)
	// NullOid returns the zero-value Oid for this algorithm.
	NullOid() Oid
	// EmptyTreeOid returns the well-known Oid of the empty tree.
	EmptyTreeOid() Oid
}

// ByName returns the Hash implementation for the given git algorithm
// name. Empty string is treated as "sha1" for backward compatibility
// with repositories that never wrote extensions.objectformat.
func ByName(name string) (Hash, error) {
	switch name {
	case "", "sha1":
		return SHA1, nil
	case "sha256":
		return SHA256, nil
	default:
		return nil, ErrUnknownAlgorithm
	}
}
