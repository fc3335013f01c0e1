package githash

import (
	"crypto/sha1" //nolint:gosec // SHA-1 is git's legacy object format, not used for anything security-sensitive here
	"encoding/hex"
)

const sha1Size = 20

// emptyTreeSHA1Hex is the canonical OID of the empty tree under SHA-1.
const emptyTreeSHA1Hex = "4b825dc642cb6eb9a060e54bf8d69288fbee4904"

type sha1Hash struct{}

// SHA1 is the historical, still-default git hash algorithm.
var SHA1 Hash = sha1Hash{}

func (sha1Hash) Name() string { return "sha1" }
func (sha1Hash) Size() int    { return sha1Size }

func (h sha1Hash) Sum(content []byte) Oid {
	sum := sha1.Sum(content) //nolint:gosec
	return Oid{raw: sum[:]}
}

func (h sha1Hash) NewOidFromHex(s string) (Oid, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return h.NullOid(), ErrInvalidOid
	}
	return h.NewOidFromBytes(b)
}

func (h sha1Hash) NewOidFromBytes(b []byte) (Oid, error) {
	if len(b) != sha1Size {
		return h.NullOid(), ErrInvalidOid
	}
	raw := make([]byte, sha1Size)
	copy(raw, b)
	return Oid{raw: raw}, nil
}

func (sha1Hash) NullOid() Oid {
	return Oid{raw: make([]byte, sha1Size)}
}

func (h sha1Hash) EmptyTreeOid() Oid {
	oid, _ := h.NewOidFromHex(emptyTreeSHA1Hex)
	return oid
}
