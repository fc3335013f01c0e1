package githash

import (
	"crypto/sha256"
	"encoding/hex"
)

const sha256Size = 32

// emptyTreeSHA256Hex is the canonical OID of the empty tree under the
// SHA-256 object format.
const emptyTreeSHA256Hex = "6ef19b41225c5369f1c104d45d8d85efa9b057b53b14b4b9b939dd74decc5321"

type sha256Hash struct{}

// SHA256 is the transitional git hash algorithm, opted into per
// repository via extensions.objectformat=sha256.
var SHA256 Hash = sha256Hash{}

func (sha256Hash) Name() string { return "sha256" }
func (sha256Hash) Size() int    { return sha256Size }

func (h sha256Hash) Sum(content []byte) Oid {
	sum := sha256.Sum256(content)
	return Oid{raw: sum[:]}
}

func (h sha256Hash) NewOidFromHex(s string) (Oid, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return h.NullOid(), ErrInvalidOid
	}
	return h.NewOidFromBytes(b)
}

func (h sha256Hash) NewOidFromBytes(b []byte) (Oid, error) {
	if len(b) != sha256Size {
		return h.NullOid(), ErrInvalidOid
	}
	raw := make([]byte, sha256Size)
	copy(raw, b)
	return Oid{raw: raw}, nil
}

func (sha256Hash) NullOid() Oid {
	return Oid{raw: make([]byte, sha256Size)}
}

func (h sha256Hash) EmptyTreeOid() Oid {
	oid, _ := h.NewOidFromHex(emptyTreeSHA256Hex)
	return oid
}
