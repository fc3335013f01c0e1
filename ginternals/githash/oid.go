package githash

import "encoding/hex"

// Oid is a git object identifier: the hash of an object's wrapped form.
// It is algorithm-agnostic at the type level (20 raw bytes for SHA-1,
// 32 for SHA-256) so the rest of the codec/store/pack stack never has
// to special-case either format.
type Oid struct {
	raw []byte
}

// Bytes returns the raw, binary form of the Oid.
// For 642480605b8b0fd464ab5762e044269cf29a60a3 this is
// []byte{0x64, 0x24, 0x80, ...}, as opposed to []byte(oid.String()).
func (o Oid) Bytes() []byte {
	return o.raw
}

// String returns the lowercase hex encoding of the Oid.
func (o Oid) String() string {
	if o.raw == nil {
		return ""
	}
	return hex.EncodeToString(o.raw)
}

// Size returns the number of raw bytes backing this Oid (20 or 32).
func (o Oid) Size() int {
	return len(o.raw)
}

// IsZero returns whether the Oid is the all-zero value for its size,
// or has no size at all (the uninitialized Oid{}).
func (o Oid) IsZero() bool {
	if len(o.raw) == 0 {
		return true
	}
	for _, b := range o.raw {
		if b != 0 {
			return false
		}
	}
	return true
}

// Equal reports whether two Oids have the same bytes.
func (o Oid) Equal(other Oid) bool {
	if len(o.raw) != len(other.raw) {
		return false
	}
	for i := range o.raw {
		if o.raw[i] != other.raw[i] {
			return false
		}
	}
	return true
}
