package packfile

import (
	"bytes"
	"compress/zlib"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/binary"
	"hash"

	"github.com/gitkit-go/gitkit/ginternals"
	"github.com/gitkit-go/gitkit/ginternals/githash"
	"github.com/gitkit-go/gitkit/ginternals/object"
)

// Writer assembles a packfile one whole object at a time. It only ever
// emits non-delta entries: every object is written in full, zlib
// compressed, the same trade-off the thin-pack fatification step makes
// when it rewrites a pack to be self-contained. Callers that want
// smaller packs are expected to run the result through an external
// repack, not through Writer.
//
// The object count must be known up front, since it's part of the
// 12-byte header that precedes the first object.
type Writer struct {
	buf  bytes.Buffer
	hash githash.Hash
}

// NewWriter starts a new pack with room for count objects.
func NewWriter(hash githash.Hash, count uint32) *Writer {
	w := &Writer{hash: hash}
	w.buf.Write(packfileMagic())
	w.buf.Write(packfileVersion())
	var countBytes [4]byte
	binary.BigEndian.PutUint32(countBytes[:], count)
	w.buf.Write(countBytes[:])
	return w
}

// Len reports how many bytes have been written so far, including the
// 12-byte header. Useful for callers building a companion index, who
// need each object's starting offset.
func (w *Writer) Len() int { return w.buf.Len() }

// WriteObject appends one object to the pack as a full, non-delta
// entry: a type+size header in the same variable-length encoding
// Pack.getRawObjectAt decodes, followed by the object's raw content,
// zlib-deflated.
func (w *Writer) WriteObject(obj *object.Object) error {
	typ := obj.Type()
	if !typ.IsValid() || typ == object.ObjectDeltaOFS || typ == object.ObjectDeltaRef {
		return ginternals.NewError(ginternals.KindObjectType, "packfile: writer only supports whole-object entries", nil)
	}
	writeObjectHeader(&w.buf, typ, obj.Size())

	zw := zlib.NewWriter(&w.buf)
	if _, err := zw.Write(obj.Bytes()); err != nil {
		_ = zw.Close()
		return ginternals.NewError(ginternals.KindInternal, "packfile: compressing object", err)
	}
	return zw.Close()
}

// Bytes returns the complete pack: header, every object written so
// far, and the trailing checksum over all of it.
func (w *Writer) Bytes() []byte {
	sum := newTrailerHash(w.hash.Name())
	sum.Write(w.buf.Bytes())
	return append(w.buf.Bytes(), sum.Sum(nil)...)
}

// writeObjectHeader encodes obj's 3-bit type tag and size as a
// variable-length, little-endian, MSB-continuation integer: the exact
// inverse of readSize/isMSBSet/unsetMSB.
func writeObjectHeader(buf *bytes.Buffer, typ object.Type, size int) {
	first := byte(typ)<<4 | byte(size)&0x0F
	rest := uint64(size) >> 4
	if rest > 0 {
		first |= 0x80
	}
	buf.WriteByte(first)
	for rest > 0 {
		b := byte(rest & 0x7F)
		rest >>= 7
		if rest > 0 {
			b |= 0x80
		}
		buf.WriteByte(b)
	}
}

// newTrailerHash returns the stdlib hash matching a githash.Hash's
// algorithm name. githash.Hash itself only exposes whole-content
// Sum, not an incremental hash.Hash, so the trailer checksum is
// computed directly against the stdlib, the same way
// ginternals/githash's own sha1.go/sha256.go wrap crypto/sha1 and
// crypto/sha256.
func newTrailerHash(name string) hash.Hash {
	if name == "sha256" {
		return sha256.New()
	}
	return sha1.New()
}
