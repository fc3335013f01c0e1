package packfile

import (
	"bufio"
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/gitkit-go/gitkit/ginternals"
	"github.com/gitkit-go/gitkit/ginternals/githash"
	"github.com/gitkit-go/gitkit/ginternals/object"
)

// StreamEntry is one object as it appeared in an incoming pack, before
// delta resolution: either a whole object, or a delta still waiting on
// a base that may not even be in this same stream.
type StreamEntry struct {
	Offset  uint64
	Type    object.Type
	Content []byte // inflated bytes: whole-object content, or delta bytecode

	// Only set when Type is ObjectDeltaRef or ObjectDeltaOFS.
	DeltaBaseOid    githash.Oid
	DeltaBaseOffset uint64 // absolute offset into this same stream
}

// ReadStream decodes a pack sequentially, straight off a connection or
// request body, with no companion .idx and no seeking — the access
// pattern a receive-pack session needs, unlike Pack's random-access
// reads against a file already sitting on disk.
func ReadStream(r io.Reader, hash githash.Hash) (entries []StreamEntry, checksum githash.Oid, err error) {
	br := bufio.NewReader(r)

	var header [packfileHeaderSize]byte
	if _, err := io.ReadFull(br, header[:]); err != nil {
		return nil, githash.Oid{}, ginternals.NewError(ginternals.KindCorrupt, "could not read packfile header", err)
	}
	if !bytes.Equal(header[0:4], packfileMagic()) {
		return nil, githash.Oid{}, ginternals.NewError(ginternals.KindCorrupt, "invalid packfile header", ErrInvalidMagic)
	}
	if !bytes.Equal(header[4:8], packfileVersion()) {
		return nil, githash.Oid{}, ginternals.NewError(ginternals.KindCorrupt, "invalid packfile header", ErrInvalidVersion)
	}
	count := binary.BigEndian.Uint32(header[8:12])

	offset := uint64(packfileHeaderSize)
	entries = make([]StreamEntry, 0, count)
	for i := uint32(0); i < count; i++ {
		entry, consumed, err := readStreamEntry(br, hash, offset)
		if err != nil {
			return nil, githash.Oid{}, err
		}
		entries = append(entries, entry)
		offset += consumed
	}

	raw := make([]byte, hash.Size())
	if _, err := io.ReadFull(br, raw); err != nil {
		return nil, githash.Oid{}, ginternals.NewError(ginternals.KindCorrupt, "could not read packfile checksum", err)
	}
	checksum, err = hash.NewOidFromBytes(raw)
	if err != nil {
		return nil, githash.Oid{}, ginternals.NewError(ginternals.KindCorrupt, "invalid packfile checksum", err)
	}
	return entries, checksum, nil
}

// countingReader wraps a *bufio.Reader, which already satisfies
// io.ByteReader, so compress/flate reads through it one byte at a time
// instead of introducing its own buffering — otherwise flate would
// over-read past the end of this entry's deflate stream and desync the
// shared reader for the next entry. The wrapper just tallies how many
// compressed bytes were actually consumed, so the caller can advance
// its offset tracking for ofs-delta base references.
type countingReader struct {
	r *bufio.Reader
	n uint64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += uint64(n)
	return n, err
}

func (c *countingReader) ReadByte() (byte, error) {
	b, err := c.r.ReadByte()
	if err == nil {
		c.n++
	}
	return b, err
}

func readStreamEntry(br *bufio.Reader, hash githash.Hash, offset uint64) (StreamEntry, uint64, error) {
	first, err := br.ReadByte()
	if err != nil {
		return StreamEntry{}, 0, ginternals.NewError(ginternals.KindCorrupt, "could not read object header", err)
	}
	consumed := uint64(1)

	typ := object.Type((first & 0b_0111_0000) >> 4)
	if !typ.IsValid() {
		return StreamEntry{}, 0, ginternals.NewError(ginternals.KindObjectType, fmt.Sprintf("unknown object type %d", typ), nil)
	}

	size := uint64(first & 0b_0000_1111)
	shift := uint(4)
	b := first
	for isMSBSet(b) {
		b, err = br.ReadByte()
		if err != nil {
			return StreamEntry{}, 0, ginternals.NewError(ginternals.KindCorrupt, "could not read object size", err)
		}
		consumed++
		size |= uint64(unsetMSB(b)) << shift
		shift += 7
	}

	var baseOid githash.Oid
	var baseOffset uint64
	switch typ { //nolint:exhaustive // only these two carry a base reference
	case object.ObjectDeltaRef:
		raw := make([]byte, hash.Size())
		if _, err := io.ReadFull(br, raw); err != nil {
			return StreamEntry{}, 0, ginternals.NewError(ginternals.KindCorrupt, "could not read delta base oid", err)
		}
		consumed += uint64(hash.Size())
		baseOid, err = hash.NewOidFromBytes(raw)
		if err != nil {
			return StreamEntry{}, 0, ginternals.NewError(ginternals.KindCorrupt, "invalid delta base oid", err)
		}
	case object.ObjectDeltaOFS:
		var rel uint64
		for {
			b, err = br.ReadByte()
			if err != nil {
				return StreamEntry{}, 0, ginternals.NewError(ginternals.KindCorrupt, "could not read delta base offset", err)
			}
			consumed++
			chunk := uint64(unsetMSB(b))
			if isMSBSet(b) {
				chunk++
			}
			rel = rel<<7 + chunk
			if !isMSBSet(b) {
				break
			}
		}
		baseOffset = offset - rel
	}

	cr := &countingReader{r: br}
	zr, err := zlib.NewReader(cr)
	if err != nil {
		return StreamEntry{}, 0, ginternals.NewError(ginternals.KindCorrupt, "could not open zlib reader", err)
	}
	var data bytes.Buffer
	_, err = io.Copy(&data, zr)
	closeErr := zr.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		return StreamEntry{}, 0, ginternals.NewError(ginternals.KindCorrupt, "could not inflate object", err)
	}
	if data.Len() != int(size) {
		return StreamEntry{}, 0, ginternals.NewError(ginternals.KindCorrupt, "object size mismatch", nil)
	}
	consumed += cr.n

	return StreamEntry{
		Offset:          offset,
		Type:            typ,
		Content:         data.Bytes(),
		DeltaBaseOid:    baseOid,
		DeltaBaseOffset: baseOffset,
	}, consumed, nil
}
