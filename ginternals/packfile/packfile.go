// Package packfile contains methods and structs to read and write packfiles.
package packfile

import (
	"bufio"
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/gitkit-go/gitkit/ginternals"
	"github.com/gitkit-go/gitkit/ginternals/githash"
	"github.com/gitkit-go/gitkit/ginternals/object"
	"github.com/gitkit-go/gitkit/internal/cache"
	"github.com/spf13/afero"
)

const (
	// packfileHeaderSize is the size of a packfile's header: 4 bytes of
	// magic, 4 bytes of version, 4 bytes of object count.
	packfileHeaderSize = 12

	// ExtPackfile is the file extension of a packfile.
	ExtPackfile = ".pack"
	// ExtIndex is the file extension of a packfile's index.
	ExtIndex = ".idx"

	// deltaBaseCacheSize bounds how many resolved delta bases a single
	// Pack keeps warm, to avoid re-walking long delta chains for
	// objects that reference the same base repeatedly.
	deltaBaseCacheSize = 128
)

func packfileMagic() []byte   { return []byte{'P', 'A', 'C', 'K'} }
func packfileVersion() []byte { return []byte{0, 0, 0, 2} }

var (
	// ErrIntOverflow is returned when a variable-length integer in the
	// packfile doesn't fit in 64 bits.
	ErrIntOverflow = errors.New("int64 overflow")
	// ErrInvalidMagic is returned when a file doesn't carry the
	// expected magic bytes.
	ErrInvalidMagic = errors.New("invalid magic")
	// ErrInvalidVersion is returned when a file carries an unsupported
	// format version.
	ErrInvalidVersion = errors.New("invalid version")
)

// Pack represents a packfile and its companion index.
//
// Layout:
//
//	Header (12 bytes): magic "PACK", version, object count
//	Content: each object prefixed by a variable-length type+size
//	         header, zlib-compressed. Deltified entries (ofs-delta,
//	         ref-delta) additionally carry a reference to their base
//	         before the compressed payload.
//	Footer (oidSize bytes): checksum of everything preceding it.
//
// https://github.com/git/git/blob/master/Documentation/technical/pack-format.txt
type Pack struct {
	r       afero.File
	idxFile afero.File
	idx     *PackIndex
	header  [packfileHeaderSize]byte
	id      githash.Oid
	hash    githash.Hash

	// deltaBases caches resolved delta-chain results keyed by the
	// offset of the entry that was resolved, so repeated lookups of
	// objects sharing a base don't re-walk the chain.
	deltaBases *cache.LRU

	mu sync.Mutex
}

// NewFromFile returns a Pack built from the packfile at filePath. The
// companion .idx is expected next to it. The Pack must be closed with
// Close() once no longer needed.
func NewFromFile(fs afero.Fs, filePath string, hash githash.Hash) (pack *Pack, err error) {
	f, err := fs.Open(filePath)
	if err != nil {
		return nil, ginternals.NewError(ginternals.KindNotFound, fmt.Sprintf("could not open %s", filePath), err)
	}
	defer func() {
		if err != nil {
			f.Close() //nolint:errcheck // already failing
		}
	}()

	p := &Pack{
		r:          f,
		hash:       hash,
		deltaBases: cache.NewLRU(deltaBaseCacheSize),
	}

	if _, err = f.ReadAt(p.header[:], 0); err != nil {
		return nil, ginternals.NewError(ginternals.KindCorrupt, "could not read packfile header", err)
	}
	if !bytes.Equal(p.header[0:4], packfileMagic()) {
		return nil, ginternals.NewError(ginternals.KindCorrupt, "invalid packfile header", ErrInvalidMagic)
	}
	if !bytes.Equal(p.header[4:8], packfileVersion()) {
		return nil, ginternals.NewError(ginternals.KindCorrupt, "invalid packfile header", ErrInvalidVersion)
	}

	indexFilePath := strings.TrimSuffix(filePath, ExtPackfile) + ExtIndex
	p.idxFile, err = fs.Open(indexFilePath)
	if err != nil {
		return nil, ginternals.NewError(ginternals.KindNotFound, fmt.Sprintf("could not open %s", indexFilePath), err)
	}
	defer func() {
		if err != nil {
			p.idxFile.Close() //nolint:errcheck // already failing
		}
	}()
	p.idx, err = NewIndex(bufio.NewReader(p.idxFile), hash)
	if err != nil {
		return nil, ginternals.NewError(ginternals.KindCorrupt, fmt.Sprintf("could not parse %s", indexFilePath), err)
	}

	return p, nil
}

// rawEntry is what getRawObjectAt extracts before any delta has been
// resolved: the entry's own bytes, plus enough information to locate
// its base if it's a delta.
type rawEntry struct {
	obj             *object.Object
	deltaBaseOid    githash.Oid
	deltaBaseOffset uint64
}

// getRawObjectAt parses a single entry at objectOffset, without
// resolving any delta chain.
func (pck *Pack) getRawObjectAt(objectOffset uint64) (entry rawEntry, err error) {
	if _, err = pck.r.Seek(int64(objectOffset), io.SeekStart); err != nil {
		return rawEntry{}, fmt.Errorf("could not seek to object offset %d: %w", objectOffset, err)
	}
	buf := bufio.NewReader(pck.r)

	// The per-object header is a variable number of bytes:
	//   byte 0:   MSB | type (3 bits) | size, low 4 bits
	//   byte N>0: MSB | size, next 7 bits
	// Reading stops at the first byte with MSB unset. 10 bytes is
	// always enough headroom for a 64-bit size plus the 3 type bits
	// eaten from the first byte.
	metadata, err := buf.Peek(10)
	if err != nil && len(metadata) == 0 {
		return rawEntry{}, fmt.Errorf("could not peek object header: %w", err)
	}

	objectType := object.Type((metadata[0] & 0b_0111_0000) >> 4)
	if !objectType.IsValid() {
		return rawEntry{}, fmt.Errorf("unknown object type %d", objectType)
	}

	objectSize := uint64(metadata[0] & 0b_0000_1111)
	metadataSize := 1

	if isMSBSet(metadata[0]) {
		size, byteRead, e := readSize(metadata[1:])
		if e != nil {
			return rawEntry{}, fmt.Errorf("could not read object size: %w", e)
		}
		metadataSize += byteRead
		objectSize |= size << 4
	}
	if _, err = buf.Discard(metadataSize); err != nil {
		return rawEntry{}, fmt.Errorf("could not skip object header: %w", err)
	}

	// Deltified entries carry a reference to their base right after
	// the header: either the base's oid (ref-delta) or a negative
	// offset from this entry to the base (ofs-delta).
	var baseOffset uint64
	var baseOid githash.Oid
	switch objectType { //nolint:exhaustive // only these two carry a base reference
	case object.ObjectDeltaRef:
		raw := make([]byte, pck.hash.Size())
		if _, err = io.ReadFull(buf, raw); err != nil {
			return rawEntry{}, fmt.Errorf("could not read delta base oid: %w", err)
		}
		baseOid, err = pck.hash.NewOidFromBytes(raw)
		if err != nil {
			return rawEntry{}, fmt.Errorf("invalid delta base oid: %w", err)
		}
	case object.ObjectDeltaOFS:
		offsetParts, e := buf.Peek(9)
		if e != nil && len(offsetParts) == 0 {
			return rawEntry{}, fmt.Errorf("could not peek delta base offset: %w", e)
		}
		rel, bytesRead, e := readDeltaOffset(offsetParts)
		if e != nil {
			return rawEntry{}, fmt.Errorf("could not read delta base offset: %w", e)
		}
		baseOffset = objectOffset - rel
		if _, err = buf.Discard(bytesRead); err != nil {
			return rawEntry{}, fmt.Errorf("could not skip delta base offset: %w", err)
		}
	}

	zlibR, err := zlib.NewReader(buf)
	if err != nil {
		return rawEntry{}, fmt.Errorf("could not open zlib reader: %w", err)
	}
	defer func() {
		if closeErr := zlibR.Close(); err == nil {
			err = closeErr
		}
	}()

	var data bytes.Buffer
	if _, err = io.Copy(&data, zlibR); err != nil {
		return rawEntry{}, fmt.Errorf("could not inflate object: %w", err)
	}
	if data.Len() != int(objectSize) {
		return rawEntry{}, fmt.Errorf("object size mismatch: expected %d, got %d", objectSize, data.Len())
	}

	return rawEntry{
		obj:             object.New(pck.hash, objectType, data.Bytes()),
		deltaBaseOid:    baseOid,
		deltaBaseOffset: baseOffset,
	}, nil
}

// getObjectAt returns the fully-resolved object located at objectOffset.
//
// Delta chains are resolved iteratively with an explicit stack rather
// than by recursion: a pack built with a deep, unbroken chain of
// ofs-deltas (git itself can produce chains tens of thousands deep)
// would otherwise blow the goroutine stack.
func (pck *Pack) getObjectAt(objectOffset uint64) (*object.Object, error) {
	if cached, ok := pck.deltaBases.Get(objectOffset); ok {
		return cached.(*object.Object), nil
	}

	// chain holds every deltified entry we must apply, from the
	// requested object back to (but excluding) its first non-delta
	// ancestor, in base-to-target order once reversed.
	type link struct {
		offset uint64
		entry  rawEntry
	}
	var chain []link

	offset := objectOffset
	var baseObj *object.Object
	for {
		if cached, ok := pck.deltaBases.Get(offset); ok {
			baseObj = cached.(*object.Object)
			break
		}

		entry, err := pck.getRawObjectAt(offset)
		if err != nil {
			return nil, fmt.Errorf("could not read entry at offset %d: %w", offset, err)
		}

		if entry.obj.Type() != object.ObjectDeltaRef && entry.obj.Type() != object.ObjectDeltaOFS {
			baseObj = entry.obj
			break
		}

		chain = append(chain, link{offset: offset, entry: entry})

		if !entry.deltaBaseOid.IsZero() {
			base, err := pck.GetObject(entry.deltaBaseOid)
			if err != nil {
				return nil, fmt.Errorf("could not get delta base %s: %w", entry.deltaBaseOid.String(), err)
			}
			baseObj = base
			break
		}
		offset = entry.deltaBaseOffset
	}

	// Apply the chain from the base outward (reverse order of discovery).
	current := baseObj
	for i := len(chain) - 1; i >= 0; i-- {
		resolved, err := applyDelta(current, chain[i].entry.obj)
		if err != nil {
			return nil, fmt.Errorf("could not apply delta at offset %d: %w", chain[i].offset, err)
		}
		current = resolved
		pck.deltaBases.Add(chain[i].offset, current)
	}

	return current, nil
}

// ApplyDelta reconstructs a target object from a base object and a
// delta payload, using the same COPY/INSERT bytecode interpreter this
// package's own delta-chain resolution uses internally. Exported for
// receive-time thin-pack fatification, where a ref-delta's base lives
// outside the incoming pack entirely (in the local object store), so
// there's no Pack for an internal resolver to walk.
func ApplyDelta(base, delta *object.Object) (*object.Object, error) {
	return applyDelta(base, delta)
}

// applyDelta reconstructs a target object from its base and a delta
// payload. The delta payload has the shape:
//
//	{source_size} {target_size} {instructions...}
//
// where each instruction is either a COPY (MSB set: copy a byte range
// from the base) or an INSERT (MSB unset: copy literal bytes from the
// delta itself).
func applyDelta(base *object.Object, delta *object.Object) (*object.Object, error) {
	data := delta.Bytes()
	sourceSize, sourceSizeLen, err := readSize(data)
	if err != nil {
		return nil, fmt.Errorf("could not read delta source size: %w", err)
	}
	if int(sourceSize) != base.Size() {
		return nil, fmt.Errorf("delta base size mismatch: expected %d, got %d", base.Size(), sourceSize)
	}
	_, targetSizeLen, err := readSize(data[sourceSizeLen:])
	if err != nil {
		return nil, fmt.Errorf("could not read delta target size: %w", err)
	}
	instructions := data[sourceSizeLen+targetSizeLen:]
	baseContent := base.Bytes()

	var out bytes.Buffer
	for i := 0; i < len(instructions); i++ {
		instr := instructions[i]
		if isMSBSet(instr) {
			// COPY: the low 4 bits of instr say which of the next 4
			// bytes hold offset chunks; the next 3 bits say which of
			// the following 3 bytes hold length chunks.
			offsetInfo := uint(instr & 0b_0000_1111)
			offsetBytes := make([]byte, 4)
			read := 0
			for j := uint(0); j < 4; j++ {
				if (offsetInfo>>j)&1 == 1 {
					if i+1+read >= len(instructions) {
						return nil, fmt.Errorf("truncated copy offset in delta")
					}
					offsetBytes[j] = instructions[i+1+read]
					read++
				}
			}
			offset := binary.LittleEndian.Uint32(offsetBytes)
			i += read

			copyLenInfo := uint((instr & 0b_0111_0000) >> 4)
			copyLenBytes := make([]byte, 4)
			read = 0
			for j := uint(0); j < 3; j++ {
				if (copyLenInfo>>j)&1 == 1 {
					if i+1+read >= len(instructions) {
						return nil, fmt.Errorf("truncated copy length in delta")
					}
					copyLenBytes[j] = instructions[i+1+read]
					read++
				}
			}
			copyLen := binary.LittleEndian.Uint32(copyLenBytes)
			if copyLen == 0 {
				copyLen = 0x10000
			}
			i += read

			if int(offset)+int(copyLen) > len(baseContent) {
				return nil, fmt.Errorf("copy instruction out of bounds")
			}
			out.Write(baseContent[offset : offset+copyLen])
		} else {
			// INSERT: instr itself is the number of literal bytes to copy.
			start := i + 1
			end := start + int(instr)
			if end > len(instructions) {
				return nil, fmt.Errorf("truncated insert in delta")
			}
			out.Write(instructions[start:end])
			i += int(instr)
		}
	}

	return object.New(base.Hash(), base.Type(), out.Bytes()), nil
}

// GetObject returns the object identified by oid.
func (pck *Pack) GetObject(oid githash.Oid) (*object.Object, error) {
	pck.mu.Lock()
	defer pck.mu.Unlock()

	offset, err := pck.idx.GetObjectOffset(oid)
	if err != nil {
		return nil, err
	}
	o, err := pck.getObjectAt(offset)
	if err != nil {
		return nil, err
	}
	return object.NewWithID(pck.hash, oid, o.Type(), o.Bytes()), nil
}

// HasObject reports whether oid is present in this pack.
func (pck *Pack) HasObject(oid githash.Oid) bool {
	pck.mu.Lock()
	defer pck.mu.Unlock()

	_, err := pck.idx.GetObjectOffset(oid)
	return err == nil
}

// ObjectCount returns the number of objects stored in the packfile.
func (pck *Pack) ObjectCount() uint32 {
	return binary.BigEndian.Uint32(pck.header[8:])
}

// OidWalkFunc is applied to every oid visited by WalkOids. Returning
// OidWalkStop ends the walk early without it being treated as a
// failure.
type OidWalkFunc func(oid githash.Oid) error

// OidWalkStop is a sentinel a OidWalkFunc can return to stop a walk
// early without reporting an error to the caller.
var OidWalkStop = errors.New("packfile: stop walking")

// WalkOids runs f on every object id stored in this pack's index.
func (pck *Pack) WalkOids(f OidWalkFunc) error {
	pck.mu.Lock()
	defer pck.mu.Unlock()

	return pck.idx.Walk(pck.hash, f)
}

// ID returns the checksum of the packfile (its trailing footer).
func (pck *Pack) ID() (githash.Oid, error) {
	pck.mu.Lock()
	defer pck.mu.Unlock()

	if !pck.id.IsZero() {
		return pck.id, nil
	}

	size := pck.hash.Size()
	id := make([]byte, size)
	offset, err := pck.r.Seek(-int64(size), io.SeekEnd)
	if err != nil {
		return githash.Oid{}, fmt.Errorf("could not seek to packfile checksum: %w", err)
	}
	if _, err = pck.r.ReadAt(id, offset); err != nil {
		return githash.Oid{}, fmt.Errorf("could not read packfile checksum: %w", err)
	}
	pck.id, err = pck.hash.NewOidFromBytes(id)
	if err != nil {
		return githash.Oid{}, fmt.Errorf("invalid packfile checksum: %w", err)
	}
	return pck.id, nil
}

// Close releases the pack's and index's file handles.
func (pck *Pack) Close() error {
	pck.mu.Lock()
	defer pck.mu.Unlock()

	packErr := pck.r.Close()
	idxErr := pck.idxFile.Close()
	if packErr != nil {
		return packErr
	}
	return idxErr
}

// readSize reads a little-endian, MSB-continuation encoded size,
// starting from the first byte after any fixed header bits already
// consumed by the caller.
func readSize(data []byte) (size uint64, bytesRead int, err error) {
	for i, b := range data {
		bytesRead++
		chunk := unsetMSB(b)
		size = insertLittleEndian7(size, chunk, uint8(i))
		if !isMSBSet(b) {
			return size, bytesRead, nil
		}
	}
	return 0, 0, ErrIntOverflow
}

// readDeltaOffset reads a big-endian, MSB-continuation encoded
// negative offset, per the ofs-delta encoding: each chunk but the
// last is stored minus 1.
func readDeltaOffset(data []byte) (offset uint64, bytesRead int, err error) {
	for _, b := range data {
		bytesRead++
		chunk := unsetMSB(b)
		if isMSBSet(b) {
			chunk++
		}
		offset = insertBigEndian7(offset, chunk)
		if !isMSBSet(b) {
			return offset, bytesRead, nil
		}
	}
	return 0, 0, ErrIntOverflow
}

func insertLittleEndian7(base uint64, chunk, position uint8) uint64 {
	return (uint64(chunk) << (position * 7)) | base
}

func insertBigEndian7(base uint64, chunk uint8) uint64 {
	return base<<7 + uint64(chunk)
}

func isMSBSet(b byte) bool { return b >= 0b_1000_0000 }
func unsetMSB(b byte) byte { return b & 0b_0111_1111 }
