package packfile

import (
	"bytes"
	"encoding/binary"
	"io"
	"sort"
	"sync"

	"github.com/gitkit-go/gitkit/ginternals"
	"github.com/gitkit-go/gitkit/ginternals/githash"
)

const (
	layer1Size      = 1024
	layer3EntrySize = 4
	layer4EntrySize = 4
)

// indexHeader is the 8-byte header of a version-2 .idx file: a magic
// followed by the format version. Version 1 (headerless) packs are
// not produced by modern git and are not supported here.
func indexHeader() []byte {
	return []byte{255, 't', 'O', 'c', 0, 0, 0, 2}
}

// PackIndex represents a packfile's .idx companion file.
//
// The index has a header, 5 layers, and a footer:
//
//	header: 8 bytes, see indexHeader
//	layer1: 256 entries of 4 bytes each. Entry N is the CUMULATIVE
//	        count of objects whose oid's first byte is <= N, so the
//	        count of objects starting with byte N is
//	        layer1[N] - layer1[N-1].
//	layer2: objectCount * oidSize bytes. The oids, sorted, back to back.
//	layer3: objectCount * 4 bytes. A CRC32 per object.
//	layer4: objectCount * 4 bytes. The packfile offset of each object.
//	        The top bit marks "too big for 4 bytes, look in layer5".
//	layer5: present only for packs with an object past offset 2GB.
//	        Each flagged layer4 entry points at an 8-byte offset here.
//	footer: 2 oids, the SHA of the packfile and the SHA of the index
//	        itself minus this footer.
//
// https://git-scm.com/docs/pack-format
type PackIndex struct {
	mu sync.Mutex

	hash githash.Hash
	r    io.Reader

	// hashOffset is keyed by the raw oid bytes (as a string) rather
	// than by githash.Oid directly: Oid wraps a byte slice and is
	// therefore not a valid, comparable map key.
	hashOffset map[string]uint64

	parseError error
	parsed     bool
}

// NewIndex returns an index object from the given reader. hash must
// match the hash algorithm of the repository the pack belongs to.
func NewIndex(r io.Reader, hash githash.Hash) (idx *PackIndex, err error) {
	header := make([]byte, len(indexHeader()))
	if _, err = io.ReadFull(r, header); err != nil {
		return nil, ginternals.NewError(ginternals.KindCorrupt, "could not read index header", err)
	}
	if !bytes.Equal(header, indexHeader()) {
		return nil, ginternals.NewError(ginternals.KindCorrupt, "invalid index magic or version", ErrInvalidMagic)
	}

	return &PackIndex{
		r:    r,
		hash: hash,
	}, nil
}

// GetObjectOffset returns the packfile offset of oid.
func (idx *PackIndex) GetObjectOffset(oid githash.Oid) (uint64, error) {
	if err := idx.parse(); err != nil {
		return 0, ginternals.NewError(ginternals.KindCorrupt, "could not parse the index file", err)
	}
	offset, exists := idx.hashOffset[string(oid.Bytes())]
	if !exists {
		return 0, ginternals.Err(ginternals.KindNotFound)
	}
	return offset, nil
}

// Walk runs f on every oid this index knows about.
func (idx *PackIndex) Walk(hash githash.Hash, f func(oid githash.Oid) error) error {
	if err := idx.parse(); err != nil {
		return ginternals.NewError(ginternals.KindCorrupt, "could not parse the index file", err)
	}
	for raw := range idx.hashOffset {
		oid, err := hash.NewOidFromBytes([]byte(raw))
		if err != nil {
			return err
		}
		if err := f(oid); err != nil {
			return err
		}
	}
	return nil
}

// parse reads the whole index into memory. Only runs once; later
// calls are free.
func (idx *PackIndex) parse() (err error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if idx.parsed {
		return nil
	}
	if idx.parseError != nil {
		return idx.parseError
	}
	defer func() {
		if err != nil {
			idx.parseError = err
		}
	}()

	oidSize := idx.hash.Size()
	bufInt32 := make([]byte, 4)
	bufInt64 := make([]byte, 8)
	bufOid := make([]byte, oidSize)

	// layer1's last entry (offset 255) is the total object count.
	lastEntryRelOffset := 255 * 4
	if _, err = io.CopyN(io.Discard, idx.r, int64(lastEntryRelOffset)); err != nil {
		return ginternals.NewError(ginternals.KindCorrupt, "could not skip to the last layer1 entry", err)
	}
	if _, err = io.ReadFull(idx.r, bufInt32); err != nil {
		return ginternals.NewError(ginternals.KindCorrupt, "could not read the object count", err)
	}
	objectCount := int(binary.BigEndian.Uint32(bufInt32))

	oids := make([]githash.Oid, 0, objectCount)
	for i := 0; i < objectCount; i++ {
		if _, err = io.ReadFull(idx.r, bufOid); err != nil {
			return ginternals.NewError(ginternals.KindCorrupt, "could not read an oid from layer2", err)
		}
		oid, e := idx.hash.NewOidFromBytes(bufOid)
		if e != nil {
			return ginternals.NewError(ginternals.KindCorrupt, "invalid oid in layer2", e)
		}
		oids = append(oids, oid)
	}

	// layer3 (CRC32 per object) isn't consumed yet: nothing in the
	// current read path needs per-object corruption detection beyond
	// the object size check already done when inflating.
	layer3Size := objectCount * layer3EntrySize
	if _, err = io.CopyN(io.Discard, idx.r, int64(layer3Size)); err != nil {
		return ginternals.NewError(ginternals.KindCorrupt, "could not skip layer3", err)
	}

	idx.hashOffset = make(map[string]uint64, objectCount)

	type layer5Data struct {
		key            string
		relativeOffset uint64
	}
	layer5offsets := []*layer5Data{}

	for _, oid := range oids {
		if _, err = io.ReadFull(idx.r, bufInt32); err != nil {
			return ginternals.NewError(ginternals.KindCorrupt, "could not read a layer4 offset", err)
		}
		entry := binary.BigEndian.Uint32(bufInt32)

		// top bit: 1 means "look up the real offset in layer5".
		msb := (entry >> 31) == 1
		offset := uint64(entry & 0x7fffffff)
		if msb {
			layer5offsets = append(layer5offsets, &layer5Data{
				key:            string(oid.Bytes()),
				relativeOffset: offset,
			})
			continue
		}
		idx.hashOffset[string(oid.Bytes())] = offset
	}

	// layer5 entries must be consumed in increasing relative-offset
	// order since we can only read forward.
	sort.Slice(layer5offsets, func(i, j int) bool {
		return layer5offsets[i].relativeOffset < layer5offsets[j].relativeOffset
	})
	for _, data := range layer5offsets {
		if _, err = io.ReadFull(idx.r, bufInt64); err != nil {
			return ginternals.NewError(ginternals.KindCorrupt, "could not read a layer5 offset", err)
		}
		idx.hashOffset[data.key] = binary.BigEndian.Uint64(bufInt64)
	}

	idx.parsed = true
	return nil
}
