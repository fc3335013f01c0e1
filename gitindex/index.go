package gitindex

import (
	"bytes"
	"crypto/sha1" //nolint:gosec // the index trailer is always a SHA-1 checksum regardless of object-format
	"encoding/binary"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/gitkit-go/gitkit/ginternals"
	"github.com/gitkit-go/gitkit/ginternals/githash"
)

const (
	indexMagic = "DIRC"

	// VersionMin and VersionMax bound the versions this package reads.
	// Writes always emit VersionDefault; version 4's prefix-compressed
	// names are read but never produced.
	VersionMin     = 2
	VersionMax     = 4
	VersionDefault = 2

	flagAssumeValid = 1 << 15
	flagExtended    = 1 << 14
	flagStageMask   = 0b011 << 12
	flagNameMask    = 0x0fff
	nameMaskMax     = 0x0fff

	extFlagSkipWorktree = 1 << 14
	extFlagIntentToAdd  = 1 << 13
)

// Index is an in-memory representation of a staging index, keyed by
// path and stage, always iterating/serializing in the path+stage sort
// order the format requires.
type Index struct {
	version int
	hash    githash.Hash
	entries map[key]*Entry
}

// New creates an empty index for the given hash algorithm.
func New(hash githash.Hash) *Index {
	return &Index{version: VersionDefault, hash: hash, entries: map[key]*Entry{}}
}

// Version reports the on-disk format version this index was read
// with (or VersionDefault for a freshly created one).
func (idx *Index) Version() int {
	return idx.version
}

// Insert adds or replaces the entry at the same (path, stage). A
// stage-0 entry and any stage 1/2/3 entry for the same path can never
// coexist, so inserting one side clears the other: inserting stage 0
// resolves any outstanding conflict at that path, and inserting a
// conflict stage retracts any previously resolved stage-0 entry there.
func (idx *Index) Insert(e Entry) {
	cp := e
	if cp.Stage == StageNormal {
		delete(idx.entries, key{path: cp.Path, stage: StageBase})
		delete(idx.entries, key{path: cp.Path, stage: StageOurs})
		delete(idx.entries, key{path: cp.Path, stage: StageTheirs})
	} else {
		delete(idx.entries, key{path: cp.Path, stage: StageNormal})
	}
	idx.entries[cp.key()] = &cp
}

// Remove deletes every stage of path (stage 0 and any conflict stages).
func (idx *Index) Remove(path string) {
	for _, s := range []Stage{StageNormal, StageBase, StageOurs, StageTheirs} {
		delete(idx.entries, key{path: path, stage: s})
	}
}

// Paths returns the sorted, de-duplicated list of paths in the index.
func (idx *Index) Paths() []string {
	seen := map[string]bool{}
	out := []string{}
	for _, e := range idx.sortedEntries() {
		if !seen[e.Path] {
			seen[e.Path] = true
			out = append(out, e.Path)
		}
	}
	return out
}

// Entries returns all entries (every stage) in sorted order.
func (idx *Index) Entries() []Entry {
	sorted := idx.sortedEntries()
	out := make([]Entry, len(sorted))
	for i, e := range sorted {
		out[i] = *e
	}
	return out
}

// Conflicts returns the paths that currently have stage 1/2/3 entries.
func (idx *Index) Conflicts() []string {
	seen := map[string]bool{}
	for k := range idx.entries {
		if k.stage != StageNormal {
			seen[k.path] = true
		}
	}
	out := make([]string, 0, len(seen))
	for p := range seen {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// validateStages rejects a parsed index where some path carries both a
// stage-0 entry and a conflict-stage (1/2/3) entry: the two states are
// mutually exclusive, so their coexistence only happens in a foreign or
// corrupted index, never one this package wrote itself.
func (idx *Index) validateStages() error {
	hasNormal := map[string]bool{}
	hasConflict := map[string]bool{}
	for k := range idx.entries {
		if k.stage == StageNormal {
			hasNormal[k.path] = true
		} else {
			hasConflict[k.path] = true
		}
	}
	for p := range hasConflict {
		if hasNormal[p] {
			return ginternals.NewError(ginternals.KindCorrupt,
				fmt.Sprintf("index has both a stage-0 entry and conflict stages for %q", p), nil)
		}
	}
	return nil
}

func (idx *Index) sortedEntries() []*Entry {
	out := make([]*Entry, 0, len(idx.entries))
	for _, e := range idx.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Path != out[j].Path {
			return out[i].Path < out[j].Path
		}
		return out[i].Stage < out[j].Stage
	})
	return out
}

// Read parses a binary index from r.
//
// Layout: a 12-byte header (magic, version, entry count), the sorted
// entries, optional extensions (ignored on read beyond skipping their
// declared size), and a trailing checksum over everything preceding
// it. Versions 2 and 3 are read and written faithfully; version 4's
// prefix-compressed names are decoded on read but this package never
// emits them.
func Read(r io.Reader, hash githash.Hash) (*Index, error) {
	var header [12]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, ginternals.NewError(ginternals.KindCorrupt, "could not read index header", err)
	}
	if string(header[0:4]) != indexMagic {
		return nil, ginternals.NewError(ginternals.KindCorrupt, "invalid index magic", nil)
	}
	version := int(binary.BigEndian.Uint32(header[4:8]))
	if version < VersionMin || version > VersionMax {
		return nil, ginternals.NewError(ginternals.KindCorrupt, fmt.Sprintf("unsupported index version %d", version), nil)
	}
	count := int(binary.BigEndian.Uint32(header[8:12]))

	idx := &Index{version: version, hash: hash, entries: map[key]*Entry{}}

	br := &countingReader{r: r}
	var prevPath string
	for i := 0; i < count; i++ {
		e, err := readEntry(br, hash, version, prevPath)
		if err != nil {
			return nil, ginternals.NewError(ginternals.KindCorrupt, fmt.Sprintf("could not read entry %d", i), err)
		}
		idx.entries[e.key()] = e
		prevPath = e.Path
	}
	if err := idx.validateStages(); err != nil {
		return nil, err
	}

	// Extensions: skip each by its declared size. A signature whose
	// first byte is uppercase A-Z is optional and safe to skip blindly;
	// this package has no extension it needs to act on (TREE cache,
	// REUC, etc. are advisory caches, not authoritative state).
	for {
		var sig [4]byte
		n, err := io.ReadFull(br, sig[:])
		if err == io.EOF || n == 0 {
			break
		}
		if err != nil {
			return nil, ginternals.NewError(ginternals.KindCorrupt, "could not read extension signature", err)
		}
		if sig[0] < 'A' || sig[0] > 'Z' {
			// Not an extension signature: this is the trailing checksum.
			// sig[:] holds its first 4 bytes; read the rest.
			rest := make([]byte, hash.Size()-4)
			if _, err := io.ReadFull(br, rest); err != nil {
				return nil, ginternals.NewError(ginternals.KindCorrupt, "could not read index checksum", err)
			}
			break
		}
		var sizeBuf [4]byte
		if _, err := io.ReadFull(br, sizeBuf[:]); err != nil {
			return nil, ginternals.NewError(ginternals.KindCorrupt, "could not read extension size", err)
		}
		size := binary.BigEndian.Uint32(sizeBuf[:])
		if _, err := io.CopyN(io.Discard, br, int64(size)); err != nil {
			return nil, ginternals.NewError(ginternals.KindCorrupt, "could not skip extension body", err)
		}
	}

	return idx, nil
}

// Write serializes the index as version 2 (or the version it was
// read with, if still >= 2 and <= 3; version 4 is never emitted).
func (idx *Index) Write(w io.Writer) error {
	version := idx.version
	if version == 4 {
		version = VersionDefault
	}

	var body bytes.Buffer

	var header [12]byte
	copy(header[0:4], indexMagic)
	binary.BigEndian.PutUint32(header[4:8], uint32(version))
	sorted := idx.sortedEntries()
	binary.BigEndian.PutUint32(header[8:12], uint32(len(sorted)))
	body.Write(header[:])

	for _, e := range sorted {
		if err := writeEntry(&body, e, version); err != nil {
			return fmt.Errorf("could not write entry %q: %w", e.Path, err)
		}
	}

	sum := sha1Sum(body.Bytes()) //nolint:gosec // index checksum is always SHA-1 on-disk
	body.Write(sum)

	if _, err := w.Write(body.Bytes()); err != nil {
		return fmt.Errorf("could not write index: %w", err)
	}
	return nil
}

func sha1Sum(b []byte) []byte {
	h := sha1.New() //nolint:gosec // index trailer format, not object hashing
	h.Write(b)      //nolint:errcheck // hash.Hash.Write never fails
	return h.Sum(nil)
}

func readEntry(r *countingReader, hash githash.Hash, version int, prevPath string) (*Entry, error) {
	start := r.n
	var fixed [40]byte
	if _, err := io.ReadFull(r, fixed[:]); err != nil {
		return nil, err
	}

	e := &Entry{}
	e.CTime = time.Unix(int64(binary.BigEndian.Uint32(fixed[0:4])), int64(binary.BigEndian.Uint32(fixed[4:8])))
	e.MTime = time.Unix(int64(binary.BigEndian.Uint32(fixed[8:12])), int64(binary.BigEndian.Uint32(fixed[12:16])))
	e.Dev = binary.BigEndian.Uint32(fixed[16:20])
	e.Ino = binary.BigEndian.Uint32(fixed[20:24])
	e.Mode = Mode(binary.BigEndian.Uint32(fixed[24:28]))
	e.UID = binary.BigEndian.Uint32(fixed[28:32])
	e.GID = binary.BigEndian.Uint32(fixed[32:36])
	e.Size = binary.BigEndian.Uint32(fixed[36:40])

	oidBuf := make([]byte, hash.Size())
	if _, err := io.ReadFull(r, oidBuf); err != nil {
		return nil, err
	}
	oid, err := hash.NewOidFromBytes(oidBuf)
	if err != nil {
		return nil, err
	}
	e.Oid = oid

	var flagBuf [2]byte
	if _, err := io.ReadFull(r, flagBuf[:]); err != nil {
		return nil, err
	}
	flags := binary.BigEndian.Uint16(flagBuf[:])
	e.AssumeValid = flags&flagAssumeValid != 0
	extended := flags&flagExtended != 0
	e.Stage = Stage((flags & flagStageMask) >> 12)
	nameLen := int(flags & flagNameMask)

	if extended && version >= 3 {
		var extBuf [2]byte
		if _, err := io.ReadFull(r, extBuf[:]); err != nil {
			return nil, err
		}
		extFlags := binary.BigEndian.Uint16(extBuf[:])
		e.SkipWorktree = extFlags&extFlagSkipWorktree != 0
		e.IntentToAdd = extFlags&extFlagIntentToAdd != 0
	}

	if version >= 4 {
		strip, err := readVarint(r)
		if err != nil {
			return nil, err
		}
		suffix, err := readCString(r)
		if err != nil {
			return nil, err
		}
		if strip > len(prevPath) {
			return nil, fmt.Errorf("invalid v4 name compression: strip %d > prev path length %d", strip, len(prevPath))
		}
		e.Path = prevPath[:len(prevPath)-strip] + suffix
	} else {
		if nameLen == nameMaskMax {
			// name didn't fit in 12 bits: read until the NUL instead.
			name, err := readCString(r)
			if err != nil {
				return nil, err
			}
			e.Path = name
		} else {
			nameBuf := make([]byte, nameLen)
			if _, err := io.ReadFull(r, nameBuf); err != nil {
				return nil, err
			}
			e.Path = string(nameBuf)
			// consume the trailing NUL
			var nul [1]byte
			if _, err := io.ReadFull(r, nul[:]); err != nil {
				return nil, err
			}
		}
		// Entries are NUL-padded to a multiple of 8 bytes measured from
		// the start of this entry.
		consumed := r.n - start
		if pad := (8 - consumed%8) % 8; pad > 0 {
			if _, err := io.CopyN(io.Discard, r, int64(pad)); err != nil {
				return nil, err
			}
		}
	}

	return e, nil
}

func writeEntry(w *bytes.Buffer, e *Entry, version int) error {
	start := w.Len()

	var fixed [40]byte
	binary.BigEndian.PutUint32(fixed[0:4], uint32(e.CTime.Unix()))
	binary.BigEndian.PutUint32(fixed[4:8], uint32(e.CTime.Nanosecond()))
	binary.BigEndian.PutUint32(fixed[8:12], uint32(e.MTime.Unix()))
	binary.BigEndian.PutUint32(fixed[12:16], uint32(e.MTime.Nanosecond()))
	binary.BigEndian.PutUint32(fixed[16:20], e.Dev)
	binary.BigEndian.PutUint32(fixed[20:24], e.Ino)
	binary.BigEndian.PutUint32(fixed[24:28], uint32(e.Mode))
	binary.BigEndian.PutUint32(fixed[28:32], e.UID)
	binary.BigEndian.PutUint32(fixed[32:36], e.GID)
	binary.BigEndian.PutUint32(fixed[36:40], e.Size)
	w.Write(fixed[:])

	w.Write(e.Oid.Bytes())

	extended := version >= 3 && (e.SkipWorktree || e.IntentToAdd)
	nameLen := len(e.Path)
	flagNameLen := nameLen
	if flagNameLen > nameMaskMax {
		flagNameLen = nameMaskMax
	}
	flags := uint16(flagNameLen) | uint16(e.Stage)<<12
	if e.AssumeValid {
		flags |= flagAssumeValid
	}
	if extended {
		flags |= flagExtended
	}
	var flagBuf [2]byte
	binary.BigEndian.PutUint16(flagBuf[:], flags)
	w.Write(flagBuf[:])

	if extended {
		var extFlags uint16
		if e.SkipWorktree {
			extFlags |= extFlagSkipWorktree
		}
		if e.IntentToAdd {
			extFlags |= extFlagIntentToAdd
		}
		var extBuf [2]byte
		binary.BigEndian.PutUint16(extBuf[:], extFlags)
		w.Write(extBuf[:])
	}

	w.WriteString(e.Path)
	w.WriteByte(0)

	consumed := w.Len() - start
	w.Write(make([]byte, (8-consumed%8)%8))

	return nil
}

func readVarint(r io.Reader) (int, error) {
	var v int
	var b [1]byte
	for {
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return 0, err
		}
		v = v<<7 | int(b[0]&0x7f)
		if b[0]&0x80 == 0 {
			return v, nil
		}
		v++
	}
}

func readCString(r io.Reader) (string, error) {
	var buf bytes.Buffer
	var b [1]byte
	for {
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return "", err
		}
		if b[0] == 0 {
			return buf.String(), nil
		}
		buf.WriteByte(b[0])
	}
}

// countingReader tracks bytes consumed so entry padding (which is
// relative to the entry's own start, not the whole stream) can be
// computed without seeking.
type countingReader struct {
	r io.Reader
	n int
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += n
	return n, err
}
