package backend

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strconv"

	"github.com/gitkit-go/gitkit/ginternals"
	"github.com/gitkit-go/gitkit/ginternals/githash"
	"github.com/gitkit-go/gitkit/ginternals/object"
	"github.com/gitkit-go/gitkit/ginternals/packfile"
	"github.com/gitkit-go/gitkit/internal/errutil"
	"github.com/gitkit-go/gitkit/internal/readutil"
	"github.com/spf13/afero"
)

// ChunkThreshold is the blob size, in bytes, above which WriteObject
// persists the chunked representation instead of a single loose file.
// This is a private on-disk optimization of this implementation, not
// part of git's format: readObject hides it from every caller.
const ChunkThreshold = 8 << 20 // 8MiB

// ChunkSize is the size of each chunk file in the chunked
// representation.
const ChunkSize = 4 << 20 // 4MiB

const chunkedDirName = "chunked"
const chunkHeaderSuffix = ".hdr"

// Object returns the object identified by oid, searching loose
// storage, then chunked storage, then each loaded packfile, in that
// order.
func (b *Backend) Object(oid githash.Oid) (*object.Object, error) {
	key := oid.Bytes()
	b.objectMu.Lock(key)
	defer b.objectMu.Unlock(key)

	return b.objectUnsafe(oid)
}

func (b *Backend) objectUnsafe(oid githash.Oid) (*object.Object, error) {
	if cached, found := b.cache.Get(string(oid.Bytes())); found {
		if o, ok := cached.(*object.Object); ok {
			return o, nil
		}
	}

	o, err := b.looseObject(oid)
	if err == nil {
		b.cache.Add(string(oid.Bytes()), o)
		return o, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("could not read loose object: %w", err)
	}

	o, err = b.chunkedObject(oid)
	if err == nil {
		b.cache.Add(string(oid.Bytes()), o)
		return o, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("could not read chunked object: %w", err)
	}

	o, err = b.objectFromPackfile(oid)
	if err != nil {
		return nil, err
	}
	b.cache.Add(string(oid.Bytes()), o)
	return o, nil
}

// looseObject reads a single-file loose object: zlib-wrapped
// "<type> <len>\0<content>".
func (b *Backend) looseObject(oid githash.Oid) (o *object.Object, err error) {
	p := b.looseObjectPath(oid.String())
	f, err := b.fs.Open(p)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, os.ErrNotExist
		}
		return nil, fmt.Errorf("could not open %s: %w", p, err)
	}
	defer errutil.Close(f, &err)

	zr, err := zlib.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("could not decompress %s: %w", p, err)
	}
	defer errutil.Close(zr, &err)

	buf, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("could not read %s: %w", p, err)
	}

	return parseWrapped(b.hash, oid, buf)
}

// parseWrapped decodes the "<type> <len>\0<content>" wrapped form
// shared by loose and chunked storage.
func parseWrapped(hash githash.Hash, oid githash.Oid, buf []byte) (*object.Object, error) {
	typ := readutil.ReadTo(buf, ' ')
	if typ == nil {
		return nil, fmt.Errorf("malformed object %s: missing type", oid)
	}
	oType, err := object.NewTypeFromString(string(typ))
	if err != nil {
		return nil, fmt.Errorf("object %s: %w", oid, err)
	}
	pos := len(typ) + 1

	size := readutil.ReadTo(buf[pos:], 0)
	if size == nil {
		return nil, fmt.Errorf("malformed object %s: missing size", oid)
	}
	oSize, err := strconv.Atoi(string(size))
	if err != nil {
		return nil, fmt.Errorf("object %s: invalid size %q: %w", oid, size, err)
	}
	pos += len(size) + 1
	content := buf[pos:]
	if len(content) != oSize {
		return nil, fmt.Errorf("object %s: declared size %d but got %d bytes", oid, oSize, len(content))
	}

	return object.NewWithID(hash, oid, oType, content), nil
}

// objectFromPackfile looks for oid in every loaded packfile.
func (b *Backend) objectFromPackfile(oid githash.Oid) (*object.Object, error) {
	b.packMu.RLock()
	defer b.packMu.RUnlock()

	for _, pack := range b.packfiles {
		o, err := pack.GetObject(oid)
		if err == nil {
			return o, nil
		}
		if errors.Is(err, ginternals.Err(ginternals.KindNotFound)) {
			continue
		}
		return nil, err
	}
	return nil, ginternals.NewError(ginternals.KindNotFound, fmt.Sprintf("object %s not found", oid), nil)
}

// HasObject reports whether oid is present in loose storage, chunked
// storage, or any loaded packfile.
func (b *Backend) HasObject(oid githash.Oid) (bool, error) {
	key := oid.Bytes()
	b.objectMu.Lock(key)
	defer b.objectMu.Unlock(key)

	_, err := b.objectUnsafe(oid)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, ginternals.Err(ginternals.KindNotFound)) {
		return false, nil
	}
	return false, err
}

// WriteObject persists o, choosing the single-file loose
// representation or the chunked one depending on its size. Writing an
// object whose oid already exists is a no-op.
func (b *Backend) WriteObject(o *object.Object) (githash.Oid, error) {
	oid := o.ID()
	b.objectMu.Lock(oid.Bytes())
	defer b.objectMu.Unlock(oid.Bytes())

	found, err := b.hasObjectUnsafe(oid)
	if err != nil {
		return b.hash.NullOid(), fmt.Errorf("could not check if object %s already exists: %w", oid, err)
	}
	if found {
		return oid, nil
	}

	if o.Size() > ChunkThreshold {
		if err := b.writeChunked(o); err != nil {
			return b.hash.NullOid(), err
		}
	} else {
		data, err := o.Compress()
		if err != nil {
			return b.hash.NullOid(), fmt.Errorf("could not compress object: %w", err)
		}
		if err := b.writeAtomic(b.looseObjectPath(oid.String()), data); err != nil {
			return b.hash.NullOid(), err
		}
		b.markLoose(oid)
	}

	b.cache.Add(string(oid.Bytes()), o)
	return oid, nil
}

func (b *Backend) hasObjectUnsafe(oid githash.Oid) (bool, error) {
	_, err := b.objectUnsafe(oid)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, ginternals.Err(ginternals.KindNotFound)) {
		return false, nil
	}
	return false, err
}

// writeAtomic writes data via a temp file + rename, so concurrent
// writers racing to create the same object never observe a partial
// file; an EEXIST on rename's target is treated as success.
func (b *Backend) writeAtomic(dest string, data []byte) error {
	dir := filepath.Dir(dest)
	if err := b.fs.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("could not create directory %s: %w", dir, err)
	}

	tmp := dest + ".tmp"
	if err := afero.WriteFile(b.fs, tmp, data, 0o444); err != nil {
		return fmt.Errorf("could not write temp file %s: %w", tmp, err)
	}
	if err := b.fs.Rename(tmp, dest); err != nil {
		_ = b.fs.Remove(tmp)
		if _, statErr := b.fs.Stat(dest); statErr == nil {
			return nil
		}
		return fmt.Errorf("could not persist %s: %w", dest, err)
	}
	return nil
}

// chunkedObject reconstructs a blob written via writeChunked,
// transparent to Object's caller.
func (b *Backend) chunkedObject(oid githash.Oid) (*object.Object, error) {
	hdrPath := b.chunkedHeaderPath(oid.String())
	hdr, err := afero.ReadFile(b.fs, hdrPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, os.ErrNotExist
		}
		return nil, fmt.Errorf("could not read chunk header %s: %w", hdrPath, err)
	}
	if len(hdr) < 4 {
		return nil, fmt.Errorf("malformed chunk header %s", hdrPath)
	}
	chunkCount := binary.BigEndian.Uint32(hdr[:4])

	var content bytes.Buffer
	for i := uint32(0); i < chunkCount; i++ {
		chunkPath := b.chunkPath(oid.String(), i)
		data, err := afero.ReadFile(b.fs, chunkPath)
		if err != nil {
			return nil, fmt.Errorf("could not read chunk %s: %w", chunkPath, err)
		}
		zr, err := zlib.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("could not decompress chunk %s: %w", chunkPath, err)
		}
		if _, err := io.Copy(&content, zr); err != nil {
			return nil, fmt.Errorf("could not inflate chunk %s: %w", chunkPath, err)
		}
		if err := zr.Close(); err != nil {
			return nil, err
		}
	}

	return object.NewWithID(b.hash, oid, object.TypeBlob, content.Bytes()), nil
}

// writeChunked persists a large blob as a header record
// (objects/chunked/xx/yyyy.hdr) plus sequenced, individually
// zlib-compressed chunk files.
func (b *Backend) writeChunked(o *object.Object) error {
	if o.Type() != object.TypeBlob {
		return fmt.Errorf("chunked storage only supports blobs, got %s", o.Type())
	}

	content := o.Bytes()
	chunkCount := (len(content) + ChunkSize - 1) / ChunkSize
	if chunkCount == 0 {
		chunkCount = 1
	}

	for i := 0; i < chunkCount; i++ {
		start := i * ChunkSize
		end := start + ChunkSize
		if end > len(content) {
			end = len(content)
		}
		var buf bytes.Buffer
		zw := zlib.NewWriter(&buf)
		if _, err := zw.Write(content[start:end]); err != nil {
			return fmt.Errorf("could not compress chunk %d: %w", i, err)
		}
		if err := zw.Close(); err != nil {
			return fmt.Errorf("could not finalize chunk %d: %w", i, err)
		}
		if err := b.writeAtomic(b.chunkPath(o.ID().String(), uint32(i)), buf.Bytes()); err != nil {
			return err
		}
	}

	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(chunkCount))
	return b.writeAtomic(b.chunkedHeaderPath(o.ID().String()), hdr[:])
}

func (b *Backend) chunkedHeaderPath(hex string) string {
	return path.Join(b.Path(), ginternals.ObjectsDirName, chunkedDirName, hex[:2], hex[2:]+chunkHeaderSuffix)
}

func (b *Backend) chunkPath(hex string, n uint32) string {
	return path.Join(b.Path(), ginternals.ObjectsDirName, chunkedDirName, hex[:2], fmt.Sprintf("%s.chunk.%d", hex[2:], n))
}

// WalkPackedObjectIDs runs f on every oid stored in a loaded packfile.
func (b *Backend) WalkPackedObjectIDs(f packfile.OidWalkFunc) error {
	b.packMu.RLock()
	defer b.packMu.RUnlock()

	for _, pack := range b.packfiles {
		if err := pack.WalkOids(f); err != nil {
			if errors.Is(err, packfile.OidWalkStop) {
				return nil
			}
			return err
		}
	}
	return nil
}

// WalkLooseObjectIDs runs f on every oid known to be a loose object.
func (b *Backend) WalkLooseObjectIDs(f packfile.OidWalkFunc) error {
	b.looseMu.RLock()
	defer b.looseMu.RUnlock()

	for raw := range b.looseObjects {
		oid, err := b.hash.NewOidFromBytes([]byte(raw))
		if err != nil {
			return err
		}
		if err := f(oid); err != nil {
			if errors.Is(err, packfile.OidWalkStop) {
				return nil
			}
			return err
		}
	}
	return nil
}

func (b *Backend) markLoose(oid githash.Oid) {
	b.looseMu.Lock()
	defer b.looseMu.Unlock()
	b.looseObjects[string(oid.Bytes())] = struct{}{}
}

// loadLooseObjects walks objects/xx/* to seed the in-memory set of
// known loose-object oids.
func (b *Backend) loadLooseObjects() error {
	root := path.Join(b.Path(), ginternals.ObjectsDirName)
	return afero.Walk(b.fs, root, func(p string, info fs.FileInfo, err error) error {
		if err != nil {
			//nolint:nilerr // the objects directory may not exist yet
			return nil
		}
		if p == root {
			return nil
		}
		if info.IsDir() {
			if !isLooseObjectDir(info.Name()) {
				return filepath.SkipDir
			}
			return nil
		}
		prefix := filepath.Base(filepath.Dir(p))
		if !isLooseObjectDir(prefix) {
			return nil
		}
		hex := prefix + info.Name()
		oid, oidErr := b.hash.NewOidFromHex(hex)
		if oidErr != nil {
			return nil
		}
		b.markLoose(oid)
		return nil
	})
}

func isLooseObjectDir(name string) bool {
	if len(name) != 2 {
		return false
	}
	n, err := strconv.ParseInt(name, 16, 64)
	return err == nil && n >= 0x00 && n <= 0xff
}

// loadPacks opens every *.pack file under objects/pack.
func (b *Backend) loadPacks() error {
	root := path.Join(b.Path(), ginternals.ObjectsPackRelPath)
	return afero.Walk(b.fs, root, func(p string, info fs.FileInfo, err error) error {
		if err != nil {
			//nolint:nilerr // the pack directory may not exist yet
			return nil
		}
		if info.IsDir() {
			return nil
		}
		if filepath.Ext(info.Name()) != packfile.ExtPackfile {
			return nil
		}
		pack, err := packfile.NewFromFile(b.fs, p, b.hash)
		if err != nil {
			return fmt.Errorf("could not open packfile %s: %w", p, err)
		}
		id, err := pack.ID()
		if err != nil {
			return fmt.Errorf("could not read checksum of %s: %w", p, err)
		}

		b.packMu.Lock()
		b.packfiles[id.String()] = pack
		b.packMu.Unlock()
		return nil
	})
}
