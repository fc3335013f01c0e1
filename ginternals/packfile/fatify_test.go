package packfile_test

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"testing"

	"github.com/gitkit-go/gitkit/ginternals/githash"
	"github.com/gitkit-go/gitkit/ginternals/object"
	"github.com/gitkit-go/gitkit/ginternals/packfile"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFatifyResolvesOfsDeltaAgainstEarlierEntry(t *testing.T) {
	t.Parallel()

	hash := githash.SHA1
	pb := newPackBuilder(hash)

	var content bytes.Buffer
	content.Write([]byte{'P', 'A', 'C', 'K', 0, 0, 0, 2})
	binary.Write(&content, binary.BigEndian, uint32(2)) //nolint:errcheck

	blobOffset := uint64(content.Len())
	pb.addBlob(&content, []byte("hello"))

	deltaOffset := uint64(content.Len())
	deltaBytecode := []byte{5, 11, 0x90, 0x05, 0x06, ' ', 'w', 'o', 'r', 'l', 'd'}
	content.WriteByte(byte(object.ObjectDeltaOFS)<<4 | byte(len(deltaBytecode)))
	// base is (deltaOffset - blobOffset) bytes back from this entry.
	writeOfsDeltaOffset(&content, deltaOffset-blobOffset)
	zw := zlib.NewWriter(&content)
	_, err := zw.Write(deltaBytecode)
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	content.Write(make([]byte, hash.Size()))

	entries, _, err := packfile.ReadStream(bytes.NewReader(content.Bytes()), hash)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, object.ObjectDeltaOFS, entries[1].Type)
	assert.Equal(t, blobOffset, entries[1].DeltaBaseOffset)
	assert.Equal(t, entries[0].Offset, entries[1].DeltaBaseOffset)

	w, err := packfile.Fatify(entries, hash, nil)
	require.NoError(t, err)
	assertFatifiedContainsWholeObjects(t, w.Bytes(), hash, "hello", "hello world")
}

func TestFatifyResolvesRefDeltaAgainstExternalBase(t *testing.T) {
	t.Parallel()

	hash := githash.SHA1
	base := object.New(hash, object.TypeBlob, []byte("hello"))

	var content bytes.Buffer
	content.Write([]byte{'P', 'A', 'C', 'K', 0, 0, 0, 2})
	binary.Write(&content, binary.BigEndian, uint32(1)) //nolint:errcheck

	deltaBytecode := []byte{5, 11, 0x90, 0x05, 0x06, ' ', 'w', 'o', 'r', 'l', 'd'}
	content.WriteByte(byte(object.ObjectDeltaRef)<<4 | byte(len(deltaBytecode)))
	content.Write(base.ID().Bytes())
	zw := zlib.NewWriter(&content)
	_, err := zw.Write(deltaBytecode)
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	content.Write(make([]byte, hash.Size()))

	entries, _, err := packfile.ReadStream(bytes.NewReader(content.Bytes()), hash)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	resolverCalls := 0
	resolver := func(oid githash.Oid) (*object.Object, error) {
		resolverCalls++
		assert.Equal(t, base.ID(), oid)
		return base, nil
	}

	w, err := packfile.Fatify(entries, hash, resolver)
	require.NoError(t, err)
	assert.Equal(t, 1, resolverCalls)
	assertFatifiedContainsWholeObjects(t, w.Bytes(), hash, "hello world")
}

func TestFatifyReturnsErrorWhenBaseMissingAndNoResolver(t *testing.T) {
	t.Parallel()

	hash := githash.SHA1
	base := object.New(hash, object.TypeBlob, []byte("hello"))

	var content bytes.Buffer
	content.Write([]byte{'P', 'A', 'C', 'K', 0, 0, 0, 2})
	binary.Write(&content, binary.BigEndian, uint32(1)) //nolint:errcheck

	deltaBytecode := []byte{5, 11, 0x90, 0x05, 0x06, ' ', 'w', 'o', 'r', 'l', 'd'}
	content.WriteByte(byte(object.ObjectDeltaRef)<<4 | byte(len(deltaBytecode)))
	content.Write(base.ID().Bytes())
	zw := zlib.NewWriter(&content)
	_, err := zw.Write(deltaBytecode)
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	content.Write(make([]byte, hash.Size()))

	entries, _, err := packfile.ReadStream(bytes.NewReader(content.Bytes()), hash)
	require.NoError(t, err)

	_, err = packfile.Fatify(entries, hash, nil)
	assert.Error(t, err)
}

// assertFatifiedContainsWholeObjects decodes a fatified pack through
// ReadStream itself (a fatified pack is an ordinary whole-object pack,
// so round-tripping it through the same decoder used throughout this
// package is a direct way to confirm no delta entries survived and
// every object's content matches).
func assertFatifiedContainsWholeObjects(t *testing.T, packBytes []byte, hash githash.Hash, wantContent ...string) {
	t.Helper()
	entries, _, err := packfile.ReadStream(bytes.NewReader(packBytes), hash)
	require.NoError(t, err)
	require.Len(t, entries, len(wantContent))
	for i, want := range wantContent {
		assert.NotEqual(t, object.ObjectDeltaOFS, entries[i].Type)
		assert.NotEqual(t, object.ObjectDeltaRef, entries[i].Type)
		assert.Equal(t, want, string(entries[i].Content))
	}
}

// writeOfsDeltaOffset encodes an ofs-delta base reference the same way
// git does: a big-endian base-128 varint where all but the last byte
// have their continuation bit set and each non-final byte implicitly
// adds 1 (readDeltaOffset's inverse).
func writeOfsDeltaOffset(buf *bytes.Buffer, rel uint64) {
	var chunks []byte
	n := rel
	chunks = append(chunks, byte(n&0x7f))
	n >>= 7
	for n > 0 {
		n--
		chunks = append(chunks, byte(n&0x7f)|0x80)
		n >>= 7
	}
	for i := len(chunks) - 1; i >= 0; i-- {
		buf.WriteByte(chunks[i])
	}
}
