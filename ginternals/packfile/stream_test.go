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

func TestReadStreamDecodesWholeObjects(t *testing.T) {
	t.Parallel()

	hash := githash.SHA1
	pb := newPackBuilder(hash)

	content := new(bytes.Buffer)
	content.Write([]byte{'P', 'A', 'C', 'K', 0, 0, 0, 2})
	binary.Write(content, binary.BigEndian, uint32(2)) //nolint:errcheck

	firstOid := pb.addBlob(content, []byte("alpha"))
	secondOid := pb.addBlob(content, []byte("beta"))
	content.Write(make([]byte, hash.Size())) // footer checksum, value unchecked here

	entries, _, err := packfile.ReadStream(bytes.NewReader(content.Bytes()), hash)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	assert.Equal(t, object.TypeBlob, entries[0].Type)
	assert.Equal(t, "alpha", string(entries[0].Content))
	assert.Equal(t, object.TypeBlob, entries[1].Type)
	assert.Equal(t, "beta", string(entries[1].Content))

	assert.Equal(t, firstOid, object.New(hash, object.TypeBlob, entries[0].Content).ID())
	assert.Equal(t, secondOid, object.New(hash, object.TypeBlob, entries[1].Content).ID())
}

// TestReadStreamDecodesRefDeltaAgainstExternalBase builds a single
// ref-delta entry whose base never appears in the stream at all — the
// thin-pack case — and checks the delta bytecode decodes intact and
// reassembles correctly against a base supplied from outside the pack.
func TestReadStreamDecodesRefDeltaAgainstExternalBase(t *testing.T) {
	t.Parallel()

	hash := githash.SHA1
	base := object.New(hash, object.TypeBlob, []byte("hello"))

	// delta: source size 5, target size 11, COPY(offset=0, len=5) then
	// INSERT(" world").
	deltaBytecode := []byte{
		5,    // source size
		11,   // target size
		0x90, // COPY, copyLenInfo bit0 set, offsetInfo = 0 (offset implied 0)
		0x05, // copy length = 5
		0x06, // INSERT 6 literal bytes
		' ', 'w', 'o', 'r', 'l', 'd',
	}

	var content bytes.Buffer
	content.Write([]byte{'P', 'A', 'C', 'K', 0, 0, 0, 2})
	binary.Write(&content, binary.BigEndian, uint32(1)) //nolint:errcheck

	// Header byte: type=ObjectDeltaRef(7) in bits 6-4, low 4 bits of
	// size (len(deltaBytecode)=11, fits in 4 bits, no continuation).
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

	entry := entries[0]
	assert.Equal(t, object.ObjectDeltaRef, entry.Type)
	assert.Equal(t, base.ID(), entry.DeltaBaseOid)
	assert.Equal(t, deltaBytecode, entry.Content)

	deltaObj := object.New(hash, object.ObjectDeltaRef, entry.Content)
	resolved, err := packfile.ApplyDelta(base, deltaObj)
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(resolved.Bytes()))
	assert.Equal(t, object.TypeBlob, resolved.Type())
}
