package packfile_test

import (
	"encoding/binary"
	"testing"

	"github.com/gitkit-go/gitkit/ginternals/githash"
	"github.com/gitkit-go/gitkit/ginternals/object"
	"github.com/gitkit-go/gitkit/ginternals/packfile"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildIndexFor mirrors packBuilder.buildIndex but works off oid/offset
// pairs directly, so writer_test.go doesn't need to duplicate Writer's
// own header encoding to compute offsets.
func buildIndexFor(t *testing.T, hash githash.Hash, entries []builtEntry) []byte {
	t.Helper()
	pb := &packBuilder{hash: hash, entries: entries}
	return pb.buildIndex(t)
}

func TestWriterRoundTripsThroughReader(t *testing.T) {
	t.Parallel()

	hash := githash.SHA1
	blob := object.New(hash, object.TypeBlob, []byte("hello from the writer"))
	tree := object.New(hash, object.TypeTree, []byte{})

	w := packfile.NewWriter(hash, 2)
	blobOffset := uint64(w.Len())
	require.NoError(t, w.WriteObject(blob))

	treeOffset := uint64(w.Len())
	require.NoError(t, w.WriteObject(tree))

	packBytes := w.Bytes()

	idx := buildIndexFor(t, hash, []builtEntry{
		{oid: blob.ID(), offset: blobOffset},
		{oid: tree.ID(), offset: treeOffset},
	})

	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/out.pack", packBytes, 0o644))
	require.NoError(t, afero.WriteFile(fs, "/out.idx", idx, 0o644))

	pack, err := packfile.NewFromFile(fs, "/out.pack", hash)
	require.NoError(t, err)
	t.Cleanup(func() { pack.Close() }) //nolint:errcheck

	assert.Equal(t, uint32(2), pack.ObjectCount())

	gotBlob, err := pack.GetObject(blob.ID())
	require.NoError(t, err)
	assert.Equal(t, "hello from the writer", string(gotBlob.Bytes()))
	assert.Equal(t, object.TypeBlob, gotBlob.Type())

	gotTree, err := pack.GetObject(tree.ID())
	require.NoError(t, err)
	assert.Equal(t, object.TypeTree, gotTree.Type())
}

func TestWriterRejectsDeltaEntries(t *testing.T) {
	t.Parallel()

	hash := githash.SHA1
	delta := object.New(hash, object.ObjectDeltaRef, []byte("not a real delta"))

	w := packfile.NewWriter(hash, 1)
	err := w.WriteObject(delta)
	assert.Error(t, err)
}
