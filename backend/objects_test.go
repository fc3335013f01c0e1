package backend_test

import (
	"testing"

	"github.com/gitkit-go/gitkit/backend"
	"github.com/gitkit-go/gitkit/ginternals/githash"
	"github.com/gitkit-go/gitkit/ginternals/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteObjectThenReadBack(t *testing.T) {
	t.Parallel()

	b := newBackend(t)

	o := object.New(githash.SHA1, object.TypeBlob, []byte("hello world"))
	oid, err := b.WriteObject(o)
	require.NoError(t, err)
	assert.Equal(t, o.ID(), oid)

	found, err := b.HasObject(oid)
	require.NoError(t, err)
	assert.True(t, found)

	got, err := b.Object(oid)
	require.NoError(t, err)
	assert.Equal(t, o.Bytes(), got.Bytes())
	assert.Equal(t, object.TypeBlob, got.Type())
}

func TestWriteObjectIsIdempotent(t *testing.T) {
	t.Parallel()

	b := newBackend(t)

	o := object.New(githash.SHA1, object.TypeBlob, []byte("same content"))
	oid1, err := b.WriteObject(o)
	require.NoError(t, err)
	oid2, err := b.WriteObject(o)
	require.NoError(t, err)
	assert.Equal(t, oid1, oid2)
}

func TestHasObjectMissing(t *testing.T) {
	t.Parallel()

	b := newBackend(t)
	missing, err := githash.SHA1.NewOidFromHex("c57eff55ebc0c54973903af5f72bac72762cf4f4")
	require.NoError(t, err)

	found, err := b.HasObject(missing)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestWriteObjectChunksLargeBlobs(t *testing.T) {
	t.Parallel()

	b := newBackend(t)

	content := make([]byte, backend.ChunkThreshold+1)
	for i := range content {
		content[i] = byte(i % 251)
	}

	o := object.New(githash.SHA1, object.TypeBlob, content)
	oid, err := b.WriteObject(o)
	require.NoError(t, err)

	got, err := b.Object(oid)
	require.NoError(t, err)
	assert.Equal(t, content, got.Bytes())
}
