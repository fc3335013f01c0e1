package object_test

import (
	"testing"

	"github.com/gitkit-go/gitkit/ginternals/githash"
	"github.com/gitkit-go/gitkit/ginternals/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObjectRoundTrip(t *testing.T) {
	t.Parallel()

	o := object.New(githash.SHA1, object.TypeBlob, []byte("Hello world!"))
	assert.Equal(t, "c57eff55ebc0c54973903af5f72bac72762cf4f4", o.ID().String())
	assert.Equal(t, object.TypeBlob, o.Type())
	assert.Equal(t, 12, o.Size())
}

func TestObjectCompress(t *testing.T) {
	t.Parallel()

	o := object.New(githash.SHA1, object.TypeBlob, []byte("some content"))
	compressed, err := o.Compress()
	require.NoError(t, err)
	assert.NotEmpty(t, compressed)
}

func TestNewTypeFromString(t *testing.T) {
	t.Parallel()

	typ, err := object.NewTypeFromString("commit")
	require.NoError(t, err)
	assert.Equal(t, object.TypeCommit, typ)

	_, err = object.NewTypeFromString("bogus")
	assert.Error(t, err)
}

func TestTypeString(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "blob", object.TypeBlob.String())
	assert.Equal(t, "ofs-delta", object.ObjectDeltaOFS.String())
}
