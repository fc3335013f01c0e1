package object_test

import (
	"testing"

	"github.com/gitkit-go/gitkit/ginternals/githash"
	"github.com/gitkit-go/gitkit/ginternals/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTreeRoundTrip(t *testing.T) {
	t.Parallel()

	blobID := githash.SHA1.Sum([]byte("blob 5\x00hello"))
	entries := []object.TreeEntry{
		{Path: "file.txt", ID: blobID, Mode: object.ModeFile},
	}

	tr := object.NewTree(githash.SHA1, entries)
	parsed, err := object.NewTreeFromObject(tr.ToObject())
	require.NoError(t, err)

	got := parsed.Entries()
	require.Len(t, got, 1)
	assert.Equal(t, "file.txt", got[0].Path)
	assert.Equal(t, object.ModeFile, got[0].Mode)
	assert.True(t, blobID.Equal(got[0].ID))
}

func TestTreeFromObjectWrongType(t *testing.T) {
	t.Parallel()

	o := object.New(githash.SHA1, object.TypeBlob, []byte("not a tree"))
	_, err := object.NewTreeFromObject(o)
	assert.Error(t, err)
}

func TestTreeObjectModeObjectType(t *testing.T) {
	t.Parallel()

	assert.Equal(t, object.TypeTree, object.ModeDirectory.ObjectType())
	assert.Equal(t, object.TypeCommit, object.ModeGitLink.ObjectType())
	assert.Equal(t, object.TypeBlob, object.ModeFile.ObjectType())
	assert.True(t, object.ModeExecutable.IsValid())
	assert.False(t, object.TreeObjectMode(0).IsValid())
}
