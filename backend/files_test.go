package backend_test

import (
	"testing"

	"github.com/gitkit-go/gitkit/ginternals/githash"
	"github.com/stretchr/testify/require"
)

func TestDescriptionDefaultsAndOverrides(t *testing.T) {
	b := newBackend(t)

	desc, err := b.Description()
	require.NoError(t, err)
	require.Contains(t, desc, "Unnamed repository")

	require.NoError(t, b.SetDescription("my project\n"))
	desc, err = b.Description()
	require.NoError(t, err)
	require.Equal(t, "my project\n", desc)
}

func TestInfoExcludeDefaultsEmpty(t *testing.T) {
	b := newBackend(t)

	content, err := b.InfoExclude()
	require.NoError(t, err)
	require.Empty(t, content)

	require.NoError(t, b.SetInfoExclude("*.log\n"))
	content, err = b.InfoExclude()
	require.NoError(t, err)
	require.Equal(t, "*.log\n", content)
}

func TestMergeHeadLifecycle(t *testing.T) {
	b := newBackend(t)

	_, ok, err := b.MergeHead()
	require.NoError(t, err)
	require.False(t, ok)

	oid := githash.SHA1.Sum([]byte("theirs"))
	require.NoError(t, b.SetMergeHead(oid))

	got, ok, err := b.MergeHead()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, oid, got)

	require.NoError(t, b.SetMergeMsg("Merge branch 'feature'\n"))
	msg, ok, err := b.MergeMsg()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "Merge branch 'feature'\n", msg)

	require.NoError(t, b.ClearMergeHead())
	require.NoError(t, b.ClearMergeMsg())

	_, ok, err = b.MergeHead()
	require.NoError(t, err)
	require.False(t, ok)
	_, ok, err = b.MergeMsg()
	require.NoError(t, err)
	require.False(t, ok)
}

func TestCherryPickAndOrigHead(t *testing.T) {
	b := newBackend(t)
	oid := githash.SHA1.Sum([]byte("cherry"))

	require.NoError(t, b.SetCherryPickHead(oid))
	got, ok, err := b.CherryPickHead()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, oid, got)
	require.NoError(t, b.ClearCherryPickHead())
	_, ok, err = b.CherryPickHead()
	require.NoError(t, err)
	require.False(t, ok)

	origOid := githash.SHA1.Sum([]byte("orig"))
	require.NoError(t, b.SetOrigHead(origOid))
	got, ok, err = b.OrigHead()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, origOid, got)
}
