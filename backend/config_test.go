package backend_test

import (
	"testing"

	"github.com/gitkit-go/gitkit/ginternals"
	"github.com/gitkit-go/gitkit/refs"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitCreatesHeadPointingAtBranch(t *testing.T) {
	t.Parallel()

	b := newBackend(t)
	store := refs.NewStore(b.FS(), b.Path(), b.Hash())

	// HEAD is symbolic from the start, but its target branch doesn't
	// exist until the first commit; give it something to point at so
	// the whole chain resolves.
	oid, err := b.Hash().NewOidFromHex("c57eff55ebc0c54973903af5f72bac72762cf4f4")
	require.NoError(t, err)
	require.NoError(t, store.WriteRef("refs/heads/main", refs.WriteOptions{NewOid: &oid}))

	ref, err := store.Resolve(ginternals.HeadFileName)
	require.NoError(t, err)
	assert.Equal(t, "refs/heads/main", ref.SymbolicTarget())
	assert.Equal(t, oid, ref.Target())
}

func TestInitCreatesExpectedDirectories(t *testing.T) {
	t.Parallel()

	b := newBackend(t)

	for _, d := range []string{
		ginternals.RefsTagsRelPath,
		ginternals.RefsHeadsRelPath,
		ginternals.ObjectsDirName,
		ginternals.ObjectsInfoRelPath,
		ginternals.ObjectsPackRelPath,
	} {
		exists, err := afero.DirExists(b.FS(), b.Path()+"/"+d)
		require.NoError(t, err)
		assert.True(t, exists, "expected directory %s to exist", d)
	}
}
