package refs_test

import (
	"testing"
	"time"

	"github.com/gitkit-go/gitkit/ginternals"
	"github.com/gitkit-go/gitkit/ginternals/githash"
	"github.com/gitkit-go/gitkit/ginternals/object"
	"github.com/gitkit-go/gitkit/refs"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T) (*refs.Store, afero.Fs) {
	t.Helper()
	fs := afero.NewMemMapFs()
	require.NoError(t, fs.MkdirAll("/repo/refs/heads", 0o755))
	require.NoError(t, fs.MkdirAll("/repo/logs/refs/heads", 0o755))
	return refs.NewStore(fs, "/repo", githash.SHA1), fs
}

func testOid(t *testing.T) githash.Oid {
	t.Helper()
	oid, err := githash.SHA1.NewOidFromHex("c57eff55ebc0c54973903af5f72bac72762cf4f4")
	require.NoError(t, err)
	return oid
}

func TestWriteAndResolveDirect(t *testing.T) {
	t.Parallel()
	store, _ := newStore(t)

	oid := testOid(t)
	require.NoError(t, store.WriteRef("refs/heads/main", refs.WriteOptions{
		NewOid: &oid,
		Who:    object.Signature{Name: "tester", Email: "t@example.com", Time: time.Unix(1700000000, 0)},
		Message: "commit: initial",
	}))

	ref, err := store.Resolve("refs/heads/main")
	require.NoError(t, err)
	assert.Equal(t, refs.OidRef, ref.Type())
	assert.True(t, oid.Equal(ref.Target()))
}

func TestSymbolicResolve(t *testing.T) {
	t.Parallel()
	store, _ := newStore(t)

	oid := testOid(t)
	require.NoError(t, store.WriteRef("refs/heads/main", refs.WriteOptions{NewOid: &oid}))
	require.NoError(t, store.WriteRef("HEAD", refs.WriteOptions{NewSymbolic: "refs/heads/main"}))

	ref, err := store.Resolve("HEAD")
	require.NoError(t, err)
	assert.True(t, oid.Equal(ref.Target()))
}

func TestSymbolicCycleDetected(t *testing.T) {
	t.Parallel()
	store, fs := newStore(t)

	require.NoError(t, afero.WriteFile(fs, "/repo/refs/heads/a", []byte("ref: refs/heads/b\n"), 0o644))
	require.NoError(t, afero.WriteFile(fs, "/repo/refs/heads/b", []byte("ref: refs/heads/a\n"), 0o644))

	_, err := store.Resolve("refs/heads/a")
	require.Error(t, err)
}

func TestWriteRefCompareAndSwapStale(t *testing.T) {
	t.Parallel()
	store, _ := newStore(t)

	oid := testOid(t)
	require.NoError(t, store.WriteRef("refs/heads/main", refs.WriteOptions{NewOid: &oid}))

	err := store.WriteRef("refs/heads/main", refs.WriteOptions{
		NewOid:      &oid,
		ExpectedOld: "deadbeef",
	})
	require.Error(t, err)
	var gitErr *ginternals.Error
	require.ErrorAs(t, err, &gitErr)
	assert.Equal(t, ginternals.KindRefStale, gitErr.Kind)
}

func TestDeleteRef(t *testing.T) {
	t.Parallel()
	store, _ := newStore(t)

	oid := testOid(t)
	require.NoError(t, store.WriteRef("refs/heads/main", refs.WriteOptions{NewOid: &oid}))
	require.NoError(t, store.DeleteRef("refs/heads/main", ""))

	_, err := store.Resolve("refs/heads/main")
	require.Error(t, err)
}

func TestReflogAppended(t *testing.T) {
	t.Parallel()
	store, _ := newStore(t)

	oid := testOid(t)
	require.NoError(t, store.WriteRef("refs/heads/main", refs.WriteOptions{
		NewOid: &oid,
		Who:    object.Signature{Name: "tester", Email: "t@example.com", Time: time.Unix(1700000000, 0)},
		Message: "commit: initial",
	}))

	entries, err := store.Reflog("refs/heads/main")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "commit: initial", entries[0].Message)
	assert.True(t, oid.Equal(entries[0].NewOid))
}

func TestIsValidName(t *testing.T) {
	t.Parallel()
	assert.True(t, refs.IsValidName("refs/heads/main"))
	assert.False(t, refs.IsValidName("refs/heads/"))
	assert.False(t, refs.IsValidName("refs/heads/.lock"))
	assert.False(t, refs.IsValidName("refs/heads/a..b"))
	assert.False(t, refs.IsValidName("refs/heads/a b"))
}

func TestReadShallowRootsMissingFile(t *testing.T) {
	t.Parallel()
	store, _ := newStore(t)

	roots, err := store.ReadShallowRoots()
	require.NoError(t, err)
	assert.Empty(t, roots)
}

func TestReadShallowRootsParsesOneOidPerLine(t *testing.T) {
	t.Parallel()
	store, fs := newStore(t)

	oid := testOid(t)
	require.NoError(t, afero.WriteFile(fs, "/repo/shallow", []byte(oid.String()+"\n"), 0o644))

	roots, err := store.ReadShallowRoots()
	require.NoError(t, err)
	assert.True(t, roots[oid.String()])
	assert.Len(t, roots, 1)
}

func TestReadShallowRootsRejectsBadOid(t *testing.T) {
	t.Parallel()
	store, fs := newStore(t)

	require.NoError(t, afero.WriteFile(fs, "/repo/shallow", []byte("not-an-oid\n"), 0o644))

	_, err := store.ReadShallowRoots()
	require.Error(t, err)
}
