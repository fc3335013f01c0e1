package merge_test

import (
	"testing"
	"time"

	"github.com/gitkit-go/gitkit/backend"
	"github.com/gitkit-go/gitkit/ginternals/config"
	"github.com/gitkit-go/gitkit/ginternals/githash"
	"github.com/gitkit-go/gitkit/ginternals/object"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
)

var fixedTime = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func newTestBackend(t *testing.T) *backend.Backend {
	t.Helper()

	cfg, err := config.LoadConfigSkipEnv(config.LoadConfigOptions{
		FS:               afero.NewMemMapFs(),
		GitDirPath:       "/repo/.git",
		SkipGitDirLookUp: true,
		IsBare:           true,
	})
	require.NoError(t, err)

	b, err := backend.New(cfg, githash.SHA1)
	require.NoError(t, err)
	require.NoError(t, b.Init("main"))
	return b
}

func writeBlob(t *testing.T, b *backend.Backend, content string) githash.Oid {
	t.Helper()

	blob := object.New(githash.SHA1, object.TypeBlob, []byte(content))
	oid, err := b.WriteObject(blob)
	require.NoError(t, err)
	return oid
}

func writeTree(t *testing.T, b *backend.Backend, entries []object.TreeEntry) githash.Oid {
	t.Helper()

	tree := object.NewTree(githash.SHA1, entries)
	oid, err := b.WriteObject(tree.ToObject())
	require.NoError(t, err)
	return oid
}

func writeCommit(t *testing.T, b *backend.Backend, treeOid githash.Oid, parents ...githash.Oid) githash.Oid {
	t.Helper()

	sig := object.Signature{Name: "Test", Email: "test@example.com", Time: fixedTime}
	c := object.NewCommit(githash.SHA1, treeOid, sig, &object.CommitOptions{
		Message:   "test commit",
		ParentsID: parents,
	})
	oid, err := b.WriteObject(c.ToObject())
	require.NoError(t, err)
	return oid
}

func readTreeEntries(t *testing.T, b *backend.Backend, oid githash.Oid) []object.TreeEntry {
	t.Helper()

	obj, err := b.Object(oid)
	require.NoError(t, err)
	tree, err := obj.AsTree()
	require.NoError(t, err)
	return tree.Entries()
}
