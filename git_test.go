package git

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/gitkit-go/gitkit/ginternals/githash"
	"github.com/gitkit-go/gitkit/ginternals/object"
	"github.com/gitkit-go/gitkit/internal/testhelper"
	"github.com/gitkit-go/gitkit/refs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInit(t *testing.T) {
	t.Parallel()

	t.Run("repo with working tree", func(t *testing.T) {
		t.Parallel()

		d, cleanup := testhelper.TempDir(t)
		t.Cleanup(cleanup)

		r, err := InitRepository(d)
		require.NoError(t, err)
		t.Cleanup(func() { require.NoError(t, r.Close()) })

		assert.False(t, r.IsBare())
		assert.Equal(t, "sha1", r.Hash().Name())
	})

	t.Run("bare repo", func(t *testing.T) {
		t.Parallel()

		d, cleanup := testhelper.TempDir(t)
		t.Cleanup(cleanup)

		r, err := InitRepositoryWithOptions(d, InitOptions{IsBare: true})
		require.NoError(t, err)
		t.Cleanup(func() { require.NoError(t, r.Close()) })

		assert.True(t, r.IsBare())
	})

	t.Run("reinit is idempotent", func(t *testing.T) {
		t.Parallel()

		d, cleanup := testhelper.TempDir(t)
		t.Cleanup(cleanup)

		r1, err := InitRepository(d)
		require.NoError(t, err)
		require.NoError(t, r1.Close())

		r2, err := InitRepository(d)
		require.NoError(t, err)
		require.NoError(t, r2.Close())
	})
}

func TestOpenRepositoryFailsWithoutInit(t *testing.T) {
	t.Parallel()

	d, cleanup := testhelper.TempDir(t)
	t.Cleanup(cleanup)

	_, err := OpenRepository(d)
	require.Error(t, err)
}

func sig(name string) object.Signature {
	return object.NewSignature(name, name+"@example.com")
}

// initRepoWithFile inits a repository, writes a single file into its
// working tree, and stages it. Used by multiple tests below needing a
// minimal history to build on.
func initRepoWithFile(t *testing.T, path, content string) (*Repository, string) {
	t.Helper()

	dir, cleanup := testhelper.TempDir(t)
	t.Cleanup(cleanup)

	r, err := InitRepository(dir)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, r.Close()) })

	full := filepath.Join(dir, path)
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
	require.NoError(t, os.WriteFile(full, []byte(content), 0o644))
	require.NoError(t, r.Add(path))

	return r, dir
}

func TestAddCommitAndStatus(t *testing.T) {
	t.Parallel()

	r, dir := initRepoWithFile(t, "README.md", "hello\n")

	oid, err := r.Commit(CommitOptions{Message: "initial commit", Committer: sig("Ada")})
	require.NoError(t, err)
	assert.False(t, oid.IsZero())

	st, err := r.Status()
	require.NoError(t, err)
	assert.Equal(t, "master", st.Branch)
	assert.Empty(t, st.Entries, "nothing should be outstanding right after commit")

	// Modify the tracked file without staging: it should show up as a
	// worktree change but nothing staged.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("hello again\n"), 0o644))
	st, err = r.Status()
	require.NoError(t, err)
	require.Len(t, st.Entries, 1)
	assert.Equal(t, "README.md", st.Entries[0].Path)
	assert.Equal(t, Unchanged, st.Entries[0].Staged)
	assert.Equal(t, Modified, st.Entries[0].Worktree)

	// Staging it again should clear the worktree change.
	require.NoError(t, r.Add("README.md"))
	st, err = r.Status()
	require.NoError(t, err)
	require.Len(t, st.Entries, 1)
	assert.Equal(t, Modified, st.Entries[0].Staged)
	assert.Equal(t, Unchanged, st.Entries[0].Worktree)

	// An untracked file shows up on its own.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "NOTES.md"), []byte("scratch\n"), 0o644))
	st, err = r.Status()
	require.NoError(t, err)
	var sawUntracked bool
	for _, e := range st.Entries {
		if e.Path == "NOTES.md" {
			sawUntracked = true
			assert.True(t, e.Untracked)
		}
	}
	assert.True(t, sawUntracked)
}

func TestCommitFailsWithoutAuthor(t *testing.T) {
	t.Parallel()

	r, _ := initRepoWithFile(t, "a.txt", "a\n")
	_, err := r.Commit(CommitOptions{Message: "no identity"})
	require.Error(t, err)
}

func TestMergeConflictThenAbort(t *testing.T) {
	t.Parallel()

	r, dir := initRepoWithFile(t, "file.txt", "base\n")
	base, err := r.Commit(CommitOptions{Message: "base", Committer: sig("Ada")})
	require.NoError(t, err)

	// Branch "feature" diverges from base with a conflicting edit.
	require.NoError(t, r.Refs().WriteRef("refs/heads/feature", refs.WriteOptions{
		NewOid:      &base,
		ExpectedOld: refs.NoRef,
		Who:         sig("Ada"),
		Message:     "branch: feature",
	}))

	// ours: edit on master.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "file.txt"), []byte("ours\n"), 0o644))
	require.NoError(t, r.Add("file.txt"))
	_, err = r.Commit(CommitOptions{Message: "ours", Committer: sig("Ada")})
	require.NoError(t, err)

	// theirs: conflicting edit recorded directly against the feature
	// branch tip, without touching the working tree (ours is checked out).
	theirsTree, err := buildConflictingCommit(t, r, base, "file.txt", "theirs\n")
	require.NoError(t, err)
	require.NoError(t, r.Refs().WriteRef("refs/heads/feature", refs.WriteOptions{
		NewOid:      &theirsTree,
		ExpectedOld: base.String(),
		Who:         sig("Ada"),
		Message:     "commit: theirs",
	}))

	result, err := r.Merge(context.Background(), theirsTree, MergeOptions{Committer: sig("Ada"), Message: "merge feature"})
	require.NoError(t, err)
	assert.False(t, result.HasTree)
	assert.Greater(t, result.ConflictsCount, 0)

	conflicted, err := r.HasConflicts()
	require.NoError(t, err)
	assert.True(t, conflicted)

	require.NoError(t, r.MergeAbort())

	conflicted, err = r.HasConflicts()
	require.NoError(t, err)
	assert.False(t, conflicted)

	_, inProgress, err := r.Backend().MergeHead()
	require.NoError(t, err)
	assert.False(t, inProgress)

	content, err := os.ReadFile(filepath.Join(dir, "file.txt"))
	require.NoError(t, err)
	assert.Equal(t, "ours\n", string(content))
}

// buildConflictingCommit records a commit on top of base that edits
// path to content, without ever touching the working tree or the
// staging index backing r: it writes the blob and tree directly,
// since the repository's own working tree must stay checked out to
// "ours" for the merge test above to exercise a real conflict.
func buildConflictingCommit(t *testing.T, r *Repository, base githash.Oid, path, content string) (githash.Oid, error) {
	t.Helper()

	baseCommit, err := r.loadCommit(base)
	if err != nil {
		return githash.Oid{}, err
	}
	tree, err := r.Backend().Object(baseCommit.TreeID())
	if err != nil {
		return githash.Oid{}, err
	}
	treeObj, err := tree.AsTree()
	if err != nil {
		return githash.Oid{}, err
	}

	blob := object.New(r.Hash(), object.TypeBlob, []byte(content))
	blobOid, err := r.Backend().WriteObject(blob)
	if err != nil {
		return githash.Oid{}, err
	}

	entries := make([]object.TreeEntry, 0, len(treeObj.Entries()))
	for _, e := range treeObj.Entries() {
		if e.Path == path {
			e.ID = blobOid
		}
		entries = append(entries, e)
	}
	newTree := object.NewTree(r.Hash(), entries)
	newTreeOid, err := r.Backend().WriteObject(newTree.ToObject())
	if err != nil {
		return githash.Oid{}, err
	}

	commit := object.NewCommit(r.Hash(), newTreeOid, sig("Grace"), &object.CommitOptions{
		Message:   "theirs",
		Committer: sig("Grace"),
		ParentsID: []githash.Oid{base},
	})
	return r.Backend().WriteObject(commit.ToObject())
}
