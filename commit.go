package git

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/gitkit-go/gitkit/ginternals"
	"github.com/gitkit-go/gitkit/ginternals/githash"
	"github.com/gitkit-go/gitkit/ginternals/object"
	"github.com/gitkit-go/gitkit/gitindex"
	"github.com/gitkit-go/gitkit/refs"
)

// CommitOptions carries the data needed to record a commit. Author
// defaults to Committer, and Committer defaults to Author, when only
// one is given; at least one must be set.
type CommitOptions struct {
	Message   string
	Author    object.Signature
	Committer object.Signature
	GPGSig    string
}

// Commit snapshots the current staging index into a tree, records a
// commit object with the resolved HEAD as its parent (or no parent,
// for the first commit on an unborn branch; MERGE_HEAD is added as a
// second parent while a merge is pending), and fast-forwards HEAD's
// branch to point at it.
//
// Commit fails with KindUnmergedPaths if the index has any conflict
// (stage 1/2/3) entries outstanding.
func (r *Repository) Commit(opts CommitOptions) (githash.Oid, error) {
	const caller = "Commit"

	author := opts.Author
	if author.IsZero() {
		author = opts.Committer
	}
	committer := opts.Committer
	if committer.IsZero() {
		committer = author
	}
	if author.IsZero() {
		return githash.Oid{}, ginternals.WithCaller(
			ginternals.NewError(ginternals.KindMissingParameter, "commit requires an author or committer", nil), caller)
	}

	headRefName := ginternals.HeadFileName
	r.writeMu.Lock([]byte(headRefName))
	defer r.writeMu.Unlock([]byte(headRefName))

	idx, err := r.readIndex()
	if err != nil {
		return githash.Oid{}, ginternals.WithCaller(err, caller)
	}
	if conflicts := idx.Conflicts(); len(conflicts) > 0 {
		return githash.Oid{}, ginternals.WithCaller(
			ginternals.NewError(ginternals.KindUnmergedPaths,
				fmt.Sprintf("%d unmerged path(s): %s", len(conflicts), strings.Join(conflicts, ", ")), nil), caller)
	}

	treeOid, err := buildTree(r.backend, r.hash, idx.Entries())
	if err != nil {
		return githash.Oid{}, ginternals.WithCaller(err, caller)
	}

	branchName, parentOid, hasParent, err := r.resolveHeadForCommit()
	if err != nil {
		return githash.Oid{}, ginternals.WithCaller(err, caller)
	}

	var parents []githash.Oid
	if hasParent {
		parents = []githash.Oid{parentOid}
	}

	// A pending conflicted merge (left by Merge, resolved by the caller
	// since then) is completed here: the merge commit gets both HEAD
	// and MERGE_HEAD as parents, and MERGE_HEAD/MERGE_MSG falls away.
	mergeHead, mergeInProgress, err := r.backend.MergeHead()
	if err != nil {
		return githash.Oid{}, ginternals.WithCaller(err, caller)
	}
	message := opts.Message
	if mergeInProgress {
		parents = append(parents, mergeHead)
		if message == "" {
			if msg, ok, mErr := r.backend.MergeMsg(); mErr == nil && ok {
				message = msg
			}
		}
	}

	commit := object.NewCommit(r.hash, treeOid, author, &object.CommitOptions{
		Message:   message,
		GPGSig:    opts.GPGSig,
		Committer: committer,
		ParentsID: parents,
	})
	commitOid, err := r.backend.WriteObject(commit.ToObject())
	if err != nil {
		return githash.Oid{}, ginternals.WithCaller(err, caller)
	}

	expectedOld := refs.NoRef
	if hasParent {
		expectedOld = parentOid.String()
	}
	refMessage := "commit: " + firstLine(message)
	if mergeInProgress {
		refMessage = "commit (merge): " + firstLine(message)
	}
	err = r.refs.WriteRef(branchName, refs.WriteOptions{
		NewOid:      &commitOid,
		ExpectedOld: expectedOld,
		Who:         committer,
		Message:     refMessage,
	})
	if err != nil {
		return githash.Oid{}, ginternals.WithCaller(err, caller)
	}

	if mergeInProgress {
		if err := r.backend.ClearMergeHead(); err != nil {
			return githash.Oid{}, ginternals.WithCaller(err, caller)
		}
		if err := r.backend.ClearMergeMsg(); err != nil {
			return githash.Oid{}, ginternals.WithCaller(err, caller)
		}
	}

	return commitOid, nil
}

// resolveHeadForCommit resolves HEAD down to the branch ref it
// symbolically points at and that branch's current commit, if any. An
// unborn branch (HEAD's target doesn't exist yet) is reported as
// hasParent=false rather than an error, since that's the normal state
// right after Init.
func (r *Repository) resolveHeadForCommit() (branchName string, parent githash.Oid, hasParent bool, err error) {
	immediate, immErr := r.refs.Resolve(ginternals.HeadFileName)
	if immErr == nil {
		name := immediate.Name()
		if immediate.Type() == refs.SymbolicRef {
			name = immediate.SymbolicTarget()
		}
		return name, immediate.Target(), true, nil
	}

	var gErr *ginternals.Error
	if !errors.As(immErr, &gErr) || gErr.Kind != ginternals.KindNotFound {
		return "", githash.Oid{}, false, immErr
	}

	branchName, err = r.currentBranchName()
	if err != nil {
		return "", githash.Oid{}, false, err
	}
	return branchName, githash.Oid{}, false, nil
}

// currentBranchName reads HEAD's immediate symbolic target without
// requiring it to resolve, for the unborn-branch case.
func (r *Repository) currentBranchName() (string, error) {
	return r.refs.SymbolicTarget(ginternals.HeadFileName)
}

// firstLine returns s up to its first newline, for reflog messages.
func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

// treeNode is an in-memory directory built up from a flat list of
// index entries, before being serialized bottom-up into tree objects.
type treeNode struct {
	files map[string]gitindex.Entry
	dirs  map[string]*treeNode
}

func newTreeNode() *treeNode {
	return &treeNode{files: map[string]gitindex.Entry{}, dirs: map[string]*treeNode{}}
}

// buildTree writes one tree object per directory level present in
// entries and returns the oid of the root tree. Entries are assumed to
// all be stage 0 (callers must reject conflicted indexes first).
func buildTree(b backendObjectWriter, hash githash.Hash, entries []gitindex.Entry) (githash.Oid, error) {
	root := newTreeNode()
	for _, e := range entries {
		parts := strings.Split(e.Path, "/")
		node := root
		for _, p := range parts[:len(parts)-1] {
			child, ok := node.dirs[p]
			if !ok {
				child = newTreeNode()
				node.dirs[p] = child
			}
			node = child
		}
		node.files[parts[len(parts)-1]] = e
	}
	return writeTreeNode(b, hash, root)
}

func writeTreeNode(b backendObjectWriter, hash githash.Hash, n *treeNode) (githash.Oid, error) {
	entries := make([]object.TreeEntry, 0, len(n.files)+len(n.dirs))
	for name, e := range n.files {
		entries = append(entries, object.TreeEntry{
			Path: name,
			ID:   e.Oid,
			Mode: treeModeFromIndex(e.Mode),
		})
	}
	for name, child := range n.dirs {
		oid, err := writeTreeNode(b, hash, child)
		if err != nil {
			return githash.Oid{}, err
		}
		entries = append(entries, object.TreeEntry{Path: name, ID: oid, Mode: object.ModeDirectory})
	}

	sort.Slice(entries, func(i, j int) bool {
		return treeEntrySortKey(entries[i]) < treeEntrySortKey(entries[j])
	})

	tree := object.NewTree(hash, entries)
	return b.WriteObject(tree.ToObject())
}

// treeEntrySortKey renders a tree entry's name the way git compares
// them: a directory sorts as if its name had a trailing slash, so a
// directory "foo" sorts after a file "foo.txt" ('/' > '.'), while a
// file "foo" sorts before "foo.txt".
func treeEntrySortKey(e object.TreeEntry) string {
	if e.Mode == object.ModeDirectory {
		return e.Path + "/"
	}
	return e.Path
}

func treeModeFromIndex(m gitindex.Mode) object.TreeObjectMode {
	switch m {
	case gitindex.ModeExecutable:
		return object.ModeExecutable
	case gitindex.ModeSymlink:
		return object.ModeSymLink
	case gitindex.ModeGitlink:
		return object.ModeGitLink
	default:
		return object.ModeFile
	}
}

// backendObjectWriter is the subset of *backend.Backend buildTree
// needs, kept narrow so it's trivially testable against a fake.
type backendObjectWriter interface {
	WriteObject(o *object.Object) (githash.Oid, error)
}
