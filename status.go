package git

import (
	"errors"

	"github.com/gitkit-go/gitkit/ginternals"
	"github.com/gitkit-go/gitkit/ginternals/githash"
	"github.com/gitkit-go/gitkit/ginternals/object"
	"github.com/gitkit-go/gitkit/refs"
	"github.com/gitkit-go/gitkit/walk"
)

// gitDirBaseName is skipped when walking the working tree: the
// repository's own metadata directory is never a tracked or
// untracked path in the usual (non-separate-git-dir) layout.
const gitDirBaseName = ".git"

// ChangeType classifies how a path differs between two of the three
// views (HEAD tree, staging index, working tree) a status report
// compares.
type ChangeType int8

const (
	// Unchanged means the two views agree.
	Unchanged ChangeType = iota
	// Added means the path exists in the later view but not the
	// earlier one.
	Added
	// Modified means the path exists in both but its content/mode
	// differs.
	Modified
	// Deleted means the path exists in the earlier view but not the
	// later one.
	Deleted
)

// StatusEntry reports one path's state relative to HEAD's tree, the
// staging index, and (for a non-bare repository) the working tree.
type StatusEntry struct {
	Path string
	// Staged is HEAD's tree compared against the index: what `git add`
	// has recorded for the next commit.
	Staged ChangeType
	// Worktree is the index compared against the on-disk file: what's
	// changed since the last `git add`. Always Unchanged for a bare
	// repository.
	Worktree ChangeType
	// Untracked is true when the path exists only in the working tree.
	Untracked bool
}

// Status reports the current branch and every path that differs
// across HEAD's tree, the staging index, and the working tree.
type Status struct {
	Branch   string
	Detached bool
	Entries  []StatusEntry
}

// Status computes the repository's current status, in the spirit of
// `git status`: a three-way comparison of HEAD's committed tree, the
// staging index, and (unless bare) the working tree, driven by the
// walk package's synchronized traversal, the same one Add uses.
func (r *Repository) Status() (*Status, error) {
	const caller = "Status"

	branch, detached, err := r.currentBranchDisplay()
	if err != nil {
		return nil, ginternals.WithCaller(err, caller)
	}

	idx, err := r.readIndex()
	if err != nil {
		return nil, ginternals.WithCaller(err, caller)
	}

	opts := walk.Options{Index: idx}

	var headTree *githash.Oid
	if headOid, hasHead, err := r.headCommitOid(); err != nil {
		return nil, ginternals.WithCaller(err, caller)
	} else if hasHead {
		commit, err := r.loadCommit(headOid)
		if err != nil {
			return nil, ginternals.WithCaller(err, caller)
		}
		treeOid := commit.TreeID()
		headTree = &treeOid
		opts.Backend = r.backend
		opts.TreeRoot = headTree
	}

	wtFS := r.workTreeFS()
	if wtFS != nil {
		opts.WorkdirFS = wtFS
		opts.WorkdirRoot = "."
	}

	status := &Status{Branch: branch, Detached: detached}
	err = walk.Walk(opts, func(n *walk.Node) (bool, error) {
		if n.Path == gitDirBaseName {
			return false, nil
		}
		treeHandle := n.Handle(walk.Tree)
		stageHandle := n.Handle(walk.Stage)
		workdirHandle := n.Handle(walk.Workdir)

		// Directories themselves never produce an entry; only the
		// leaves under them do. Still descend into them.
		if n.IsDir && stageHandle == nil {
			return true, nil
		}

		entry := StatusEntry{Path: n.Path}
		switch {
		case treeHandle == nil && stageHandle == nil:
			entry.Untracked = true
		case treeHandle == nil && stageHandle != nil:
			entry.Staged = Added
		case treeHandle != nil && stageHandle == nil:
			entry.Staged = Deleted
		case !sameContent(r.hash, treeHandle, stageHandle):
			entry.Staged = Modified
		}

		switch {
		case stageHandle == nil && workdirHandle != nil:
			entry.Untracked = true
		case stageHandle != nil && workdirHandle == nil:
			entry.Worktree = Deleted
		case stageHandle != nil && workdirHandle != nil && !sameContent(r.hash, stageHandle, workdirHandle):
			entry.Worktree = Modified
		}

		if entry.Staged != Unchanged || entry.Worktree != Unchanged || entry.Untracked {
			status.Entries = append(status.Entries, entry)
		}
		return true, nil
	})
	if err != nil {
		return nil, ginternals.WithCaller(err, caller)
	}

	return status, nil
}

// sameContent compares two handles by oid when both have one (tree vs
// stage). A workdir handle carries no oid and its Content() can't be
// compared against a stage handle's — which holds only an oid, not the
// blob bytes — by value either, so whichever side lacks an oid gets its
// content hashed the way a blob object would be hashed, and the result
// is compared against the other side's real oid.
func sameContent(hash githash.Hash, a, b walk.Handle) bool {
	if !a.Oid().IsZero() && !b.Oid().IsZero() {
		return a.Oid().Equal(b.Oid())
	}
	if a.Mode() != b.Mode() && modeClass(a.Mode()) != modeClass(b.Mode()) {
		return false
	}

	known, unknown := a, b
	if a.Oid().IsZero() {
		known, unknown = b, a
	}
	if known.Oid().IsZero() {
		// Neither side carries an oid; nothing to compare against.
		return false
	}

	content, err := unknown.Content()
	if err != nil {
		return false
	}
	return known.Oid().Equal(object.New(hash, object.TypeBlob, content).ID())
}

// modeClass collapses a mode down to file-vs-executable-vs-symlink,
// ignoring the permission bits os.FileMode reports for a workdir entry
// that git's own mode constants don't carry.
func modeClass(m uint32) object.TreeObjectMode {
	switch object.TreeObjectMode(m) {
	case object.ModeExecutable:
		return object.ModeExecutable
	case object.ModeSymLink:
		return object.ModeSymLink
	default:
		return object.ModeFile
	}
}

// currentBranchDisplay returns the short branch name HEAD points at,
// or ("", true) when HEAD is detached.
func (r *Repository) currentBranchDisplay() (branch string, detached bool, err error) {
	resolved, err := r.refs.Resolve(ginternals.HeadFileName)
	if err != nil {
		var gErr *ginternals.Error
		if errors.As(err, &gErr) && gErr.Kind == ginternals.KindNotFound {
			name, symErr := r.currentBranchName()
			if symErr != nil {
				return "", false, err
			}
			return ginternals.LocalBranchShortName(name), false, nil
		}
		return "", false, err
	}
	if resolved.Type() != refs.SymbolicRef {
		return "", true, nil
	}
	return ginternals.LocalBranchShortName(resolved.SymbolicTarget()), false, nil
}

// headCommitOid resolves HEAD to a commit oid, reporting hasHead=false
// for an unborn branch rather than treating it as an error.
func (r *Repository) headCommitOid() (oid githash.Oid, hasHead bool, err error) {
	resolved, err := r.refs.Resolve(ginternals.HeadFileName)
	if err == nil {
		return resolved.Target(), true, nil
	}
	var gErr *ginternals.Error
	if errors.As(err, &gErr) && gErr.Kind == ginternals.KindNotFound {
		return githash.Oid{}, false, nil
	}
	return githash.Oid{}, false, err
}

func (r *Repository) loadCommit(oid githash.Oid) (*object.Commit, error) {
	obj, err := r.backend.Object(oid)
	if err != nil {
		return nil, err
	}
	return obj.AsCommit()
}
