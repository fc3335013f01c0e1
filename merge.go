package git

import (
	"context"
	"path"

	"github.com/gitkit-go/gitkit/ginternals"
	"github.com/gitkit-go/gitkit/ginternals/githash"
	"github.com/gitkit-go/gitkit/ginternals/object"
	"github.com/gitkit-go/gitkit/gitindex"
	"github.com/gitkit-go/gitkit/merge"
	"github.com/gitkit-go/gitkit/refs"
	"github.com/spf13/afero"
)

// MergeOptions configures Merge.
type MergeOptions struct {
	Style                             merge.ConflictStyle
	LabelOurs, LabelBase, LabelTheirs string
	// AbortOnConflict leaves the index and working tree untouched and
	// returns a KindMergeConflict error instead of staging conflicts.
	AbortOnConflict bool
	// Committer records the merge commit on a clean merge. Required
	// unless AbortOnConflict or the merge isn't clean.
	Committer object.Signature
	Message   string
}

// Merge three-way merges theirs into the current branch (ours is
// HEAD). On a clean merge it records a two-parent merge commit and
// fast-forwards the branch. On conflict, unless opts.AbortOnConflict,
// it stages the conflicted paths (stage 1/2/3) in the index and
// materializes marker-annotated content onto the working tree for
// every ConflictContent path, then returns a merge.Result with
// HasTree false and a KindMergeConflict-free error (the caller
// inspects Result.ConflictsCount/UnmergedPaths rather than an error,
// matching how `git merge` exits 1 without failing the operation
// itself on an ordinary conflict).
func (r *Repository) Merge(ctx context.Context, theirs githash.Oid, opts MergeOptions) (merge.Result, error) {
	const caller = "Merge"

	r.writeMu.Lock([]byte(ginternals.HeadFileName))
	defer r.writeMu.Unlock([]byte(ginternals.HeadFileName))

	ours, hasOurs, err := r.headCommitOid()
	if err != nil {
		return merge.Result{}, ginternals.WithCaller(err, caller)
	}
	if !hasOurs {
		return merge.Result{}, ginternals.WithCaller(
			ginternals.NewError(ginternals.KindInvalidRef, "cannot merge into an unborn branch", nil), caller)
	}

	idx, err := r.readIndex()
	if err != nil {
		return merge.Result{}, ginternals.WithCaller(err, caller)
	}

	shallowRoots, err := r.refs.ReadShallowRoots()
	if err != nil {
		return merge.Result{}, ginternals.WithCaller(err, caller)
	}

	result, err := merge.Merge(ctx, r.backend, idx, ours, theirs, merge.Options{
		Style:           opts.Style,
		LabelOurs:       opts.LabelOurs,
		LabelBase:       opts.LabelBase,
		LabelTheirs:     opts.LabelTheirs,
		AbortOnConflict: opts.AbortOnConflict,
		ShallowRoots:    shallowRoots,
	})
	if err != nil {
		return merge.Result{}, ginternals.WithCaller(err, caller)
	}

	if !result.HasTree {
		// Conflicted: idx now carries stage 1/2/3 entries for the
		// unmerged paths. Persist the index and materialize the
		// rendered conflict markers before returning, so the working
		// tree and index match what the caller is told about. MERGE_HEAD
		// and MERGE_MSG record enough state for a later Commit call to
		// complete the merge once the conflicts are resolved.
		if err := r.writeIndexLocked(idx); err != nil {
			return result, ginternals.WithCaller(err, caller)
		}
		if err := r.materializeConflicts(result.ConflictedFiles); err != nil {
			return result, ginternals.WithCaller(err, caller)
		}
		if err := r.backend.SetMergeHead(theirs); err != nil {
			return result, ginternals.WithCaller(err, caller)
		}
		if err := r.backend.SetMergeMsg(opts.Message); err != nil {
			return result, ginternals.WithCaller(err, caller)
		}
		return result, nil
	}

	commit := object.NewCommit(r.hash, result.TreeOid, opts.Committer, &object.CommitOptions{
		Message:   opts.Message,
		Committer: opts.Committer,
		ParentsID: []githash.Oid{ours, theirs},
	})
	commitOid, err := r.backend.WriteObject(commit.ToObject())
	if err != nil {
		return result, ginternals.WithCaller(err, caller)
	}

	branchName, err := r.currentHeadBranchName()
	if err != nil {
		return result, ginternals.WithCaller(err, caller)
	}
	err = r.refs.WriteRef(branchName, refs.WriteOptions{
		NewOid:      &commitOid,
		ExpectedOld: ours.String(),
		Who:         opts.Committer,
		Message:     "merge: " + firstLine(opts.Message),
	})
	if err != nil {
		return result, ginternals.WithCaller(err, caller)
	}

	if err := r.writeIndexLocked(idx); err != nil {
		return result, ginternals.WithCaller(err, caller)
	}

	return result, nil
}

// MergeAbort discards an in-progress conflicted merge: the index and
// working tree are reset back to HEAD's tree, and MERGE_HEAD/MERGE_MSG
// are cleared. Fails with KindInvalidRef if no merge is in progress.
func (r *Repository) MergeAbort() error {
	const caller = "MergeAbort"

	r.writeMu.Lock([]byte(ginternals.HeadFileName))
	defer r.writeMu.Unlock([]byte(ginternals.HeadFileName))

	_, inProgress, err := r.backend.MergeHead()
	if err != nil {
		return ginternals.WithCaller(err, caller)
	}
	if !inProgress {
		return ginternals.WithCaller(
			ginternals.NewError(ginternals.KindInvalidRef, "no merge in progress", nil), caller)
	}

	headOid, hasHead, err := r.headCommitOid()
	if err != nil {
		return ginternals.WithCaller(err, caller)
	}
	if !hasHead {
		return ginternals.WithCaller(
			ginternals.NewError(ginternals.KindInvalidRef, "HEAD has no commit to restore", nil), caller)
	}

	commit, err := r.loadCommit(headOid)
	if err != nil {
		return ginternals.WithCaller(err, caller)
	}

	idx := gitindex.New(r.hash)
	if err := r.checkoutTree(commit.TreeID(), "", idx); err != nil {
		return ginternals.WithCaller(err, caller)
	}
	if err := r.writeIndexLocked(idx); err != nil {
		return ginternals.WithCaller(err, caller)
	}

	if err := r.backend.ClearMergeHead(); err != nil {
		return ginternals.WithCaller(err, caller)
	}
	if err := r.backend.ClearMergeMsg(); err != nil {
		return ginternals.WithCaller(err, caller)
	}
	return nil
}

// currentHeadBranchName returns the branch name HEAD symbolically
// points at, failing if HEAD is detached (a merge commit needs a
// branch to fast-forward).
func (r *Repository) currentHeadBranchName() (string, error) {
	resolved, err := r.refs.Resolve(ginternals.HeadFileName)
	if err != nil {
		return "", err
	}
	if resolved.Type() != refs.SymbolicRef {
		return "", ginternals.NewError(ginternals.KindInvalidRef, "HEAD is detached", nil)
	}
	return resolved.SymbolicTarget(), nil
}

// materializeConflicts writes every ConflictedFiles entry to the
// working tree, relative to its worktree root. This only a layer
// holding that root path can do; merge itself never touches the
// working tree (see merge.Result's doc comment).
func (r *Repository) materializeConflicts(files map[string][]byte) error {
	wtFS := r.workTreeFS()
	if wtFS == nil {
		// Bare repository: nothing to materialize onto.
		return nil
	}
	for p, content := range files {
		if err := wtFS.MkdirAll(path.Dir(p), 0o755); err != nil {
			return err
		}
		if err := afero.WriteFile(wtFS, p, content, 0o644); err != nil {
			return err
		}
	}
	return nil
}
