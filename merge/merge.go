// Package merge computes merge bases over the commit DAG and performs
// three-way merges of trees and file content, emitting conflict
// markers and staging-index conflict entries the same way git does.
//
// The package never touches the working tree itself: Merge reports
// rendered conflict content per path and mutates the index it is
// given, but materializing that content onto disk is left to the
// caller, which is the only layer that knows the repository's
// worktree root.
package merge

import (
	"context"
	"fmt"
	"sort"

	"github.com/gitkit-go/gitkit/backend"
	"github.com/gitkit-go/gitkit/ginternals"
	"github.com/gitkit-go/gitkit/ginternals/githash"
	"github.com/gitkit-go/gitkit/ginternals/object"
	"github.com/gitkit-go/gitkit/gitindex"
)

// Options configures a merge.
type Options struct {
	Style                             ConflictStyle
	LabelOurs, LabelBase, LabelTheirs string

	// AbortOnConflict, when true, leaves the index untouched and
	// returns a KindMergeConflict error instead of staging conflict
	// entries when the merge can't be resolved automatically.
	AbortOnConflict bool

	// ShallowRoots names commits (keyed by Oid.String()) at a shallow
	// clone's boundary, whose recorded parents were never fetched. When
	// set, MergeBase treats them as graph roots instead of walking into
	// missing objects. Nil for an unshallowed repository.
	ShallowRoots map[string]bool
}

// Result is the outcome of a merge.
type Result struct {
	// TreeOid is the resulting tree, valid only when HasTree is true
	// (i.e. ConflictsCount == 0).
	TreeOid githash.Oid
	HasTree bool

	ConflictsCount int
	UnmergedPaths  []string

	// ConflictedFiles maps a ConflictContent path to the marker-
	// annotated content a caller should write to the working tree.
	// Paths that lost a directory/file conflict are not included: a
	// caller decides separately how to lay out the surviving side.
	ConflictedFiles map[string][]byte
}

// Merge three-way merges the commits ours and theirs, using their best
// common ancestor (possibly a virtual one folded from a criss-cross)
// as the base. On a clean merge it returns the resulting tree oid. On
// conflict, unless opts.AbortOnConflict is set, it stages stage 1/2/3
// entries into idx for every unmerged path (removing any stage-0 entry
// there) and leaves idx otherwise untouched.
func Merge(ctx context.Context, b *backend.Backend, idx *gitindex.Index, ours, theirs githash.Oid, opts Options) (Result, error) {
	oursCommit, err := loadCommit(b, ours)
	if err != nil {
		return Result{}, err
	}
	theirsCommit, err := loadCommit(b, theirs)
	if err != nil {
		return Result{}, err
	}

	baseOid, hasBase, err := MergeBase(ctx, b, ours, theirs, opts.ShallowRoots)
	if err != nil {
		return Result{}, err
	}
	var baseTree *githash.Oid
	if hasBase {
		baseCommit, err := loadCommit(b, baseOid)
		if err != nil {
			return Result{}, err
		}
		t := baseCommit.TreeID()
		baseTree = &t
	}

	oursTree, theirsTree := oursCommit.TreeID(), theirsCommit.TreeID()
	treeOpts := TreeMergeOptions{
		Style:       opts.Style,
		LabelOurs:   opts.LabelOurs,
		LabelBase:   opts.LabelBase,
		LabelTheirs: opts.LabelTheirs,
	}

	mergedTree, conflicts, err := TreeMerge(ctx, b, baseTree, &oursTree, &theirsTree, treeOpts)
	if err != nil {
		return Result{}, err
	}

	if len(conflicts) == 0 {
		return Result{TreeOid: mergedTree, HasTree: true}, nil
	}

	if opts.AbortOnConflict {
		return Result{}, ginternals.NewError(ginternals.KindMergeConflict,
			fmt.Sprintf("%d conflicting path(s)", len(conflicts)), nil)
	}

	result := Result{
		ConflictsCount:  len(conflicts),
		ConflictedFiles: map[string][]byte{},
	}
	for _, c := range conflicts {
		result.UnmergedPaths = append(result.UnmergedPaths, c.Path)
		stageConflict(idx, c)
		if c.Kind == ConflictContent && c.Merged != nil {
			result.ConflictedFiles[c.Path] = c.Merged
		}
	}
	sort.Strings(result.UnmergedPaths)

	return result, nil
}

// stageConflict replaces any stage-0 entry at c.Path with whichever of
// c.Base/Ours/Theirs are non-directory entries, at stages 1/2/3.
func stageConflict(idx *gitindex.Index, c Conflict) {
	idx.Remove(c.Path)
	for stage, e := range map[gitindex.Stage]*object.TreeEntry{
		gitindex.StageBase:   c.Base,
		gitindex.StageOurs:   c.Ours,
		gitindex.StageTheirs: c.Theirs,
	} {
		if e == nil || e.Mode == object.ModeDirectory {
			continue
		}
		idx.Insert(gitindex.Entry{
			Path:  c.Path,
			Mode:  indexMode(e.Mode),
			Oid:   e.ID,
			Stage: stage,
		})
	}
}

func indexMode(m object.TreeObjectMode) gitindex.Mode {
	switch m {
	case object.ModeExecutable:
		return gitindex.ModeExecutable
	case object.ModeSymLink:
		return gitindex.ModeSymlink
	case object.ModeGitLink:
		return gitindex.ModeGitlink
	default:
		return gitindex.ModeFile
	}
}
