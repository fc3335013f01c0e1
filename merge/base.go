package merge

import (
	"context"
	"time"

	"github.com/gitkit-go/gitkit/backend"
	"github.com/gitkit-go/gitkit/ginternals/githash"
	"github.com/gitkit-go/gitkit/ginternals/object"
	"golang.org/x/sync/errgroup"
)

// virtualMergeSignature stamps the synthetic commits MergeBase writes
// to fold criss-cross merge-bases into one. Fixed rather than
// time.Now()'d so the same pair of candidates always folds to the same
// oid.
var virtualMergeSignature = object.Signature{
	Name:  "gitkit",
	Email: "merge@gitkit.internal",
	Time:  time.Unix(0, 0).UTC(),
}

// MergeBase finds the best common ancestor of a and c. ok is false
// when the two commits share no history. When more than one
// best-common-ancestor exists (a criss-cross merge), the candidates
// are folded pairwise into a synthetic virtual commit so the caller
// always gets a single base to three-way merge against, the same
// technique git itself falls back to for "recursive" merges.
//
// shallowRoots, when non-nil, names commits (keyed by Oid.String())
// recorded in a shallow clone's boundary: their recorded parents exist
// in the commit object but were never fetched, so every ancestry walk
// here must treat them as graph roots rather than follow into missing
// objects. A nil map means an unshallowed repository; every traversal
// below treats that as "no roots are synthetic".
func MergeBase(ctx context.Context, b *backend.Backend, a, c githash.Oid, shallowRoots map[string]bool) (githash.Oid, bool, error) {
	if a.Equal(c) {
		return a, true, nil
	}

	candidates, err := mergeBaseCandidates(ctx, b, a, c, shallowRoots)
	if err != nil {
		return githash.Oid{}, false, err
	}
	if len(candidates) == 0 {
		return githash.Oid{}, false, nil
	}

	result := candidates[0]
	for _, cand := range candidates[1:] {
		result, err = virtualMerge(ctx, b, result, cand, shallowRoots)
		if err != nil {
			return githash.Oid{}, false, err
		}
	}
	return result, true, nil
}

// parentsRespectingShallow returns commit's parents, or none at all
// when oid is a shallow boundary: its parent oids are real but their
// objects were never fetched, so walking into them would fail.
func parentsRespectingShallow(commit *object.Commit, oid githash.Oid, shallowRoots map[string]bool) []githash.Oid {
	if shallowRoots[oid.String()] {
		return nil
	}
	return commit.ParentIDs()
}

// mergeBaseCandidates returns every best common ancestor of a and c:
// commits reachable from c that are also ancestors of a, stopping the
// walk as soon as one is found (its own ancestors are necessarily
// common too, but strictly older, so walking past it only ever finds
// dominated candidates). A final pass still prunes any candidate that
// turns out to be an ancestor of another, which can happen when two
// candidates are reached via independent paths from c.
func mergeBaseCandidates(ctx context.Context, b *backend.Backend, a, c githash.Oid, shallowRoots map[string]bool) ([]githash.Oid, error) {
	setA, err := ancestorSet(ctx, b, a, shallowRoots)
	if err != nil {
		return nil, err
	}

	visited := map[string]bool{}
	frontier := []githash.Oid{c}
	var candidates []githash.Oid

	for len(frontier) > 0 {
		parentLists := make([][]githash.Oid, len(frontier))
		g, gctx := errgroup.WithContext(ctx)
		for i, oid := range frontier {
			i, oid := i, oid
			g.Go(func() error {
				select {
				case <-gctx.Done():
					return gctx.Err()
				default:
				}
				commit, err := loadCommit(b, oid)
				if err != nil {
					return err
				}
				parentLists[i] = parentsRespectingShallow(commit, oid, shallowRoots)
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}

		var next []githash.Oid
		addedThisRound := map[string]bool{}
		for i, oid := range frontier {
			if visited[oid.String()] {
				continue
			}
			visited[oid.String()] = true
			if setA[oid.String()] {
				candidates = append(candidates, oid)
				continue
			}
			for _, p := range parentLists[i] {
				if !visited[p.String()] && !addedThisRound[p.String()] {
					addedThisRound[p.String()] = true
					next = append(next, p)
				}
			}
		}
		frontier = next
	}

	return pruneDominated(b, candidates, shallowRoots)
}

// ancestorSet returns every oid reachable from start (start included),
// keyed by its hex string since githash.Oid itself (a struct wrapping
// a byte slice) isn't a valid map key.
func ancestorSet(ctx context.Context, b *backend.Backend, start githash.Oid, shallowRoots map[string]bool) (map[string]bool, error) {
	visited := map[string]bool{start.String(): true}
	frontier := []githash.Oid{start}

	for len(frontier) > 0 {
		parentLists := make([][]githash.Oid, len(frontier))
		g, gctx := errgroup.WithContext(ctx)
		for i, oid := range frontier {
			i, oid := i, oid
			g.Go(func() error {
				select {
				case <-gctx.Done():
					return gctx.Err()
				default:
				}
				commit, err := loadCommit(b, oid)
				if err != nil {
					return err
				}
				parentLists[i] = parentsRespectingShallow(commit, oid, shallowRoots)
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}

		var next []githash.Oid
		for _, parents := range parentLists {
			for _, p := range parents {
				if !visited[p.String()] {
					visited[p.String()] = true
					next = append(next, p)
				}
			}
		}
		frontier = next
	}
	return visited, nil
}

// pruneDominated drops any candidate that is itself an ancestor of
// another candidate, keeping only the incomparable, most-recent ones.
func pruneDominated(b *backend.Backend, candidates []githash.Oid, shallowRoots map[string]bool) ([]githash.Oid, error) {
	if len(candidates) <= 1 {
		return candidates, nil
	}

	dominated := make([]bool, len(candidates))
	for i, x := range candidates {
		for j, y := range candidates {
			if i == j || dominated[i] {
				continue
			}
			anc, err := isAncestor(b, x, y, shallowRoots)
			if err != nil {
				return nil, err
			}
			if anc {
				dominated[i] = true
			}
		}
	}

	var out []githash.Oid
	for i, cand := range candidates {
		if !dominated[i] {
			out = append(out, cand)
		}
	}
	return out, nil
}

// isAncestor reports whether x is a (possibly indirect) parent of y.
func isAncestor(b *backend.Backend, x, y githash.Oid, shallowRoots map[string]bool) (bool, error) {
	if x.Equal(y) {
		return false, nil
	}

	visited := map[string]bool{y.String(): true}
	queue := []githash.Oid{y}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]

		commit, err := loadCommit(b, cur)
		if err != nil {
			return false, err
		}
		for _, p := range parentsRespectingShallow(commit, cur, shallowRoots) {
			if p.Equal(x) {
				return true, nil
			}
			if !visited[p.String()] {
				visited[p.String()] = true
				queue = append(queue, p)
			}
		}
	}
	return false, nil
}

// virtualMerge folds two incomparable merge-base candidates into one
// synthetic commit: it recursively finds their own base, three-way
// merges their trees best-effort (conflicts are left unresolved in the
// synthetic tree — it is never shown to a user, only used as a base
// for the real merge), and writes a two-parent commit over the result.
func virtualMerge(ctx context.Context, b *backend.Backend, x, y githash.Oid, shallowRoots map[string]bool) (githash.Oid, error) {
	base, ok, err := MergeBase(ctx, b, x, y, shallowRoots)
	if err != nil {
		return githash.Oid{}, err
	}

	xCommit, err := loadCommit(b, x)
	if err != nil {
		return githash.Oid{}, err
	}
	yCommit, err := loadCommit(b, y)
	if err != nil {
		return githash.Oid{}, err
	}

	var baseTree *githash.Oid
	if ok {
		baseCommit, err := loadCommit(b, base)
		if err != nil {
			return githash.Oid{}, err
		}
		tid := baseCommit.TreeID()
		baseTree = &tid
	}
	xTree, yTree := xCommit.TreeID(), yCommit.TreeID()

	mergedTree, _, err := TreeMerge(ctx, b, baseTree, &xTree, &yTree, TreeMergeOptions{})
	if err != nil {
		return githash.Oid{}, err
	}

	commit := object.NewCommit(b.Hash(), mergedTree, virtualMergeSignature, &object.CommitOptions{
		Message:   "virtual merge base",
		ParentsID: []githash.Oid{x, y},
	})
	if _, err := b.WriteObject(commit.ToObject()); err != nil {
		return githash.Oid{}, err
	}
	return commit.ID(), nil
}

func loadCommit(b *backend.Backend, oid githash.Oid) (*object.Commit, error) {
	obj, err := b.Object(oid)
	if err != nil {
		return nil, err
	}
	return obj.AsCommit()
}
