package git

import (
	"context"

	"github.com/gitkit-go/gitkit/ginternals"
	"github.com/gitkit-go/gitkit/ginternals/githash"
	"github.com/gitkit-go/gitkit/ginternals/object"
	"github.com/gitkit-go/gitkit/ginternals/packfile"
	"github.com/gitkit-go/gitkit/merge"
	"github.com/gitkit-go/gitkit/protocol"
	"github.com/gitkit-go/gitkit/transport"
)

// PushOptions configures Push.
type PushOptions struct {
	RemoteURL string
	// Branch is the local branch to push (its full form,
	// "refs/heads/<name>"; a bare short name is treated as one).
	Branch string
	// Force skips the fast-forward check.
	Force       bool
	HTTPOptions transport.Options
}

// PushResult reports the outcome of a push.
type PushResult struct {
	RefStatuses []protocol.RefUpdateStatus
}

// Push sends opts.Branch's current commit, and every object it
// introduces since the remote's copy, to opts.RemoteURL, fast-forward
// checked against the remote's advertised oid unless opts.Force.
func (r *Repository) Push(ctx context.Context, opts PushOptions) (*PushResult, error) {
	const caller = "Push"

	branchName := opts.Branch
	if ginternals.LocalBranchShortName(branchName) == branchName {
		branchName = ginternals.LocalBranchFullName(branchName)
	}

	localRef, err := r.refs.Resolve(branchName)
	if err != nil {
		return nil, ginternals.WithCaller(err, caller)
	}
	localOid := localRef.Target()

	tr, err := transport.New(ctx, opts.RemoteURL, opts.HTTPOptions)
	if err != nil {
		return nil, ginternals.WithCaller(err, caller)
	}
	defer tr.Close() //nolint:errcheck

	advBody, err := tr.AdvertiseRefs(ctx, transport.ServiceReceivePack)
	if err != nil {
		return nil, ginternals.WithCaller(err, caller)
	}
	adv, err := protocol.ParseAdvertisementV1(advBody, r.hash)
	advBody.Close() //nolint:errcheck
	if err != nil {
		return nil, ginternals.WithCaller(err, caller)
	}

	var remoteOid githash.Oid
	for _, ref := range adv.Refs {
		if ref.Name == branchName {
			remoteOid = ref.Oid
			break
		}
	}

	if !opts.Force && !remoteOid.IsZero() {
		shallowRoots, err := r.refs.ReadShallowRoots()
		if err != nil {
			return nil, ginternals.WithCaller(err, caller)
		}
		base, ok, err := merge.MergeBase(ctx, r.backend, localOid, remoteOid, shallowRoots)
		if err != nil {
			return nil, ginternals.WithCaller(err, caller)
		}
		if !ok || !base.Equal(remoteOid) {
			return nil, ginternals.WithCaller(
				ginternals.NewError(ginternals.KindPushRejected, "non-fast-forward: remote has work not present locally", nil), caller)
		}
	}

	objs, err := r.collectObjectsSince(localOid, remoteOid)
	if err != nil {
		return nil, ginternals.WithCaller(err, caller)
	}
	w := packfile.NewWriter(r.hash, uint32(len(objs)))
	for _, obj := range objs {
		if err := w.WriteObject(obj); err != nil {
			return nil, ginternals.WithCaller(err, caller)
		}
	}

	result, err := protocol.ReceivePackV1(ctx, tr, r.hash, protocol.PushRequest{
		Updates: []protocol.RefUpdate{{
			Old:   remoteOid,
			New:   localOid,
			Name:  branchName,
			Force: opts.Force,
		}},
		Pack:         w.Bytes(),
		Capabilities: protocol.NewCapabilities(),
	})
	if err != nil {
		return nil, ginternals.WithCaller(err, caller)
	}
	if err := result.Err(); err != nil {
		return nil, ginternals.WithCaller(err, caller)
	}

	return &PushResult{RefStatuses: result.RefStatuses}, nil
}

// collectObjectsSince walks every commit reachable from from without
// passing through stopAt (stopAt itself is excluded), and returns those
// commits plus every tree and blob their trees reach, including trees
// and blobs that stopAt's history already contains. A zero stopAt
// (pushing a brand-new branch) walks the whole history.
func (r *Repository) collectObjectsSince(from, stopAt githash.Oid) ([]*object.Object, error) {
	visited := map[string]bool{}
	var out []*object.Object

	var walkCommit func(oid githash.Oid) error
	walkCommit = func(oid githash.Oid) error {
		if oid.IsZero() || oid.Equal(stopAt) || visited[oid.String()] {
			return nil
		}
		visited[oid.String()] = true

		obj, err := r.backend.Object(oid)
		if err != nil {
			return err
		}
		commit, err := obj.AsCommit()
		if err != nil {
			return err
		}
		out = append(out, obj)

		if err := r.walkTree(commit.TreeID(), visited, &out); err != nil {
			return err
		}
		for _, parent := range commit.ParentIDs() {
			if err := walkCommit(parent); err != nil {
				return err
			}
		}
		return nil
	}

	if err := walkCommit(from); err != nil {
		return nil, err
	}
	return out, nil
}

// walkTree recursively collects a tree object and every blob/subtree
// it reaches that hasn't already been visited. visited is keyed by hex
// oid string, since githash.Oid itself isn't a valid map key.
func (r *Repository) walkTree(oid githash.Oid, visited map[string]bool, out *[]*object.Object) error {
	if visited[oid.String()] {
		return nil
	}
	visited[oid.String()] = true

	obj, err := r.backend.Object(oid)
	if err != nil {
		return err
	}
	tree, err := obj.AsTree()
	if err != nil {
		return err
	}
	*out = append(*out, obj)

	for _, entry := range tree.Entries() {
		if visited[entry.ID.String()] {
			continue
		}
		if entry.Mode == object.ModeDirectory {
			if err := r.walkTree(entry.ID, visited, out); err != nil {
				return err
			}
			continue
		}
		blobObj, err := r.backend.Object(entry.ID)
		if err != nil {
			return err
		}
		visited[entry.ID.String()] = true
		*out = append(*out, blobObj)
	}
	return nil
}
