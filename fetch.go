package git

import (
	"bytes"
	"context"

	"github.com/gitkit-go/gitkit/ginternals"
	"github.com/gitkit-go/gitkit/ginternals/githash"
	"github.com/gitkit-go/gitkit/ginternals/object"
	"github.com/gitkit-go/gitkit/ginternals/packfile"
	"github.com/gitkit-go/gitkit/protocol"
	"github.com/gitkit-go/gitkit/refs"
	"github.com/gitkit-go/gitkit/transport"
)

// FetchOptions configures Fetch.
type FetchOptions struct {
	// RemoteURL is the repository to fetch from.
	RemoteURL string
	// Remote names the remote, for the refs/remotes/<Remote>/* tracking
	// refs Fetch writes. Defaults to "origin".
	Remote string
	// RefPrefixes filters which refs are requested (e.g. "refs/heads/").
	// Empty means every ref the remote advertises.
	RefPrefixes []string
	HTTPOptions transport.Options
}

// FetchResult reports what a Fetch updated.
type FetchResult struct {
	// UpdatedRefs maps each updated remote-tracking ref's full name to
	// the oid it now points at.
	UpdatedRefs map[string]githash.Oid
}

// Fetch downloads every ref matching opts.RefPrefixes from the remote
// and records them under refs/remotes/<Remote>/*, without touching
// the current branch or working tree (that's Merge's job). Protocol
// v2 is used unless opts.HTTPOptions.ProtocolVersion is explicitly 1.
func (r *Repository) Fetch(ctx context.Context, opts FetchOptions) (*FetchResult, error) {
	const caller = "Fetch"

	remoteName := opts.Remote
	if remoteName == "" {
		remoteName = "origin"
	}

	tr, err := transport.New(ctx, opts.RemoteURL, opts.HTTPOptions)
	if err != nil {
		return nil, ginternals.WithCaller(err, caller)
	}
	defer tr.Close() //nolint:errcheck

	haves, err := r.localHaves()
	if err != nil {
		return nil, ginternals.WithCaller(err, caller)
	}

	var wanted []protocol.AdvertisedRef
	var packBytes []byte

	if opts.HTTPOptions.ProtocolVersion == 1 {
		advBody, err := tr.AdvertiseRefs(ctx, transport.ServiceUploadPack)
		if err != nil {
			return nil, ginternals.WithCaller(err, caller)
		}
		adv, err := protocol.ParseAdvertisementV1(advBody, r.hash)
		advBody.Close() //nolint:errcheck
		if err != nil {
			return nil, ginternals.WithCaller(err, caller)
		}
		wanted = filterRefs(adv.Refs, opts.RefPrefixes)
		if len(wanted) == 0 {
			return &FetchResult{UpdatedRefs: map[string]githash.Oid{}}, nil
		}
		fr, err := protocol.UploadPackV1(ctx, tr, r.hash, protocol.FetchV1Request{
			Wants:        oidsOf(wanted),
			Haves:        haves,
			Capabilities: protocol.NewCapabilities(),
		}, nil)
		if err != nil {
			return nil, ginternals.WithCaller(err, caller)
		}
		packBytes = fr.Pack
	} else {
		lsRefs, err := protocol.LsRefsV2(ctx, tr, r.hash, protocol.LsRefsOptions{Refs: opts.RefPrefixes})
		if err != nil {
			return nil, ginternals.WithCaller(err, caller)
		}
		wanted = lsRefs
		if len(wanted) == 0 {
			return &FetchResult{UpdatedRefs: map[string]githash.Oid{}}, nil
		}
		fr, err := protocol.FetchV2(ctx, tr, r.hash, protocol.FetchV2Request{
			Wants:        oidsOf(wanted),
			Haves:        haves,
			OfsDelta:     true,
			Capabilities: protocol.NewCapabilities(),
		}, nil)
		if err != nil {
			return nil, ginternals.WithCaller(err, caller)
		}
		packBytes = fr.Pack
	}

	if err := r.storePack(packBytes); err != nil {
		return nil, ginternals.WithCaller(err, caller)
	}

	updated := map[string]githash.Oid{}
	for _, ref := range wanted {
		short := refShortName(ref.Name)
		if short == "" {
			continue
		}
		trackingRef := ginternals.RemoteBranchFullName(remoteName, short)
		oid := ref.Oid
		if err := r.refs.WriteRef(trackingRef, refs.WriteOptions{
			NewOid:  &oid,
			Message: "fetch " + opts.RemoteURL,
		}); err != nil {
			return nil, ginternals.WithCaller(err, caller)
		}
		updated[trackingRef] = oid
	}

	return &FetchResult{UpdatedRefs: updated}, nil
}

// localHaves lists the oids every local ref currently points at, sent
// as "have" lines so the remote can omit objects we already possess.
func (r *Repository) localHaves() ([]githash.Oid, error) {
	names, err := r.refs.List()
	if err != nil {
		return nil, err
	}
	var haves []githash.Oid
	for _, name := range names {
		resolved, err := r.refs.Resolve(name)
		if err != nil {
			continue
		}
		haves = append(haves, resolved.Target())
	}
	return haves, nil
}

// storePack decodes a received pack and writes every object (resolving
// any ofs/ref deltas against the local object store, for a thin pack)
// into the repository's backend.
func (r *Repository) storePack(pack []byte) error {
	if len(pack) == 0 {
		return nil
	}
	entries, _, err := packfile.ReadStream(bytes.NewReader(pack), r.hash)
	if err != nil {
		return err
	}
	fat, err := packfile.Fatify(entries, r.hash, r.backend.Object)
	if err != nil {
		return err
	}
	resolved, _, err := packfile.ReadStream(bytes.NewReader(fat.Bytes()), r.hash)
	if err != nil {
		return err
	}
	for _, e := range resolved {
		if _, err := r.backend.WriteObject(object.New(r.hash, e.Type, e.Content)); err != nil {
			return err
		}
	}
	return nil
}

func filterRefs(all []protocol.AdvertisedRef, prefixes []string) []protocol.AdvertisedRef {
	if len(prefixes) == 0 {
		return all
	}
	var out []protocol.AdvertisedRef
	for _, ref := range all {
		for _, p := range prefixes {
			if len(ref.Name) >= len(p) && ref.Name[:len(p)] == p {
				out = append(out, ref)
				break
			}
		}
	}
	return out
}

func oidsOf(advertised []protocol.AdvertisedRef) []githash.Oid {
	out := make([]githash.Oid, len(advertised))
	for i, ref := range advertised {
		out[i] = ref.Oid
	}
	return out
}

// refShortName strips a "refs/heads/" or "refs/tags/" prefix, for
// naming the equivalent remote-tracking ref. Refs outside those
// namespaces (e.g. HEAD) are skipped.
func refShortName(name string) string {
	if short := ginternals.LocalBranchShortName(name); short != name {
		return short
	}
	if short := ginternals.LocalTagShortName(name); short != name {
		return short
	}
	return ""
}
