package packfile

import (
	"bytes"

	"github.com/gitkit-go/gitkit/ginternals"
	"github.com/gitkit-go/gitkit/ginternals/githash"
	"github.com/gitkit-go/gitkit/ginternals/object"
)

// BaseResolver looks up an object this incoming pack didn't itself
// carry: a thin pack's deltas are allowed to reference a base the
// sender already knows the receiver has, rather than including it
// again. Backed by the local object store at the call site.
type BaseResolver func(oid githash.Oid) (*object.Object, error)

// Fatify resolves every delta entry decoded from a thin pack (one
// whose ref-deltas may point at objects outside the pack itself) and
// re-emits a fully self-contained, whole-object pack: the shape
// receive-pack needs to persist, since this object store has no
// notion of a delta chain spanning multiple pack files.
//
// Offset deltas (ObjectDeltaOFS) are resolved against entries earlier
// in the same stream; ref deltas (ObjectDeltaRef) are resolved first
// against the stream's own entries, falling back to resolveBase for
// bases that live in the receiver's existing object store.
func Fatify(entries []StreamEntry, hash githash.Hash, resolveBase BaseResolver) (*Writer, error) {
	byOffset := make(map[uint64]*object.Object, len(entries))
	resolved := make([]*object.Object, len(entries))

	for i, e := range entries {
		obj, err := resolveEntry(e, byOffset, hash, resolveBase)
		if err != nil {
			return nil, err
		}
		resolved[i] = obj
		byOffset[e.Offset] = obj
	}

	w := NewWriter(hash, uint32(len(resolved)))
	for _, obj := range resolved {
		if err := w.WriteObject(obj); err != nil {
			return nil, err
		}
	}
	return w, nil
}

func resolveEntry(e StreamEntry, byOffset map[uint64]*object.Object, hash githash.Hash, resolveBase BaseResolver) (*object.Object, error) {
	switch e.Type { //nolint:exhaustive // only these two need delta resolution
	case object.ObjectDeltaOFS:
		base, ok := byOffset[e.DeltaBaseOffset]
		if !ok {
			return nil, ginternals.NewError(ginternals.KindCorrupt, "ofs-delta base not found earlier in stream", nil)
		}
		delta := object.New(hash, object.ObjectDeltaOFS, e.Content)
		return ApplyDelta(base, delta)
	case object.ObjectDeltaRef:
		base, err := resolveRefDeltaBase(e, byOffset, resolveBase)
		if err != nil {
			return nil, err
		}
		delta := object.New(hash, object.ObjectDeltaRef, e.Content)
		return ApplyDelta(base, delta)
	default:
		return object.New(hash, e.Type, e.Content), nil
	}
}

func resolveRefDeltaBase(e StreamEntry, byOffset map[uint64]*object.Object, resolveBase BaseResolver) (*object.Object, error) {
	for _, obj := range byOffset {
		if bytes.Equal(obj.ID().Bytes(), e.DeltaBaseOid.Bytes()) {
			return obj, nil
		}
	}
	if resolveBase == nil {
		return nil, ginternals.NewError(ginternals.KindNotFound, "ref-delta base not in stream and no resolver given", nil)
	}
	base, err := resolveBase(e.DeltaBaseOid)
	if err != nil {
		return nil, ginternals.NewError(ginternals.KindNotFound, "ref-delta base not found", err)
	}
	return base, nil
}
