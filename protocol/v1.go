package protocol

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/gitkit-go/gitkit/ginternals"
	"github.com/gitkit-go/gitkit/ginternals/githash"
	"github.com/gitkit-go/gitkit/pktline"
	"github.com/gitkit-go/gitkit/transport"
)

// AdvertisedRef is one ref line from an upload-pack or receive-pack
// advertisement.
type AdvertisedRef struct {
	Name   string
	Oid    githash.Oid
	Peeled githash.Oid // set for "name^{}" peel lines, zero otherwise
}

// Advertisement is a parsed v1 ref advertisement: the refs on offer
// and the capabilities the server stated alongside them.
type Advertisement struct {
	Refs         []AdvertisedRef
	Capabilities *Capabilities
}

// ParseAdvertisementV1 reads a v1 ref advertisement: "<oid> <refname>"
// lines (the first one followed by a NUL and the server's capability
// list), terminated by a flush.
func ParseAdvertisementV1(r io.Reader, hash githash.Hash) (*Advertisement, error) {
	pr := pktline.NewReader(r)
	adv := &Advertisement{Capabilities: NewCapabilities()}

	first := true
	for {
		frame, err := pr.ReadFrame()
		if err != nil {
			return nil, ginternals.NewError(ginternals.KindCorrupt, "reading ref advertisement", err)
		}
		if frame.Type != pktline.Data {
			break
		}
		line := strings.TrimSuffix(string(frame.Payload), "\n")
		if line == "" {
			continue
		}
		// Some servers prefix the advertisement with a "# service=..."
		// comment line (smart-HTTP discovery); skip it.
		if strings.HasPrefix(line, "#") {
			continue
		}
		if first {
			first = false
			if rest, caps, ok := strings.Cut(line, "\x00"); ok {
				line = rest
				adv.Capabilities = ParseCapabilities(caps)
			}
		}
		oidHex, name, ok := strings.Cut(line, " ")
		if !ok {
			return nil, ginternals.NewError(ginternals.KindCorrupt, "malformed ref advertisement line: "+line, nil)
		}
		oid, err := hash.NewOidFromHex(oidHex)
		if err != nil {
			return nil, ginternals.NewError(ginternals.KindCorrupt, "malformed ref oid in advertisement", err)
		}
		if base, peeled := strings.CutSuffix(name, "^{}"); peeled {
			for i := range adv.Refs {
				if adv.Refs[i].Name == base {
					adv.Refs[i].Peeled = oid
				}
			}
			continue
		}
		adv.Refs = append(adv.Refs, AdvertisedRef{Name: name, Oid: oid})
	}
	return adv, nil
}

// FetchV1Request describes a v1 upload-pack negotiation.
type FetchV1Request struct {
	Wants        []githash.Oid
	Haves        []githash.Oid
	Capabilities *Capabilities // capabilities the client supports
}

// FetchV1Result is the outcome of a v1 upload-pack session: the raw
// pack bytes (already demultiplexed from side-band, if that capability
// was negotiated) and the capability set both sides agreed on.
type FetchV1Result struct {
	Pack         []byte
	Capabilities *Capabilities
}

// UploadPackV1 drives a complete v1 fetch negotiation over tr: fetch
// the advertisement, intersect capabilities, send one want/have/done
// round, and read back the resulting pack.
//
// Negotiation is collapsed to a single round: every requested have is
// sent up front, immediately followed by "done", rather than trickling
// haves across several ACK/continue round trips. A server MUST accept
// this (a client is always allowed to front-load every have it knows
// and declare itself done), and it sidesteps needing a stateful,
// multi-request negotiation loop against transports (plain HTTP in
// particular) that don't keep a session open between calls.
func UploadPackV1(ctx context.Context, tr transport.Transport, hash githash.Hash, req FetchV1Request, onProgress func(string)) (*FetchV1Result, error) {
	advReader, err := tr.AdvertiseRefs(ctx, transport.ServiceUploadPack)
	if err != nil {
		return nil, err
	}
	defer advReader.Close()

	adv, err := ParseAdvertisementV1(advReader, hash)
	if err != nil {
		return nil, err
	}

	caps := Intersect(req.Capabilities, adv.Capabilities)

	var buf bytes.Buffer
	w := pktline.NewWriter(&buf)
	if len(req.Wants) == 0 {
		return nil, ginternals.NewError(ginternals.KindMissingParameter, "upload-pack requires at least one want", nil)
	}
	for i, oid := range req.Wants {
		line := fmt.Sprintf("want %s", oid.String())
		if i == 0 {
			line += " " + caps.String()
		}
		if err := w.WriteData([]byte(line + "\n")); err != nil {
			return nil, err
		}
	}
	if err := w.WriteFlush(); err != nil {
		return nil, err
	}
	for _, oid := range req.Haves {
		if err := w.WriteData([]byte("have " + oid.String() + "\n")); err != nil {
			return nil, err
		}
	}
	if err := w.WriteData([]byte("done\n")); err != nil {
		return nil, err
	}

	respReader, err := tr.UploadPack(ctx, &buf)
	if err != nil {
		return nil, err
	}
	defer respReader.Close()

	// One Reader for the whole response: the ACK/NAK lines and
	// whatever follows share a single buffered stream, and the
	// transition from framed lines to (possibly unframed) pack bytes
	// happens with no marker of its own.
	pr := pktline.NewReader(respReader)
	if err := consumeAckNak(pr); err != nil {
		return nil, err
	}

	var pack bytes.Buffer
	if caps.Has("side-band") || caps.Has("side-band-64k") {
		if err := DemuxSideband(pr, &pack, onProgress); err != nil {
			return nil, err
		}
	} else if err := CopyPlain(pr.Underlying(), &pack); err != nil {
		return nil, err
	}

	return &FetchV1Result{Pack: pack.Bytes(), Capabilities: caps}, nil
}

// consumeAckNak reads and discards the ACK/NAK lines that precede the
// pack in a v1 response. With the single-round negotiation above, the
// server emits exactly one pkt-line sequence ending in the final
// ACK/NAK before switching to pack (or side-band-framed pack) bytes.
func consumeAckNak(pr *pktline.Reader) error {
	for {
		frame, err := pr.ReadFrame()
		if err != nil {
			return ginternals.NewError(ginternals.KindCorrupt, "reading ACK/NAK", err)
		}
		if frame.Type != pktline.Data {
			return ginternals.NewError(ginternals.KindCorrupt, "upload-pack response ended before any ACK/NAK", nil)
		}
		line := strings.TrimSuffix(string(frame.Payload), "\n")
		fields := strings.Fields(line)
		switch {
		case line == "NAK":
			return nil
		case len(fields) >= 1 && fields[0] == "ACK":
			// "ACK <oid> common"/"continue" lines only appear in
			// multi_ack(-detailed) mode and aren't final; a bare
			// "ACK <oid>" or an explicit "ready" always is, since the
			// client already sent "done".
			if len(fields) >= 3 && (fields[2] == "common" || fields[2] == "continue") {
				continue
			}
			return nil
		default:
			return ginternals.NewError(ginternals.KindCorrupt, "unexpected line in upload-pack response: "+line, nil)
		}
	}
}
