package protocol

import (
	"bytes"
	"context"
	"io"
	"strings"

	"github.com/gitkit-go/gitkit/ginternals"
	"github.com/gitkit-go/gitkit/ginternals/githash"
	"github.com/gitkit-go/gitkit/pktline"
	"github.com/gitkit-go/gitkit/transport"
)

// ParseAdvertisementV2 parses a v2 capability advertisement: a
// "version 2" line followed by one "<cap>[=<value>]" line per
// capability, then a flush. Unlike v1, the advertisement carries no
// refs at all — those are fetched separately via the ls-refs command.
func ParseAdvertisementV2(r io.Reader) (*Capabilities, error) {
	pr := pktline.NewReader(r)
	caps := NewCapabilities()
	for {
		frame, err := pr.ReadFrame()
		if err != nil {
			return nil, ginternals.NewError(ginternals.KindCorrupt, "reading v2 capability advertisement", err)
		}
		if frame.Type != pktline.Data {
			return caps, nil
		}
		line := strings.TrimSuffix(string(frame.Payload), "\n")
		if line == "" || line == "version 2" {
			continue
		}
		caps.add(line)
	}
}

// LsRefsOptions configures a v2 ls-refs command.
type LsRefsOptions struct {
	Refs            []string // ref prefixes to list; none means all
	SymrefsRequired bool
	PeelRequired    bool
}

// LsRefsV2 runs the v2 "ls-refs" command and returns the refs it
// reports.
func LsRefsV2(ctx context.Context, tr transport.Transport, hash githash.Hash, opts LsRefsOptions) ([]AdvertisedRef, error) {
	advReader, err := tr.AdvertiseRefs(ctx, transport.ServiceUploadPack)
	if err != nil {
		return nil, err
	}
	defer advReader.Close()
	if _, err := ParseAdvertisementV2(advReader); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	w := pktline.NewWriter(&buf)
	if err := w.WriteData([]byte("command=ls-refs\n")); err != nil {
		return nil, err
	}
	if err := w.WriteDelim(); err != nil {
		return nil, err
	}
	if opts.SymrefsRequired {
		if err := w.WriteData([]byte("symrefs\n")); err != nil {
			return nil, err
		}
	}
	if opts.PeelRequired {
		if err := w.WriteData([]byte("peel\n")); err != nil {
			return nil, err
		}
	}
	for _, ref := range opts.Refs {
		if err := w.WriteData([]byte("ref-prefix " + ref + "\n")); err != nil {
			return nil, err
		}
	}
	if err := w.WriteFlush(); err != nil {
		return nil, err
	}

	respReader, err := tr.UploadPack(ctx, &buf)
	if err != nil {
		return nil, err
	}
	defer respReader.Close()

	pr := pktline.NewReader(respReader)
	var refs []AdvertisedRef
	for {
		frame, err := pr.ReadFrame()
		if err != nil {
			return nil, ginternals.NewError(ginternals.KindCorrupt, "reading ls-refs response", err)
		}
		if frame.Type != pktline.Data {
			break
		}
		line := strings.TrimSuffix(string(frame.Payload), "\n")
		oidHex, rest, ok := strings.Cut(line, " ")
		if !ok {
			return nil, ginternals.NewError(ginternals.KindCorrupt, "malformed ls-refs line: "+line, nil)
		}
		name, attrs, _ := strings.Cut(rest, " ")
		oid, err := hash.NewOidFromHex(oidHex)
		if err != nil {
			return nil, ginternals.NewError(ginternals.KindCorrupt, "malformed ls-refs oid", err)
		}
		ref := AdvertisedRef{Name: name, Oid: oid}
		for _, attr := range strings.Fields(attrs) {
			if peeled, ok := strings.CutPrefix(attr, "peeled:"); ok {
				if p, err := hash.NewOidFromHex(peeled); err == nil {
					ref.Peeled = p
				}
			}
		}
		refs = append(refs, ref)
	}
	return refs, nil
}

// FetchV2Request describes a v2 "fetch" command.
type FetchV2Request struct {
	Wants        []githash.Oid
	Haves        []githash.Oid
	WantRefs     []string
	ThinPack     bool
	NoProgress   bool
	IncludeTag   bool
	OfsDelta     bool
	Filter       string
	Capabilities *Capabilities
}

// ShallowInfo is the v2 "shallow-info" response section.
type ShallowInfo struct {
	Shallow   []githash.Oid
	Unshallow []githash.Oid
}

// FetchV2Result is the outcome of a v2 fetch command.
type FetchV2Result struct {
	Ready        bool
	NAK          bool
	ACKs         []githash.Oid
	Shallow      ShallowInfo
	WantedRefs   []AdvertisedRef
	Pack         []byte
	Capabilities *Capabilities
}

// FetchV2 runs the v2 "fetch" command: a single command-request
// carrying every want/have plus "done" (the same single-round
// negotiation UploadPackV1 uses, for the same reason — see its doc
// comment), then parses the acknowledgments/shallow-info/wanted-refs/
// packfile response sections.
func FetchV2(ctx context.Context, tr transport.Transport, hash githash.Hash, req FetchV2Request, onProgress func(string)) (*FetchV2Result, error) {
	advReader, err := tr.AdvertiseRefs(ctx, transport.ServiceUploadPack)
	if err != nil {
		return nil, err
	}
	defer advReader.Close()
	serverCaps, err := ParseAdvertisementV2(advReader)
	if err != nil {
		return nil, err
	}
	caps := Intersect(req.Capabilities, serverCaps)

	var buf bytes.Buffer
	w := pktline.NewWriter(&buf)
	if err := w.WriteData([]byte("command=fetch\n")); err != nil {
		return nil, err
	}
	if agent, ok := caps.Value("agent"); ok {
		if err := w.WriteData([]byte("agent=" + agent + "\n")); err != nil {
			return nil, err
		}
	}
	if err := w.WriteDelim(); err != nil {
		return nil, err
	}

	writeArg := func(s string) error { return w.WriteData([]byte(s + "\n")) }
	if req.ThinPack {
		if err := writeArg("thin-pack"); err != nil {
			return nil, err
		}
	}
	if req.NoProgress {
		if err := writeArg("no-progress"); err != nil {
			return nil, err
		}
	}
	if req.IncludeTag {
		if err := writeArg("include-tag"); err != nil {
			return nil, err
		}
	}
	if req.OfsDelta {
		if err := writeArg("ofs-delta"); err != nil {
			return nil, err
		}
	}
	if req.Filter != "" {
		if err := writeArg("filter " + req.Filter); err != nil {
			return nil, err
		}
	}
	for _, ref := range req.WantRefs {
		if err := writeArg("want-ref " + ref); err != nil {
			return nil, err
		}
	}
	for _, oid := range req.Haves {
		if err := writeArg("have " + oid.String()); err != nil {
			return nil, err
		}
	}
	for _, oid := range req.Wants {
		if err := writeArg("want " + oid.String()); err != nil {
			return nil, err
		}
	}
	if err := writeArg("done"); err != nil {
		return nil, err
	}
	if err := w.WriteFlush(); err != nil {
		return nil, err
	}

	respReader, err := tr.UploadPack(ctx, &buf)
	if err != nil {
		return nil, err
	}
	defer respReader.Close()

	pr := pktline.NewReader(respReader)
	result := &FetchV2Result{Capabilities: caps}
	section := ""
	var pack bytes.Buffer
	for {
		frame, err := pr.ReadFrame()
		if err != nil {
			return nil, ginternals.NewError(ginternals.KindCorrupt, "reading fetch response", err)
		}
		if frame.Type == pktline.Flush || frame.Type == pktline.End {
			break
		}
		if frame.Type == pktline.Delim {
			continue
		}
		line := string(frame.Payload)
		trimmed := strings.TrimSuffix(line, "\n")
		switch trimmed {
		case "acknowledgments", "shallow-info", "wanted-refs", "packfile":
			section = trimmed
			continue
		}
		switch section {
		case "acknowledgments":
			switch {
			case trimmed == "NAK":
				result.NAK = true
			case trimmed == "ready":
				result.Ready = true
			case strings.HasPrefix(trimmed, "ACK "):
				if oid, err := hash.NewOidFromHex(strings.TrimPrefix(trimmed, "ACK ")); err == nil {
					result.ACKs = append(result.ACKs, oid)
				}
			}
		case "shallow-info":
			switch {
			case strings.HasPrefix(trimmed, "shallow "):
				if oid, err := hash.NewOidFromHex(strings.TrimPrefix(trimmed, "shallow ")); err == nil {
					result.Shallow.Shallow = append(result.Shallow.Shallow, oid)
				}
			case strings.HasPrefix(trimmed, "unshallow "):
				if oid, err := hash.NewOidFromHex(strings.TrimPrefix(trimmed, "unshallow ")); err == nil {
					result.Shallow.Unshallow = append(result.Shallow.Unshallow, oid)
				}
			}
		case "wanted-refs":
			if oidHex, name, ok := strings.Cut(trimmed, " "); ok {
				if oid, err := hash.NewOidFromHex(oidHex); err == nil {
					result.WantedRefs = append(result.WantedRefs, AdvertisedRef{Name: name, Oid: oid})
				}
			}
		case "packfile":
			if caps.Has("side-band-64k") || caps.Has("side-band") {
				band, payload := frame.Payload[0], frame.Payload[1:]
				switch band {
				case bandPack:
					pack.Write(payload) //nolint:errcheck
				case bandProgress:
					if onProgress != nil {
						onProgress(string(payload))
					}
				case bandError:
					return nil, ginternals.NewError(ginternals.KindInternal, "remote reported error: "+string(payload), nil)
				}
			} else {
				pack.Write(frame.Payload) //nolint:errcheck
			}
		}
	}
	result.Pack = pack.Bytes()
	return result, nil
}
