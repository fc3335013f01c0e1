package protocol

import (
	"bytes"
	"context"
	"strings"

	"github.com/gitkit-go/gitkit/ginternals"
	"github.com/gitkit-go/gitkit/ginternals/githash"
	"github.com/gitkit-go/gitkit/pktline"
	"github.com/gitkit-go/gitkit/transport"
)

// RefUpdate is one "<old> <new> <refname>" push command. A zero Old
// oid creates the ref; a zero New oid deletes it. Force is carried
// separately rather than folded into the wire "+refname" shorthand,
// since callers building a request already know whether the update
// is a fast-forward from the same merge-base check that produced Old.
type RefUpdate struct {
	Old   githash.Oid
	New   githash.Oid
	Name  string
	Force bool
}

// line renders the update's wire form. Force has no effect on the
// command line itself (that's a ref-spec-level shorthand for local
// push commands, not part of the receive-pack protocol data); it's
// exposed on RefUpdate purely for callers that want to decide whether
// to send the update at all after a non-fast-forward check.
func (u RefUpdate) line() string {
	return u.Old.String() + " " + u.New.String() + " " + u.Name
}

// PushRequest describes a complete receive-pack session: the ref
// updates to apply and the pack containing every object they
// introduce.
type PushRequest struct {
	Updates      []RefUpdate
	Pack         []byte
	Capabilities *Capabilities
}

// RefUpdateStatus is one "ok <ref>" / "ng <ref> <reason>" line from a
// report-status reply.
type RefUpdateStatus struct {
	Name   string
	OK     bool
	Reason string // set when OK is false
}

// PushResult is the outcome of a receive-pack session.
type PushResult struct {
	UnpackOK     bool
	UnpackError  string // set when UnpackOK is false
	RefStatuses  []RefUpdateStatus
	Capabilities *Capabilities
}

// Err returns a KindPushRejected error naming every ref that failed,
// or nil if the unpack succeeded and every ref update was accepted.
func (r *PushResult) Err() error {
	if !r.UnpackOK {
		return ginternals.NewError(ginternals.KindPushRejected, "unpack failed: "+r.UnpackError, nil)
	}
	var failed []string
	for _, s := range r.RefStatuses {
		if !s.OK {
			failed = append(failed, s.Name+": "+s.Reason)
		}
	}
	if len(failed) == 0 {
		return nil
	}
	return ginternals.NewError(ginternals.KindPushRejected, "ref update(s) rejected: "+strings.Join(failed, "; "), nil)
}

// ReceivePackV1 drives a complete v1 push: fetch the advertisement,
// intersect capabilities, send every update command followed by the
// pack, and parse the report-status reply.
//
// report-status is required: without it the server gives no
// structured feedback at all, just success-or-connection-drop, which
// ReceivePackV1 has no way to distinguish from "the server doesn't
// speak report-status" versus "every update actually failed". Callers
// that need to push against a server lacking the capability aren't
// served by this function.
func ReceivePackV1(ctx context.Context, tr transport.Transport, hash githash.Hash, req PushRequest) (*PushResult, error) {
	advReader, err := tr.AdvertiseRefs(ctx, transport.ServiceReceivePack)
	if err != nil {
		return nil, err
	}
	defer advReader.Close()

	adv, err := ParseAdvertisementV1(advReader, hash)
	if err != nil {
		return nil, err
	}
	caps := Intersect(req.Capabilities, adv.Capabilities)
	if !adv.Capabilities.Has("report-status") {
		return nil, ginternals.NewError(ginternals.KindMissingParameter, "remote does not support report-status", nil)
	}
	caps.SetBare("report-status")

	if len(req.Updates) == 0 {
		return nil, ginternals.NewError(ginternals.KindMissingParameter, "receive-pack requires at least one ref update", nil)
	}

	var buf bytes.Buffer
	w := pktline.NewWriter(&buf)
	for i, u := range req.Updates {
		line := u.line()
		if i == 0 {
			line += "\x00" + caps.String()
		}
		if err := w.WriteData([]byte(line + "\n")); err != nil {
			return nil, err
		}
	}
	if err := w.WriteFlush(); err != nil {
		return nil, err
	}
	if _, err := buf.Write(req.Pack); err != nil {
		return nil, ginternals.NewError(ginternals.KindInternal, "writing push pack bytes", err)
	}

	respReader, err := tr.ReceivePack(ctx, &buf)
	if err != nil {
		return nil, err
	}
	defer respReader.Close()

	var raw bytes.Buffer
	var onProgress func(string)
	pr := pktline.NewReader(respReader)
	if caps.Has("side-band-64k") || caps.Has("side-band") {
		if err := DemuxSideband(pr, &raw, onProgress); err != nil {
			return nil, err
		}
	} else if err := CopyPlain(pr.Underlying(), &raw); err != nil {
		return nil, err
	}

	result, err := parseReportStatus(raw.Bytes())
	if err != nil {
		return nil, err
	}
	result.Capabilities = caps
	return result, nil
}

// parseReportStatus decodes a report-status reply, itself framed as
// its own independent sequence of pkt-lines: "unpack ok" or
// "unpack <error>", then one "ok <ref>"/"ng <ref> <reason>" line per
// update, terminated by a flush.
func parseReportStatus(raw []byte) (*PushResult, error) {
	pr := pktline.NewReader(bytes.NewReader(raw))
	result := &PushResult{}

	frame, err := pr.ReadFrame()
	if err != nil {
		return nil, ginternals.NewError(ginternals.KindCorrupt, "reading unpack status", err)
	}
	if frame.Type != pktline.Data {
		return nil, ginternals.NewError(ginternals.KindCorrupt, "report-status reply missing unpack status", nil)
	}
	unpackLine := strings.TrimSuffix(string(frame.Payload), "\n")
	switch {
	case unpackLine == "unpack ok":
		result.UnpackOK = true
	case strings.HasPrefix(unpackLine, "unpack "):
		result.UnpackError = strings.TrimPrefix(unpackLine, "unpack ")
	default:
		return nil, ginternals.NewError(ginternals.KindCorrupt, "malformed unpack status: "+unpackLine, nil)
	}

	for {
		frame, err := pr.ReadFrame()
		if err != nil {
			return nil, ginternals.NewError(ginternals.KindCorrupt, "reading ref status", err)
		}
		if frame.Type != pktline.Data {
			break
		}
		line := strings.TrimSuffix(string(frame.Payload), "\n")
		switch {
		case strings.HasPrefix(line, "ok "):
			result.RefStatuses = append(result.RefStatuses, RefUpdateStatus{
				Name: strings.TrimPrefix(line, "ok "),
				OK:   true,
			})
		case strings.HasPrefix(line, "ng "):
			rest := strings.TrimPrefix(line, "ng ")
			name, reason, _ := strings.Cut(rest, " ")
			result.RefStatuses = append(result.RefStatuses, RefUpdateStatus{
				Name:   name,
				OK:     false,
				Reason: reason,
			})
		default:
			return nil, ginternals.NewError(ginternals.KindCorrupt, "malformed ref status: "+line, nil)
		}
	}
	return result, nil
}
