package protocol

import (
	"io"

	"github.com/gitkit-go/gitkit/ginternals"
	"github.com/gitkit-go/gitkit/pktline"
)

// Side-band channel numbers: band 1 carries pack bytes, band 2 carries
// progress text meant for the user, band 3 carries a fatal error that
// aborts the transfer.
const (
	bandPack     = 1
	bandProgress = 2
	bandError    = 3
)

// DemuxSideband reads pktline frames from pr, each prefixed with a
// one-byte band number, until a flush or clean end of stream. Pack
// bytes (band 1) are written to pack; progress text (band 2) is
// reported through onProgress, if non-nil; an error on band 3 aborts
// the demux immediately.
//
// pr is a *pktline.Reader, not a raw io.Reader, so callers that
// already parsed preceding framed lines (ACK/NAK, a v2 section header)
// off the same connection can hand over the very same Reader instance
// instead of wrapping the connection a second time and losing whatever
// that Reader's own buffering already read ahead.
func DemuxSideband(pr *pktline.Reader, pack io.Writer, onProgress func(string)) error {
	for {
		frame, err := pr.ReadFrame()
		if err != nil {
			return ginternals.NewError(ginternals.KindCorrupt, "side-band demux failed", err)
		}
		switch frame.Type {
		case pktline.Flush, pktline.End:
			return nil
		case pktline.Delim:
			continue
		}
		if len(frame.Payload) == 0 {
			continue
		}
		band, payload := frame.Payload[0], frame.Payload[1:]
		switch band {
		case bandPack:
			if _, err := pack.Write(payload); err != nil {
				return ginternals.NewError(ginternals.KindInternal, "writing demuxed pack bytes", err)
			}
		case bandProgress:
			if onProgress != nil {
				onProgress(string(payload))
			}
		case bandError:
			return ginternals.NewError(ginternals.KindInternal, "remote reported error: "+string(payload), nil)
		default:
			// Not one of the three bands the protocol defines; ignore
			// rather than fail the whole transfer over it.
		}
	}
}

// CopyPlain copies r to pack verbatim, for when side-band wasn't
// negotiated and the server's response is the pack stream directly
// (after any leading ACK/NAK lines have already been consumed).
func CopyPlain(r io.Reader, pack io.Writer) error {
	if _, err := io.Copy(pack, r); err != nil {
		return ginternals.NewError(ginternals.KindInternal, "copying pack bytes", err)
	}
	return nil
}
