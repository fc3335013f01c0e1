package protocol_test

import (
	"bytes"
	"testing"

	"github.com/gitkit-go/gitkit/pktline"
	"github.com/gitkit-go/gitkit/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDemuxSidebandSplitsBands(t *testing.T) {
	t.Parallel()

	var wire bytes.Buffer
	w := pktline.NewWriter(&wire)
	require.NoError(t, w.WriteData(append([]byte{1}, []byte("PACK-bytes-1")...)))
	require.NoError(t, w.WriteData(append([]byte{2}, []byte("progress text")...)))
	require.NoError(t, w.WriteData(append([]byte{1}, []byte("-more-pack")...)))
	require.NoError(t, w.WriteFlush())

	var progress []string
	var pack bytes.Buffer
	pr := pktline.NewReader(&wire)
	err := protocol.DemuxSideband(pr, &pack, func(s string) { progress = append(progress, s) })
	require.NoError(t, err)

	assert.Equal(t, "PACK-bytes-1-more-pack", pack.String())
	assert.Equal(t, []string{"progress text"}, progress)
}

func TestDemuxSidebandStopsOnErrorBand(t *testing.T) {
	t.Parallel()

	var wire bytes.Buffer
	w := pktline.NewWriter(&wire)
	require.NoError(t, w.WriteData(append([]byte{3}, []byte("remote went away")...)))
	require.NoError(t, w.WriteFlush())

	var pack bytes.Buffer
	pr := pktline.NewReader(&wire)
	err := protocol.DemuxSideband(pr, &pack, nil)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "remote went away")
}

func TestCopyPlainCopiesVerbatim(t *testing.T) {
	t.Parallel()

	var pack bytes.Buffer
	require.NoError(t, protocol.CopyPlain(bytes.NewReader([]byte("raw pack bytes")), &pack))
	assert.Equal(t, "raw pack bytes", pack.String())
}
