package pktline_test

import (
	"bytes"
	"strings"
	"testing"

	"github.com/gitkit-go/gitkit/pktline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteReadData(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	w := pktline.NewWriter(&buf)
	require.NoError(t, w.WriteData([]byte("want deadbeef\n")))
	require.NoError(t, w.WriteFlush())

	r := pktline.NewReader(&buf)
	f, err := r.ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, pktline.Data, f.Type)
	assert.Equal(t, "want deadbeef\n", string(f.Payload))

	f, err = r.ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, pktline.Flush, f.Type)
}

func TestReadDelim(t *testing.T) {
	t.Parallel()

	r := pktline.NewReader(strings.NewReader("0001"))
	f, err := r.ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, pktline.Delim, f.Type)
}

func TestReadEnd(t *testing.T) {
	t.Parallel()

	r := pktline.NewReader(strings.NewReader(""))
	f, err := r.ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, pktline.End, f.Type)
}

func TestWritePayloadTooLarge(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	w := pktline.NewWriter(&buf)
	err := w.WriteData(make([]byte, pktline.MaxPayloadSize+1))
	assert.ErrorIs(t, err, pktline.ErrPayloadTooLarge)
}

func TestKnownEncoding(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	w := pktline.NewWriter(&buf)
	require.NoError(t, w.WriteData([]byte("a\n")))
	assert.Equal(t, "0006a\n", buf.String())
}
