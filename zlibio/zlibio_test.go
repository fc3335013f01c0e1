package zlibio_test

import (
	"bytes"
	"io"
	"testing"

	"github.com/gitkit-go/gitkit/zlibio"
	"github.com/stretchr/testify/require"
)

func TestRoundTrip(t *testing.T) {
	t.Parallel()

	content := []byte("the quick brown fox jumps over the lazy dog")

	var buf bytes.Buffer
	w := zlibio.NewWriter(&buf)
	_, err := w.Write(content)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	r, err := zlibio.NewReader(&buf)
	require.NoError(t, err)
	defer r.Close()

	got, err := io.ReadAll(r)
	require.NoError(t, err)
	require.Equal(t, content, got)
}

func TestPooledWriter(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	w := zlibio.GetWriter(&buf)
	_, err := w.Write([]byte("pooled"))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	zlibio.PutWriter(w)

	r, err := zlibio.NewReader(&buf)
	require.NoError(t, err)
	defer r.Close()
	got, err := io.ReadAll(r)
	require.NoError(t, err)
	require.Equal(t, "pooled", string(got))
}
