package transport_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gitkit-go/gitkit/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPTransportAdvertiseRefsAndUploadPack(t *testing.T) {
	t.Parallel()

	var gotPath, gotQuery, gotProtocolHeader string
	var postBody []byte

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && strings.HasSuffix(r.URL.Path, "/info/refs"):
			gotPath = r.URL.Path
			gotQuery = r.URL.RawQuery
			gotProtocolHeader = r.Header.Get("Git-Protocol")
			w.Header().Set("Content-Type", "application/x-git-upload-pack-advertisement")
			_, _ = io.WriteString(w, "001e# service=git-upload-pack\n0000")
		case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/git-upload-pack"):
			body, _ := io.ReadAll(r.Body)
			postBody = body
			w.Header().Set("Content-Type", "application/x-git-upload-pack-result")
			_, _ = io.WriteString(w, "0008NAK\n")
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	tr, err := transport.New(context.Background(), server.URL+"/org/repo.git", transport.Options{
		HTTPDoer: server.Client(),
	})
	require.NoError(t, err)
	defer tr.Close()

	adv, err := tr.AdvertiseRefs(context.Background(), transport.ServiceUploadPack)
	require.NoError(t, err)
	advBytes, err := io.ReadAll(adv)
	require.NoError(t, err)
	adv.Close()

	assert.Equal(t, "/org/repo.git/info/refs", gotPath)
	assert.Equal(t, "service=git-upload-pack", gotQuery)
	assert.Equal(t, "version=2", gotProtocolHeader)
	assert.Contains(t, string(advBytes), "service=git-upload-pack")

	resp, err := tr.UploadPack(context.Background(), strings.NewReader("0032want deadbeef\n00000009done\n"))
	require.NoError(t, err)
	respBytes, err := io.ReadAll(resp)
	require.NoError(t, err)
	resp.Close()

	assert.Equal(t, "0032want deadbeef\n00000009done\n", string(postBody))
	assert.Contains(t, string(respBytes), "NAK")
}

func TestHTTPTransportSurfacesNonOKStatus(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	tr, err := transport.New(context.Background(), server.URL+"/org/repo.git", transport.Options{
		HTTPDoer: server.Client(),
	})
	require.NoError(t, err)
	defer tr.Close()

	_, err = tr.AdvertiseRefs(context.Background(), transport.ServiceUploadPack)
	assert.Error(t, err)
}
