package protocol_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gitkit-go/gitkit/ginternals/githash"
	"github.com/gitkit-go/gitkit/protocol"
	"github.com/gitkit-go/gitkit/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAdvertisementV2(t *testing.T) {
	t.Parallel()

	body := pktLine("version 2\n") +
		pktLine("ls-refs\n") +
		pktLine("fetch=shallow wait-for-done\n") +
		pktLine("agent=origin/2.0\n") +
		"0000"

	caps, err := protocol.ParseAdvertisementV2(strings.NewReader(body))
	require.NoError(t, err)

	assert.True(t, caps.Has("ls-refs"))
	v, ok := caps.Value("fetch")
	assert.True(t, ok)
	assert.Equal(t, "shallow wait-for-done", v)
	agent, ok := caps.Value("agent")
	assert.True(t, ok)
	assert.Equal(t, "origin/2.0", agent)
}

func TestLsRefsV2EndToEnd(t *testing.T) {
	t.Parallel()

	oid := githash.SHA1.Sum([]byte("main-commit"))

	var gotBody []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && strings.HasSuffix(r.URL.Path, "/info/refs"):
			w.Header().Set("Content-Type", "application/x-git-upload-pack-advertisement")
			_, _ = io.WriteString(w, pktLine("version 2\n")+pktLine("ls-refs\n")+"0000")
		case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/git-upload-pack"):
			body, _ := io.ReadAll(r.Body)
			gotBody = body
			w.Header().Set("Content-Type", "application/x-git-upload-pack-result")
			resp := pktLine(oid.String()+" refs/heads/main\n") + "0000"
			_, _ = io.WriteString(w, resp)
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

	refs, err := protocol.LsRefsV2(context.Background(), tr, githash.SHA1, protocol.LsRefsOptions{
		Refs:            []string{"refs/heads/"},
		SymrefsRequired: true,
	})
	require.NoError(t, err)
	require.Len(t, refs, 1)
	assert.Equal(t, "refs/heads/main", refs[0].Name)
	assert.Equal(t, oid.String(), refs[0].Oid.String())

	assert.Contains(t, string(gotBody), "command=ls-refs\n")
	assert.Contains(t, string(gotBody), "symrefs\n")
	assert.Contains(t, string(gotBody), "ref-prefix refs/heads/\n")
}

func TestFetchV2EndToEnd(t *testing.T) {
	t.Parallel()

	wantOid := githash.SHA1.Sum([]byte("wanted-commit"))

	var gotBody []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && strings.HasSuffix(r.URL.Path, "/info/refs"):
			w.Header().Set("Content-Type", "application/x-git-upload-pack-advertisement")
			_, _ = io.WriteString(w, pktLine("version 2\n")+pktLine("fetch\n")+"0000")
		case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/git-upload-pack"):
			body, _ := io.ReadAll(r.Body)
			gotBody = body
			w.Header().Set("Content-Type", "application/x-git-upload-pack-result")
			var resp strings.Builder
			resp.WriteString(pktLine("acknowledgments\n"))
			resp.WriteString(pktLine("NAK\n"))
			resp.WriteString(pktLine("packfile\n"))
			resp.WriteString(pktLine("pack-bytes-here"))
			resp.WriteString("0000")
			_, _ = io.WriteString(w, resp.String())
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

	result, err := protocol.FetchV2(context.Background(), tr, githash.SHA1, protocol.FetchV2Request{
		Wants:        []githash.Oid{wantOid},
		Capabilities: protocol.NewCapabilities(),
	}, nil)
	require.NoError(t, err)

	assert.True(t, result.NAK)
	assert.Equal(t, "pack-bytes-here", string(result.Pack))
	assert.Contains(t, string(gotBody), "command=fetch\n")
	assert.Contains(t, string(gotBody), "want "+wantOid.String()+"\n")
	assert.Contains(t, string(gotBody), "done\n")
}
