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

func TestReceivePackV1EndToEnd(t *testing.T) {
	t.Parallel()

	oldOid := githash.SHA1.Sum([]byte("old-commit"))
	newOid := githash.SHA1.Sum([]byte("new-commit"))

	var gotBody []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && strings.HasSuffix(r.URL.Path, "/info/refs"):
			w.Header().Set("Content-Type", "application/x-git-receive-pack-advertisement")
			adv := pktLine(oldOid.String()+" refs/heads/main\x00report-status\n") + "0000"
			_, _ = io.WriteString(w, adv)
		case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/git-receive-pack"):
			body, _ := io.ReadAll(r.Body)
			gotBody = body
			w.Header().Set("Content-Type", "application/x-git-receive-pack-result")
			resp := pktLine("unpack ok\n") + pktLine("ok refs/heads/main\n") + "0000"
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

	result, err := protocol.ReceivePackV1(context.Background(), tr, githash.SHA1, protocol.PushRequest{
		Updates: []protocol.RefUpdate{
			{Old: oldOid, New: newOid, Name: "refs/heads/main"},
		},
		Pack:         []byte("fake-pack-bytes"),
		Capabilities: protocol.NewCapabilities(),
	})
	require.NoError(t, err)

	assert.True(t, result.UnpackOK)
	require.Len(t, result.RefStatuses, 1)
	assert.True(t, result.RefStatuses[0].OK)
	assert.Equal(t, "refs/heads/main", result.RefStatuses[0].Name)
	assert.NoError(t, result.Err())

	assert.Contains(t, string(gotBody), oldOid.String()+" "+newOid.String()+" refs/heads/main\x00report-status\n")
	assert.Contains(t, string(gotBody), "fake-pack-bytes")
}

func TestReceivePackV1RejectsWithoutReportStatus(t *testing.T) {
	t.Parallel()

	oldOid := githash.SHA1.Sum([]byte("old-commit"))
	newOid := githash.SHA1.Sum([]byte("new-commit"))

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/x-git-receive-pack-advertisement")
		adv := pktLine(oldOid.String()+" refs/heads/main\x00ofs-delta\n") + "0000"
		_, _ = io.WriteString(w, adv)
	}))
	defer server.Close()

	tr, err := transport.New(context.Background(), server.URL+"/org/repo.git", transport.Options{
		HTTPDoer: server.Client(),
	})
	require.NoError(t, err)
	defer tr.Close()

	_, err = protocol.ReceivePackV1(context.Background(), tr, githash.SHA1, protocol.PushRequest{
		Updates:      []protocol.RefUpdate{{Old: oldOid, New: newOid, Name: "refs/heads/main"}},
		Capabilities: protocol.NewCapabilities(),
	})
	assert.Error(t, err)
}

func TestPushResultErrReportsRejectedRefs(t *testing.T) {
	t.Parallel()

	result := &protocol.PushResult{
		UnpackOK: true,
		RefStatuses: []protocol.RefUpdateStatus{
			{Name: "refs/heads/main", OK: true},
			{Name: "refs/heads/dev", OK: false, Reason: "non-fast-forward"},
		},
	}
	err := result.Err()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "refs/heads/dev")
	assert.Contains(t, err.Error(), "non-fast-forward")
}
