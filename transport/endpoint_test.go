package transport_test

import (
	"testing"

	"github.com/gitkit-go/gitkit/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEndpointScpLike(t *testing.T) {
	t.Parallel()

	e, err := transport.ParseEndpoint("git@example.com:org/repo.git")
	require.NoError(t, err)
	assert.Equal(t, "ssh", e.Scheme)
	assert.Equal(t, "git", e.User)
	assert.Equal(t, "example.com", e.Host)
	assert.Equal(t, "org/repo.git", e.Path)
}

func TestParseEndpointScpLikeWithPort(t *testing.T) {
	t.Parallel()

	e, err := transport.ParseEndpoint("git@example.com:2222:org/repo.git")
	require.NoError(t, err)
	assert.Equal(t, "ssh", e.Scheme)
	assert.Equal(t, 2222, e.Port)
	assert.Equal(t, "org/repo.git", e.Path)
}

func TestParseEndpointHTTPS(t *testing.T) {
	t.Parallel()

	e, err := transport.ParseEndpoint("https://example.com/org/repo.git")
	require.NoError(t, err)
	assert.Equal(t, "https", e.Scheme)
	assert.Equal(t, "example.com", e.Host)
	assert.Equal(t, "/org/repo.git", e.Path)
}

func TestParseEndpointSSHURL(t *testing.T) {
	t.Parallel()

	e, err := transport.ParseEndpoint("ssh://git@example.com:2222/org/repo.git")
	require.NoError(t, err)
	assert.Equal(t, "ssh", e.Scheme)
	assert.Equal(t, "git", e.User)
	assert.Equal(t, 2222, e.Port)
	assert.Equal(t, "/org/repo.git", e.Path)
}

func TestParseEndpointRejectsSchemelessNonScp(t *testing.T) {
	t.Parallel()

	_, err := transport.ParseEndpoint("not a url at all !!")
	assert.Error(t, err)
}

func TestParseEndpointHostPortDefaultsByScheme(t *testing.T) {
	t.Parallel()

	e, err := transport.ParseEndpoint("https://example.com/org/repo.git")
	require.NoError(t, err)
	host, port := e.HostPort()
	assert.Equal(t, "example.com", host)
	assert.Equal(t, 443, port)
}
