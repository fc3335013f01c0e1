// Package transport opens the byte-level session a remote speaks
// git's smart protocol over: HTTP(S), SSH, or the plain "git" daemon
// protocol, dispatched by URL scheme. It hands the protocol engine
// (the layer above) a pair of pkt-line-framed streams and does not
// itself understand upload-pack/receive-pack semantics.
package transport

import (
	"context"
	"io"

	"github.com/gitkit-go/gitkit/ginternals"
)

// Service names the remote-side program a session talks to, exactly
// as they appear in the smart-HTTP "service=" query parameter and as
// the command an SSH/git session execs.
type Service string

const (
	ServiceUploadPack  Service = "git-upload-pack"
	ServiceReceivePack Service = "git-receive-pack"
)

// Transport is one session against a single remote endpoint. A new
// Transport is opened per logical operation (a fetch, a push), the
// same way the git CLI spawns one client process per invocation.
type Transport interface {
	// AdvertiseRefs opens service and returns the pkt-line-framed ref
	// advertisement the server sends first (capabilities included).
	AdvertiseRefs(ctx context.Context, service Service) (io.ReadCloser, error)

	// UploadPack sends the negotiation request body (want/have lines,
	// pkt-line framed) following a prior AdvertiseRefs(ServiceUploadPack)
	// call, and returns the server's pack / side-band response stream.
	UploadPack(ctx context.Context, req io.Reader) (io.ReadCloser, error)

	// ReceivePack sends the ref-update-commands-plus-pack body
	// following a prior AdvertiseRefs(ServiceReceivePack) call, and
	// returns the server's report-status response stream.
	ReceivePack(ctx context.Context, req io.Reader) (io.ReadCloser, error)

	// Close releases any held connection. Safe to call more than once.
	Close() error
}

// Options configures transport construction across all schemes.
// Zero value is usable: defaults to a proxy-aware net/http client,
// ssh-agent authentication, and no extra headers.
type Options struct {
	// HTTPDoer is the injected HTTP contract: Do is satisfiable by
	// *http.Client or any caller-supplied round-tripper (auth, mocking,
	// custom proxying).
	HTTPDoer HTTPDoer

	// ProtocolVersion selects the Git-Protocol header sent with HTTP
	// requests and the GIT_PROTOCOL variable set on SSH sessions; 1 or
	// 2. 0 means "use the engine default" (protocol v2). The git://
	// transport sends no protocol version.
	ProtocolVersion int

	// InsecureSkipTLSVerify disables certificate verification for the
	// https scheme. Never the default.
	InsecureSkipTLSVerify bool

	// SSHAuth supplies authentication methods for the ssh scheme. A
	// nil value falls back to ssh-agent (via SSH_AUTH_SOCK); identity
	// files under ~/.ssh are not read.
	SSHAuth []SSHAuthMethod

	// SSHHostKeyCallback verifies the remote host key. A nil value
	// falls back to ~/.ssh/known_hosts; when that file cannot be
	// loaded, host keys are not verified.
	SSHHostKeyCallback SSHHostKeyCallback
}

// New opens a Transport for raw, dispatching on its URL scheme.
func New(ctx context.Context, raw string, opts Options) (Transport, error) {
	endpoint, err := ParseEndpoint(raw)
	if err != nil {
		return nil, err
	}
	return NewForEndpoint(ctx, endpoint, opts)
}

// NewForEndpoint opens a Transport for an already-parsed Endpoint.
func NewForEndpoint(ctx context.Context, endpoint *Endpoint, opts Options) (Transport, error) {
	switch endpoint.Scheme {
	case "http", "https":
		return newHTTPTransport(endpoint, opts), nil
	case "ssh":
		return newSSHTransport(ctx, endpoint, opts)
	case "git":
		return newGitTransport(ctx, endpoint, opts)
	default:
		return nil, ginternals.NewError(ginternals.KindUnknownTransport, "unsupported remote scheme: "+endpoint.Scheme, nil)
	}
}
