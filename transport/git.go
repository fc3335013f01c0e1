package transport

import (
	"context"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"

	"github.com/gitkit-go/gitkit/ginternals"
	"github.com/gitkit-go/gitkit/pktline"
)

// gitTransport speaks the original anonymous "git://" daemon protocol:
// a single TCP connection carrying one pkt-line request line
// ("git-upload-pack path\0host=host\0") followed directly by the
// server's ref advertisement on the same stream, no separate
// discovery round trip.
type gitTransport struct {
	endpoint *Endpoint
	conn     net.Conn

	mu     sync.Mutex
	stdout io.Reader
}

func newGitTransport(ctx context.Context, endpoint *Endpoint, opts Options) (*gitTransport, error) {
	host, port := endpoint.HostPort()
	addr := net.JoinHostPort(host, strconv.Itoa(port))

	conn, err := newProxyDialer().DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, ginternals.NewError(ginternals.KindHTTP, "dialing git daemon "+addr, err)
	}
	return &gitTransport{endpoint: endpoint, conn: conn}, nil
}

func (t *gitTransport) AdvertiseRefs(ctx context.Context, service Service) (io.ReadCloser, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	w := pktline.NewWriter(t.conn)
	payload := fmt.Sprintf("%s %s\x00host=%s\x00", service, t.endpoint.Path, t.endpoint.Host)
	if err := w.WriteData([]byte(payload)); err != nil {
		return nil, ginternals.NewError(ginternals.KindHTTP, "sending git:// request line failed", err)
	}
	t.stdout = t.conn
	return io.NopCloser(t.conn), nil
}

func (t *gitTransport) roundTrip(req io.Reader) (io.ReadCloser, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.stdout == nil {
		return nil, ginternals.NewError(ginternals.KindInternal, "git transport: AdvertiseRefs must be called before sending a request", nil)
	}
	if _, err := io.Copy(t.conn, req); err != nil {
		return nil, ginternals.NewError(ginternals.KindHTTP, "writing request over git:// failed", err)
	}
	return io.NopCloser(t.conn), nil
}

func (t *gitTransport) UploadPack(ctx context.Context, req io.Reader) (io.ReadCloser, error) {
	return t.roundTrip(req)
}

func (t *gitTransport) ReceivePack(ctx context.Context, req io.Reader) (io.ReadCloser, error) {
	return t.roundTrip(req)
}

func (t *gitTransport) Close() error {
	return t.conn.Close()
}

var _ Transport = (*gitTransport)(nil)
