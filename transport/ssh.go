package transport

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/gitkit-go/gitkit/ginternals"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"
)

// SSHAuthMethod and SSHHostKeyCallback re-export golang.org/x/crypto/ssh's
// own types so callers configuring Options never need to import that
// package just to pass one through.
type (
	SSHAuthMethod      = ssh.AuthMethod
	SSHHostKeyCallback = ssh.HostKeyCallback
)

type sshTransport struct {
	endpoint *Endpoint
	client   *ssh.Client
	protocol int

	mu      sync.Mutex
	session *ssh.Session
	stdin   io.WriteCloser
	stdout  io.Reader
}

func defaultKnownHostsCallback() ssh.HostKeyCallback {
	home, err := os.UserHomeDir()
	if err != nil {
		return ssh.InsecureIgnoreHostKey()
	}
	cb, err := knownhosts.New(filepath.Join(home, ".ssh", "known_hosts"))
	if err != nil {
		return ssh.InsecureIgnoreHostKey()
	}
	return cb
}

func defaultSSHAuth() []ssh.AuthMethod {
	var methods []ssh.AuthMethod
	if sock := os.Getenv("SSH_AUTH_SOCK"); sock != "" {
		if conn, err := net.Dial("unix", sock); err == nil {
			methods = append(methods, ssh.PublicKeysCallback(agent.NewClient(conn).Signers))
		}
	}
	return methods
}

func newSSHTransport(ctx context.Context, endpoint *Endpoint, opts Options) (*sshTransport, error) {
	auth := opts.SSHAuth
	if auth == nil {
		auth = defaultSSHAuth()
	}
	hostKeyCallback := opts.SSHHostKeyCallback
	if hostKeyCallback == nil {
		hostKeyCallback = defaultKnownHostsCallback()
	}

	user := endpoint.User
	if user == "" {
		user = "git"
	}
	host, port := endpoint.HostPort()
	addr := net.JoinHostPort(host, strconv.Itoa(port))

	dialer := newProxyDialer()
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, ginternals.NewError(ginternals.KindHTTP, "dialing ssh remote "+addr, err)
	}

	clientConn, chans, reqs, err := ssh.NewClientConn(conn, addr, &ssh.ClientConfig{
		User:            user,
		Auth:            auth,
		HostKeyCallback: hostKeyCallback,
	})
	if err != nil {
		conn.Close()
		return nil, ginternals.NewError(ginternals.KindHTTP, "ssh handshake with "+addr+" failed", err)
	}

	protocol := opts.ProtocolVersion
	if protocol == 0 {
		protocol = 2
	}

	return &sshTransport{
		endpoint: endpoint,
		client:   ssh.NewClient(clientConn, chans, reqs),
		protocol: protocol,
	}, nil
}

// quotePath wraps path in single quotes for the remote shell, escaping
// any single quote it contains the standard POSIX way.
func quotePath(path string) string {
	return "'" + strings.ReplaceAll(path, "'", `'\''`) + "'"
}

func (t *sshTransport) openSession(service Service) (*ssh.Session, io.WriteCloser, io.Reader, error) {
	session, err := t.client.NewSession()
	if err != nil {
		return nil, nil, nil, ginternals.NewError(ginternals.KindHTTP, "opening ssh session failed", err)
	}
	if t.protocol == 2 {
		_ = session.Setenv("GIT_PROTOCOL", "version=2")
	}
	stdin, err := session.StdinPipe()
	if err != nil {
		session.Close()
		return nil, nil, nil, ginternals.NewError(ginternals.KindHTTP, "opening ssh stdin pipe failed", err)
	}
	stdout, err := session.StdoutPipe()
	if err != nil {
		session.Close()
		return nil, nil, nil, ginternals.NewError(ginternals.KindHTTP, "opening ssh stdout pipe failed", err)
	}
	session.Stderr = os.Stderr

	cmd := fmt.Sprintf("%s %s", service, quotePath(t.endpoint.Path))
	if err := session.Start(cmd); err != nil {
		session.Close()
		return nil, nil, nil, ginternals.NewError(ginternals.KindHTTP, "starting "+string(service)+" over ssh failed", err)
	}
	return session, stdin, stdout, nil
}

func (t *sshTransport) AdvertiseRefs(ctx context.Context, service Service) (io.ReadCloser, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	session, stdin, stdout, err := t.openSession(service)
	if err != nil {
		return nil, err
	}
	t.session, t.stdin, t.stdout = session, stdin, stdout
	return io.NopCloser(stdout), nil
}

func (t *sshTransport) roundTrip(req io.Reader) (io.ReadCloser, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.stdin == nil {
		return nil, ginternals.NewError(ginternals.KindInternal, "ssh transport: AdvertiseRefs must be called before sending a request", nil)
	}
	if _, err := io.Copy(t.stdin, req); err != nil {
		return nil, ginternals.NewError(ginternals.KindHTTP, "writing request over ssh failed", err)
	}
	_ = t.stdin.Close()
	return io.NopCloser(t.stdout), nil
}

func (t *sshTransport) UploadPack(ctx context.Context, req io.Reader) (io.ReadCloser, error) {
	return t.roundTrip(req)
}

func (t *sshTransport) ReceivePack(ctx context.Context, req io.Reader) (io.ReadCloser, error) {
	return t.roundTrip(req)
}

func (t *sshTransport) Close() error {
	t.mu.Lock()
	session := t.session
	t.mu.Unlock()

	if session != nil {
		_ = session.Wait()
		_ = session.Close()
	}
	return t.client.Close()
}

var _ Transport = (*sshTransport)(nil)
