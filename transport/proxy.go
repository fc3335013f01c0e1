package transport

import (
	"context"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/proxy"
)

var directDialer = &net.Dialer{
	Timeout:   30 * time.Second,
	KeepAlive: 30 * time.Second,
}

func getEnvAny(names ...string) string {
	for _, n := range names {
		if v, ok := os.LookupEnv(n); ok && v != "" {
			return v
		}
	}
	return ""
}

var (
	envProxyOnce sync.Once
	envProxyFunc func(*url.URL) (*url.URL, error)
)

// proxyFromEnvironment resolves a request's proxy the same way
// net/http.ProxyFromEnvironment does, but memoized once per process
// via golang.org/x/net/proxy's environment reader, so a scheme-aware
// CONNECT dialer can be built from the same source of truth the
// http.Transport's Proxy field uses.
func proxyFromEnvironment(req *http.Request) (*url.URL, error) {
	envProxyOnce.Do(func() {
		envProxyFunc = proxy.FromEnvironment().ProxyFunc()
	})
	return envProxyFunc(req.URL)
}

// proxyDialer wraps a net.Dialer so SSH and git:// connections (which
// net/http.Transport's own proxy handling never sees) still honor
// HTTPS_PROXY/ALL_PROXY when a proxy applies to the target host. Only
// proxy URLs golang.org/x/net/proxy can dial (socks5) are used; for
// any other scheme, http included, the connection is dialed directly.
type proxyDialer struct {
	direct *net.Dialer
}

func newProxyDialer() *proxyDialer {
	return &proxyDialer{direct: directDialer}
}

func (d *proxyDialer) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	proxyURL := resolveProxyURL(addr)
	if proxyURL == nil {
		return d.direct.DialContext(ctx, network, addr)
	}

	dialer, err := proxy.FromURL(proxyURL, d.direct)
	if err != nil {
		return d.direct.DialContext(ctx, network, addr)
	}
	if ctxDialer, ok := dialer.(proxy.ContextDialer); ok {
		return ctxDialer.DialContext(ctx, network, addr)
	}
	return dialer.Dial(network, addr)
}

// resolveProxyURL mirrors the standard {https,all}_proxy /
// no_proxy environment convention without requiring an *http.Request.
func resolveProxyURL(addr string) *url.URL {
	raw := getEnvAny("ALL_PROXY", "all_proxy", "HTTPS_PROXY", "https_proxy")
	if raw == "" {
		return nil
	}
	if noProxyMatches(addr) {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" {
		if u, err = url.Parse("http://" + raw); err != nil {
			return nil
		}
	}
	return u
}

func noProxyMatches(addr string) bool {
	noProxy := getEnvAny("NO_PROXY", "no_proxy")
	if noProxy == "" {
		return false
	}
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}
	for _, suffix := range strings.Split(noProxy, ",") {
		suffix = strings.TrimSpace(suffix)
		if suffix == "" {
			continue
		}
		if suffix == "*" || host == suffix || strings.HasSuffix(host, "."+strings.TrimPrefix(suffix, ".")) {
			return true
		}
	}
	return false
}
