package transport

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/gitkit-go/gitkit/ginternals"
)

// HTTPDoer is the injected HTTP contract: satisfiable by *net/http.Client
// directly, or by any caller-supplied round-tripper for auth, mocking,
// or custom proxying.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

type httpTransport struct {
	endpoint *Endpoint
	doer     HTTPDoer
	protocol int
}

func defaultHTTPDoer(endpoint *Endpoint, insecureSkipTLSVerify bool) HTTPDoer {
	return &http.Client{
		Transport: &http.Transport{
			Proxy:           proxyFromEnvironment,
			DialContext:     directDialer.DialContext,
			TLSClientConfig: &tls.Config{InsecureSkipVerify: insecureSkipTLSVerify},
		},
		// Smart HTTP never expects a redirect to change the method or
		// drop the body; surface redirects as errors instead of
		// silently replaying a POST.
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

func newHTTPTransport(endpoint *Endpoint, opts Options) *httpTransport {
	doer := opts.HTTPDoer
	if doer == nil {
		doer = defaultHTTPDoer(endpoint, opts.InsecureSkipTLSVerify)
	}
	protocol := opts.ProtocolVersion
	if protocol == 0 {
		protocol = 2
	}
	return &httpTransport{endpoint: endpoint, doer: doer, protocol: protocol}
}

func (t *httpTransport) baseURL() *url.URL {
	host, port := t.endpoint.HostPort()
	hostport := host
	if port != 0 && port != defaultPort[t.endpoint.Scheme] {
		hostport = host + ":" + strconv.Itoa(port)
	}
	path := t.endpoint.Path
	path = strings.TrimSuffix(path, "/")
	return &url.URL{Scheme: t.endpoint.Scheme, Host: hostport, Path: path}
}

func (t *httpTransport) applyExtraHeaders(req *http.Request) {
	for k, v := range t.endpoint.ExtraHeader {
		req.Header.Set(k, v)
	}
	if t.endpoint.User != "" {
		req.SetBasicAuth(t.endpoint.User, "")
	}
}

func (t *httpTransport) AdvertiseRefs(ctx context.Context, service Service) (io.ReadCloser, error) {
	u := t.baseURL()
	u.Path += "/info/refs"
	u.RawQuery = "service=" + string(service)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, ginternals.NewError(ginternals.KindHTTP, "building info/refs request", err)
	}
	if t.protocol == 2 {
		req.Header.Set("Git-Protocol", "version=2")
	}
	req.Header.Set("Accept", fmt.Sprintf("application/x-%s-advertisement", service))
	t.applyExtraHeaders(req)

	resp, err := t.doer.Do(req)
	if err != nil {
		return nil, ginternals.NewError(ginternals.KindHTTP, "info/refs request failed", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, ginternals.NewError(ginternals.KindHTTP, fmt.Sprintf("info/refs: unexpected status %s", resp.Status), nil)
	}
	return resp.Body, nil
}

func (t *httpTransport) post(ctx context.Context, service Service, req io.Reader) (io.ReadCloser, error) {
	u := t.baseURL()
	u.Path += "/" + string(service)

	body, err := io.ReadAll(req)
	if err != nil {
		return nil, ginternals.NewError(ginternals.KindHTTP, "reading request body", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(body))
	if err != nil {
		return nil, ginternals.NewError(ginternals.KindHTTP, "building "+string(service)+" request", err)
	}
	httpReq.Header.Set("Content-Type", fmt.Sprintf("application/x-%s-request", service))
	httpReq.Header.Set("Accept", fmt.Sprintf("application/x-%s-result", service))
	if t.protocol == 2 {
		httpReq.Header.Set("Git-Protocol", "version=2")
	}
	t.applyExtraHeaders(httpReq)

	resp, err := t.doer.Do(httpReq)
	if err != nil {
		return nil, ginternals.NewError(ginternals.KindHTTP, string(service)+" request failed", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, ginternals.NewError(ginternals.KindHTTP, fmt.Sprintf("%s: unexpected status %s", service, resp.Status), nil)
	}
	return resp.Body, nil
}

func (t *httpTransport) UploadPack(ctx context.Context, req io.Reader) (io.ReadCloser, error) {
	return t.post(ctx, ServiceUploadPack, req)
}

func (t *httpTransport) ReceivePack(ctx context.Context, req io.Reader) (io.ReadCloser, error) {
	return t.post(ctx, ServiceReceivePack, req)
}

func (t *httpTransport) Close() error { return nil }

var _ Transport = (*httpTransport)(nil)
