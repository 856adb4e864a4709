package client

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/pgrab/pgrab/pkg/consistent"
	"github.com/pgrab/pgrab/pkg/logging"
	"github.com/pgrab/pgrab/pkg/version"
)

const defaultConnectTimeout = 5 * time.Second

// HTTPClient is the contract shared by the primary pool and the secondary client.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

var _ HTTPClient = &http.Client{}

// Options configures both the primary and the secondary client.
type Options struct {
	ForceHTTP2     bool
	MaxConnPerHost int
	ConnectTimeout time.Duration
	// Resolve maps host:port to one or more ip:port addresses dialed instead of a DNS
	// lookup. Several addresses for one host:port are treated as mirrors.
	Resolve map[string][]string
}

type UserAgentTransport struct {
	Transport http.RoundTripper
}

func (t *UserAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req.Header.Set("User-Agent", version.UserAgent())
	return t.Transport.RoundTrip(req)
}

func (o Options) hasMirrors() bool {
	for _, addrs := range o.Resolve {
		if len(addrs) > 1 {
			return true
		}
	}
	return false
}

func (o Options) dialer() *net.Dialer {
	timeout := o.ConnectTimeout
	if timeout <= 0 {
		timeout = defaultConnectTimeout
	}
	return &net.Dialer{
		Timeout:   timeout,
		KeepAlive: 30 * time.Second,
	}
}

// newPrimaryClient returns the pooled, keep-alive client shared by every in-flight
// request of a run.
func newPrimaryClient(opts Options) *http.Client {
	baseTransport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           transportDialContext(opts.dialer(), opts.Resolve),
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		// raw bytes are required for range requests to line up
		DisableCompression: true,
	}
	if opts.ForceHTTP2 {
		protocols := new(http.Protocols)
		protocols.SetHTTP2(true)
		protocols.SetUnencryptedHTTP2(true)
		baseTransport.Protocols = protocols
	}
	if opts.MaxConnPerHost > 0 {
		baseTransport.MaxConnsPerHost = opts.MaxConnPerHost
	}
	// mirrors are picked at dial time, so every request needs its own connection for a
	// retry to reach a different mirror
	if opts.hasMirrors() {
		baseTransport.DisableKeepAlives = true
	}

	return &http.Client{
		Transport:     &UserAgentTransport{Transport: baseTransport},
		CheckRedirect: checkRedirectFunc,
	}
}

// checkRedirectFunc is a wrapper around http.Client.CheckRedirect that allows for printing out redirects
func checkRedirectFunc(req *http.Request, via []*http.Request) error {
	if len(via) >= 10 {
		return fmt.Errorf("stopped after %d redirects", len(via))
	}
	logger := logging.GetLogger()
	event := logger.Trace().
		Str("redirect_url", req.URL.String()).
		Str("url", via[0].URL.String())
	if req.Response != nil {
		event = event.Int("status", req.Response.StatusCode)
	}
	event.Msg("Redirect")
	return nil
}

// transportDialContext is a wrapper around net.Dialer that allows for overriding DNS lookups via the values passed to
// `--resolve` argument.
func transportDialContext(dialer *net.Dialer, resolve map[string][]string) func(context.Context, string, string) (net.Conn, error) {
	// Allow for overriding DNS lookups in the dialer without impacting Host and SSL resolution
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		if addrs := resolve[addr]; len(addrs) > 0 {
			override, err := pickAddress(ctx, addr, addrs)
			if err != nil {
				return nil, err
			}
			logger := logging.GetLogger()
			logger.Debug().Str("addr", addr).Str("override", override).Msg("DNS Override")
			addr = override
		}
		return dialer.DialContext(ctx, network, addr)
	}
}

// pickAddress chooses one of several mirror addresses for the request that triggered the
// dial. The same route key sticks to the same mirror, and each retry moves to a mirror
// not yet tried for that key.
func pickAddress(ctx context.Context, addr string, addrs []string) (string, error) {
	if len(addrs) == 1 {
		return addrs[0], nil
	}
	var key any = addr
	if routeKey, ok := RouteKeyFromContext(ctx); ok {
		key = routeKey
	}
	bucket, err := consistent.BucketForAttempt(key, len(addrs), AttemptFromContext(ctx))
	if err != nil {
		return "", fmt.Errorf("error choosing address for %s: %w", addr, err)
	}
	return addrs[bucket], nil
}

func schemeHostKey(u *url.URL) string {
	return fmt.Sprintf("%s://%s", u.Scheme, u.Host)
}
