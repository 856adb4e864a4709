package client

import (
	"net/http"

	"github.com/hashicorp/go-cleanhttp"
	"github.com/hashicorp/go-retryablehttp"
)

// FallbackClient is the secondary transport. It shares nothing with the Pool: requests
// go through go-retryablehttp over a fresh, non-pooled go-cleanhttp transport with
// keep-alives disabled. Retrying is left to the caller, so RetryMax is zero and error
// responses are passed through untouched.
type FallbackClient struct {
	client *retryablehttp.Client
}

var _ HTTPClient = &FallbackClient{}

func NewFallbackClient(opts Options) *FallbackClient {
	transport := cleanhttp.DefaultTransport()
	transport.DialContext = transportDialContext(opts.dialer(), opts.Resolve)
	httpClient := &http.Client{
		Transport:     &UserAgentTransport{Transport: transport},
		CheckRedirect: checkRedirectFunc,
	}
	return &FallbackClient{
		client: &retryablehttp.Client{
			HTTPClient:   httpClient,
			Logger:       nil,
			RetryMax:     0,
			CheckRetry:   retryablehttp.DefaultRetryPolicy,
			Backoff:      retryablehttp.DefaultBackoff,
			ErrorHandler: retryablehttp.PassthroughErrorHandler,
		},
	}
}

func (c *FallbackClient) Do(req *http.Request) (*http.Response, error) {
	retryReq, err := retryablehttp.FromRequest(req)
	if err != nil {
		return nil, err
	}
	return c.client.Do(retryReq)
}

func (c *FallbackClient) CloseIdleConnections() {
	c.client.HTTPClient.CloseIdleConnections()
}
