package client

import (
	"io"
	"net/http"
	"sync"
)

// Pool is the primary client. It is safe for concurrent use; when MaxConnPerHost is set,
// at most that many requests per scheme+host are in flight, each holding its slot until
// its response body is closed.
type Pool struct {
	client          *http.Client
	maxConnsPerHost int

	mu       sync.Mutex
	limiters map[string]chan struct{}
}

var _ HTTPClient = &Pool{}

func NewPool(opts Options) *Pool {
	return &Pool{
		client:          newPrimaryClient(opts),
		maxConnsPerHost: opts.MaxConnPerHost,
		limiters:        make(map[string]chan struct{}),
	}
}

// Do has the same contract as http.Client#Do. If all slots for the host are busy, Do
// blocks until one is released or the request context is done.
func (p *Pool) Do(req *http.Request) (*http.Response, error) {
	if p.maxConnsPerHost <= 0 {
		return p.client.Do(req)
	}
	sem := p.limiter(schemeHostKey(req.URL))
	select {
	case sem <- struct{}{}:
	case <-req.Context().Done():
		return nil, req.Context().Err()
	}
	release := func() { <-sem }

	resp, err := p.client.Do(req)
	if err != nil {
		release()
		return nil, err
	}
	resp.Body = &releasingBody{ReadCloser: resp.Body, release: release}
	return resp, nil
}

func (p *Pool) limiter(schemeHost string) chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	sem, ok := p.limiters[schemeHost]
	if !ok {
		sem = make(chan struct{}, p.maxConnsPerHost)
		p.limiters[schemeHost] = sem
	}
	return sem
}

// CloseIdleConnections releases keep-alive connections held by the pool.
func (p *Pool) CloseIdleConnections() {
	p.client.CloseIdleConnections()
}

type releasingBody struct {
	io.ReadCloser
	once    sync.Once
	release func()
}

func (b *releasingBody) Close() error {
	err := b.ReadCloser.Close()
	b.once.Do(b.release)
	return err
}
