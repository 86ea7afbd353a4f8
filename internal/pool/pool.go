// Package pool provides the connection pool that the RangeFetch engine issues
// its GET and range requests through. It is intentionally thin: the spec
// treats the generic connection-pool library as an external collaborator and
// only asks for the ability to issue GET/range requests, follow redirects on
// request, and recycle sockets through a bounded client.
package pool

import (
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/cognusion/semaphore"
)

// Client is satisfied by *http.Client and by *RetryClient.
type Client interface {
	Do(*http.Request) (*http.Response, error)
}

// Pool is a bounded keep-alive HTTP client sized to a session's max thread
// count, optionally routed through an upstream proxy.
type Pool struct {
	client Client
	sem    semaphore.Semaphore
}

// Options configures a Pool at construction time.
type Options struct {
	// MaxThreads bounds both the idle-connection cache and the number of
	// concurrently in-flight requests.
	MaxThreads int
	// ProxyURL, if non-nil, routes all outbound traffic through an upstream
	// proxy.
	ProxyURL *url.URL
	// Timeout bounds a single round trip.
	Timeout time.Duration
}

// New builds a Pool. A zero-value Options yields reasonable defaults
// (8 threads, 60s timeout, no upstream proxy).
func New(opts Options) *Pool {
	if opts.MaxThreads < 1 {
		opts.MaxThreads = 8
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}

	transport := &http.Transport{
		MaxIdleConns:        opts.MaxThreads * 2,
		MaxIdleConnsPerHost: opts.MaxThreads,
		IdleConnTimeout:     90 * time.Second,
	}
	if opts.ProxyURL != nil {
		transport.Proxy = http.ProxyURL(opts.ProxyURL)
	}

	return &Pool{
		client: NewRetryClient(&http.Client{
			Transport: transport,
			Timeout:   opts.Timeout,
		}, 3, 2*time.Second),
		sem: semaphore.NewSemaphore(opts.MaxThreads),
	}
}

// Fetch issues a GET for url with the given headers, bounded by the pool's
// concurrency budget. follow_redirects controls whether net/http should chase
// 3xx responses itself; the RangeFetch worker loop always passes false and
// handles redirects itself (spec.md §4.D step 5), so this is false in every
// call site but kept as a parameter to match the documented interface.
func (p *Pool) Fetch(targetURL string, headers http.Header, followRedirects bool) (*http.Response, error) {
	p.sem.Lock()
	defer p.sem.Unlock()

	req, err := http.NewRequest(http.MethodGet, targetURL, nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header = headers.Clone()

	client := p.client
	if !followRedirects {
		client = p.noRedirectClient()
	}

	res, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	return res, nil
}

// noRedirectClient returns a Client that performs exactly one round trip,
// surfacing 3xx responses to the caller instead of chasing them. The
// RangeFetch worker rewrites the session URL and retries the same sub-range
// itself, inside the same fetch call (spec.md §4.D).
func (p *Pool) noRedirectClient() Client {
	if rc, ok := p.client.(*RetryClient); ok {
		return rc.withCheckRedirect(func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		})
	}
	return p.client
}
