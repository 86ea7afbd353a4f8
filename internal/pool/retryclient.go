package pool

import (
	"net/http"
	"time"

	"github.com/eapache/go-resiliency/retrier"
)

// RetryClient wraps an *http.Client with retry semantics, grounded on the
// teacher's RetryClient but narrowed to transport-level failures only
// (connection refused, timeout, DNS). Status-code interpretation — which
// statuses are acceptable, and the 3-try/2s-backoff give-up policy for
// anything else — belongs entirely to rangeFetch's own loop (spec.md §4.D
// step 5, §7), which applies uniformly to any non-206 status with no
// status-class carve-out; a pool-level blacklist of 4xx would let a single
// 4xx skip that loop and short-circuit to one attempt.
type RetryClient struct {
	client  *http.Client
	retrier *retrier.Retrier
}

// NewRetryClient returns a RetryClient that retries a request `retries`
// times on transport-level failure, waiting `every` between attempts.
func NewRetryClient(client *http.Client, retries int, every time.Duration) *RetryClient {
	return &RetryClient{
		client:  client,
		retrier: retrier.New(retrier.ConstantBackoff(retries, every), retrier.DefaultClassifier{}),
	}
}

// Do takes a Request and returns whatever Response the underlying client
// produces, retrying only on transport-level errors. The response's status
// code — 206, 4xx, 5xx, whatever the origin sends — is always handed back
// to the caller uninterpreted.
func (w *RetryClient) Do(req *http.Request) (*http.Response, error) {
	var ret *http.Response

	try := func() error {
		resp, tryErr := w.client.Do(req)
		if tryErr != nil {
			return tryErr
		}
		ret = resp
		return nil
	}

	if err := w.retrier.Run(try); err != nil {
		return nil, err
	}
	return ret, nil
}

// withCheckRedirect returns a shallow copy of the RetryClient whose
// underlying *http.Client uses the given CheckRedirect policy. Used by Pool
// to hand the worker loop an instance that surfaces 3xx responses instead of
// following them.
func (w *RetryClient) withCheckRedirect(check func(*http.Request, []*http.Request) error) *RetryClient {
	clientCopy := *w.client
	clientCopy.CheckRedirect = check
	return &RetryClient{
		client:  &clientCopy,
		retrier: w.retrier,
	}
}
