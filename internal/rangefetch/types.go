// Package rangefetch implements the adaptive multi-worker range downloader:
// the priority-ordered reassembly buffer, producer/consumer backpressure, the
// dynamic thread-count controller, and the state that turns a single inbound
// GET into a coherent streamed response (spec.md §§3-5).
package rangefetch

import (
	"fmt"
	"net/http"

	"go.uber.org/atomic"
)

// SubRange is a pair (A, B) of absolute, inclusive byte offsets into the
// resource (spec.md §3, "SubRange"). It is enqueued into the RangeQueue
// exactly once unless a partial read re-enqueues the unread suffix.
type SubRange struct {
	A, B int64
}

// Chunk is a pair (Offset, Bytes) of data read from one SubRange's response
// (spec.md §3, "Chunk"). Offset is the absolute starting byte of Bytes.
type Chunk struct {
	Offset int64
	Bytes  []byte
}

// Session is the state for one inbound GET, from probe through last byte
// written or fatal termination (spec.md §3, "Session").
type Session struct {
	// Immutable-after-construction.
	Headers     http.Header // inbound headers, proxy-hop stripped, Connection forced keep-alive
	RangeStart  int64
	RangeEnd    int64 // 0 means "to EOF"
	Bufsize     int
	Scheme      string
	Host        string
	FirstSize   int64
	MaxSize     int64
	ThreadsInit int
	MaxThreads  int
	DownRateMin float64
	DownRateMax float64
	CheckSize   int64
	DelayStep   float64 // seconds between staggered worker spawns

	// Mutable, accessed across goroutines via atomics (spec.md §5).
	expectBegin atomic.Int64
	stopped     atomic.Int32 // live worker count is stopped+1; -1 means "terminate all"
	threads     atomic.Int32
	url         atomic.String
}

// URL returns the session's current target URL.
func (s *Session) URL() string {
	return s.url.Load()
}

// SetURL rewrites the session's current target URL, used when a worker
// follows a redirect (spec.md §4.D step 5).
func (s *Session) SetURL(u string) {
	s.url.Store(u)
}

// ExpectBegin returns the serializer's next expected absolute offset.
func (s *Session) ExpectBegin() int64 {
	return s.expectBegin.Load()
}

// Stopped returns the current retirement watermark; a worker with identity
// greater than Stopped() must retire (spec.md §3 invariant 5).
func (s *Session) Stopped() int32 {
	return s.stopped.Load()
}

// Threads returns the live worker count target.
func (s *Session) Threads() int32 {
	return s.threads.Load()
}

// LiveWorkers returns the number of worker identities currently permitted to
// run; Stopped()+1, clamped to 0 when the session has been terminated.
func (s *Session) LiveWorkers() int32 {
	stopped := s.Stopped()
	if stopped < 0 {
		return 0
	}
	return stopped + 1
}

// resolveRedirect rewrites a Location header value against the session's
// scheme and host, exactly as rangefetch_server.py's RangeFetch.rangefetch
// does: scheme-qualified URLs pass through, "/"-rooted paths are rewritten
// against scheme+host, and bare relative paths get a leading "/" first.
func (s *Session) resolveRedirect(location string) string {
	if location == "" {
		return location
	}
	if !(hasScheme(location) || location[0] == '/') {
		location = "/" + location
	}
	if location[0] == '/' {
		return fmt.Sprintf("%s://%s%s", s.Scheme, s.Host, location)
	}
	return location
}

func hasScheme(s string) bool {
	return len(s) >= 7 && (s[:7] == "http://" || (len(s) >= 8 && s[:8] == "https://"))
}
