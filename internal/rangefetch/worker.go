package rangefetch

import (
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/cognusion/go-recyclable"
	"github.com/cognusion/go-timings"
)

// Fetcher is satisfied by pool.Pool. Kept as a narrow interface here so the
// engine doesn't import the pool package directly (spec.md §1 treats the
// connection pool as an external collaborator).
type Fetcher interface {
	Fetch(url string, headers http.Header, followRedirects bool) (*http.Response, error)
}

// bufPool backs worker read scratch buffers, mirroring the teacher's use of
// github.com/cognusion/go-recyclable. Each published chunk is still a fresh
// copy of the bytes read; only the read buffer itself is reused.
var bufPool = recyclable.NewBufferPool()

// Worker is one of the session's stable-identity fetch goroutines (spec.md
// §3, §4.D). Workers with ThreadOrder >= session.LiveWorkers() retire at
// their next checkpoint.
type Worker struct {
	ThreadOrder int
	Session     *Session
	RangeQ      *RangeQueue
	DataQ       *DataQueue
	Fetcher     Fetcher

	TimingsOut *log.Logger
	DebugOut   *log.Logger

	delayCacheSize int64
	delayStarSize  int64

	// firstResponse/firstRange carry the probe's already-open response to
	// worker 0 exactly once (spec.md §4.D step 2).
	firstResponse *http.Response
	firstRange    SubRange
}

// Run is the worker loop described in spec.md §4.D. It returns when the
// worker retires (identity beyond the live watermark) or the range queue is
// drained.
func (w *Worker) Run() {
	for {
		if int32(w.ThreadOrder) > w.Session.Stopped() {
			return
		}

		var (
			start, end int64
			resp       *http.Response
			err        error
		)

		if w.firstResponse != nil {
			resp, w.firstResponse = w.firstResponse, nil
			start, end = w.firstRange.A, w.firstRange.B
		} else {
			sr, perr := w.RangeQ.Pop(1 * time.Second)
			if perr != nil {
				return
			}
			start, end = sr.A, sr.B

			if !w.awaitBackpressure(start) {
				// retired while waiting; give the sub-range back.
				w.RangeQ.Push(SubRange{A: start, B: end})
				return
			}

			resp, err = w.fetchSubRange(start, end)
			if err != nil || resp == nil {
				// Sub-range fetch failed after retries: dropped silently
				// per spec.md §7's documented limitation.
				w.debugf("sub-range %d-%d abandoned after retries: %v", start, end, err)
				continue
			}
		}

		w.drainResponse(resp, start, end)
	}
}

// awaitBackpressure blocks while this sub-range is far ahead of
// expect_begin and the reassembly buffer is already comfortably full
// (spec.md §4.D step 4, the "backpressure gate"). Returns false if the
// worker retired while waiting.
func (w *Worker) awaitBackpressure(start int64) bool {
	for {
		ahead := start - w.Session.ExpectBegin()
		cached := int64(w.DataQ.QSize()) * int64(w.Session.Bufsize)
		if !(ahead > w.delayStarSize && cached > w.delayCacheSize) {
			return true
		}
		if int32(w.ThreadOrder) > w.Session.Stopped() {
			return false
		}
		time.Sleep(100 * time.Millisecond)
	}
}

// fetchSubRange issues the ranged GET, following redirects and retrying
// non-206 statuses 3 times with a 2s backoff (spec.md §4.D step 5), via the
// shared rangeFetch helper also used by the probe (SPEC_FULL.md §4.G).
func (w *Worker) fetchSubRange(start, end int64) (*http.Response, error) {
	return rangeFetch(w.Fetcher, w.Session, start, end, 3)
}

// drainResponse reads resp in Bufsize increments, publishing (offset, bytes)
// chunks in ascending order as they're read (spec.md §3, "Chunk"; §4.D step
// 6). On a read error it closes the response and re-enqueues the
// unread suffix so another worker resumes without duplication.
func (w *Worker) drainResponse(resp *http.Response, start, end int64) {
	defer timings.Track(fmt.Sprintf("worker[%d] drain %d-%d", w.ThreadOrder, start, end), time.Now(), w.TimingsOut)

	buf := bufPool.Get()
	defer buf.Close()

	cur := start
	for {
		if int32(w.ThreadOrder) > w.Session.Stopped() {
			resp.Body.Close()
			return
		}

		buf.Reset()
		n, rerr := io.CopyN(buf, resp.Body, int64(w.Session.Bufsize))
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf.Bytes())
			w.DataQ.Push(Chunk{Offset: cur, Bytes: data})
			cur += n
		}

		if rerr != nil {
			if rerr == io.EOF {
				resp.Body.Close()
				return
			}
			resp.Body.Close()
			if cur < end+1 {
				w.debugf("retry %d-%d after read error: %v", cur, end, rerr)
				w.RangeQ.Push(SubRange{A: cur, B: end})
			}
			return
		}
	}
}

func (w *Worker) debugf(format string, args ...interface{}) {
	if w.DebugOut != nil {
		w.DebugOut.Printf(format, args...)
	}
}
