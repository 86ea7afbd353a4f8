package rangefetch

import (
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/cognusion/go-sequence"
	"github.com/cognusion/go-timings"
)

// seq generates short per-session ids for log correlation, exactly as the
// teacher's RangeTripper tags each download with seq.NextHashID().
var seq = sequence.New(0)

// Engine runs the RangeFetch state machine (spec.md §4.G PROBE/EMIT_HEADERS
// through the D-F worker/controller/serializer pipeline) for one Session.
type Engine struct {
	Fetcher Fetcher

	TimingsOut *log.Logger
	DebugOut   *log.Logger
}

// Outcome is what the request handler needs to emit the response line and
// headers before handing off to the streaming pipeline (spec.md §4.G
// EMIT_HEADERS).
type Outcome struct {
	Status int
	Header http.Header

	engine  *Engine
	session *Session
	dataQ   *DataQueue
	rangeQ  *RangeQueue
	plan    Plan
	probe   *http.Response
}

func discardLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

// NewSession builds a Session, deriving MaxThreads and the staggered-spawn
// delay step once at construction. The backpressure thresholds are computed
// once per session in Stream and handed to each worker as it is built.
func NewSession(headers http.Header, rangeStart, rangeEnd int64, bufsize int, scheme, host string, cfg SessionConfig) *Session {
	s := &Session{
		Headers:     stripProxyHeaders(headers),
		RangeStart:  rangeStart,
		RangeEnd:    rangeEnd,
		Bufsize:     bufsize,
		Scheme:      scheme,
		Host:        host,
		FirstSize:   cfg.FirstSize,
		MaxSize:     cfg.MaxSize,
		ThreadsInit: cfg.Threads,
		MaxThreads:  min(cfg.Threads*2, 24),
		DownRateMin: cfg.DownRateMin,
		DownRateMax: cfg.DownRateMax,
		CheckSize:   cfg.CheckSize,
		DelayStep:   0.5,
	}
	s.threads.Store(int32(cfg.Threads))
	s.stopped.Store(-1)
	return s
}

// SessionConfig carries the process-wide tunables from spec.md §6's
// Configuration table into a per-session Session.
type SessionConfig struct {
	FirstSize   int64
	MaxSize     int64
	Threads     int
	DownRateMin float64
	DownRateMax float64
	CheckSize   int64
}

// stripProxyHeaders copies headers, dropping any Proxy-* hop header and
// forcing Connection: keep-alive, per spec.md §3 ("Session ... inbound
// request headers (with proxy-hop headers stripped, Connection: keep-alive
// forced)").
func stripProxyHeaders(h http.Header) http.Header {
	out := make(http.Header, len(h))
	for k, v := range h {
		if len(k) >= 6 && httpHeaderHasProxyPrefix(k) {
			continue
		}
		out[k] = append([]string(nil), v...)
	}
	out.Set("Connection", "keep-alive")
	return out
}

func httpHeaderHasProxyPrefix(canonicalKey string) bool {
	const prefix = "Proxy-"
	return len(canonicalKey) >= len(prefix) && canonicalKey[:len(prefix)] == prefix
}

// Probe issues the first sub-range GET (spec.md §4.G PROBE), doubling as
// discovery of the resource's total length via Content-Range. On failure, an
// error wrapping ErrProbeFailed is returned.
func (e *Engine) Probe(sess *Session, initialURL string, clientSentRange bool) (*Outcome, error) {
	sess.SetURL(initialURL)

	dlID := seq.NextHashID()
	defer timings.Track(fmt.Sprintf("[%s] probe", dlID), time.Now(), e.timingsOut())

	resp, err := rangeFetch(e.Fetcher, sess, sess.RangeStart, sess.RangeStart+sess.FirstSize-1, 3)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProbeFailed, err)
	}
	if resp == nil {
		// spec.md §9: a nil response here means exhausted retries; this is
		// the explicit fix for the original's documented crash-on-nil bug.
		return nil, ErrProbeFailed
	}

	plan, err := PlanFromProbe(resp.Header, clientSentRange, sess.RangeEnd, sess.MaxSize)
	if err != nil {
		resp.Body.Close()
		return nil, fmt.Errorf("%w: %v", ErrProbeFailed, err)
	}

	header := resp.Header.Clone()
	header.Del("Content-Range")
	if plan.Status == http.StatusPartialContent {
		header.Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", plan.Start, plan.EffectiveEnd, plan.Length))
	}
	header.Set("Content-Length", fmt.Sprintf("%d", plan.ContentLength))
	header.Set("Connection", "keep-alive")

	rangeQ := NewRangeQueue()
	for _, w := range plan.Windows {
		rangeQ.Push(w)
	}

	return &Outcome{
		Status:  plan.Status,
		Header:  header,
		engine:  e,
		session: sess,
		dataQ:   NewDataQueue(),
		rangeQ:  rangeQ,
		plan:    plan,
		probe:   resp,
	}, nil
}

func (e *Engine) timingsOut() *log.Logger {
	if e.TimingsOut != nil {
		return e.TimingsOut
	}
	return discardLogger()
}

func (e *Engine) debugOut() *log.Logger {
	if e.DebugOut != nil {
		return e.DebugOut
	}
	return discardLogger()
}

// Stream starts the worker pool, rate controller, and serializer, blocking
// until the session terminates (spec.md §4.F, §4.D, §4.E). usePeek selects
// the DataQueue consumption strategy (spec.md §9).
func (o *Outcome) Stream(w io.Writer, usePeek bool, onSample func(Sample)) error {
	sess := o.session
	e := o.engine

	delayCacheSize := sess.MaxSize * int64(sess.ThreadsInit) * 2
	delayStarSize := delayCacheSize * 2

	spawn := func(threadOrder int, delay time.Duration) {
		worker := &Worker{
			ThreadOrder:    threadOrder,
			Session:        sess,
			RangeQ:         o.rangeQ,
			DataQ:          o.dataQ,
			Fetcher:        e.Fetcher,
			TimingsOut:     e.timingsOut(),
			DebugOut:       e.debugOut(),
			delayCacheSize: delayCacheSize,
			delayStarSize:  delayStarSize,
		}
		if threadOrder == 0 {
			worker.firstResponse = o.probe
			worker.firstRange = SubRange{A: sess.RangeStart, B: sess.RangeStart + sess.FirstSize - 1}
		}
		go func() {
			if delay > 0 {
				time.Sleep(delay)
			}
			worker.Run()
		}()
	}

	controller := NewController(sess, o.dataQ, spawn)
	controller.OnSample = onSample

	initial := sess.ThreadsInit
	if initial > sess.MaxThreads {
		initial = sess.MaxThreads
	}
	controller.AdjustThreads(initial)

	serializer := &Serializer{
		Session:    sess,
		DataQ:      o.dataQ,
		Controller: controller,
		Writer:     w,
		DebugOut:   e.debugOut(),
		UsePeek:    usePeek,
		Length:     o.plan.EffectiveEnd + 1,
	}

	return serializer.Run()
}
