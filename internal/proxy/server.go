// Package proxy implements the inbound HTTP request handler state machine:
// PARSE, DECIDE_RANGE, PROBE, EMIT_HEADERS, CONNECT-rejection (spec.md
// §4.G), wired onto an *http.Server the way guiyumin-vget's internal/server
// wires its routes and socket options onto net/http.
package proxy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/cognusion/go-rangefetch/internal/admin"
	"github.com/cognusion/go-rangefetch/internal/config"
	"github.com/cognusion/go-rangefetch/internal/metrics"
	"github.com/cognusion/go-rangefetch/internal/pool"
	"github.com/cognusion/go-rangefetch/internal/rangefetch"
)

// requestRangePattern matches an inbound "Range: bytes=START-END[,...]"
// header (spec.md §4.G DECIDE_RANGE, grounded on rangefetch_server.py's
// getbytes pattern).
var requestRangePattern = regexp.MustCompile(`^bytes=(\d*)-(\d*)(,..)?`)

// Server is the RangeFetch local proxy: PARSE/DECIDE_RANGE/PROBE/EMIT_HEADERS
// over one *http.Server, with an optional admin feed and metrics exporter
// wired in as sibling listeners (SPEC_FULL.md §4.H, §4.I).
type Server struct {
	Config  *config.Config
	Pool    *pool.Pool
	Engine  *rangefetch.Engine
	Hub     *admin.Hub        // nil disables the admin feed
	Metrics *metrics.Registry // nil disables /debug/metrics

	TimingsOut *log.Logger
	DebugOut   *log.Logger

	httpServer  *http.Server
	adminServer *http.Server
	bufsize     int // discovered from the listening socket's SO_SNDBUF, spec.md §4.G
}

// New wires a Server from a Config, constructing the connection pool and
// engine it drives requests through.
func New(cfg *config.Config, timingsOut, debugOut *log.Logger) *Server {
	p := pool.New(pool.Options{
		MaxThreads: min(cfg.Threads*2, 24),
		ProxyURL:   cfg.ProxyURL,
	})

	s := &Server{
		Config:     cfg,
		Pool:       p,
		Engine:     &rangefetch.Engine{Fetcher: p, TimingsOut: timingsOut, DebugOut: debugOut},
		TimingsOut: timingsOut,
		DebugOut:   debugOut,
	}

	if cfg.AdminBind != "" {
		s.Hub = admin.NewHub()
	}
	if cfg.MetricsEnable {
		s.Metrics = metrics.NewRegistry()
	}

	return s
}

// ListenAndServe binds the proxy's listener with the socket options
// rangefetch_server.py's LocalTCPServer.server_bind sets (SO_REUSEADDR,
// TCP_NODELAY), starts the optional admin/metrics listener, and blocks
// serving the main proxy until the listener errors or Shutdown is called.
func (s *Server) ListenAndServe() error {
	addr := fmt.Sprintf("%s:%d", s.Config.Bind, s.Config.Port)

	lc := net.ListenConfig{
		Control: func(network, address string, c syscall.RawConn) error {
			var sockErr error
			ctrlErr := c.Control(func(fd uintptr) {
				sockErr = syscall.SetsockoptInt(int(fd), syscall.SOL_SOCKET, syscall.SO_REUSEADDR, 1)
				if sockErr == nil {
					sockErr = syscall.SetsockoptInt(int(fd), syscall.IPPROTO_TCP, syscall.TCP_NODELAY, 1)
				}
			})
			if ctrlErr != nil {
				return ctrlErr
			}
			return sockErr
		},
	}

	ln, err := lc.Listen(context.Background(), "tcp", addr)
	if err != nil {
		return fmt.Errorf("binding %s: %w", addr, err)
	}
	s.bufsize = sendBufferSize(ln)

	s.httpServer = &http.Server{
		Handler:      http.HandlerFunc(s.handle),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // range downloads can run arbitrarily long
		IdleTimeout:  120 * time.Second,
	}

	if s.Hub != nil || s.Metrics != nil {
		mux := http.NewServeMux()
		if s.Hub != nil {
			mux.HandleFunc("/ws", s.Hub.ServeWS)
			mux.HandleFunc("/debug/sessions", s.Hub.ServeSnapshot)
		}
		if s.Metrics != nil {
			mux.Handle("/debug/metrics", s.Metrics.Handler())
		}
		s.adminServer = &http.Server{Addr: s.Config.AdminBind, Handler: mux}
		go func() {
			if err := s.adminServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.debugf("admin server: %v", err)
			}
		}()
	}

	s.debugf("rangefetch proxy listening on %s", addr)
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully stops both listeners.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.adminServer != nil {
		s.adminServer.Shutdown(ctx)
	}
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

// handle is the PARSE/DECIDE_RANGE/PROBE/EMIT_HEADERS state machine
// (spec.md §4.G). CONNECT is rejected outright; everything else not
// eligible for acceleration is a 500, exactly as rangefetch_server.py's
// do_GET does.
func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodConnect {
		http.Error(w, "Range fetch via HTTPS can not be supported!", http.StatusNotImplemented)
		return
	}
	if r.Method != http.MethodGet {
		http.Error(w, "only GET and CONNECT are supported", http.StatusMethodNotAllowed)
		return
	}

	// PARSE. A forward-proxy client sends an absolute-form request line
	// (r.URL already carries scheme+host); a client that connected directly
	// to this listener sends origin-form, so scheme+host come from
	// s.Config.Scheme and the Host header instead.
	var host, targetURL string
	if r.URL.IsAbs() {
		host = r.URL.Host
		targetURL = r.URL.String()
	} else {
		host = r.Host
		targetURL = fmt.Sprintf("%s://%s%s", s.Config.Scheme, host, r.URL.RequestURI())
	}

	query := r.URL.RawQuery
	eligible := !(strings.Contains(query, "range=") ||
		strings.Contains(query, "live=1") ||
		strings.Contains(r.URL.Path, "range/"))

	// DECIDE_RANGE
	rangeStart, rangeEnd := int64(0), int64(0)
	clientSentRange := false
	if eligible {
		if reqRange := r.Header.Get("Range"); reqRange != "" {
			m := requestRangePattern.FindStringSubmatch(reqRange)
			if m == nil || m[1] == "" || m[3] != "" {
				// Unspecified start or a discontinuous multi-range: can't
				// be accelerated (spec.md §4.G, Non-goal: multi-range and
				// open-ended-without-start requests).
				eligible = false
			} else {
				clientSentRange = true
				rangeStart, _ = strconv.ParseInt(m[1], 10, 64)
				if m[2] != "" {
					rangeEnd, _ = strconv.ParseInt(m[2], 10, 64)
				}
			}
		}
	}

	if !eligible {
		http.Error(w, fmt.Sprintf("Range fetch can not be finished, url: %s", targetURL), http.StatusInternalServerError)
		return
	}

	sess := rangefetch.NewSession(r.Header, rangeStart, rangeEnd, s.bufsize, s.Config.Scheme, host, rangefetch.SessionConfig{
		FirstSize:   s.Config.FirstSize,
		MaxSize:     s.Config.MaxSize,
		Threads:     s.Config.Threads,
		DownRateMin: s.Config.DownRateMin,
		DownRateMax: s.Config.DownRateMax,
		CheckSize:   512 * 1024,
	})

	// PROBE
	outcome, err := s.Engine.Probe(sess, targetURL, clientSentRange)
	if err != nil {
		s.debugf("probe failed for %s: %v", targetURL, err)
		http.Error(w, fmt.Sprintf("Range fetch can not be finished, url: %s", targetURL), http.StatusInternalServerError)
		return
	}

	id := fmt.Sprintf("%p", outcome)
	if s.Hub != nil {
		unregister := s.Hub.Register(id, targetURL)
		defer unregister()
	}
	if s.Metrics != nil {
		s.Metrics.SessionStarted(id)
		defer s.Metrics.SessionEnded(id)
	}

	// EMIT_HEADERS
	for k, v := range outcome.Header {
		w.Header()[k] = v
	}
	w.WriteHeader(outcome.Status)

	onSample := func(sample rangefetch.Sample) {
		if s.Hub != nil {
			s.Hub.Observe(id, sample)
		}
		if s.Metrics != nil {
			s.Metrics.Observe(id, sample)
		}
	}

	var dst io.Writer = w
	if s.Metrics != nil {
		dst = &countingWriter{w: w, onWrite: s.Metrics.BytesServed}
	}

	if err := outcome.Stream(dst, true, onSample); err != nil {
		s.debugf("stream for %s ended: %v", targetURL, err)
	}
}

// countingWriter reports every write's size to onWrite before passing it
// through, so the metrics registry's bytes-served counter reflects what
// actually reached the client rather than what the engine assembled.
type countingWriter struct {
	w       io.Writer
	onWrite func(int64)
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	if n > 0 {
		c.onWrite(int64(n))
	}
	return n, err
}

func (s *Server) debugf(format string, args ...interface{}) {
	if s.DebugOut != nil {
		s.DebugOut.Printf(format, args...)
	}
}

// sendBufferSize reads SO_SNDBUF off the listening socket, the same value
// rangefetch_server.py's LocalTCPServer.server_bind captures as the
// handler's read chunk size. Falls back to 4096 if the listener isn't a
// *net.TCPListener or the syscall fails.
func sendBufferSize(ln net.Listener) int {
	const fallback = 4096

	tl, ok := ln.(*net.TCPListener)
	if !ok {
		return fallback
	}
	sc, err := tl.SyscallConn()
	if err != nil {
		return fallback
	}

	var size int
	var sockErr error
	ctrlErr := sc.Control(func(fd uintptr) {
		size, sockErr = syscall.GetsockoptInt(int(fd), syscall.SOL_SOCKET, syscall.SO_SNDBUF)
	})
	if ctrlErr != nil || sockErr != nil || size <= 0 {
		return fallback
	}
	return size
}
