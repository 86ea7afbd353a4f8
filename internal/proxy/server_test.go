package proxy

import (
	"bytes"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cognusion/go-rangefetch/internal/config"
	"github.com/cognusion/go-rangefetch/internal/pool"
	"github.com/cognusion/go-rangefetch/internal/rangefetch"
)

func discardLog() *log.Logger { return log.New(io.Discard, "", 0) }

func rangeOrigin(t *testing.T, content []byte) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.ServeContent(w, r, "data.bin", time.Unix(0, 0), bytes.NewReader(content))
	}))
}

func newTestServer(t *testing.T, origin *httptest.Server) *Server {
	t.Helper()

	cfg := config.Default().SetFirstSize(16).SetMaxSize(16).SetThreads(2)
	cfg.Scheme = "http"

	p := pool.New(pool.Options{MaxThreads: 4})
	return &Server{
		Config:     cfg,
		Pool:       p,
		Engine:     &rangefetch.Engine{Fetcher: p},
		bufsize:    8,
		TimingsOut: discardLog(),
		DebugOut:   discardLog(),
	}
}

func Test_Handle_ConnectIsRejected(t *testing.T) {
	origin := rangeOrigin(t, []byte("irrelevant"))
	defer origin.Close()

	s := newTestServer(t, origin)

	req := httptest.NewRequest(http.MethodConnect, "http://example.com/", nil)
	rec := httptest.NewRecorder()
	s.handle(rec, req)

	assert.Equal(t, http.StatusNotImplemented, rec.Code)
}

func Test_Handle_IneligibleQueryIsRejected(t *testing.T) {
	origin := rangeOrigin(t, []byte("irrelevant"))
	defer origin.Close()

	s := newTestServer(t, origin)

	req := httptest.NewRequest(http.MethodGet, "http://example.com/video?live=1", nil)
	rec := httptest.NewRecorder()
	s.handle(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func Test_Handle_DiscontinuousRangeIsRejected(t *testing.T) {
	origin := rangeOrigin(t, []byte("irrelevant"))
	defer origin.Close()

	s := newTestServer(t, origin)

	req := httptest.NewRequest(http.MethodGet, "http://example.com/video", nil)
	req.Header.Set("Range", "bytes=0-9,20-29")
	rec := httptest.NewRecorder()
	s.handle(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func Test_Handle_OpenStartSuffixRangeIsRejected(t *testing.T) {
	origin := rangeOrigin(t, []byte("irrelevant"))
	defer origin.Close()

	s := newTestServer(t, origin)

	req := httptest.NewRequest(http.MethodGet, "http://example.com/video", nil)
	req.Header.Set("Range", "bytes=-500")
	rec := httptest.NewRecorder()
	s.handle(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func Test_Handle_WholeFileServedThroughProbe(t *testing.T) {
	content := make([]byte, 48)
	for i := range content {
		content[i] = byte('a' + i%26)
	}
	origin := rangeOrigin(t, content)
	defer origin.Close()

	u, err := url.Parse(origin.URL)
	require.NoError(t, err)

	s := newTestServer(t, origin)

	req := httptest.NewRequest(http.MethodGet, "http://"+u.Host+"/data.bin", nil)
	req.Host = u.Host
	rec := httptest.NewRecorder()
	s.handle(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, content, rec.Body.Bytes())
}
