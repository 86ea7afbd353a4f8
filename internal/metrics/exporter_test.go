package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cognusion/go-rangefetch/internal/rangefetch"
)

func TestRegistry_ReportsActiveSessionsAndThreads(t *testing.T) {
	r := NewRegistry()
	r.SessionStarted("a")
	r.SessionStarted("b")
	r.Observe("a", rangefetch.Sample{Threads: 4, RateBytesSec: 1000})
	r.Observe("b", rangefetch.Sample{Threads: 2, RateBytesSec: 500})
	r.BytesServed(2048)

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/debug/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()

	assert.Contains(t, body, "rangefetch_active_sessions")
	assert.Contains(t, body, "rangefetch_live_workers")
	assert.Contains(t, body, "rangefetch_throughput_bytes_per_second")
	assert.Contains(t, body, "rangefetch_bytes_served_total")
	assert.True(t, strings.Contains(body, " 2") || strings.Contains(body, "2\n"), "expected active session count of 2 to appear")
}

func TestRegistry_SessionEndedRemovesContribution(t *testing.T) {
	r := NewRegistry()
	r.SessionStarted("a")
	r.Observe("a", rangefetch.Sample{Threads: 6})
	r.SessionEnded("a")

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/debug/metrics", nil))

	body := rec.Body.String()
	assert.NotContains(t, body, "rangefetch_active_sessions 1")
}
