package admin

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cognusion/go-rangefetch/internal/rangefetch"
)

func TestHub_RegisterAndSnapshot(t *testing.T) {
	h := NewHub()
	unregister := h.Register("sess-1", "http://example.com/file.bin")

	rec := httptest.NewRecorder()
	h.ServeSnapshot(rec, httptest.NewRequest(http.MethodGet, "/debug/sessions", nil))

	var views []SessionView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &views))
	require.Len(t, views, 1)
	assert.Equal(t, "sess-1", views[0].ID)
	assert.Equal(t, "http://example.com/file.bin", views[0].URL)

	unregister()

	rec = httptest.NewRecorder()
	h.ServeSnapshot(rec, httptest.NewRequest(http.MethodGet, "/debug/sessions", nil))
	views = nil
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &views))
	assert.Empty(t, views)
}

func TestHub_ObserveUpdatesSnapshot(t *testing.T) {
	h := NewHub()
	defer h.Register("sess-1", "http://example.com")()

	h.Observe("sess-1", rangefetch.Sample{Threads: 4, ExpectBegin: 1024, RateBytesSec: 2048, QueueDepth: 3})

	rec := httptest.NewRecorder()
	h.ServeSnapshot(rec, httptest.NewRequest(http.MethodGet, "/debug/sessions", nil))

	var views []SessionView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &views))
	require.Len(t, views, 1)
	assert.EqualValues(t, 4, views[0].Threads)
	assert.EqualValues(t, 1024, views[0].ExpectBegin)
}

func TestHub_BroadcastsSampleToConnectedClient(t *testing.T) {
	h := NewHub()

	server := httptest.NewServer(http.HandlerFunc(h.ServeWS))
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	// Give the server goroutine a moment to register the connection before
	// broadcasting, since ServeWS registers after the upgrade completes.
	time.Sleep(50 * time.Millisecond)

	h.Observe("sess-1", rangefetch.Sample{Threads: 2})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)

	var p Payload
	require.NoError(t, json.Unmarshal(msg, &p))
	assert.Equal(t, "sample", p.Kind)
}
