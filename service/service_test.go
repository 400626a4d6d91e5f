package service

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ClearskyLabs/calsync/config"
	"github.com/ClearskyLabs/calsync/engine"
	"github.com/ClearskyLabs/calsync/hub"
	"github.com/ClearskyLabs/calsync/models"
	"github.com/ClearskyLabs/calsync/store"
)

type testStack struct {
	server *httptest.Server
	cfg    *config.Config
	hub    *hub.Hub
}

func newTestStack(t *testing.T) *testStack {
	t.Helper()

	cfg := config.GenerateConfig()
	cfg.DataDir = t.TempDir()
	// Liveness ticks are driven manually in tests that need them.
	cfg.Heartbeat.Interval = time.Hour
	cfg.Heartbeat.ReapInterval = time.Hour

	logger := slog.Default()
	st, err := store.NewFileStore(logger, cfg.DataDir+"/calendar.json")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	eng, err := engine.New(ctx, logger, st)
	require.NoError(t, err)

	h := hub.New(ctx, logger, cfg, eng)
	eng.SetBroadcaster(h)

	svc := New(ctx, logger, cfg, eng, h)
	server := httptest.NewServer(svc.Handler())
	t.Cleanup(server.Close)

	return &testStack{server: server, cfg: cfg, hub: h}
}

func (ts *testStack) wsURL() string {
	return "ws" + strings.TrimPrefix(ts.server.URL, "http") + "/api/v1/sync"
}

func (ts *testStack) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	conn, resp, err := websocket.DefaultDialer.Dial(ts.wsURL(), nil)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readWire(t *testing.T, conn *websocket.Conn) models.Envelope {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, payload, err := conn.ReadMessage()
	require.NoError(t, err)
	var env models.Envelope
	require.NoError(t, json.Unmarshal(payload, &env))
	return env
}

func postCalendar(t *testing.T, ts *testStack, body string) (*http.Response, []byte) {
	t.Helper()
	resp, err := http.Post(ts.server.URL+"/api/v1/calendar", "application/json", bytes.NewBufferString(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	var buf bytes.Buffer
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	return resp, buf.Bytes()
}

func getCalendar(t *testing.T, ts *testStack) models.CalendarResponse {
	t.Helper()
	resp, err := http.Get(ts.server.URL + "/api/v1/calendar")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out models.CalendarResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestPostThenGetCalendar(t *testing.T) {
	ts := newTestStack(t)

	resp, body := postCalendar(t, ts, `{"events":{"e1":{"title":"standup"}},"vacations":{}}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var update models.UpdateResponse
	require.NoError(t, json.Unmarshal(body, &update))
	assert.True(t, update.Success)
	assert.Equal(t, int64(2), update.Version)
	assert.NotZero(t, update.LastModified)

	cal := getCalendar(t, ts)
	assert.True(t, cal.Success)
	require.NotNil(t, cal.Data)
	assert.Equal(t, int64(2), cal.Data.Version)
	assert.Contains(t, cal.Data.Events, "e1")
}

func TestPostCalendarRejectsBadShape(t *testing.T) {
	ts := newTestStack(t)

	testCases := []struct {
		name string
		body string
	}{
		{name: "not json", body: `not json at all`},
		{name: "missing vacations", body: `{"events":{}}`},
		{name: "array body", body: `[1,2,3]`},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			resp, body := postCalendar(t, ts, tc.body)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

			var errResp models.ErrorResponse
			require.NoError(t, json.Unmarshal(body, &errResp))
			assert.False(t, errResp.Success)
			assert.NotEmpty(t, errResp.Error)
		})
	}

	cal := getCalendar(t, ts)
	assert.Equal(t, int64(1), cal.Data.Version, "rejected posts must not advance the version")
}

func TestPushClientReceivesInitData(t *testing.T) {
	ts := newTestStack(t)

	_, _ = postCalendar(t, ts, `{"events":{"e1":{}},"vacations":{}}`)

	conn := ts.dial(t)
	env := readWire(t, conn)

	assert.Equal(t, models.MsgInitData, env.Type)
	require.NotNil(t, env.Data)
	assert.Equal(t, int64(2), env.Data.Version)
	assert.Contains(t, env.Data.Events, "e1")
}

func TestPushUpdateFansOutExcludingOriginator(t *testing.T) {
	ts := newTestStack(t)

	watcher := ts.dial(t)
	require.Equal(t, models.MsgInitData, readWire(t, watcher).Type)

	sender := ts.dial(t)
	require.Equal(t, models.MsgInitData, readWire(t, sender).Type)

	update := models.Envelope{
		Type: models.MsgDataUpdate,
		Data: &models.Document{
			Events:    map[string]json.RawMessage{},
			Vacations: map[string]json.RawMessage{"v1": json.RawMessage(`{"who":"ana"}`)},
		},
	}
	require.NoError(t, sender.WriteJSON(update))

	// The sender gets a confirmation, not its own broadcast.
	confirmed := readWire(t, sender)
	assert.Equal(t, models.MsgUpdateConfirmed, confirmed.Type)
	assert.Equal(t, int64(2), confirmed.Version)

	// Everyone else gets the committed document.
	broadcast := readWire(t, watcher)
	assert.Equal(t, models.MsgDataUpdate, broadcast.Type)
	require.NotNil(t, broadcast.Data)
	assert.Equal(t, int64(2), broadcast.Data.Version)
	assert.Contains(t, broadcast.Data.Vacations, "v1")

	// No duplicate frame for the sender.
	sender.SetReadDeadline(time.Now().Add(300 * time.Millisecond))
	_, _, err := sender.ReadMessage()
	assert.Error(t, err, "the originator must not receive a duplicate broadcast")
}

func TestPushBadPayloadGetsErrorAndKeepsConnection(t *testing.T) {
	ts := newTestStack(t)

	conn := ts.dial(t)
	require.Equal(t, models.MsgInitData, readWire(t, conn).Type)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"DATA_UPDATE","data":"nope"}`)))

	env := readWire(t, conn)
	assert.Equal(t, models.MsgError, env.Type)
	assert.NotEmpty(t, env.Message)

	// Connection survives; a PING still gets through.
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"PING"}`)))
	assert.Equal(t, models.MsgPong, readWire(t, conn).Type)

	cal := getCalendar(t, ts)
	assert.Equal(t, int64(1), cal.Data.Version)
}

func TestHttpPostBroadcastsToAllPushClients(t *testing.T) {
	ts := newTestStack(t)

	conn := ts.dial(t)
	require.Equal(t, models.MsgInitData, readWire(t, conn).Type)

	_, _ = postCalendar(t, ts, `{"events":{"e9":{}},"vacations":{}}`)

	env := readWire(t, conn)
	assert.Equal(t, models.MsgDataUpdate, env.Type)
	require.NotNil(t, env.Data)
	assert.Contains(t, env.Data.Events, "e9")
}

func TestHealthAndStats(t *testing.T) {
	ts := newTestStack(t)

	conn := ts.dial(t)
	require.Equal(t, models.MsgInitData, readWire(t, conn).Type)

	resp, err := http.Get(ts.server.URL + "/api/v1/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var health models.HealthResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, 1, health.Clients)

	_, _ = postCalendar(t, ts, `{"events":{"e1":{}},"vacations":{"v1":{},"v2":{}}}`)

	statsResp, err := http.Get(ts.server.URL + "/api/v1/stats")
	require.NoError(t, err)
	defer statsResp.Body.Close()

	var stats models.StatsResponse
	require.NoError(t, json.NewDecoder(statsResp.Body).Decode(&stats))
	assert.Equal(t, 1, stats.Events)
	assert.Equal(t, 2, stats.Vacations)
	assert.Equal(t, int64(2), stats.Version)
}

func TestRateLimitReturns429(t *testing.T) {
	ts := newTestStack(t)
	ts.cfg.RateLimiters.System = config.RateLimiterConfig{Limit: 0.1, Burst: 1}

	first, err := http.Get(ts.server.URL + "/api/v1/ping")
	require.NoError(t, err)
	first.Body.Close()
	assert.Equal(t, http.StatusOK, first.StatusCode)

	second, err := http.Get(ts.server.URL + "/api/v1/ping")
	require.NoError(t, err)
	second.Body.Close()
	assert.Equal(t, http.StatusTooManyRequests, second.StatusCode)
	assert.NotEmpty(t, second.Header.Get("Retry-After"))
}
