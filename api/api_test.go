package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tokmz/relay"
	"github.com/tokmz/relay/pkg/directory"
	"github.com/tokmz/relay/pkg/ws"
)

type envelope struct {
	Code    int             `json:"code"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
}

func newHub(t *testing.T, opts ...ws.Option) *ws.Hub {
	t.Helper()
	opts = append([]ws.Option{ws.WithSweepInterval(time.Hour), ws.WithAllowAllOrigins()}, opts...)
	hub, err := ws.NewHub(opts...)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = hub.Shutdown(ctx)
	})
	return hub
}

func newEngine(h *Handler) *relay.Engine {
	e := relay.New(relay.WithMode(gin.TestMode), relay.WithQuiet())
	h.Register(e.RouterGroup())
	return e
}

func get(t *testing.T, e *relay.Engine, path string) (int, envelope) {
	t.Helper()
	w := httptest.NewRecorder()
	e.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	return w.Code, env
}

func TestIndex(t *testing.T) {
	e := newEngine(New(newHub(t)))

	w := httptest.NewRecorder()
	e.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Signaling server is running")

	w = httptest.NewRecorder()
	e.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodHead, "/", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestHealth(t *testing.T) {
	hub := newHub(t)
	_, err := hub.CreateRoom("r1")
	require.NoError(t, err)

	store, err := directory.NewStore(nil)
	require.NoError(t, err)
	e := newEngine(New(hub, WithDirectory(directory.New(store, nil, time.Second))))

	code, env := get(t, e, "/health")
	require.Equal(t, http.StatusOK, code)

	var health HealthResponse
	require.NoError(t, json.Unmarshal(env.Data, &health))
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, "ok", health.Directory)
	assert.Equal(t, 1, health.Rooms)
	assert.GreaterOrEqual(t, health.Uptime, 0.0)
}

func TestHealthDegraded(t *testing.T) {
	hub := newHub(t)
	dir := directory.New(downStore{}, nil, time.Second)

	e := newEngine(New(hub, WithDirectory(dir)))
	code, env := get(t, e, "/health")
	require.Equal(t, http.StatusOK, code)

	var health HealthResponse
	require.NoError(t, json.Unmarshal(env.Data, &health))
	assert.Equal(t, "degraded", health.Status)
	assert.NotEqual(t, "ok", health.Directory)

	code, env = get(t, e, "/api/directory")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, directory.ErrConnection.Code, env.Code)
}

// downStore 不可用的目录存储
type downStore struct{}

func (downStore) Put(context.Context, directory.Entry) error { return directory.ErrConnection }
func (downStore) Get(context.Context, string) (directory.Entry, error) {
	return directory.Entry{}, directory.ErrConnection
}
func (downStore) Delete(context.Context, string) error { return directory.ErrConnection }
func (downStore) List(context.Context) ([]directory.Entry, error) {
	return nil, directory.ErrConnection
}
func (downStore) Reset(context.Context) error { return directory.ErrConnection }
func (downStore) Ping(context.Context) error  { return directory.ErrConnection }
func (downStore) Close() error                { return nil }

func TestStats(t *testing.T) {
	metrics := ws.NewCounterMetrics()
	hub := newHub(t, ws.WithMetrics(metrics))
	_, err := hub.CreateRoom("")
	require.NoError(t, err)

	e := newEngine(New(hub, WithMetrics(metrics)))
	code, env := get(t, e, "/stats")
	require.Equal(t, http.StatusOK, code)

	var stats map[string]any
	require.NoError(t, json.Unmarshal(env.Data, &stats))
	assert.Equal(t, float64(1), stats["totalRooms"])
	assert.Equal(t, float64(0), stats["activeRooms"])
	assert.Equal(t, float64(0), stats["connectedClients"])
	assert.Contains(t, stats, "metrics")

	// 未实现 Snapshot 的指标不输出 metrics
	e = newEngine(New(hub, WithMetrics(ws.NoopMetrics{})))
	_, env = get(t, e, "/stats")
	stats = nil
	require.NoError(t, json.Unmarshal(env.Data, &stats))
	assert.NotContains(t, stats, "metrics")
}

func TestRooms(t *testing.T) {
	hub := newHub(t)
	e := newEngine(New(hub))

	_, env := get(t, e, "/api/rooms")
	assert.JSONEq(t, `[]`, string(env.Data))

	_, err := hub.CreateRoom("alpha")
	require.NoError(t, err)
	_, err = hub.CreateRoom("beta")
	require.NoError(t, err)

	_, env = get(t, e, "/api/rooms")
	var rooms []ws.RoomSummary
	require.NoError(t, json.Unmarshal(env.Data, &rooms))
	require.Len(t, rooms, 2)
	assert.Equal(t, "alpha", rooms[0].RoomID)
	assert.Equal(t, "beta", rooms[1].RoomID)
}

func TestGetRoom(t *testing.T) {
	hub := newHub(t)
	_, err := hub.CreateRoom("alpha")
	require.NoError(t, err)
	e := newEngine(New(hub))

	code, env := get(t, e, "/api/rooms/alpha")
	require.Equal(t, http.StatusOK, code)
	var info ws.RoomInfo
	require.NoError(t, json.Unmarshal(env.Data, &info))
	assert.Equal(t, "alpha", info.RoomID)
	assert.False(t, info.IsActive)
	assert.Zero(t, info.ParticipantCount)

	code, env = get(t, e, "/api/rooms/missing")
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "Room not found", env.Message)

	code, env = get(t, e, "/api/rooms/"+strings.Repeat("a", 65))
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, ws.ErrInvalidRoomID.Code, env.Code)

	code, _ = get(t, e, "/api/rooms/bad%20id")
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestDirectoryDisabled(t *testing.T) {
	e := newEngine(New(newHub(t)))
	code, _ := get(t, e, "/api/directory")
	assert.Equal(t, http.StatusServiceUnavailable, code)
}

func TestDirectoryMirrorsHub(t *testing.T) {
	hub := newHub(t)
	store, err := directory.NewStore(nil)
	require.NoError(t, err)
	dir := directory.New(store, nil, time.Second)
	dir.Attach(hub)

	e := newEngine(New(hub, WithDirectory(dir)))
	srv := httptest.NewServer(e.Handler())
	t.Cleanup(srv.Close)

	conn := dial(t, srv)
	welcome := readFrame(t, conn)
	require.Equal(t, ws.TypeWelcome, welcome["type"])

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "create-room", "roomId": "mirror"}))
	created := readFrame(t, conn)
	require.Equal(t, ws.TypeRoomCreated, created["type"])

	require.Eventually(t, func() bool {
		_, env := get(t, e, "/api/directory")
		var entries []directory.Entry
		if json.Unmarshal(env.Data, &entries) != nil || len(entries) != 1 {
			return false
		}
		return entries[0].RoomID == "mirror" && entries[0].ParticipantCount == 1
	}, 2*time.Second, 20*time.Millisecond)

	_, env := get(t, e, "/api/connections")
	var conns []ws.ConnectionInfo
	require.NoError(t, json.Unmarshal(env.Data, &conns))
	require.Len(t, conns, 1)
	assert.Equal(t, welcome["clientId"], conns[0].ID)
	assert.Equal(t, "mirror", conns[0].RoomID)

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool {
		_, env := get(t, e, "/api/directory")
		return string(env.Data) == "[]"
	}, 2*time.Second, 20*time.Millisecond)
}

func TestUpgradeRequiresWebSocket(t *testing.T) {
	e := newEngine(New(newHub(t)))
	w := httptest.NewRecorder()
	e.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ws", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	_ = resp.Body.Close()
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var frame map[string]any
	require.NoError(t, conn.ReadJSON(&frame))
	return frame
}
