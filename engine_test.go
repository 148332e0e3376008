package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/tokmz/relay/pkg/errors"
	"github.com/tokmz/relay/pkg/logger"
)

func newTestEngine() *Engine {
	return New(WithMode(gin.TestMode), WithQuiet())
}

func do(t *testing.T, e *Engine, method, path string) (*httptest.ResponseRecorder, Response) {
	t.Helper()
	w := httptest.NewRecorder()
	e.Handler().ServeHTTP(w, httptest.NewRequest(method, path, nil))

	var resp Response
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	}
	return w, resp
}

func TestSuccessResponse(t *testing.T) {
	e := newTestEngine()
	e.RouterGroup().GET("/ok", func(c *Context) {
		c.Success(map[string]int{"rooms": 2})
	})

	w, resp := do(t, e, http.MethodGet, "/ok")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "success", resp.Message)
	assert.Equal(t, map[string]any{"rooms": float64(2)}, resp.Data)
}

func TestRespondError(t *testing.T) {
	e := newTestEngine()
	r := e.RouterGroup()
	r.GET("/biz", func(c *Context) {
		c.RespondError(errors.ErrNotFound.WithMessage("Room not found"))
	})
	r.GET("/plain", func(c *Context) {
		c.RespondError(assert.AnError)
	})
	r.GET("/fail", func(c *Context) {
		c.Fail(4000, "bad")
	})

	w, resp := do(t, e, http.MethodGet, "/biz")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, 1004, resp.Code)
	assert.Equal(t, "Room not found", resp.Message)

	w, resp = do(t, e, http.MethodGet, "/plain")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, errors.ErrServer.Code, resp.Code)
	assert.Equal(t, assert.AnError.Error(), resp.Message)

	w, resp = do(t, e, http.MethodGet, "/fail")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 4000, resp.Code)
}

func TestTraceIDInResponse(t *testing.T) {
	e := newTestEngine()
	e.Use(func(c *Context) {
		SetContextTraceID(c, "trace-1")
		c.Next()
	})

	e.RouterGroup().GET("/t", func(c *Context) {
		c.Success(nil)
	})

	_, resp := do(t, e, http.MethodGet, "/t")
	assert.Equal(t, "trace-1", resp.TraceID)
}

func TestRecovery(t *testing.T) {
	e := newTestEngine()
	e.RouterGroup().GET("/panic", func(c *Context) {
		panic("boom")
	})

	w, resp := do(t, e, http.MethodGet, "/panic")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, errors.ErrServer.Code, resp.Code)
}

func TestLoggerMiddleware(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	log := logger.NewFromZap(zap.New(core), logger.DebugLevel)

	e := New(WithMode(gin.TestMode), WithQuiet(), WithLogger(log))
	e.Use(Logger(log, &LoggerConfig{ExcludePaths: []string{"/health"}}))
	e.RouterGroup().GET("/health", func(c *Context) { c.Success(nil) })
	e.RouterGroup().GET("/missing", func(c *Context) { c.RespondError(errors.ErrNotFound) })

	do(t, e, http.MethodGet, "/health")
	assert.Zero(t, logs.FilterMessage("request").Len())

	do(t, e, http.MethodGet, "/missing")
	entries := logs.FilterMessage("request").All()
	require.Len(t, entries, 1)
	assert.Equal(t, zapcore.WarnLevel, entries[0].Level)
	assert.Equal(t, int64(http.StatusNotFound), entries[0].ContextMap()["status"])
}

type roomReq struct {
	RoomID string `uri:"roomId" binding:"required"`
	Limit  int    `form:"limit"`
}

type roomResp struct {
	RoomID string `json:"roomId"`
	Limit  int    `json:"limit"`
}

func TestGenericHandle(t *testing.T) {
	e := newTestEngine()
	api := e.Group("/api")
	Handle(api.GET, "/rooms/:roomId", func(c *Context, req *roomReq) (*roomResp, error) {
		if req.RoomID == "gone" {
			return nil, errors.ErrNotFound
		}
		return &roomResp{RoomID: req.RoomID, Limit: req.Limit}, nil
	})
	HandleOnly(api.GET, "/count", func(c *Context) (*int, error) {
		n := 3
		return &n, nil
	})

	_, resp := do(t, e, http.MethodGet, "/api/rooms/abc?limit=5")
	assert.Equal(t, map[string]any{"roomId": "abc", "limit": float64(5)}, resp.Data)

	w, _ := do(t, e, http.MethodGet, "/api/rooms/gone")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, resp = do(t, e, http.MethodGet, "/api/rooms/abc?limit=x")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, errors.ErrBadRequest.Code, resp.Code)

	_, resp = do(t, e, http.MethodGet, "/api/count")
	assert.Equal(t, float64(3), resp.Data)
}

func TestRunListenerStopsOnCancel(t *testing.T) {
	var before, after bool
	e := New(WithMode(gin.TestMode), WithQuiet(),
		WithShutdownTimeout(time.Second),
		WithBeforeShutdown(func() { before = true }),
		WithAfterShutdown(func() { after = true }),
	)
	e.RouterGroup().GET("/", func(c *Context) { c.String(http.StatusOK, "up") })

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() { done <- e.RunListener(ctx, ln) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + ln.Addr().String() + "/")
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("server did not stop")
	}
	assert.True(t, before)
	assert.True(t, after)
}

func TestBanner(t *testing.T) {
	e := newTestEngine()
	e.RouterGroup().GET("/ws", func(c *Context) {})

	var buf bytes.Buffer
	e.writeBanner(&buf, ":5000")
	out := buf.String()
	assert.Contains(t, out, "ws://127.0.0.1:5000/ws")
	assert.Contains(t, out, "/ws")
	assert.Contains(t, out, "[Relay] Listening on :5000")

	assert.Equal(t, "http://localhost:80", openURL("localhost:80"))
	assert.Equal(t, "http://127.0.0.1:8080", openURL("8080"))
}
