// Package api 信令服务的 HTTP 接口
package api

import (
	"net/http"
	"regexp"
	"time"

	"go.uber.org/zap"

	"github.com/tokmz/relay"
	"github.com/tokmz/relay/pkg/directory"
	"github.com/tokmz/relay/pkg/errors"
	"github.com/tokmz/relay/pkg/logger"
	"github.com/tokmz/relay/pkg/ws"
)

// roomIDPattern HTTP 查询接受的房间 ID
var roomIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// ErrRoomNotFound 房间不存在
var ErrRoomNotFound = errors.ErrNotFound.WithMessage("Room not found")

// snapshotter 可导出计数快照的指标实现
type snapshotter interface {
	Snapshot() ws.MetricsSnapshot
}

// Handler HTTP 处理器
type Handler struct {
	hub       *ws.Hub
	directory *directory.Directory
	metrics   snapshotter
	log       logger.Logger
	started   time.Time
}

// Option 处理器选项
type Option func(*Handler)

// WithDirectory 启用 /api/directory
func WithDirectory(d *directory.Directory) Option {
	return func(h *Handler) {
		h.directory = d
	}
}

// WithMetrics /stats 附带计数快照，m 未实现 Snapshot 时忽略
func WithMetrics(m ws.Metrics) Option {
	return func(h *Handler) {
		if s, ok := m.(snapshotter); ok {
			h.metrics = s
		}
	}
}

// WithLogger 设置日志
func WithLogger(log logger.Logger) Option {
	return func(h *Handler) {
		h.log = log
	}
}

// New 创建处理器
func New(hub *ws.Hub, opts ...Option) *Handler {
	h := &Handler{
		hub:     hub,
		log:     logger.NewNop(),
		started: time.Now(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register 注册路由
// upgrade 为 /ws 专用中间件，例如限流
func (h *Handler) Register(r *relay.RouterGroup, upgrade ...relay.HandlerFunc) {
	r.GET("/", h.Index)
	r.HEAD("/", h.Index)
	r.GET("/health", h.Health)
	r.GET("/stats", h.Stats)
	r.GET("/ws", h.Upgrade, upgrade...)

	api := r.Group("/api")
	relay.HandleOnly(api.GET, "/rooms", h.ListRooms)
	relay.Handle(api.GET, "/rooms/:roomId", h.GetRoom)
	relay.HandleOnly(api.GET, "/connections", h.ListConnections)
	relay.HandleOnly(api.GET, "/directory", h.ListDirectory)
}

// Index 存活检查
func (h *Handler) Index(c *relay.Context) {
	c.String(http.StatusOK, "Signaling server is running ✅")
}

// HealthResponse /health 响应
type HealthResponse struct {
	Status      string  `json:"status"` // ok/degraded
	Uptime      float64 `json:"uptime"` // 秒
	Connections int     `json:"connections"`
	Rooms       int     `json:"rooms"`
	Directory   string  `json:"directory,omitempty"`
}

// Health 健康检查，目录不可用时状态为 degraded，信令本身不受影响
func (h *Handler) Health(c *relay.Context) {
	stats := h.hub.Stats()
	resp := HealthResponse{
		Status:      "ok",
		Uptime:      time.Since(h.started).Seconds(),
		Connections: stats.TotalClients,
		Rooms:       stats.TotalRooms,
	}
	if h.directory != nil {
		resp.Directory = "ok"
		if err := h.directory.Ping(c.RequestContext()); err != nil {
			h.log.WarnContext(c.RequestContext(), "directory ping failed", zap.Error(err))
			resp.Status = "degraded"
			resp.Directory = err.Error()
		}
	}
	c.Success(resp)
}

// StatsResponse /stats 响应
type StatsResponse struct {
	ws.Stats
	DroppedEvents int64               `json:"droppedEvents"`
	Metrics       *ws.MetricsSnapshot `json:"metrics,omitempty"`
}

// Stats 连接与房间统计
func (h *Handler) Stats(c *relay.Context) {
	resp := StatsResponse{
		Stats:         h.hub.Stats(),
		DroppedEvents: h.hub.DroppedEvents(),
	}
	if h.metrics != nil {
		snap := h.metrics.Snapshot()
		resp.Metrics = &snap
	}
	c.Success(resp)
}

// Upgrade WebSocket 接入
// 握手失败时 gorilla 已写出错误响应，这里只记录日志
func (h *Handler) Upgrade(c *relay.Context) {
	if err := h.hub.HandleUpgrade(c.Writer(), c.Request()); err != nil {
		h.log.WarnContext(c.RequestContext(), "websocket upgrade failed",
			zap.String("client_ip", c.ClientIP()),
			zap.Error(err),
		)
	}
}

// ListRooms 按创建顺序列出房间
func (h *Handler) ListRooms(c *relay.Context) (*[]ws.RoomSummary, error) {
	rooms := h.hub.Rooms()
	return &rooms, nil
}

// RoomRequest 房间查询参数
type RoomRequest struct {
	RoomID string `uri:"roomId" binding:"required"`
}

// GetRoom 房间详情
func (h *Handler) GetRoom(c *relay.Context, req *RoomRequest) (*ws.RoomInfo, error) {
	if !roomIDPattern.MatchString(req.RoomID) {
		return nil, ws.ErrInvalidRoomID
	}
	info, ok := h.hub.Room(req.RoomID)
	if !ok {
		return nil, ErrRoomNotFound
	}
	return &info, nil
}

// ListConnections 列出当前连接
func (h *Handler) ListConnections(c *relay.Context) (*[]ws.ConnectionInfo, error) {
	conns := h.hub.Connections()
	return &conns, nil
}

// ListDirectory 目录镜像中的房间，未启用目录时返回 503
func (h *Handler) ListDirectory(c *relay.Context) (*[]directory.Entry, error) {
	if h.directory == nil {
		return nil, errors.ErrUnavailable.WithMessage("Room directory disabled")
	}
	entries, err := h.directory.List(c.RequestContext())
	if err != nil {
		return nil, err
	}
	return &entries, nil
}
