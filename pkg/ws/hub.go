package ws

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/tokmz/relay/pkg/logger"
)

// Stats 运行时统计
type Stats struct {
	TotalClients     int `json:"totalClients"`
	TotalRooms       int `json:"totalRooms"`
	ActiveRooms      int `json:"activeRooms"`
	ConnectedClients int `json:"connectedClients"`
}

// Hub 信令核心
//
// 连接表、房间表和广播都由 mu 串行化；空房检查与失效清扫也先获取 mu。
// Hub 可以脱离 HTTP 单独使用：Connect 接入任意 Transport，Dispatch 投递入站帧。
type Hub struct {
	mu        sync.Mutex
	registry  *Registry
	rooms     *RoomManager
	broadcast *Broadcaster
	router    *Router
	queue     *ExpiryQueue
	closed    bool

	events   *EventBus
	sweeper  *Sweeper
	config   *Config
	upgrader *Upgrader
	log      logger.Logger
	metrics  Metrics

	// 生命周期
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// idBinder Transport 可选实现，接入时获知自己的连接 ID
type idBinder interface {
	bindID(id string)
}

// NewHub 创建信令核心
func NewHub(opts ...Option) (*Hub, error) {
	config := DefaultConfig()
	for _, opt := range opts {
		opt(config)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	if config.Logger == nil {
		config.Logger = logger.NewNop()
	}
	if config.Metrics == nil {
		config.Metrics = NoopMetrics{}
	}

	ctx, cancel := context.WithCancel(context.Background())
	h := &Hub{
		config:   config,
		log:      config.Logger,
		metrics:  config.Metrics,
		upgrader: NewUpgrader(config.UpgraderConfig, config.HandshakeTimeout),
		events:   NewEventBus(1024),
		queue:    NewExpiryQueue(),
		ctx:      ctx,
		cancel:   cancel,
	}
	h.registry = NewRegistry(config.MaxConnections)
	h.rooms = NewRoomManager(h.queue, config.RoomTTL, h.expireRoom)
	h.broadcast = NewBroadcaster(h.registry, h.log, h.metrics)
	h.router = NewRouter(h.route, h.broadcast.Send, h.log, h.metrics)
	h.sweeper = NewSweeper(config.SweepInterval, h.SweepStale, h.log)

	return h, nil
}

// Run 启动失效连接清扫，阻塞直到 ctx 结束或 Hub 关闭
func (h *Hub) Run(ctx context.Context) error {
	if err := h.sweeper.Start(); err != nil {
		return err
	}
	h.log.Info("signaling hub started",
		zap.Duration("sweep_interval", h.config.SweepInterval),
		zap.Duration("room_ttl", h.config.RoomTTL),
	)

	select {
	case <-ctx.Done():
	case <-h.ctx.Done():
	}
	return nil
}

// Shutdown 关闭所有连接并停止后台任务
func (h *Hub) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	transports := make([]Transport, 0, h.registry.Count())
	h.registry.Range(func(c *Connection) bool {
		transports = append(transports, c.Transport)
		return true
	})
	h.mu.Unlock()

	h.cancel()
	h.sweeper.Stop()
	// 回调会获取 h.mu，必须在锁外停止
	h.queue.Stop()

	for _, t := range transports {
		_ = t.Close()
	}

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = ctx.Err()
	}

	h.events.Close()
	h.log.Info("signaling hub stopped", zap.Int("closed_connections", len(transports)))
	return err
}

// HandleUpgrade 升级 HTTP 连接并接入 Hub
func (h *Hub) HandleUpgrade(w http.ResponseWriter, r *http.Request) error {
	conn, err := h.upgrader.Upgrade(w, r)
	if err != nil {
		return err
	}

	// wg.Add 与 Shutdown 中的 closed 标记由 mu 串行化，保证先于 wg.Wait
	h.mu.Lock()
	closed := h.closed
	if !closed {
		h.wg.Add(1)
	}
	h.mu.Unlock()
	if closed {
		_ = conn.Close()
		return ErrHubClosed
	}

	client := newClient(conn, h)
	if _, err := h.Connect(client); err != nil {
		h.wg.Done()
		msg := websocket.FormatCloseMessage(websocket.CloseTryAgainLater, err.Error())
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(h.config.WriteTimeout))
		_ = conn.Close()
		return err
	}

	go func() {
		defer h.wg.Done()
		client.Run()
	}()
	return nil
}

// Connect 接入一个传输层，分配连接 ID 并发送 welcome
func (h *Hub) Connect(t Transport) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return "", ErrHubClosed
	}
	conn, err := h.registry.Register(t)
	if err != nil {
		h.log.Warn("connection rejected", zap.String("remote_addr", t.RemoteAddr()), zap.Error(err))
		return "", err
	}
	if b, ok := t.(idBinder); ok {
		b.bindID(conn.ID)
	}

	h.metrics.IncrementConnections()
	h.metrics.SetConnectionCount(h.registry.Count())
	h.log.Info("client connected", logger.ClientID(conn.ID), zap.String("remote_addr", conn.RemoteAddr))

	h.broadcast.Send(conn, Welcome{
		Type:      TypeWelcome,
		ClientID:  conn.ID,
		Timestamp: timestamp(),
		Message:   "Connected to signaling server",
	})
	h.events.Publish(Event{Type: EventClientConnected, ClientID: conn.ID})
	return conn.ID, nil
}

// Dispatch 处理连接发来的一个入站帧，未知连接直接忽略
func (h *Hub) Dispatch(ctx context.Context, connID string, data []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	conn, ok := h.registry.Lookup(connID)
	if !ok {
		return
	}
	h.router.Dispatch(logger.WithClientID(ctx, connID), conn, data)
}

// Disconnect 连接断开：离开房间并从注册表移除，可重复调用
// 不关闭传输层，由调用方负责
func (h *Hub) Disconnect(connID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	conn, ok := h.registry.Lookup(connID)
	if !ok {
		return false
	}
	h.teardown(conn)
	return true
}

// SweepStale 清扫传输层已关闭或正在关闭的连接，返回清扫数量
func (h *Hub) SweepStale() int {
	h.mu.Lock()
	var stale []*Connection
	h.registry.Range(func(c *Connection) bool {
		if !c.Open() {
			stale = append(stale, c)
		}
		return true
	})
	for _, c := range stale {
		h.teardown(c)
	}
	h.mu.Unlock()

	for _, c := range stale {
		if c.Transport != nil {
			_ = c.Transport.Close()
		}
	}
	if len(stale) > 0 {
		h.metrics.IncrementEvictions(len(stale))
		h.log.Info("stale connections swept", zap.Int("count", len(stale)))
	}
	return len(stale)
}

// teardown 显式断开与清扫共用的清理路径，调用方持有 h.mu
func (h *Hub) teardown(conn *Connection) {
	h.leave(conn)
	h.registry.Remove(conn.ID)

	h.metrics.DecrementConnections()
	h.metrics.SetConnectionCount(h.registry.Count())
	h.log.Info("client disconnected", logger.ClientID(conn.ID))
	h.events.Publish(Event{Type: EventClientDisconnected, ClientID: conn.ID})
}

// expireRoom 空房检查回调，在过期队列的 goroutine 中执行
func (h *Hub) expireRoom(roomID string, createdAt time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed || !h.rooms.Expire(roomID, createdAt) {
		return
	}
	h.metrics.IncrementExpiredRooms()
	h.metrics.SetRoomCount(h.rooms.Count())
	h.log.Info("empty room expired", logger.RoomID(roomID))
	h.events.Publish(Event{Type: EventRoomDeleted, RoomID: roomID})
}

// publishRoom 房间变化后发布 room.updated 或 room.deleted，调用方持有 h.mu
func (h *Hub) publishRoom(eventType EventType, roomID, clientID string) {
	h.metrics.SetRoomCount(h.rooms.Count())
	info, ok := h.rooms.GetRoom(roomID)
	if !ok {
		h.events.Publish(Event{Type: EventRoomDeleted, RoomID: roomID, ClientID: clientID})
		return
	}
	h.events.Publish(Event{Type: eventType, RoomID: roomID, ClientID: clientID, Room: &info})
}

// Subscribe 订阅 Hub 事件
func (h *Hub) Subscribe(eventType EventType, handler EventHandler) {
	h.events.Subscribe(eventType, handler)
}

// Use 为入站帧处理添加中间件
func (h *Hub) Use(middleware ...MiddlewareFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.router.Use(middleware...)
}

// CreateRoom 创建空房间
func (h *Hub) CreateRoom(explicitID string) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id, err := h.rooms.CreateRoom(explicitID)
	if err != nil {
		return "", err
	}
	h.publishRoom(EventRoomCreated, id, "")
	return id, nil
}

// Stats 当前统计
func (h *Hub) Stats() Stats {
	h.mu.Lock()
	defer h.mu.Unlock()

	connected := 0
	h.registry.Range(func(c *Connection) bool {
		if c.Open() {
			connected++
		}
		return true
	})
	return Stats{
		TotalClients:     h.registry.Count(),
		TotalRooms:       h.rooms.Count(),
		ActiveRooms:      h.rooms.ActiveCount(),
		ConnectedClients: connected,
	}
}

// Rooms 按创建顺序列出房间
func (h *Hub) Rooms() []RoomSummary {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.rooms.GetAllRooms()
}

// Room 房间详情
func (h *Hub) Room(roomID string) (RoomInfo, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.rooms.GetRoom(roomID)
}

// Connections 连接快照
func (h *Hub) Connections() []ConnectionInfo {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.registry.Snapshot()
}

// DroppedEvents 事件总线丢弃的事件数
func (h *Hub) DroppedEvents() int64 {
	return h.events.DroppedEvents()
}
