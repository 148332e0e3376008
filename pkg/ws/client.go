package ws

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/tokmz/relay/pkg/logger"
)

// Client 基于 gorilla/websocket 的 Transport
type Client struct {
	id   atomic.Value // string，Connect 时写入
	conn *websocket.Conn
	hub  *Hub

	// 发送队列，满则丢弃
	send chan []byte

	// 心跳
	lastPong atomic.Int64 // UnixNano

	// 生命周期
	ctx       context.Context
	cancel    context.CancelFunc
	state     atomic.Int32
	closeOnce sync.Once

	remoteAddr string
	config     *ClientConfig
}

// ClientConfig 客户端配置
type ClientConfig struct {
	SendQueueSize  int
	WriteWait      time.Duration
	PingInterval   time.Duration
	PongWait       time.Duration
	MaxMessageSize int64
}

// newClient 创建客户端
func newClient(conn *websocket.Conn, hub *Hub) *Client {
	ctx, cancel := context.WithCancel(hub.ctx)

	config := &ClientConfig{
		SendQueueSize:  hub.config.SendBuffer,
		WriteWait:      hub.config.WriteTimeout,
		PingInterval:   hub.config.PingInterval,
		PongWait:       hub.config.PongTimeout,
		MaxMessageSize: hub.config.MaxMessageSize,
	}

	c := &Client{
		conn:       conn,
		hub:        hub,
		send:       make(chan []byte, config.SendQueueSize),
		ctx:        ctx,
		cancel:     cancel,
		remoteAddr: conn.RemoteAddr().String(),
		config:     config,
	}
	c.id.Store("")
	c.state.Store(int32(StateOpen))
	c.lastPong.Store(time.Now().UnixNano())
	return c
}

func (c *Client) bindID(id string) {
	c.id.Store(id)
}

// ID 连接 ID
func (c *Client) ID() string {
	return c.id.Load().(string)
}

// Run 运行读写协程，任一退出后关闭连接
func (c *Client) Run() {
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		c.readPump()
	}()

	go func() {
		defer wg.Done()
		c.writePump()
	}()

	wg.Wait()
	_ = c.Close()
}

// readPump 读取入站帧并交给 Hub
func (c *Client) readPump() {
	defer func() {
		_ = c.Close()
	}()

	c.conn.SetReadLimit(c.config.MaxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(c.config.PongWait)); err != nil {
		return
	}
	c.conn.SetPongHandler(func(string) error {
		c.lastPong.Store(time.Now().UnixNano())
		return c.conn.SetReadDeadline(time.Now().Add(c.config.PongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				c.hub.log.Debug("websocket read failed", logger.ClientID(c.ID()), zap.Error(err))
			}
			return
		}
		c.hub.Dispatch(c.ctx, c.ID(), data)
	}
}

// writePump 写出发送队列并定时发送 ping
func (c *Client) writePump() {
	ticker := time.NewTicker(c.config.PingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case <-c.ctx.Done():
			return

		case message := <-c.send:
			if err := c.writeMessage(message); err != nil {
				c.state.CompareAndSwap(int32(StateOpen), int32(StateClosing))
				return
			}

		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteWait)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.state.CompareAndSwap(int32(StateOpen), int32(StateClosing))
				return
			}
		}
	}
}

// writeMessage 写入文本帧
func (c *Client) writeMessage(message []byte) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteWait)); err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, message)
}

// Send 非阻塞写入发送队列
func (c *Client) Send(data []byte) error {
	if c.State() != StateOpen {
		return ErrConnectionClosed
	}

	select {
	case c.send <- data:
		return nil
	default:
		return ErrChannelFull
	}
}

// State 传输层状态
func (c *Client) State() TransportState {
	return TransportState(c.state.Load())
}

// RemoteAddr 远程地址
func (c *Client) RemoteAddr() string {
	return c.remoteAddr
}

// LastPong 最近一次收到 pong 的时间
func (c *Client) LastPong() time.Time {
	return time.Unix(0, c.lastPong.Load())
}

// Close 关闭连接并通知 Hub，可重复调用；不得在持有 Hub 锁时调用
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.state.Store(int32(StateClosing))
		c.cancel()
		// WriteControl 可与其他写操作并发，忽略错误
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(c.config.WriteWait))
		err = c.conn.Close()
		c.state.Store(int32(StateClosed))

		if id := c.ID(); id != "" {
			c.hub.Disconnect(id)
		}
	})
	return err
}
