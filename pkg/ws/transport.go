package ws

import "time"

// TransportState 传输层状态
type TransportState int32

const (
	// StateOpen 可收发
	StateOpen TransportState = iota
	// StateClosing 正在关闭
	StateClosing
	// StateClosed 已关闭
	StateClosed
)

// String 返回状态名称
func (s TransportState) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Transport 单个连接的传输层
//
// Send 必须是非阻塞的：发送缓冲已满时直接返回 ErrChannelFull。
// Hub 在持锁状态下调用 Send 与 State，实现方不得在这两个方法中回调 Hub。
type Transport interface {
	Send(data []byte) error
	State() TransportState
	RemoteAddr() string
	Close() error
}

// heartbeater 可报告最近一次心跳响应的传输层
type heartbeater interface {
	LastPong() time.Time
}
