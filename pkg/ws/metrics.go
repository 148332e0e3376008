package ws

import (
	"sync"
	"sync/atomic"
)

// Metrics 监控接口
type Metrics interface {
	// 连接指标
	IncrementConnections()
	DecrementConnections()
	SetConnectionCount(count int)

	// 消息指标
	IncrementMessageCount(frameType string)
	RecordMessageLatency(frameType string, micros int64)
	IncrementMessageErrors(frameType string)
	IncrementInvalidMessages()

	// 房间指标
	SetRoomCount(count int)
	IncrementExpiredRooms()

	// 广播
	RecordBroadcastLatency(micros int64)
	IncrementDroppedMessages()

	// 清扫
	IncrementEvictions(n int)
}

// NoopMetrics 空实现（默认）
type NoopMetrics struct{}

func (NoopMetrics) IncrementConnections()              {}
func (NoopMetrics) DecrementConnections()              {}
func (NoopMetrics) SetConnectionCount(int)             {}
func (NoopMetrics) IncrementMessageCount(string)       {}
func (NoopMetrics) RecordMessageLatency(string, int64) {}
func (NoopMetrics) IncrementMessageErrors(string)      {}
func (NoopMetrics) IncrementInvalidMessages()          {}
func (NoopMetrics) SetRoomCount(int)                   {}
func (NoopMetrics) IncrementExpiredRooms()             {}
func (NoopMetrics) RecordBroadcastLatency(int64)       {}
func (NoopMetrics) IncrementDroppedMessages()          {}
func (NoopMetrics) IncrementEvictions(int)             {}

// CounterMetrics 进程内计数器，/stats 直接读取
type CounterMetrics struct {
	connectionsTotal atomic.Int64
	connections      atomic.Int64
	rooms            atomic.Int64
	invalid          atomic.Int64
	dropped          atomic.Int64
	expiredRooms     atomic.Int64
	evictions        atomic.Int64

	mu       sync.Mutex
	messages map[string]int64
	errors   map[string]int64
}

// NewCounterMetrics 创建计数器
func NewCounterMetrics() *CounterMetrics {
	return &CounterMetrics{
		messages: make(map[string]int64),
		errors:   make(map[string]int64),
	}
}

func (m *CounterMetrics) IncrementConnections()              { m.connectionsTotal.Add(1) }
func (m *CounterMetrics) DecrementConnections()              {}
func (m *CounterMetrics) SetConnectionCount(count int)       { m.connections.Store(int64(count)) }
func (m *CounterMetrics) IncrementInvalidMessages()          { m.invalid.Add(1) }
func (m *CounterMetrics) SetRoomCount(count int)             { m.rooms.Store(int64(count)) }
func (m *CounterMetrics) IncrementExpiredRooms()             { m.expiredRooms.Add(1) }
func (m *CounterMetrics) RecordBroadcastLatency(int64)       {}
func (m *CounterMetrics) IncrementDroppedMessages()          { m.dropped.Add(1) }
func (m *CounterMetrics) IncrementEvictions(n int)           { m.evictions.Add(int64(n)) }
func (m *CounterMetrics) RecordMessageLatency(string, int64) {}

func (m *CounterMetrics) IncrementMessageCount(frameType string) {
	m.mu.Lock()
	m.messages[frameType]++
	m.mu.Unlock()
}

func (m *CounterMetrics) IncrementMessageErrors(frameType string) {
	m.mu.Lock()
	m.errors[frameType]++
	m.mu.Unlock()
}

// MetricsSnapshot 计数器快照
type MetricsSnapshot struct {
	ConnectionsTotal int64            `json:"connectionsTotal"`
	Connections      int64            `json:"connections"`
	Rooms            int64            `json:"rooms"`
	InvalidMessages  int64            `json:"invalidMessages"`
	DroppedMessages  int64            `json:"droppedMessages"`
	ExpiredRooms     int64            `json:"expiredRooms"`
	Evictions        int64            `json:"evictions"`
	Messages         map[string]int64 `json:"messages"`
	MessageErrors    map[string]int64 `json:"messageErrors"`
}

// Snapshot 读取当前计数
func (m *CounterMetrics) Snapshot() MetricsSnapshot {
	m.mu.Lock()
	messages := make(map[string]int64, len(m.messages))
	for k, v := range m.messages {
		messages[k] = v
	}
	errs := make(map[string]int64, len(m.errors))
	for k, v := range m.errors {
		errs[k] = v
	}
	m.mu.Unlock()

	return MetricsSnapshot{
		ConnectionsTotal: m.connectionsTotal.Load(),
		Connections:      m.connections.Load(),
		Rooms:            m.rooms.Load(),
		InvalidMessages:  m.invalid.Load(),
		DroppedMessages:  m.dropped.Load(),
		ExpiredRooms:     m.expiredRooms.Load(),
		Evictions:        m.evictions.Load(),
		Messages:         messages,
		MessageErrors:    errs,
	}
}
