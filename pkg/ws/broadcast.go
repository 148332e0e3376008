package ws

import (
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/tokmz/relay/pkg/logger"
)

// Broadcaster 房间广播与点对点转发
//
// 由 Hub 在持锁状态下调用。
type Broadcaster struct {
	registry *Registry
	log      logger.Logger
	metrics  Metrics
}

// NewBroadcaster 创建广播器
func NewBroadcaster(registry *Registry, log logger.Logger, metrics Metrics) *Broadcaster {
	return &Broadcaster{registry: registry, log: log, metrics: metrics}
}

// encode 帧序列化，[]byte 与 json.RawMessage 原样发送
func encode(frame any) ([]byte, error) {
	switch v := frame.(type) {
	case []byte:
		return v, nil
	case json.RawMessage:
		return v, nil
	default:
		return json.Marshal(frame)
	}
}

// deliver 写入单个连接，连接未打开或缓冲已满时返回 false
func (b *Broadcaster) deliver(conn *Connection, data []byte) bool {
	if !conn.Open() {
		return false
	}
	if err := conn.Transport.Send(data); err != nil {
		b.metrics.IncrementDroppedMessages()
		b.log.Debug("frame dropped", logger.ClientID(conn.ID), zap.Error(err))
		return false
	}
	return true
}

// Send 发送给单个连接
func (b *Broadcaster) Send(conn *Connection, frame any) bool {
	data, err := encode(frame)
	if err != nil {
		b.log.Error("encode frame", logger.ClientID(conn.ID), zap.Error(err))
		return false
	}
	return b.deliver(conn, data)
}

// ToRoom 发送给房间内除 excludeID 之外的所有打开的连接，返回送达数
func (b *Broadcaster) ToRoom(roomID, excludeID string, frame any) int {
	data, err := encode(frame)
	if err != nil {
		b.log.Error("encode frame", logger.RoomID(roomID), zap.Error(err))
		return 0
	}

	start := time.Now()
	count := 0
	b.registry.Range(func(c *Connection) bool {
		if c.ID != excludeID && c.RoomID == roomID && b.deliver(c, data) {
			count++
		}
		return true
	})
	b.metrics.RecordBroadcastLatency(time.Since(start).Microseconds())
	b.log.Debug("broadcast to room", logger.RoomID(roomID), zap.Int("delivered", count))
	return count
}

// ToAll 发送给所有打开的连接
func (b *Broadcaster) ToAll(frame any) int {
	data, err := encode(frame)
	if err != nil {
		b.log.Error("encode frame", zap.Error(err))
		return 0
	}

	count := 0
	b.registry.Range(func(c *Connection) bool {
		if b.deliver(c, data) {
			count++
		}
		return true
	})
	return count
}

// Relay 将 raw 原样转发给 targetID，去掉 target 字段并标记 sender
// 目标不存在或未打开时返回 ErrTargetUnavailable，不通知发送方
func (b *Broadcaster) Relay(senderID, targetID string, raw json.RawMessage) error {
	target, ok := b.registry.Lookup(targetID)
	if !ok || !target.Open() {
		return ErrTargetUnavailable.WithError(fmt.Errorf("target %s not found or not connected", targetID))
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return ErrProtocol.WithError(err)
	}
	delete(fields, "target")
	sender, err := json.Marshal(senderID)
	if err != nil {
		return err
	}
	fields["sender"] = sender

	data, err := json.Marshal(fields)
	if err != nil {
		return err
	}
	if !b.deliver(target, data) {
		return ErrTargetUnavailable.WithError(ErrChannelFull)
	}
	return nil
}
