package ws

import (
	"sync"
	"sync/atomic"
	"time"
)

// EventType 事件类型
type EventType string

const (
	// EventClientConnected 客户端接入
	EventClientConnected EventType = "client.connected"
	// EventClientDisconnected 客户端断开（含清扫剔除）
	EventClientDisconnected EventType = "client.disconnected"
	// EventRoomCreated 房间创建
	EventRoomCreated EventType = "room.created"
	// EventRoomUpdated 房间成员或房主变化
	EventRoomUpdated EventType = "room.updated"
	// EventRoomDeleted 房间删除（最后一人离开或空房过期）
	EventRoomDeleted EventType = "room.deleted"
	// EventUserRegistered register 绑定用户
	EventUserRegistered EventType = "user.registered"
)

// Event 事件
type Event struct {
	Type     EventType
	ClientID string
	RoomID   string
	Room     *RoomInfo // room.created / room.updated 时携带
	Time     time.Time
}

// EventHandler 事件处理器
type EventHandler func(Event)

// EventBus 事件总线
//
// Publish 不阻塞，队列满时丢弃；单个 worker 按发布顺序执行处理器。
type EventBus struct {
	handlers      map[EventType][]EventHandler
	mu            sync.RWMutex
	queue         chan func()
	stopCh        chan struct{}
	wg            sync.WaitGroup
	closed        atomic.Bool
	droppedEvents atomic.Int64
}

// NewEventBus 创建事件总线
func NewEventBus(queueSize int) *EventBus {
	if queueSize <= 0 {
		queueSize = 1024
	}
	eb := &EventBus{
		handlers: make(map[EventType][]EventHandler),
		queue:    make(chan func(), queueSize),
		stopCh:   make(chan struct{}),
	}
	eb.wg.Add(1)
	go eb.worker()
	return eb
}

func (eb *EventBus) worker() {
	defer eb.wg.Done()
	for {
		select {
		case task := <-eb.queue:
			task()
		case <-eb.stopCh:
			// 退出前处理完已入队的事件
			for {
				select {
				case task := <-eb.queue:
					task()
				default:
					return
				}
			}
		}
	}
}

// Subscribe 订阅事件
func (eb *EventBus) Subscribe(eventType EventType, handler EventHandler) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	eb.handlers[eventType] = append(eb.handlers[eventType], handler)
}

// Publish 发布事件（异步）
func (eb *EventBus) Publish(event Event) {
	if eb.closed.Load() {
		return
	}
	if event.Time.IsZero() {
		event.Time = time.Now()
	}

	eb.mu.RLock()
	handlers := eb.handlers[event.Type]
	eb.mu.RUnlock()

	for _, h := range handlers {
		select {
		case eb.queue <- func() { h(event) }:
		default:
			eb.droppedEvents.Add(1)
		}
	}
}

// Close 关闭事件总线，等待已入队事件处理完成
func (eb *EventBus) Close() {
	if !eb.closed.CompareAndSwap(false, true) {
		return
	}
	close(eb.stopCh)
	eb.wg.Wait()
}

// DroppedEvents 丢弃的事件数量
func (eb *EventBus) DroppedEvents() int64 {
	return eb.droppedEvents.Load()
}
