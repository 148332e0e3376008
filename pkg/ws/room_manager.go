package ws

import (
	"slices"
	"time"
)

// Room 房间
type Room struct {
	ID           string
	participants []string // 加入顺序，participants[0] 最早加入
	Host         string
	CreatedAt    time.Time
	expiry       ExpiryHandle
}

// Participants 返回成员副本
func (r *Room) Participants() []string {
	return slices.Clone(r.participants)
}

// Has 是否为成员
func (r *Room) Has(connID string) bool {
	return slices.Contains(r.participants, connID)
}

// Len 成员数
func (r *Room) Len() int {
	return len(r.participants)
}

// RoomSnapshot 加入房间后的视图
type RoomSnapshot struct {
	RoomID           string   `json:"roomId"`
	Participants     []string `json:"participants"`
	Host             string   `json:"host"`
	IsHost           bool     `json:"isHost"`
	ParticipantCount int      `json:"participantCount"`
}

// LeaveSnapshot 离开后房间剩余成员
type LeaveSnapshot struct {
	Participants []string `json:"participants"`
	Host         string   `json:"host"`
}

// RoomInfo 单个房间详情
type RoomInfo struct {
	RoomID           string    `json:"roomId"`
	ParticipantCount int       `json:"participantCount"`
	Host             string    `json:"host"`
	Participants     []string  `json:"participants"`
	IsActive         bool      `json:"isActive"`
	CreatedAt        time.Time `json:"createdAt"`
}

// RoomSummary 房间列表项
type RoomSummary struct {
	RoomID           string    `json:"roomId"`
	ParticipantCount int       `json:"participantCount"`
	CreatedAt        time.Time `json:"createdAt"`
}

// ExpireFunc 空房检查回调，由 Hub 在持锁后调用 RoomManager.Expire
type ExpireFunc func(roomID string, createdAt time.Time)

// RoomManager 房间管理器
//
// RoomManager 本身不加锁，由 Hub 的互斥锁保护；空房检查回调在锁外触发。
type RoomManager struct {
	rooms    map[string]*Room
	order    []string // 创建顺序
	queue    *ExpiryQueue
	ttl      time.Duration
	onExpire ExpireFunc
}

// NewRoomManager 创建房间管理器
// queue 为 nil 时不安排空房检查
func NewRoomManager(queue *ExpiryQueue, ttl time.Duration, onExpire ExpireFunc) *RoomManager {
	return &RoomManager{
		rooms:    make(map[string]*Room),
		queue:    queue,
		ttl:      ttl,
		onExpire: onExpire,
	}
}

// CreateRoom 创建空房间并安排一次性空房检查
// explicitID 非空且已存在时返回 ErrRoomAlreadyExists，状态不变
func (rm *RoomManager) CreateRoom(explicitID string) (string, error) {
	id := explicitID
	if id != "" {
		if _, exists := rm.rooms[id]; exists {
			return "", ErrRoomAlreadyExists
		}
	} else {
		id = newRoomID()
		for rm.rooms[id] != nil {
			id = newRoomID()
		}
	}

	room := &Room{ID: id, CreatedAt: time.Now()}
	rm.rooms[id] = room
	rm.order = append(rm.order, id)

	if rm.queue != nil && rm.onExpire != nil {
		createdAt := room.CreatedAt
		room.expiry = rm.queue.Schedule(id, rm.ttl, func() {
			rm.onExpire(id, createdAt)
		})
	}
	return id, nil
}

// JoinRoom 加入房间，房间不存在时隐式创建
// added 为 false 表示连接已在房间中
func (rm *RoomManager) JoinRoom(roomID, connID string) (snap RoomSnapshot, added bool) {
	room, ok := rm.rooms[roomID]
	if !ok {
		_, _ = rm.CreateRoom(roomID)
		room = rm.rooms[roomID]
	}

	if !room.Has(connID) {
		room.participants = append(room.participants, connID)
		added = true
	}
	if room.Host == "" {
		room.Host = connID
	}

	return RoomSnapshot{
		RoomID:           roomID,
		Participants:     room.Participants(),
		Host:             room.Host,
		IsHost:           room.Host == connID,
		ParticipantCount: room.Len(),
	}, added
}

// LeaveRoom 离开房间
// 房间因此变空时删除房间并返回 false；未知房间同样返回 false
func (rm *RoomManager) LeaveRoom(roomID, connID string) (LeaveSnapshot, bool) {
	room, ok := rm.rooms[roomID]
	if !ok {
		return LeaveSnapshot{}, false
	}

	if i := slices.Index(room.participants, connID); i >= 0 {
		room.participants = slices.Delete(room.participants, i, i+1)
	}

	if len(room.participants) == 0 {
		rm.DeleteRoom(roomID)
		return LeaveSnapshot{}, false
	}

	if room.Host == connID || !room.Has(room.Host) {
		room.Host = room.participants[0]
	}

	return LeaveSnapshot{
		Participants: room.Participants(),
		Host:         room.Host,
	}, true
}

// Expire 空房检查：房间仍为空且创建时间一致时删除
func (rm *RoomManager) Expire(roomID string, createdAt time.Time) bool {
	room, ok := rm.rooms[roomID]
	if !ok || !room.CreatedAt.Equal(createdAt) || room.Len() > 0 {
		return false
	}
	rm.DeleteRoom(roomID)
	return true
}

// DeleteRoom 无条件删除房间，可重复调用
func (rm *RoomManager) DeleteRoom(roomID string) {
	room, ok := rm.rooms[roomID]
	if !ok {
		return
	}
	room.expiry.Cancel()
	delete(rm.rooms, roomID)
	if i := slices.Index(rm.order, roomID); i >= 0 {
		rm.order = slices.Delete(rm.order, i, i+1)
	}
}

// Lookup 查找房间
func (rm *RoomManager) Lookup(roomID string) (*Room, bool) {
	room, ok := rm.rooms[roomID]
	return room, ok
}

// GetRoom 房间详情，不存在时返回 false
func (rm *RoomManager) GetRoom(roomID string) (RoomInfo, bool) {
	room, ok := rm.rooms[roomID]
	if !ok {
		return RoomInfo{}, false
	}
	return RoomInfo{
		RoomID:           room.ID,
		ParticipantCount: room.Len(),
		Host:             room.Host,
		Participants:     room.Participants(),
		IsActive:         room.Len() > 0,
		CreatedAt:        room.CreatedAt,
	}, true
}

// GetAllRooms 按创建顺序列出所有房间
func (rm *RoomManager) GetAllRooms() []RoomSummary {
	out := make([]RoomSummary, 0, len(rm.order))
	for _, id := range rm.order {
		room := rm.rooms[id]
		out = append(out, RoomSummary{
			RoomID:           room.ID,
			ParticipantCount: room.Len(),
			CreatedAt:        room.CreatedAt,
		})
	}
	return out
}

// Count 房间数
func (rm *RoomManager) Count() int {
	return len(rm.rooms)
}

// ActiveCount 有成员的房间数
func (rm *RoomManager) ActiveCount() int {
	n := 0
	for _, room := range rm.rooms {
		if room.Len() > 0 {
			n++
		}
	}
	return n
}
