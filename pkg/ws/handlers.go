package ws

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/tokmz/relay/pkg/errors"
	"github.com/tokmz/relay/pkg/logger"
)

// 以下方法都在 Dispatch 持有 h.mu 时调用

// route 按帧类型分派
func (h *Hub) route(ctx context.Context, conn *Connection, frame Inbound) error {
	switch f := frame.(type) {
	case CreateRoomFrame:
		return h.handleCreateRoom(ctx, conn, f)
	case JoinRoomFrame:
		return h.handleJoinRoom(ctx, conn, f)
	case LeaveRoomFrame:
		return h.handleLeaveRoom(ctx, conn, f)
	case SignalFrame:
		return h.handleSignal(ctx, conn, f)
	case ChatFrame:
		return h.handleChat(ctx, conn, f)
	case UserUpdateFrame:
		return h.handleUserUpdate(ctx, conn, f)
	case PingFrame:
		h.broadcast.Send(conn, Pong{Type: TypePong, Timestamp: timestamp()})
		return nil
	case RegisterFrame:
		return h.handleRegister(ctx, conn, f)
	case UnknownFrame:
		h.log.WarnContext(ctx, "unknown frame type", logger.ClientID(conn.ID), logger.FrameType(f.Kind))
		h.broadcast.Send(conn, ErrorFrame{
			Type:    TypeError,
			Message: "Unknown message type: " + f.Kind,
			Kind:    f.Kind,
		})
		return nil
	default:
		return ErrInternal.WithError(fmt.Errorf("no handler for %T", frame))
	}
}

// handleCreateRoom 创建房间并加入
// 显式 ID 冲突时只回复错误帧，发送者与已有房间均保持不变
func (h *Hub) handleCreateRoom(ctx context.Context, conn *Connection, f CreateRoomFrame) error {
	if f.RoomID != "" {
		if _, exists := h.rooms.Lookup(f.RoomID); exists {
			h.createRoomFailed(ctx, conn, f.RoomID, ErrRoomAlreadyExists)
			return nil
		}
	}

	if conn.RoomID != "" {
		h.leave(conn)
	}

	roomID, err := h.rooms.CreateRoom(f.RoomID)
	if err != nil {
		h.createRoomFailed(ctx, conn, f.RoomID, err)
		return nil
	}

	snap, _ := h.rooms.JoinRoom(roomID, conn.ID)
	conn.RoomID = roomID
	h.applyPresence(conn, nil)

	h.broadcast.Send(conn, RoomCreated{
		Type:      TypeRoomCreated,
		RoomID:    roomID,
		RoomInfo:  snap,
		Timestamp: timestamp(),
	})
	h.log.InfoContext(ctx, "room created", logger.ClientID(conn.ID), logger.RoomID(roomID))
	h.publishRoom(EventRoomCreated, roomID, conn.ID)
	return nil
}

func (h *Hub) createRoomFailed(ctx context.Context, conn *Connection, roomID string, err error) {
	h.log.WarnContext(ctx, "create room failed", logger.ClientID(conn.ID), logger.RoomID(roomID), zap.Error(err))
	h.broadcast.Send(conn, ErrorFrame{
		Type:    TypeError,
		Message: "Failed to create room",
		Error:   err.Error(),
	})
}

func (h *Hub) handleJoinRoom(ctx context.Context, conn *Connection, f JoinRoomFrame) error {
	roomID, ok := f.RoomIDString()
	if !ok {
		var echo string
		_ = json.Unmarshal(f.RoomID, &echo)
		h.log.WarnContext(ctx, "join with invalid room id", logger.ClientID(conn.ID), zap.ByteString("room_id", f.RoomID))
		h.broadcast.Send(conn, ErrorFrame{
			Type:    TypeError,
			Message: "Failed to join room",
			Error:   ErrInvalidRoomID.Message,
			RoomID:  echo,
		})
		return nil
	}

	if conn.RoomID != "" && conn.RoomID != roomID {
		h.leave(conn)
	}

	snap, added := h.rooms.JoinRoom(roomID, conn.ID)
	conn.RoomID = roomID
	h.applyPresence(conn, f.UserData)

	h.broadcast.Send(conn, RoomJoined{
		Type:      TypeRoomJoined,
		RoomID:    roomID,
		RoomInfo:  snap,
		YourID:    conn.ID,
		Timestamp: timestamp(),
	})

	if added {
		h.broadcast.ToRoom(roomID, conn.ID, PresenceFrame{
			Type:      TypeUserJoined,
			ClientID:  conn.ID,
			UserData:  conn.UserData(),
			Timestamp: timestamp(),
		})
	}

	if existing := h.participantsExcept(roomID, conn.ID); len(existing) > 0 {
		h.broadcast.Send(conn, ExistingParticipants{
			Type:         TypeExistingParticipants,
			Participants: existing,
			Timestamp:    timestamp(),
		})
	}

	h.log.InfoContext(ctx, "joined room",
		logger.ClientID(conn.ID),
		logger.RoomID(roomID),
		zap.Int("participants", snap.ParticipantCount),
		zap.Bool("new_member", added),
	)
	h.publishRoom(EventRoomUpdated, roomID, conn.ID)
	return nil
}

// applyPresence 按入站 userData 设置在线信息，缺失字段使用默认值
func (h *Hub) applyPresence(conn *Connection, in *UserDataInput) {
	userID, userName := defaultUserID(conn.ID), DefaultUserName
	if in != nil {
		if in.UserID != "" {
			userID = in.UserID
		}
		if in.UserName != "" {
			userName = in.UserName
		}
	}
	h.registry.UpdatePresence(conn.ID, &userID, &userName)
}

// participantsExcept 房间内除 connID 外的成员（加入顺序）
func (h *Hub) participantsExcept(roomID, connID string) []Participant {
	room, ok := h.rooms.Lookup(roomID)
	if !ok {
		return nil
	}
	var out []Participant
	for _, id := range room.participants {
		if id == connID {
			continue
		}
		c, ok := h.registry.Lookup(id)
		if !ok {
			continue
		}
		out = append(out, Participant{ClientID: c.ID, UserID: c.UserID, UserName: c.UserName})
	}
	return out
}

func (h *Hub) handleLeaveRoom(ctx context.Context, conn *Connection, f LeaveRoomFrame) error {
	if conn.RoomID == "" {
		h.log.DebugContext(ctx, "leave without room", logger.ClientID(conn.ID))
		return nil
	}
	if f.RoomID != "" && f.RoomID != conn.RoomID {
		h.log.WarnContext(ctx, "leave for a room the client is not in",
			logger.ClientID(conn.ID),
			logger.RoomID(f.RoomID),
			zap.String("current_room", conn.RoomID),
		)
		return nil
	}
	h.leave(conn)
	return nil
}

// leave 离开当前房间：通知其余成员，向仍打开的离开者回复 room-left
func (h *Hub) leave(conn *Connection) {
	roomID := conn.RoomID
	if roomID == "" {
		return
	}

	_, exists := h.rooms.LeaveRoom(roomID, conn.ID)
	conn.RoomID = ""

	if exists {
		h.broadcast.ToRoom(roomID, conn.ID, PresenceFrame{
			Type:      TypeUserLeft,
			ClientID:  conn.ID,
			UserData:  conn.UserData(),
			Timestamp: timestamp(),
		})
	}
	if conn.Open() {
		h.broadcast.Send(conn, RoomLeft{Type: TypeRoomLeft, RoomID: roomID, Timestamp: timestamp()})
	}

	h.log.Info("left room", logger.ClientID(conn.ID), logger.RoomID(roomID), zap.Bool("room_deleted", !exists))
	h.publishRoom(EventRoomUpdated, roomID, conn.ID)
}

func (h *Hub) handleSignal(ctx context.Context, conn *Connection, f SignalFrame) error {
	if conn.RoomID == "" {
		h.log.WarnContext(ctx, "signal from client outside a room", logger.ClientID(conn.ID), logger.FrameType(f.Kind))
		return nil
	}
	if f.Target == "" {
		h.log.WarnContext(ctx, "signal without target", logger.ClientID(conn.ID), logger.FrameType(f.Kind))
		return nil
	}

	if err := h.broadcast.Relay(conn.ID, f.Target, f.Raw); err != nil {
		if errors.Is(err, ErrTargetUnavailable) {
			h.log.WarnContext(ctx, "relay target unavailable",
				logger.ClientID(conn.ID),
				logger.FrameType(f.Kind),
				zap.String("target", f.Target),
			)
			return nil
		}
		return err
	}
	h.log.DebugContext(ctx, "signal relayed",
		logger.ClientID(conn.ID),
		logger.FrameType(f.Kind),
		zap.String("target", f.Target),
	)
	return nil
}

func (h *Hub) handleChat(ctx context.Context, conn *Connection, f ChatFrame) error {
	msg := ChatMessage{
		Type:      TypeChatMessage,
		SenderID:  conn.ID,
		UserData:  conn.UserData(),
		Message:   f.Message,
		Timestamp: timestamp(),
	}

	if len(f.To) > 0 {
		msg.From = conn.Account
		for _, account := range f.To {
			targets := h.registry.ConnectionsOf(account)
			if len(targets) == 0 {
				h.log.DebugContext(ctx, "chat recipient not registered", logger.ClientID(conn.ID), zap.String("to", account))
				continue
			}
			for _, t := range targets {
				h.broadcast.Send(t, msg)
			}
		}
		return nil
	}

	if conn.RoomID == "" {
		h.log.DebugContext(ctx, "chat from client outside a room", logger.ClientID(conn.ID))
		return nil
	}
	h.broadcast.ToRoom(conn.RoomID, conn.ID, msg)
	return nil
}

func (h *Hub) handleUserUpdate(ctx context.Context, conn *Connection, f UserUpdateFrame) error {
	if conn.RoomID == "" {
		h.log.DebugContext(ctx, "user-update outside a room", logger.ClientID(conn.ID))
		return nil
	}

	h.registry.UpdatePresence(conn.ID, f.UserID, f.UserName)
	h.broadcast.ToRoom(conn.RoomID, conn.ID, PresenceFrame{
		Type:      TypeUserUpdated,
		ClientID:  conn.ID,
		UserData:  conn.UserData(),
		Updates:   f.Raw,
		Timestamp: timestamp(),
	})
	return nil
}

func (h *Hub) handleRegister(ctx context.Context, conn *Connection, f RegisterFrame) error {
	if f.ID == "" {
		h.broadcast.Send(conn, ErrorFrame{
			Type:    TypeError,
			Message: "Failed to register",
			Error:   "missing id",
		})
		return nil
	}

	h.registry.Bind(conn.ID, f.ID)
	h.broadcast.ToAll(Registered{
		Type:      TypeRegistered,
		UserID:    f.ID,
		ClientID:  conn.ID,
		Timestamp: timestamp(),
	})
	h.log.InfoContext(ctx, "user registered", logger.ClientID(conn.ID), zap.String("user_id", f.ID))
	h.events.Publish(Event{Type: EventUserRegistered, ClientID: conn.ID})
	return nil
}
