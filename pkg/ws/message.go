package ws

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// 入站帧类型
const (
	TypeCreateRoom   = "create-room"
	TypeJoinRoom     = "join-room"
	TypeLeaveRoom    = "leave-room"
	TypeOffer        = "offer"
	TypeAnswer       = "answer"
	TypeICECandidate = "ice-candidate"
	TypeChatMessage  = "chat-message"
	TypeUserUpdate   = "user-update"
	TypePing         = "ping"
	TypeRegister     = "register"
)

// 出站帧类型
const (
	TypeWelcome              = "welcome"
	TypeRoomCreated          = "room-created"
	TypeRoomJoined           = "room-joined"
	TypeExistingParticipants = "existing-participants"
	TypeRoomLeft             = "room-left"
	TypeUserJoined           = "user-joined"
	TypeUserLeft             = "user-left"
	TypeUserUpdated          = "user-updated"
	TypeRegistered           = "registered"
	TypeError                = "error"
	TypePong                 = "pong"
)

// Inbound 入站帧，取值只能是本包定义的几种帧
type Inbound interface {
	FrameType() string
	inbound()
}

// CreateRoomFrame create-room
type CreateRoomFrame struct {
	RoomID string `json:"roomId,omitempty"` // 可选，显式指定房间 ID
}

// JoinRoomFrame join-room
type JoinRoomFrame struct {
	RoomID   json.RawMessage `json:"roomId"`
	UserData *UserDataInput  `json:"userData,omitempty"`
}

// UserDataInput 入站的在线信息
type UserDataInput struct {
	UserID   string `json:"userId"`
	UserName string `json:"userName"`
}

// UnmarshalJSON 宽松解析：字符串原样使用，非零数字取其字面值，其余按缺失处理
func (u *UserDataInput) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if json.Unmarshal(data, &fields) != nil {
		*u = UserDataInput{}
		return nil
	}
	u.UserID = presenceValue(fields["userId"])
	u.UserName = presenceValue(fields["userName"])
	return nil
}

// presenceValue 在线信息字段的取值，无法使用时返回空串
func presenceValue(raw json.RawMessage) string {
	var v any
	if len(raw) == 0 || json.Unmarshal(raw, &v) != nil {
		return ""
	}
	switch val := v.(type) {
	case string:
		return val
	case float64:
		if val == 0 {
			return ""
		}
		return string(bytes.TrimSpace(raw))
	default:
		return ""
	}
}

// RoomIDString roomId 必须是非空白字符串
func (f *JoinRoomFrame) RoomIDString() (string, bool) {
	var id string
	if len(f.RoomID) == 0 || json.Unmarshal(f.RoomID, &id) != nil {
		return "", false
	}
	return id, validRoomID(id)
}

// LeaveRoomFrame leave-room
type LeaveRoomFrame struct {
	RoomID string `json:"roomId,omitempty"`
}

// SignalFrame offer / answer / ice-candidate，负载原样转发
type SignalFrame struct {
	Kind   string
	Target string
	Raw    json.RawMessage
}

// ChatFrame chat-message
// To 非空时按 register 绑定的用户 ID 定向投递，否则广播到发送者所在房间
type ChatFrame struct {
	Message json.RawMessage
	To      []string
}

// UserUpdateFrame user-update
type UserUpdateFrame struct {
	UserID   *string
	UserName *string
	Raw      json.RawMessage
}

// PingFrame ping
type PingFrame struct{}

// RegisterFrame register
type RegisterFrame struct {
	ID string `json:"id"`
}

// UnknownFrame 未识别的 type
type UnknownFrame struct {
	Kind string
}

func (CreateRoomFrame) FrameType() string { return TypeCreateRoom }
func (JoinRoomFrame) FrameType() string   { return TypeJoinRoom }
func (LeaveRoomFrame) FrameType() string  { return TypeLeaveRoom }
func (f SignalFrame) FrameType() string   { return f.Kind }
func (ChatFrame) FrameType() string       { return TypeChatMessage }
func (UserUpdateFrame) FrameType() string { return TypeUserUpdate }
func (PingFrame) FrameType() string       { return TypePing }
func (RegisterFrame) FrameType() string   { return TypeRegister }
func (f UnknownFrame) FrameType() string  { return f.Kind }
func (CreateRoomFrame) inbound()          {}
func (JoinRoomFrame) inbound()            {}
func (LeaveRoomFrame) inbound()           {}
func (SignalFrame) inbound()              {}
func (ChatFrame) inbound()                {}
func (UserUpdateFrame) inbound()          {}
func (PingFrame) inbound()                {}
func (RegisterFrame) inbound()            {}
func (UnknownFrame) inbound()             {}

// Decode 解析入站帧
// JSON 非法或缺少 type 时返回 ErrProtocol；未识别的 type 返回 UnknownFrame
func Decode(data []byte) (Inbound, error) {
	var env struct {
		Type *string `json:"type"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, ErrProtocol.WithError(err)
	}
	if env.Type == nil {
		return nil, ErrProtocol.WithError(fmt.Errorf("missing type"))
	}

	switch kind := *env.Type; kind {
	case TypeCreateRoom:
		var f CreateRoomFrame
		return decodeInto(data, &f)
	case TypeJoinRoom:
		var f JoinRoomFrame
		return decodeInto(data, &f)
	case TypeLeaveRoom:
		var f LeaveRoomFrame
		return decodeInto(data, &f)
	case TypeOffer, TypeAnswer, TypeICECandidate:
		return decodeSignal(kind, data)
	case TypeChatMessage:
		return decodeChat(data)
	case TypeUserUpdate:
		return decodeUserUpdate(data)
	case TypePing:
		return PingFrame{}, nil
	case TypeRegister:
		var f RegisterFrame
		return decodeInto(data, &f)
	default:
		return UnknownFrame{Kind: kind}, nil
	}
}

func decodeInto[T Inbound](data []byte, f *T) (Inbound, error) {
	if err := json.Unmarshal(data, f); err != nil {
		return nil, ErrProtocol.WithError(err)
	}
	return *f, nil
}

func decodeSignal(kind string, data []byte) (Inbound, error) {
	var f struct {
		Target any `json:"target"`
	}
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, ErrProtocol.WithError(err)
	}
	target, _ := f.Target.(string)
	return SignalFrame{Kind: kind, Target: target, Raw: json.RawMessage(data)}, nil
}

func decodeChat(data []byte) (Inbound, error) {
	var f struct {
		Message json.RawMessage `json:"message"`
		To      json.RawMessage `json:"to"`
	}
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, ErrProtocol.WithError(err)
	}

	out := ChatFrame{Message: f.Message}
	if len(out.Message) == 0 {
		out.Message = json.RawMessage("null")
	}
	if len(f.To) == 0 || string(f.To) == "null" {
		return out, nil
	}

	var one string
	if err := json.Unmarshal(f.To, &one); err == nil {
		out.To = []string{one}
		return out, nil
	}
	if err := json.Unmarshal(f.To, &out.To); err != nil {
		return nil, ErrProtocol.WithError(fmt.Errorf("to must be a user id or a list of user ids"))
	}
	return out, nil
}

func decodeUserUpdate(data []byte) (Inbound, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, ErrProtocol.WithError(err)
	}

	out := UserUpdateFrame{Raw: json.RawMessage(data)}
	if v := presenceValue(fields["userId"]); v != "" {
		out.UserID = &v
	}
	if v := presenceValue(fields["userName"]); v != "" {
		out.UserName = &v
	}
	return out, nil
}

// Welcome welcome
type Welcome struct {
	Type      string `json:"type"`
	ClientID  string `json:"clientId"`
	Timestamp int64  `json:"timestamp"`
	Message   string `json:"message"`
}

// RoomCreated room-created
type RoomCreated struct {
	Type      string       `json:"type"`
	RoomID    string       `json:"roomId"`
	RoomInfo  RoomSnapshot `json:"roomInfo"`
	Timestamp int64        `json:"timestamp"`
}

// RoomJoined room-joined
type RoomJoined struct {
	Type      string       `json:"type"`
	RoomID    string       `json:"roomId"`
	RoomInfo  RoomSnapshot `json:"roomInfo"`
	YourID    string       `json:"yourId"`
	Timestamp int64        `json:"timestamp"`
}

// Participant existing-participants 中的一项
type Participant struct {
	ClientID string `json:"clientId"`
	UserID   string `json:"userId"`
	UserName string `json:"userName"`
}

// ExistingParticipants existing-participants
type ExistingParticipants struct {
	Type         string        `json:"type"`
	Participants []Participant `json:"participants"`
	Timestamp    int64         `json:"timestamp"`
}

// RoomLeft room-left
type RoomLeft struct {
	Type      string `json:"type"`
	RoomID    string `json:"roomId"`
	Timestamp int64  `json:"timestamp"`
}

// PresenceFrame user-joined / user-left / user-updated
type PresenceFrame struct {
	Type      string          `json:"type"`
	ClientID  string          `json:"clientId"`
	UserData  UserData        `json:"userData"`
	Updates   json.RawMessage `json:"updates,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

// ChatMessage chat-message（出站）
type ChatMessage struct {
	Type      string          `json:"type"`
	SenderID  string          `json:"senderId"`
	From      string          `json:"from,omitempty"`
	UserData  UserData        `json:"userData"`
	Message   json.RawMessage `json:"message"`
	Timestamp int64           `json:"timestamp"`
}

// Registered registered
type Registered struct {
	Type      string `json:"type"`
	UserID    string `json:"userId"`
	ClientID  string `json:"clientId"`
	Timestamp int64  `json:"timestamp"`
}

// ErrorFrame error
type ErrorFrame struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Error   string `json:"error,omitempty"`
	RoomID  string `json:"roomId,omitempty"`
	Kind    string `json:"receivedType,omitempty"` // 未识别帧的原始 type
}

// Pong pong
type Pong struct {
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`
}
