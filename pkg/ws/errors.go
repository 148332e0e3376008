package ws

import (
	stderrors "errors"

	"github.com/tokmz/relay/pkg/errors"
)

// 信令错误码
var (
	// ErrProtocol 帧无法解析或缺少 type
	ErrProtocol = errors.New(2001, "Invalid message format", 400)
	// ErrRoomAlreadyExists 显式指定的房间 ID 已存在
	ErrRoomAlreadyExists = errors.New(2002, "Room already exists", 409)
	// ErrTargetUnavailable 点对点转发的目标不存在或已关闭
	ErrTargetUnavailable = errors.New(2003, "Target unavailable", 404)
	// ErrInvalidRoomID 房间 ID 为空或不是字符串
	ErrInvalidRoomID = errors.New(2004, "Invalid room ID", 400)
	// ErrInternal 处理器内部错误
	ErrInternal = errors.New(2005, "Internal server error", 500)
)

// 连接相关错误
var (
	ErrTooManyConnections = stderrors.New("ws: too many connections")
	ErrConnectionClosed   = stderrors.New("ws: connection closed")
	ErrChannelFull        = stderrors.New("ws: send channel full")
	ErrHubClosed          = stderrors.New("ws: hub closed")
	ErrInvalidConfig      = stderrors.New("ws: invalid config")
)
