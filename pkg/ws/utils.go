package ws

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// newConnectionID 连接 ID
func newConnectionID() string {
	return uuid.NewString()
}

// newRoomID 8 位短房间 ID，便于分享
func newRoomID() string {
	return uuid.NewString()[:8]
}

// defaultUserID 未提供 userId 时的默认值
func defaultUserID(connID string) string {
	if len(connID) > 4 {
		connID = connID[:4]
	}
	return "user-" + connID
}

// DefaultUserName 未提供 userName 时的默认值
const DefaultUserName = "Anonymous"

// timestamp 毫秒时间戳
func timestamp() int64 {
	return time.Now().UnixMilli()
}

// validRoomID 房间 ID 必须是非空白字符串
func validRoomID(id string) bool {
	return strings.TrimSpace(id) != ""
}
