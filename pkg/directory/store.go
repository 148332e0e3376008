package directory

import (
	"context"
	"fmt"
	"time"
)

// Entry 目录中的一个房间
type Entry struct {
	RoomID           string    `json:"roomId"`
	Host             string    `json:"host"`
	ParticipantCount int       `json:"participantCount"`
	Participants     []string  `json:"participants"`
	CreatedAt        time.Time `json:"createdAt"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

// Store 目录存储
type Store interface {
	Put(ctx context.Context, e Entry) error
	Get(ctx context.Context, roomID string) (Entry, error)
	Delete(ctx context.Context, roomID string) error
	List(ctx context.Context) ([]Entry, error)
	// Reset 清空目录，进程启动时丢弃上一次运行留下的房间
	Reset(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

// NewStore 创建存储实例
func NewStore(cfg *Config) (Store, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	switch cfg.Driver {
	case DriverRedis:
		return newRedisStore(cfg.Redis)
	case DriverMemory:
		return newMemoryStore(), nil
	default:
		return nil, fmt.Errorf("%w: unsupported driver", ErrInvalidConfig)
	}
}

// NewStoreWithOptions 使用 Options 模式创建存储实例
func NewStoreWithOptions(opts ...Option) (Store, error) {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	return NewStore(cfg)
}
