package directory

import (
	"cmp"
	"context"
	"slices"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/tokmz/relay/pkg/logger"
	"github.com/tokmz/relay/pkg/tracing"
	"github.com/tokmz/relay/pkg/ws"
)

// Subscriber 事件来源，*ws.Hub 实现了该接口
type Subscriber interface {
	Subscribe(eventType ws.EventType, handler ws.EventHandler)
}

// Directory 房间目录镜像
//
// 只做观测用途：信令核心的房间表始终是唯一的真实状态，目录写入失败只记录日志。
type Directory struct {
	store   Store
	group   singleflight.Group
	log     logger.Logger
	timeout time.Duration
}

// New 创建目录
func New(store Store, log logger.Logger, timeout time.Duration) *Directory {
	if log == nil {
		log = logger.NewNop()
	}
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &Directory{store: store, log: log, timeout: timeout}
}

// Attach 订阅房间事件并同步到存储
func (d *Directory) Attach(src Subscriber) {
	src.Subscribe(ws.EventRoomCreated, d.onRoomChanged)
	src.Subscribe(ws.EventRoomUpdated, d.onRoomChanged)
	src.Subscribe(ws.EventRoomDeleted, d.onRoomDeleted)
}

func (d *Directory) onRoomChanged(e ws.Event) {
	if e.Room == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	entry := Entry{
		RoomID:           e.Room.RoomID,
		Host:             e.Room.Host,
		ParticipantCount: e.Room.ParticipantCount,
		Participants:     e.Room.Participants,
		CreatedAt:        e.Room.CreatedAt,
		UpdatedAt:        e.Time,
	}
	if err := d.store.Put(ctx, entry); err != nil {
		d.log.Warn("directory put failed", logger.RoomID(entry.RoomID), zap.Error(err))
	}
}

func (d *Directory) onRoomDeleted(e ws.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	if err := d.store.Delete(ctx, e.RoomID); err != nil {
		d.log.Warn("directory delete failed", logger.RoomID(e.RoomID), zap.Error(err))
	}
}

// List 按创建时间列出目录，并发请求合并为一次存储读取
func (d *Directory) List(ctx context.Context) ([]Entry, error) {
	ctx, span := tracing.StartSpan(ctx, "directory.list", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	v, err, shared := d.group.Do("list", func() (any, error) {
		ctx, cancel := context.WithTimeout(ctx, d.timeout)
		defer cancel()
		return d.store.List(ctx)
	})
	span.SetAttributes(attribute.Bool("directory.shared", shared))
	if err != nil {
		tracing.RecordError(span, err)
		return nil, err
	}

	entries := slices.Clone(v.([]Entry))
	slices.SortFunc(entries, func(a, b Entry) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.RoomID, b.RoomID)
	})
	span.SetAttributes(attribute.Int("directory.rooms", len(entries)))
	return entries, nil
}

// Get 查询单个房间
func (d *Directory) Get(ctx context.Context, roomID string) (Entry, error) {
	ctx, span := tracing.StartSpan(ctx, "directory.get", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	span.SetAttributes(attribute.String("directory.room_id", roomID))

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	e, err := d.store.Get(ctx, roomID)
	tracing.RecordError(span, err)
	return e, err
}

// Reset 清空存储
func (d *Directory) Reset(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	return d.store.Reset(ctx)
}

// Ping 检查存储是否可用
func (d *Directory) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	return d.store.Ping(ctx)
}

// Close 关闭存储
func (d *Directory) Close() error {
	return d.store.Close()
}
