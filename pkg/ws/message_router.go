package ws

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/tokmz/relay/pkg/errors"
	"github.com/tokmz/relay/pkg/logger"
	"github.com/tokmz/relay/pkg/tracing"
)

// Handler 帧处理器
type Handler func(ctx context.Context, conn *Connection, frame Inbound) error

// MiddlewareFunc 中间件函数
type MiddlewareFunc func(ctx context.Context, conn *Connection, frame Inbound, next Handler) error

// Router 入站帧路由
//
// 每个入站帧恰好经过一次 Dispatch；任何失败都只回给发送方一个 error 帧，
// 不会影响连接本身或其他连接。
type Router struct {
	route      Handler
	middleware []MiddlewareFunc
	compiled   Handler // 预编译的处理器链
	reply      func(conn *Connection, frame any) bool
	log        logger.Logger
	metrics    Metrics
}

// NewRouter 创建路由，route 负责按帧类型分派
func NewRouter(route Handler, reply func(*Connection, any) bool, log logger.Logger, metrics Metrics) *Router {
	r := &Router{
		route:   route,
		reply:   reply,
		log:     log,
		metrics: metrics,
	}
	r.Use(r.recoverMiddleware, r.tracingMiddleware, r.metricsMiddleware)
	return r
}

// Use 添加中间件，按添加顺序由外向内执行
func (r *Router) Use(middleware ...MiddlewareFunc) {
	r.middleware = append(r.middleware, middleware...)
	r.compiled = r.buildChain(r.route)
}

// buildChain 构建中间件链
func (r *Router) buildChain(handler Handler) Handler {
	final := handler
	for i := len(r.middleware) - 1; i >= 0; i-- {
		mw := r.middleware[i]
		next := final
		final = func(ctx context.Context, conn *Connection, frame Inbound) error {
			return mw(ctx, conn, frame, next)
		}
	}
	return final
}

// Dispatch 解析并处理一个入站帧
func (r *Router) Dispatch(ctx context.Context, conn *Connection, data []byte) {
	frame, err := Decode(data)
	if err != nil {
		r.metrics.IncrementInvalidMessages()
		r.log.WarnContext(ctx, "invalid frame", logger.ClientID(conn.ID), zap.Error(err))
		r.reply(conn, ErrorFrame{
			Type:    TypeError,
			Message: ErrProtocol.Message,
			Error:   detailOf(err),
		})
		return
	}

	if err := r.compiled(ctx, conn, frame); err != nil {
		r.log.ErrorContext(ctx, "handle frame",
			logger.ClientID(conn.ID),
			logger.FrameType(frame.FrameType()),
			zap.Error(err),
		)
		r.reply(conn, ErrorFrame{
			Type:    TypeError,
			Message: ErrInternal.Message,
			Error:   detailOf(err),
		})
	}
}

// detailOf 取出返回给客户端的错误描述
func detailOf(err error) string {
	var e *errors.Error
	if errors.As(err, &e) {
		if d := e.Detail(); d != "" {
			return d
		}
		return e.Message
	}
	return err.Error()
}

// recoverMiddleware 处理器 panic 转为 ErrInternal
func (r *Router) recoverMiddleware(ctx context.Context, conn *Connection, frame Inbound, next Handler) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.ErrorContext(ctx, "handler panic",
				logger.ClientID(conn.ID),
				logger.FrameType(frame.FrameType()),
				zap.Any("panic", rec),
				zap.ByteString("stack", debug.Stack()),
			)
			err = ErrInternal.WithError(fmt.Errorf("%v", rec))
		}
	}()
	return next(ctx, conn, frame)
}

// tracingMiddleware 每个帧一个 Span
func (r *Router) tracingMiddleware(ctx context.Context, conn *Connection, frame Inbound, next Handler) error {
	ctx, span := tracing.StartSpan(ctx, "ws."+frameLabel(frame))
	defer span.End()

	span.SetAttributes(
		attribute.String("ws.client_id", conn.ID),
		attribute.String("ws.frame_type", frame.FrameType()),
	)
	if conn.RoomID != "" {
		span.SetAttributes(attribute.String("ws.room_id", conn.RoomID))
	}

	err := next(ctx, conn, frame)
	tracing.RecordError(span, err)
	return err
}

// metricsMiddleware 统计帧数量、耗时与错误
func (r *Router) metricsMiddleware(ctx context.Context, conn *Connection, frame Inbound, next Handler) error {
	start := time.Now()
	kind := frameLabel(frame)
	r.metrics.IncrementMessageCount(kind)

	err := next(ctx, conn, frame)
	r.metrics.RecordMessageLatency(kind, time.Since(start).Microseconds())
	if err != nil {
		r.metrics.IncrementMessageErrors(kind)
	}
	return err
}

// frameLabel 指标与 Span 名称使用的帧类型，未识别的 type 统一归为 unknown
func frameLabel(frame Inbound) string {
	if _, ok := frame.(UnknownFrame); ok {
		return "unknown"
	}
	return frame.FrameType()
}
