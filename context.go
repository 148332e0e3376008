package relay

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tokmz/relay/pkg/errors"
	"github.com/tokmz/relay/pkg/logger"
)

// Context 包装 gin.Context，提供增强的 API
type Context struct {
	ctx *gin.Context
}

// NewContext 创建新的上下文（用于测试）
func NewContext(c *gin.Context) *Context {
	return &Context{ctx: c}
}

// ============ Gin Context 访问方法 ============

// Request 返回底层的 *http.Request
func (c *Context) Request() *http.Request {
	return c.ctx.Request
}

// Writer 返回底层的 http.ResponseWriter
func (c *Context) Writer() gin.ResponseWriter {
	return c.ctx.Writer
}

// Param 获取路径参数
func (c *Context) Param(key string) string {
	return c.ctx.Param(key)
}

// FullPath 获取路由模板路径（如 /api/rooms/:roomId）
func (c *Context) FullPath() string {
	return c.ctx.FullPath()
}

// Query 获取 URL 查询参数
func (c *Context) Query(key string) string {
	return c.ctx.Query(key)
}

// DefaultQuery 获取 URL 查询参数（带默认值）
func (c *Context) DefaultQuery(key, defaultValue string) string {
	return c.ctx.DefaultQuery(key, defaultValue)
}

// ShouldBindQuery 绑定 URL 查询参数（不自动响应错误）
func (c *Context) ShouldBindQuery(obj any) error {
	return c.ctx.ShouldBindQuery(obj)
}

// ShouldBindUri 绑定路径参数（不自动响应错误）
func (c *Context) ShouldBindUri(obj any) error {
	return c.ctx.ShouldBindUri(obj)
}

// JSON 发送 JSON 响应
func (c *Context) JSON(code int, obj any) {
	c.ctx.JSON(code, obj)
}

// String 发送纯文本响应
func (c *Context) String(code int, format string, values ...any) {
	c.ctx.String(code, format, values...)
}

// Set 设置上下文键值对
func (c *Context) Set(key string, value any) {
	c.ctx.Set(key, value)
}

// Get 获取上下文键值对
func (c *Context) Get(key string) (any, bool) {
	return c.ctx.Get(key)
}

// GetString 获取字符串类型的上下文值
func (c *Context) GetString(key string) string {
	return c.ctx.GetString(key)
}

// Next 执行下一个中间件或处理函数
func (c *Context) Next() {
	c.ctx.Next()
}

// Abort 中止请求处理
func (c *Context) Abort() {
	c.ctx.Abort()
}

// AbortWithStatus 中止请求并设置状态码
func (c *Context) AbortWithStatus(code int) {
	c.ctx.AbortWithStatus(code)
}

// IsAborted 检查请求是否已中止
func (c *Context) IsAborted() bool {
	return c.ctx.IsAborted()
}

// ClientIP 获取客户端 IP
func (c *Context) ClientIP() string {
	return c.ctx.ClientIP()
}

// GetHeader 获取请求头
func (c *Context) GetHeader(key string) string {
	return c.ctx.GetHeader(key)
}

// Header 设置响应头
func (c *Context) Header(key, value string) {
	c.ctx.Header(key, value)
}

// wrapBindError 包装绑定错误
func (c *Context) wrapBindError(err error) error {
	return errors.ErrBadRequest.WithError(err)
}

// ============ 响应方法 ============

// Success 成功响应
func (c *Context) Success(data any) {
	c.respond(http.StatusOK, Success(data))
}

// Fail 失败响应，HTTP 状态码为 200，业务码为 code
func (c *Context) Fail(code int, message string) {
	c.respond(http.StatusOK, Fail(code, message))
}

// RespondError 错误响应
// *errors.Error 使用其 HttpCode，其他错误按 ErrServer 处理并保留原始信息
func (c *Context) RespondError(err error) {
	var bizErr *errors.Error
	if errors.As(err, &bizErr) {
		c.respond(bizErr.HttpCode, NewResponse(bizErr.Code, nil, bizErr.Message))
		return
	}

	message := errors.ErrServer.Message
	if err != nil {
		message = err.Error()
	}
	c.respond(errors.ErrServer.HttpCode, NewResponse(errors.ErrServer.Code, nil, message))
}

// AbortWithError 中止请求并返回错误响应
func (c *Context) AbortWithError(err error) {
	c.RespondError(err)
	c.Abort()
}

// respond 统一响应处理（自动添加 TraceID）
func (c *Context) respond(statusCode int, resp *Response) {
	if traceID := GetContextTraceID(c); traceID != "" {
		resp.WithTraceID(traceID)
	}
	c.JSON(statusCode, resp)
}

// RequestContext 返回标准库 context.Context，用于传递给 Service 层
// 自动注入 TraceID，logger 的 *Context 方法会从中提取
func (c *Context) RequestContext() context.Context {
	ctx := c.ctx.Request.Context()
	if traceID := GetContextTraceID(c); traceID != "" {
		ctx = logger.WithTraceID(ctx, traceID)
	}
	return ctx
}

// SetRequestContext 更新 Request 的 Context（用于中间件注入 SpanContext）
func (c *Context) SetRequestContext(ctx context.Context) {
	c.ctx.Request = c.ctx.Request.WithContext(ctx)
}
