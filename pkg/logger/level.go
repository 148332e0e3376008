package logger

import (
	"fmt"
	"strings"

	"go.uber.org/zap/zapcore"
)

// Level 日志级别
type Level int8

const (
	// DebugLevel 调试信息
	DebugLevel Level = iota - 1
	// InfoLevel 常规信息（默认级别）
	InfoLevel
	// WarnLevel 警告信息
	WarnLevel
	// ErrorLevel 错误信息
	ErrorLevel
	// FatalLevel 记录后退出程序
	FatalLevel Level = 5
)

// String 返回级别名称
func (l Level) String() string {
	return zapcore.Level(l).String()
}

// ParseLevel 解析级别名称（debug/info/warn/error/fatal，大小写不敏感）
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return DebugLevel, nil
	case "", "info":
		return InfoLevel, nil
	case "warn", "warning":
		return WarnLevel, nil
	case "error":
		return ErrorLevel, nil
	case "fatal":
		return FatalLevel, nil
	}
	return InfoLevel, fmt.Errorf("logger: unknown level %q", s)
}

func (l Level) toZapLevel() zapcore.Level {
	return zapcore.Level(l)
}
