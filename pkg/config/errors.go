package config

import "github.com/tokmz/relay/pkg/errors"

// 配置包专用错误定义
var (
	// ErrConfigNotFound 配置文件未找到
	ErrConfigNotFound = errors.New(3001, "配置文件未找到", 500)
	// ErrConfigReadFailed 配置读取失败
	ErrConfigReadFailed = errors.New(3003, "配置读取失败", 500)
	// ErrInvalidSettings 配置值不合法
	ErrInvalidSettings = errors.New(3004, "配置值不合法", 500)
)
