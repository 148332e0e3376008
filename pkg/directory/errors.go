package directory

import "github.com/tokmz/relay/pkg/errors"

// 预定义错误
var (
	ErrNotFound      = errors.New(4004, "room not found in directory", 404)
	ErrInvalidConfig = errors.New(4001, "directory invalid config", 500)
	ErrConnection    = errors.New(4003, "directory connection failed", 503)
	ErrOperation     = errors.New(4006, "directory operation failed", 500)
	ErrSerialization = errors.New(4007, "directory serialization failed", 500)
)
