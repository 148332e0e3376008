package logger

import "go.uber.org/zap/zapcore"

// Format 日志格式
type Format string

const (
	// JSONFormat JSON 格式（生产环境推荐）
	JSONFormat Format = "json"
	// ConsoleFormat 控制台格式（开发环境推荐）
	ConsoleFormat Format = "console"
)

// IsValid 检查格式是否有效
func (f Format) IsValid() bool {
	return f == JSONFormat || f == ConsoleFormat
}

// Config 日志配置
type Config struct {
	Level  Level  // 日志级别（默认 InfoLevel）
	Format Format // 日志格式（json/console，默认 json）

	// 输出配置
	Console bool          // 是否输出到控制台（未配置任何输出时默认 true）
	File    string        // 文件路径（空则不输出到文件）
	Rotate  *RotateConfig // 轮转配置（nil 则不轮转）

	Sampling *SamplingConfig // 采样配置（nil 则不采样）

	EnableCaller     bool // 是否记录调用位置
	EnableStacktrace bool // 是否记录堆栈（Error 及以上）

	EncoderConfig *zapcore.EncoderConfig // 自定义 Encoder 配置
}

// RotateConfig 文件轮转配置（lumberjack）
type RotateConfig struct {
	Filename   string // 日志文件路径
	MaxSize    int    // 单文件最大大小（MB，默认 100MB）
	MaxAge     int    // 文件保留天数（默认 30 天）
	MaxBackups int    // 最多保留文件数（默认 10 个）
	Compress   bool   // 是否压缩
}

// SamplingConfig 采样配置
type SamplingConfig struct {
	Initial    int // 每秒前 N 条日志必定记录
	Thereafter int // 之后每 M 条记录 1 条
}

func (c *Config) setDefaults() {
	if c.Format == "" {
		c.Format = JSONFormat
	}
	if !c.Console && c.File == "" && c.Rotate == nil {
		c.Console = true
	}
	if c.Rotate != nil {
		if c.Rotate.MaxSize == 0 {
			c.Rotate.MaxSize = 100
		}
		if c.Rotate.MaxAge == 0 {
			c.Rotate.MaxAge = 30
		}
		if c.Rotate.MaxBackups == 0 {
			c.Rotate.MaxBackups = 10
		}
	}
	if c.Sampling != nil {
		if c.Sampling.Initial == 0 {
			c.Sampling.Initial = 100
		}
		if c.Sampling.Thereafter == 0 {
			c.Sampling.Thereafter = 100
		}
	}
}
