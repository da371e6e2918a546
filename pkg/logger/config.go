package logger

import "go.uber.org/zap/zapcore"

// Config 日志配置
type Config struct {
	Level  Level  // 日志级别（默认 InfoLevel）
	Format Format // 日志格式（json/console，默认 json）

	Console bool          // 输出到控制台
	File    string        // 文件路径（空则不输出到文件）
	Rotate  *RotateConfig // 轮转配置（nil 则不轮转）

	Sampling *SamplingConfig // 采样配置（nil 则不采样）

	EnableCaller     bool // 记录调用位置
	EnableStacktrace bool // Error 及以上记录堆栈

	EncoderConfig *zapcore.EncoderConfig // 自定义 Encoder 配置
	Hooks         []Hook                 // Hook 列表
}

// setDefaults 设置默认值
// Level 的零值就是 InfoLevel
func (c *Config) setDefaults() {
	if c.Format == "" {
		c.Format = JSONFormat
	}
	if !c.Console && c.File == "" && c.Rotate == nil {
		c.Console = true
	}
}

// RotateConfig 文件轮转配置（lumberjack）
type RotateConfig struct {
	Filename   string // 日志文件路径
	MaxSize    int    // 单文件最大 MB（默认 100）
	MaxAge     int    // 保留天数（默认 30）
	MaxBackups int    // 保留文件数（默认 10）
	LocalTime  bool
	Compress   bool
}

func (r *RotateConfig) setDefaults() {
	if r.MaxSize == 0 {
		r.MaxSize = 100
	}
	if r.MaxAge == 0 {
		r.MaxAge = 30
	}
	if r.MaxBackups == 0 {
		r.MaxBackups = 10
	}
	r.LocalTime = true
}

// SamplingConfig 采样配置：每秒前 Initial 条必记，之后每 Thereafter 条记 1 条
type SamplingConfig struct {
	Initial    int
	Thereafter int
}

func (s *SamplingConfig) setDefaults() {
	if s.Initial == 0 {
		s.Initial = 100
	}
	if s.Thereafter == 0 {
		s.Thereafter = 100
	}
}
