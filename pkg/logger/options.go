package logger

// Option 配置选项函数，配合 NewWithOptions 使用
type Option func(*Config)

// WithLevel 设置日志级别
func WithLevel(level Level) Option {
	return func(c *Config) { c.Level = level }
}

// WithFormat 设置日志格式
func WithFormat(format Format) Option {
	return func(c *Config) { c.Format = format }
}

// WithConsoleOutput 输出到控制台
func WithConsoleOutput() Option {
	return func(c *Config) { c.Console = true }
}

// WithFileOutput 写入单个文件，不轮转
func WithFileOutput(filename string) Option {
	return func(c *Config) { c.File = filename }
}

// WithRotation 写入按大小轮转的文件，其余参数取默认值
func WithRotation(filename string, maxSizeMB int) Option {
	return func(c *Config) {
		c.Rotate = &RotateConfig{Filename: filename, MaxSize: maxSizeMB}
	}
}

// WithCaller 是否记录调用位置
func WithCaller(enable bool) Option {
	return func(c *Config) { c.EnableCaller = enable }
}

// WithStacktrace 是否在 Error 及以上记录堆栈
func WithStacktrace(enable bool) Option {
	return func(c *Config) { c.EnableStacktrace = enable }
}

// WithHook 添加写入前的 Hook，测试里常用来收集日志
func WithHook(hook Hook) Option {
	return func(c *Config) { c.Hooks = append(c.Hooks, hook) }
}
