package logger

// Format 日志格式
type Format string

const (
	// JSONFormat 生产环境
	JSONFormat Format = "json"
	// ConsoleFormat 开发环境
	ConsoleFormat Format = "console"
)

// IsValid 检查格式是否有效
func (f Format) IsValid() bool {
	return f == JSONFormat || f == ConsoleFormat
}
