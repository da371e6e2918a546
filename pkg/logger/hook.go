package logger

import "go.uber.org/zap/zapcore"

// Hook 日志钩子
type Hook interface {
	// OnWrite 在日志写入前调用，返回错误会中止本条写入
	OnWrite(entry zapcore.Entry, fields []zapcore.Field) error
}

// HookFunc 函数形式的 Hook
type HookFunc func(entry zapcore.Entry, fields []zapcore.Field) error

// OnWrite 实现 Hook
func (f HookFunc) OnWrite(entry zapcore.Entry, fields []zapcore.Field) error {
	return f(entry, fields)
}
