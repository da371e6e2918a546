package errors

import "errors"

// Error 带错误码的错误
// Code 与 Reason 是唯一允许返回给客户端的内容，Err 仅用于服务端日志
type Error struct {
	Code     int    `json:"code"`   // 错误码
	Reason   string `json:"reason"` // 机器可读的拒绝原因
	HTTPCode int    `json:"-"`      // http 状态码
	Err      error  `json:"-"`      // 原始错误
}

// Error 实现 error 接口
func (e *Error) Error() string {
	if e.Err != nil {
		return e.Reason + ": " + e.Err.Error()
	}
	return e.Reason
}

// Unwrap 实现 errors.Unwrap 接口
func (e *Error) Unwrap() error {
	return e.Err
}

// New 创建新的错误
// httpCode 为 0 时默认 500
func New(code, httpCode int, reason string) *Error {
	if httpCode == 0 {
		httpCode = 500
	}
	return &Error{
		Code:     code,
		HTTPCode: httpCode,
		Reason:   reason,
	}
}

// WithError 附加原始错误（返回新实例，不修改共享的预定义错误）
func (e *Error) WithError(err error) *Error {
	return &Error{
		Code:     e.Code,
		HTTPCode: e.HTTPCode,
		Reason:   e.Reason,
		Err:      err,
	}
}

// WithReason 替换拒绝原因（返回新实例）
func (e *Error) WithReason(reason string) *Error {
	return &Error{
		Code:     e.Code,
		HTTPCode: e.HTTPCode,
		Reason:   reason,
		Err:      e.Err,
	}
}

// Public 返回可以安全发给客户端的副本（去掉原始错误）
func (e *Error) Public() *Error {
	return &Error{
		Code:     e.Code,
		HTTPCode: e.HTTPCode,
		Reason:   e.Reason,
	}
}

// Is 当 target 也是 *Error 时按 Code 比较
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if ok {
		return e.Code == t.Code
	}
	return errors.Is(e.Err, target)
}

// As 转换为指定类型的错误
func As(err error, target any) bool {
	return errors.As(err, target)
}

// Is 检查错误是否为指定类型
func Is(err error, target error) bool {
	return errors.Is(err, target)
}

// Code 提取错误码，非 *Error 返回 ErrServer 的错误码
func Code(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ErrServer.Code
}
