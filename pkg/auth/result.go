package auth

import "github.com/tokmz/rtguard/pkg/errors"

// Result 认证结果
type Result int

const (
	ResultSuccess Result = iota
	ResultInvalidSession
	ResultUserNotFound
	ResultUserInactive
	ResultInsufficientPrivileges
	ResultRateLimited
	ResultSystemError
)

var resultNames = [...]string{
	ResultSuccess:                "SUCCESS",
	ResultInvalidSession:         "INVALID_SESSION",
	ResultUserNotFound:           "USER_NOT_FOUND",
	ResultUserInactive:           "USER_INACTIVE",
	ResultInsufficientPrivileges: "INSUFFICIENT_PRIVILEGES",
	ResultRateLimited:            "RATE_LIMITED",
	ResultSystemError:            "SYSTEM_ERROR",
}

func (r Result) String() string {
	if r < 0 || int(r) >= len(resultNames) {
		return "SYSTEM_ERROR"
	}
	return resultNames[r]
}

// Err 对外的拒绝错误，成功返回 nil
func (r Result) Err() *errors.Error {
	switch r {
	case ResultSuccess:
		return nil
	case ResultInvalidSession:
		return errors.ErrInvalidSession
	case ResultUserNotFound:
		return errors.ErrUserNotFound
	case ResultUserInactive:
		return errors.ErrUserInactive
	case ResultInsufficientPrivileges:
		return errors.ErrInsufficientPrivileges
	case ResultRateLimited:
		return errors.ErrRateLimited
	default:
		return errors.ErrSystem
	}
}

// Audited 需要发出安全事件的结果
func (r Result) Audited() bool {
	return r == ResultRateLimited || r == ResultInsufficientPrivileges || r == ResultSystemError
}
