package errors

/*
	内置错误码

	1xxx 通用
	2xxx Origin 校验
	3xxx 认证与授权
	4xxx 命名空间 / 房间
*/

var (
	// ErrServer 服务器错误
	ErrServer = New(1000, 500, "server_error")
	// ErrBadRequest 请求异常
	ErrBadRequest = New(1001, 400, "bad_request")
	// ErrUnavailable 服务暂不可用（连接数已满或正在关闭）
	ErrUnavailable = New(1002, 503, "service_unavailable")

	// ErrOriginMissing 未携带 Origin
	ErrOriginMissing = New(2001, 403, "origin_missing")
	// ErrOriginMalformed Origin 格式错误
	ErrOriginMalformed = New(2002, 403, "origin_malformed")
	// ErrOriginNotPermitted Origin 不在允许列表
	ErrOriginNotPermitted = New(2003, 403, "origin_not_permitted")

	// ErrInvalidSession 会话无效
	ErrInvalidSession = New(3001, 401, "invalid_session")
	// ErrUserNotFound 用户不存在
	ErrUserNotFound = New(3002, 401, "user_not_found")
	// ErrUserInactive 用户已停用
	ErrUserInactive = New(3003, 403, "user_inactive")
	// ErrInsufficientPrivileges 权限不足
	ErrInsufficientPrivileges = New(3004, 403, "insufficient_privileges")
	// ErrRateLimited 触发限流
	ErrRateLimited = New(3005, 429, "rate_limited")
	// ErrSystem 系统错误（不透出内部细节）
	ErrSystem = New(3006, 500, "system_error")

	// ErrNamespaceNotFound 命名空间不存在
	ErrNamespaceNotFound = New(4001, 404, "namespace_not_found")
	// ErrRoomNotFound 房间不存在
	ErrRoomNotFound = New(4002, 404, "room_not_found")
)
