package ws

import (
	stderrors "errors"

	"github.com/tokmz/rtguard/pkg/errors"
)

var (
	ErrTooManyConnections = stderrors.New("ws: too many connections")
	ErrClientIDExists     = stderrors.New("ws: client id already exists")
	ErrConnectionClosed   = stderrors.New("ws: connection closed")
	ErrManagerClosed      = stderrors.New("ws: manager is shut down")
	ErrChannelFull        = stderrors.New("ws: send channel full")
	// ErrUpgradeFailed 升级失败时 HTTP 响应已经由 upgrader 写出
	ErrUpgradeFailed = stderrors.New("ws: upgrade failed")

	ErrRoomNotFound          = stderrors.New("ws: room not found")
	ErrRoomFull              = stderrors.New("ws: room is full")
	ErrAlreadyInRoom         = stderrors.New("ws: already in room")
	ErrRoomNamespaceMismatch = stderrors.New("ws: room belongs to another namespace")

	ErrNamespaceNotFound = stderrors.New("ws: namespace not registered")
	ErrNamespaceExists   = stderrors.New("ws: namespace already registered")
	ErrRegistryFrozen    = stderrors.New("ws: namespaces are frozen after start")

	ErrUnauthenticated = stderrors.New("ws: connection is not authenticated")
	ErrForbidden       = stderrors.New("ws: admin role required")
	ErrInvalidMessage  = stderrors.New("ws: invalid message format")
	ErrMessageLimited  = stderrors.New("ws: message rate exceeded")

	ErrBroadcastTimeout = stderrors.New("ws: broadcast timeout")
	ErrInvalidConfig    = stderrors.New("ws: invalid config")
)

// PublicError 转换为可以发给客户端的错误，不携带内部信息
func PublicError(err error) *errors.Error {
	var coded *errors.Error
	switch {
	case errors.As(err, &coded):
		return coded.Public()
	case stderrors.Is(err, ErrForbidden):
		return errors.ErrInsufficientPrivileges
	case stderrors.Is(err, ErrUnauthenticated):
		return errors.ErrInvalidSession
	case stderrors.Is(err, ErrMessageLimited):
		return errors.ErrRateLimited
	case stderrors.Is(err, ErrInvalidMessage):
		return errors.ErrBadRequest
	case stderrors.Is(err, ErrNamespaceNotFound):
		return errors.ErrNamespaceNotFound
	case stderrors.Is(err, ErrRoomNotFound):
		return errors.ErrRoomNotFound
	case stderrors.Is(err, ErrTooManyConnections), stderrors.Is(err, ErrManagerClosed):
		return errors.ErrUnavailable
	default:
		return errors.ErrServer
	}
}
