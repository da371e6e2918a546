package ws

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/tokmz/rtguard/pkg/auth"
	"github.com/tokmz/rtguard/pkg/errors"
	"github.com/tokmz/rtguard/pkg/logger"
)

// 应用层关闭码
const (
	CloseSessionRevoked        = 4001
	CloseInsufficientPrivilege = 4003
)

// Client 已认证的连接
type Client struct {
	ID string

	conn      *websocket.Conn
	manager   *Manager
	namespace string
	address   string
	log       logger.Logger

	// 复核后身份可能被替换
	auth atomic.Pointer[auth.Context]

	send     chan []byte
	sendHigh chan []byte

	rooms sync.Map // roomID -> bool

	limiter      *rate.Limiter
	invalidCount atomic.Int32
	lastPong     atomic.Int64

	ctx       context.Context
	cancel    context.CancelFunc
	closed    atomic.Bool
	closeOnce sync.Once
}

func newClient(conn *websocket.Conn, m *Manager, id, namespace string, ac *auth.Context) *Client {
	ctx, cancel := context.WithCancel(m.ctx)
	c := &Client{
		ID:        id,
		conn:      conn,
		manager:   m,
		namespace: namespace,
		address:   ac.Address,
		send:      make(chan []byte, m.cfg.MessageQueueSize),
		sendHigh:  make(chan []byte, m.cfg.HighPriorityQueueSize),
		limiter:   m.cfg.messageLimiter(),
		ctx:       ctx,
		cancel:    cancel,
	}
	c.log = m.log.With(
		zap.String("client_id", id),
		zap.String("namespace", namespace),
		zap.Int64("principal_id", ac.PrincipalID),
	)
	c.auth.Store(ac)
	c.lastPong.Store(time.Now().Unix())
	return c
}

// Namespace 连接所在的命名空间
func (c *Client) Namespace() string {
	return c.namespace
}

// Auth 连接当前的身份
func (c *Client) Auth() *auth.Context {
	return c.auth.Load()
}

// Context 连接生命周期
func (c *Client) Context() context.Context {
	return c.ctx
}

// RemoteAddr 认证时解析出的来源地址
func (c *Client) RemoteAddr() string {
	return c.address
}

func (c *Client) run() {
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		c.readPump()
	}()
	go func() {
		defer wg.Done()
		c.writePump()
	}()
	wg.Wait()
	c.Close()
}

func (c *Client) readPump() {
	defer c.Close()

	c.conn.SetReadLimit(c.manager.cfg.MaxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(c.manager.cfg.HeartbeatTimeout)); err != nil {
		return
	}
	c.conn.SetPongHandler(func(string) error {
		c.lastPong.Store(time.Now().Unix())
		return c.conn.SetReadDeadline(time.Now().Add(c.manager.cfg.HeartbeatTimeout))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Debug("connection read failed", zap.Error(err))
			}
			return
		}
		if c.ctx.Err() != nil {
			return
		}

		if c.limiter != nil && !c.limiter.Allow() {
			c.manager.metrics.IncrementRejectedMessages(c.namespace)
			_ = c.sendError("", ErrMessageLimited)
			continue
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil || msg.Event == "" {
			c.manager.metrics.IncrementInvalidMessages(c.namespace)
			if n := c.invalidCount.Add(1); int(n) > c.manager.cfg.MaxInvalidMessages {
				c.log.Info("too many invalid messages, closing connection", zap.Int32("count", n))
				return
			}
			_ = c.sendError("", ErrInvalidMessage)
			continue
		}
		c.invalidCount.Store(0)

		req := &Request{
			Namespace: c.namespace,
			Event:     msg.Event,
			RequestID: msg.RequestID,
			Payload:   msg.Data,
			Auth:      c.Auth(),
			Client:    c,
		}
		if err := c.manager.dispatch(c.ctx, req); err != nil {
			_ = c.sendError(msg.RequestID, err)
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(c.manager.cfg.HeartbeatInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.ctx.Done():
			return
		case msg := <-c.sendHigh:
			if err := c.write(websocket.TextMessage, msg); err != nil {
				return
			}
		case msg := <-c.send:
			if err := c.write(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) write(messageType int, data []byte) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.manager.cfg.WriteWait)); err != nil {
		return err
	}
	return c.conn.WriteMessage(messageType, data)
}

// SendBytes 非阻塞发送
func (c *Client) SendBytes(msg []byte) error {
	if c.closed.Load() {
		return ErrConnectionClosed
	}
	select {
	case c.send <- msg:
		return nil
	default:
		return ErrChannelFull
	}
}

// SendBytesHigh 高优先级发送，用于应答和错误
func (c *Client) SendBytesHigh(msg []byte) error {
	if c.closed.Load() {
		return ErrConnectionClosed
	}
	select {
	case c.sendHigh <- msg:
		return nil
	default:
		return ErrChannelFull
	}
}

// SendJSON 编码后高优先级发送
func (c *Client) SendJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.SendBytesHigh(data)
}

// Emit 发送通知
func (c *Client) Emit(event string, payload any) error {
	data, err := encodeNotify(event, payload)
	if err != nil {
		return err
	}
	return c.SendBytes(data)
}

// sendError 只发送错误码和原因，内部错误写日志
func (c *Client) sendError(requestID string, err error) error {
	pub := PublicError(err)
	if pub.Code == errors.ErrServer.Code {
		c.log.Error("event handler failed", zap.String("request_id", requestID), zap.Error(err))
	}
	return c.SendJSON(newErrorResponse(requestID, pub))
}

// JoinRoom 加入房间
func (c *Client) JoinRoom(roomID string) error {
	return c.manager.rooms.JoinRoom(c, roomID)
}

// LeaveRoom 离开房间
func (c *Client) LeaveRoom(roomID string) {
	c.manager.rooms.LeaveRoom(c, roomID)
}

// Rooms 已加入的房间
func (c *Client) Rooms() []string {
	var out []string
	c.rooms.Range(func(key, _ any) bool {
		out = append(out, key.(string))
		return true
	})
	return out
}

// IsClosed 是否已关闭
func (c *Client) IsClosed() bool {
	return c.closed.Load()
}

// Close 正常关闭
func (c *Client) Close() {
	c.CloseWithReason(websocket.CloseNormalClosure, "")
}

// CloseWithReason 发送关闭帧后断开，只有第一次调用生效
func (c *Client) CloseWithReason(code int, reason string) {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		m := c.manager

		// 关闭帧要在 writePump 退出并关闭连接之前写出
		if c.conn != nil {
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(code, reason),
				time.Now().Add(m.cfg.WriteWait))
		}
		c.cancel()

		if m.pool.remove(c.ID) {
			m.metrics.DecrementConnections(c.namespace)
		}
		for _, roomID := range c.Rooms() {
			m.rooms.LeaveRoom(c, roomID)
		}
		if c.conn != nil {
			_ = c.conn.Close()
		}

		c.log.Debug("connection closed", zap.Int("code", code), zap.String("reason", reason))
	})
}
