package ws

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

// Config WebSocket 配置
type Config struct {
	MaxConnections   int           `mapstructure:"max_connections"`
	ReadBufferSize   int           `mapstructure:"read_buffer_size"`
	WriteBufferSize  int           `mapstructure:"write_buffer_size"`
	HandshakeTimeout time.Duration `mapstructure:"handshake_timeout"`
	MaxMessageSize   int64         `mapstructure:"max_message_size"`

	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	HeartbeatTimeout  time.Duration `mapstructure:"heartbeat_timeout"`
	WriteWait         time.Duration `mapstructure:"write_wait"`

	MessageQueueSize      int `mapstructure:"message_queue_size"`
	HighPriorityQueueSize int `mapstructure:"high_priority_queue_size"`

	// 单连接入站消息速率，0 表示不限制
	MessagesPerSecond float64 `mapstructure:"messages_per_second"`
	MessageBurst      int     `mapstructure:"message_burst"`
	// 连续无效消息超过该值后断开
	MaxInvalidMessages int `mapstructure:"max_invalid_messages"`

	// 会话复核间隔，0 表示关闭
	SessionAuditInterval time.Duration `mapstructure:"session_audit_interval"`

	EnableCompression bool `mapstructure:"enable_compression"`

	Room RoomConfig `mapstructure:"room"`
}

// RoomConfig 房间配置
type RoomConfig struct {
	MaxRoomSize     int           `mapstructure:"max_room_size"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
	EmptyRoomTTL    time.Duration `mapstructure:"empty_room_ttl"`
}

// DefaultConfig 默认配置
func DefaultConfig() Config {
	return Config{
		MaxConnections:        10000,
		ReadBufferSize:        1024,
		WriteBufferSize:       1024,
		HandshakeTimeout:      10 * time.Second,
		MaxMessageSize:        64 * 1024,
		HeartbeatInterval:     30 * time.Second,
		HeartbeatTimeout:      90 * time.Second,
		WriteWait:             10 * time.Second,
		MessageQueueSize:      256,
		HighPriorityQueueSize: 64,
		MessagesPerSecond:     20,
		MessageBurst:          40,
		MaxInvalidMessages:    10,
		SessionAuditInterval:  time.Minute,
		Room: RoomConfig{
			MaxRoomSize:     1000,
			CleanupInterval: 5 * time.Minute,
			EmptyRoomTTL:    10 * time.Minute,
		},
	}
}

// Validate 校验配置
func (c *Config) Validate() error {
	switch {
	case c.MaxConnections <= 0:
		return fmt.Errorf("%w: max_connections must be positive, got %d", ErrInvalidConfig, c.MaxConnections)
	case c.ReadBufferSize <= 0 || c.WriteBufferSize <= 0:
		return fmt.Errorf("%w: buffer sizes must be positive", ErrInvalidConfig)
	case c.MaxMessageSize <= 0:
		return fmt.Errorf("%w: max_message_size must be positive, got %d", ErrInvalidConfig, c.MaxMessageSize)
	case c.HeartbeatInterval <= 0:
		return fmt.Errorf("%w: heartbeat_interval must be positive, got %v", ErrInvalidConfig, c.HeartbeatInterval)
	case c.HeartbeatTimeout <= c.HeartbeatInterval:
		return fmt.Errorf("%w: heartbeat_timeout (%v) must be greater than heartbeat_interval (%v)",
			ErrInvalidConfig, c.HeartbeatTimeout, c.HeartbeatInterval)
	case c.WriteWait <= 0:
		return fmt.Errorf("%w: write_wait must be positive, got %v", ErrInvalidConfig, c.WriteWait)
	case c.MessageQueueSize <= 0 || c.HighPriorityQueueSize <= 0:
		return fmt.Errorf("%w: queue sizes must be positive", ErrInvalidConfig)
	case c.MessagesPerSecond < 0:
		return fmt.Errorf("%w: messages_per_second must not be negative", ErrInvalidConfig)
	case c.MessagesPerSecond > 0 && c.MessageBurst <= 0:
		return fmt.Errorf("%w: message_burst must be positive when messages_per_second is set", ErrInvalidConfig)
	case c.MaxInvalidMessages <= 0:
		return fmt.Errorf("%w: max_invalid_messages must be positive, got %d", ErrInvalidConfig, c.MaxInvalidMessages)
	case c.SessionAuditInterval < 0:
		return fmt.Errorf("%w: session_audit_interval must not be negative", ErrInvalidConfig)
	case c.Room.MaxRoomSize <= 0:
		return fmt.Errorf("%w: room.max_room_size must be positive, got %d", ErrInvalidConfig, c.Room.MaxRoomSize)
	case c.Room.CleanupInterval <= 0 || c.Room.EmptyRoomTTL <= 0:
		return fmt.Errorf("%w: room cleanup durations must be positive", ErrInvalidConfig)
	}
	return nil
}

// messageLimiter 单连接入站限流器，未配置时返回 nil
func (c *Config) messageLimiter() *rate.Limiter {
	if c.MessagesPerSecond <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Limit(c.MessagesPerSecond), c.MessageBurst)
}

func (c *Config) upgrader(checkOrigin func(*http.Request) bool) *websocket.Upgrader {
	if checkOrigin == nil {
		checkOrigin = sameOrigin
	}
	return &websocket.Upgrader{
		HandshakeTimeout:  c.HandshakeTimeout,
		ReadBufferSize:    c.ReadBufferSize,
		WriteBufferSize:   c.WriteBufferSize,
		CheckOrigin:       checkOrigin,
		EnableCompression: c.EnableCompression,
	}
}

// sameOrigin 未注入 Origin 校验时的兜底策略，拒绝空 Origin
func sameOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return false
	}
	return origin == "http://"+r.Host || origin == "https://"+r.Host
}
