package rtguard

import (
	"fmt"
	"strings"
	"time"

	"github.com/tokmz/rtguard/pkg/cache"
	"github.com/tokmz/rtguard/pkg/config"
	"github.com/tokmz/rtguard/pkg/logger"
	"github.com/tokmz/rtguard/pkg/orm"
	"github.com/tokmz/rtguard/pkg/origin"
	"github.com/tokmz/rtguard/pkg/ratelimit"
	"github.com/tokmz/rtguard/pkg/tracing"
	"github.com/tokmz/rtguard/pkg/ws"
)

// EnvPrefix 环境变量前缀，RTGUARD_CORS_ALLOWED_ORIGINS 对应 cors.allowed_origins
const EnvPrefix = "RTGUARD"

// ServerConfig HTTP 服务配置
type ServerConfig struct {
	// Addr 监听地址，为空时使用 ":<port>"
	Addr string `mapstructure:"addr"`

	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	IdleTimeout    time.Duration `mapstructure:"idle_timeout"`
	MaxHeaderBytes int           `mapstructure:"max_header_bytes"`

	// TrustedProxies 允许携带 X-Forwarded-For 的代理（IP 或 CIDR），为空时只使用对端地址
	TrustedProxies []string `mapstructure:"trusted_proxies"`

	// ShutdownTimeout 优雅关机超时，默认 10 秒
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// LogSettings 日志配置
type LogSettings struct {
	Level   string `mapstructure:"level"`
	Format  string `mapstructure:"format"`
	Console bool   `mapstructure:"console"`
	File    string `mapstructure:"file"`

	// 以下只在 File 非空时生效，MaxSize 为 0 表示不轮转
	MaxSize    int  `mapstructure:"max_size"`
	MaxAge     int  `mapstructure:"max_age"`
	MaxBackups int  `mapstructure:"max_backups"`
	Compress   bool `mapstructure:"compress"`
}

// SessionSettings 会话存储
type SessionSettings struct {
	// TTL 写入会话时的过期时间
	TTL   time.Duration `mapstructure:"ttl"`
	Cache cache.Config  `mapstructure:"cache"`
}

// DirectorySettings 用户目录数据库
type DirectorySettings struct {
	orm.Config  `mapstructure:",squash"`
	AutoMigrate bool `mapstructure:"auto_migrate"`
}

// KafkaSettings 审计事件写入 Kafka
type KafkaSettings struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

// AMQPSettings 审计事件写入 RabbitMQ
type AMQPSettings struct {
	URL        string `mapstructure:"url"`
	Exchange   string `mapstructure:"exchange"`
	RoutingKey string `mapstructure:"routing_key"`
}

// AuditSettings 安全审计
type AuditSettings struct {
	// Log 审计事件同时写入日志
	Log       bool          `mapstructure:"log"`
	QueueSize int           `mapstructure:"queue_size"`
	Workers   int           `mapstructure:"workers"`
	Kafka     KafkaSettings `mapstructure:"kafka"`
	AMQP      AMQPSettings  `mapstructure:"amqp"`
}

// Settings 服务的全部配置
type Settings struct {
	Host           string
	Port           int
	Mode           origin.Mode
	AllowedOrigins []string

	RateLimit ratelimit.Config
	Server    ServerConfig
	Log       LogSettings
	Session   SessionSettings
	Directory DirectorySettings
	Audit     AuditSettings
	Tracing   tracing.Config
	WS        ws.Config
}

// Defaults 配置默认值，传给 config.WithDefaults
func Defaults() map[string]any {
	rl := ratelimit.DefaultConfig()
	return map[string]any{
		"host":                     "localhost",
		"port":                     5000,
		"mode":                     string(origin.ModeDevelopment),
		"cors.allowed_origins":     "",
		"ratelimit.window_seconds": int(rl.Window / time.Second),
		"ratelimit.user_limit":     rl.PrincipalLimit,
		"ratelimit.ip_limit":       rl.AddressLimit,
		"ratelimit.sweep_interval": rl.SweepInterval.String(),
		"server.shutdown_timeout":  "10s",
		"log.level":                "info",
		"log.format":               string(logger.JSONFormat),
		"session.ttl":              "24h",
		"session.cache.driver":     string(cache.DriverMemory),
		"session.cache.key_prefix": "rtguard:",
		"directory.type":           string(orm.SQLite),
		"directory.dsn":            orm.DefaultConfig().DSN,
		"directory.auto_migrate":   true,
		"audit.log":                true,
	}
}

// NewConfig 按约定创建配置管理器：可选配置文件、RTGUARD_ 环境变量、默认值
func NewConfig(file string, opts ...config.Option) *config.Config {
	base := []config.Option{
		config.WithDefaults(Defaults()),
		config.WithEnvPrefix(EnvPrefix),
		config.WithEnvKeyReplacer(strings.NewReplacer(".", "_")),
	}
	if file != "" {
		base = append(base, config.WithConfigFile(file))
	} else {
		base = append(base,
			config.WithConfigName("rtguard"),
			config.WithConfigPaths(".", "./config"),
			config.WithOptionalFile(true),
		)
	}
	return config.New(append(base, opts...)...)
}

// LoadSettings 解码配置
// 非法值回退为安全默认值并返回告警，不会因为配置问题启动失败
func LoadSettings(c *config.Config) (Settings, []string) {
	var warnings []string
	warn := func(format string, args ...any) {
		warnings = append(warnings, fmt.Sprintf(format, args...))
	}

	s := Settings{
		Host:           c.GetString("host"),
		Port:           c.GetInt("port"),
		Mode:           origin.Mode(c.GetString("mode")),
		AllowedOrigins: allowList(config.Get[any](c, "cors.allowed_origins")),
	}

	// origin 自身的校验在 Resolver 内完成，这里只提前暴露未知模式
	if mode, ok := origin.ParseMode(string(s.Mode)); ok {
		s.Mode = mode
	} else {
		warn("unknown mode %q, using production", s.Mode)
		s.Mode = origin.ModeProduction
	}

	rl := ratelimit.Config{
		Window:         time.Duration(c.GetInt("ratelimit.window_seconds")) * time.Second,
		PrincipalLimit: c.GetInt("ratelimit.user_limit"),
		AddressLimit:   c.GetInt("ratelimit.ip_limit"),
		SweepInterval:  c.GetDuration("ratelimit.sweep_interval"),
	}
	rl, rlWarnings := rl.Sanitize()
	s.RateLimit = rl
	warnings = append(warnings, rlWarnings...)

	decode := func(key string, out any) {
		if err := c.UnmarshalKey(key, out); err != nil {
			warn("decode %s: %v", key, err)
		}
	}

	decode("server", &s.Server)
	if s.Server.Addr == "" {
		s.Server.Addr = fmt.Sprintf(":%d", s.Port)
	}
	if s.Server.ShutdownTimeout <= 0 {
		s.Server.ShutdownTimeout = 10 * time.Second
	}

	decode("log", &s.Log)
	if _, err := logger.ParseLevel(s.Log.Level); err != nil {
		warn("unknown log level %q, using info", s.Log.Level)
		s.Log.Level = "info"
	}
	if !logger.Format(s.Log.Format).IsValid() {
		warn("unknown log format %q, using json", s.Log.Format)
		s.Log.Format = string(logger.JSONFormat)
	}

	s.Session.Cache = *cache.DefaultConfig()
	decode("session", &s.Session)
	if s.Session.TTL <= 0 {
		s.Session.TTL = 24 * time.Hour
	}

	s.Directory.Config = *orm.DefaultConfig()
	decode("directory", &s.Directory)

	decode("audit", &s.Audit)
	if len(s.Audit.Kafka.Brokers) > 0 && s.Audit.Kafka.Topic == "" {
		s.Audit.Kafka.Topic = "rtguard.security"
	}

	s.Tracing = *tracing.DefaultConfig()
	decode("tracing", &s.Tracing)
	if err := s.Tracing.Validate(); err != nil {
		warn("%v, tracing disabled", err)
		s.Tracing = *tracing.DefaultConfig()
	}

	s.WS = ws.DefaultConfig()
	decode("ws", &s.WS)
	if err := s.WS.Validate(); err != nil {
		warn("%v, using websocket defaults", err)
		s.WS = ws.DefaultConfig()
	}

	return s, warnings
}

// allowList 同时支持逗号分隔的字符串和列表
func allowList(v any) []string {
	switch raw := v.(type) {
	case string:
		return origin.ParseAllowList(raw)
	case []string:
		return origin.ParseAllowList(strings.Join(raw, ","))
	case []any:
		items := make([]string, 0, len(raw))
		for _, item := range raw {
			items = append(items, fmt.Sprint(item))
		}
		return origin.ParseAllowList(strings.Join(items, ","))
	}
	return nil
}

// originOptions 转为 Resolver 的输入
func (s Settings) originOptions() origin.Options {
	return origin.Options{
		Host:      s.Host,
		Port:      s.Port,
		Mode:      s.Mode,
		AllowList: s.AllowedOrigins,
	}
}

// loggerConfig 转为 logger.Config
func (l LogSettings) loggerConfig() *logger.Config {
	level, _ := logger.ParseLevel(l.Level)
	cfg := &logger.Config{
		Level:        level,
		Format:       logger.Format(l.Format),
		Console:      l.Console,
		EnableCaller: true,
	}
	switch {
	case l.File == "":
	case l.MaxSize > 0:
		cfg.Rotate = &logger.RotateConfig{
			Filename:   l.File,
			MaxSize:    l.MaxSize,
			MaxAge:     l.MaxAge,
			MaxBackups: l.MaxBackups,
			Compress:   l.Compress,
		}
	default:
		cfg.File = l.File
	}
	return cfg
}

// NewLogger 按配置创建日志
func (s Settings) NewLogger() (logger.Logger, error) {
	return logger.New(s.Log.loggerConfig())
}
