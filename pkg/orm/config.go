package orm

import "time"

// DBType 数据库类型
type DBType string

const (
	MySQL      DBType = "mysql"
	PostgreSQL DBType = "postgres"
	SQLite     DBType = "sqlite"
	SQLServer  DBType = "sqlserver"
)

// Config 数据库配置
type Config struct {
	Type DBType `mapstructure:"type"`
	DSN  string `mapstructure:"dsn"`

	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`

	PrepareStmt   bool          `mapstructure:"prepare_stmt"`
	SlowThreshold time.Duration `mapstructure:"slow_threshold"` // 慢查询阈值
	TablePrefix   string        `mapstructure:"table_prefix"`
	Tracing       bool          `mapstructure:"tracing"` // 注册 otel 插件

	// Replicas 只读从库，用户目录查询走从库
	Replicas *ReplicaConfig `mapstructure:"replicas"`
}

// ReplicaConfig 读写分离配置
type ReplicaConfig struct {
	DSNs   []string `mapstructure:"dsns"`
	Policy string   `mapstructure:"policy"` // random, round_robin
}

// DefaultConfig 默认配置
func DefaultConfig() *Config {
	return &Config{
		Type:            SQLite,
		DSN:             "file:rtguard.db?cache=shared",
		MaxIdleConns:    10,
		MaxOpenConns:    50,
		ConnMaxLifetime: time.Hour,
		ConnMaxIdleTime: 10 * time.Minute,
		PrepareStmt:     true,
		SlowThreshold:   200 * time.Millisecond,
	}
}
