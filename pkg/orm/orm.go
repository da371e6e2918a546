package orm

import (
	"fmt"

	"github.com/tokmz/rtguard/pkg/logger"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/driver/sqlserver"
	"gorm.io/gorm"
	"gorm.io/gorm/schema"
	"gorm.io/plugin/dbresolver"
)

// Open 创建 GORM 实例
func Open(cfg *Config, log logger.Logger) (*gorm.DB, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.DSN == "" {
		return nil, fmt.Errorf("orm: dsn is required")
	}
	if log == nil {
		log = logger.NewNop()
	}

	dialector, err := dialectorFor(cfg.Type, cfg.DSN)
	if err != nil {
		return nil, err
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		PrepareStmt: cfg.PrepareStmt,
		Logger:      newLogger(log, cfg.SlowThreshold),
		NamingStrategy: schema.NamingStrategy{
			TablePrefix: cfg.TablePrefix,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("orm: connect %s: %w", cfg.Type, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("orm: get sql.DB: %w", err)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	if cfg.Replicas != nil && len(cfg.Replicas.DSNs) > 0 {
		if err := useReplicas(db, cfg); err != nil {
			return nil, fmt.Errorf("orm: setup replicas: %w", err)
		}
	}

	if cfg.Tracing {
		if err := db.Use(NewTracingPlugin()); err != nil {
			return nil, fmt.Errorf("orm: register tracing: %w", err)
		}
	}
	return db, nil
}

// Close 关闭底层连接池
func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func dialectorFor(dbType DBType, dsn string) (gorm.Dialector, error) {
	switch dbType {
	case MySQL:
		return mysql.Open(dsn), nil
	case PostgreSQL:
		return postgres.Open(dsn), nil
	case SQLite, "":
		return sqlite.Open(dsn), nil
	case SQLServer:
		return sqlserver.Open(dsn), nil
	}
	return nil, fmt.Errorf("orm: unsupported database type %q", dbType)
}

// useReplicas 注册 dbresolver，查询走从库，写入走主库
func useReplicas(db *gorm.DB, cfg *Config) error {
	replicas := make([]gorm.Dialector, 0, len(cfg.Replicas.DSNs))
	for _, dsn := range cfg.Replicas.DSNs {
		d, err := dialectorFor(cfg.Type, dsn)
		if err != nil {
			return err
		}
		replicas = append(replicas, d)
	}

	var policy dbresolver.Policy = dbresolver.RandomPolicy{}
	if cfg.Replicas.Policy == "round_robin" {
		policy = dbresolver.RoundRobinPolicy()
	}

	return db.Use(dbresolver.Register(dbresolver.Config{
		Replicas: replicas,
		Policy:   policy,
	}))
}
