package orm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	gormlogger "gorm.io/gorm/logger"

	"github.com/tokmz/rtguard/pkg/logger"
)

type widget struct {
	ID   uint
	Name string
}

func TestOpenSQLite(t *testing.T) {
	db, err := Open(&Config{Type: SQLite, DSN: "file::memory:", MaxOpenConns: 1}, logger.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = Close(db) })

	require.NoError(t, db.AutoMigrate(&widget{}))
	require.NoError(t, db.Create(&widget{Name: "a"}).Error)

	var got widget
	require.NoError(t, db.First(&got).Error)
	assert.Equal(t, "a", got.Name)
}

func TestOpenErrors(t *testing.T) {
	_, err := Open(&Config{Type: SQLite}, nil)
	assert.Error(t, err)

	_, err = Open(&Config{Type: "oracle", DSN: "x"}, nil)
	assert.ErrorContains(t, err, "unsupported database type")
}

func TestTracingPlugin(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	db, err := Open(&Config{Type: SQLite, DSN: "file::memory:", MaxOpenConns: 1, Tracing: true}, logger.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = Close(db) })
	require.NoError(t, db.AutoMigrate(&widget{}))

	ctx := context.Background()
	require.NoError(t, db.WithContext(ctx).Create(&widget{Name: "b"}).Error)

	var names []string
	for _, s := range recorder.Ended() {
		names = append(names, s.Name())
	}
	assert.Contains(t, names, "gorm.Create")
}

func TestZapLoggerLogMode(t *testing.T) {
	l := newLogger(logger.NewNop(), 0)
	silent := l.LogMode(gormlogger.Silent)
	assert.NotSame(t, l, silent)
	assert.Equal(t, gormlogger.Silent, silent.(*zapLogger).level)
	assert.Equal(t, gormlogger.Warn, l.(*zapLogger).level)
}
