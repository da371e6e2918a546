package audit

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tokmz/rtguard/pkg/logger"
	"go.uber.org/zap"
)

// DispatcherConfig 分发器配置
type DispatcherConfig struct {
	QueueSize   int           // 队列长度（默认 1024）
	Workers     int           // worker 数量（默认 4）
	EmitTimeout time.Duration // 单次输出超时（默认 5s）
}

func (c *DispatcherConfig) setDefaults() {
	if c.QueueSize <= 0 {
		c.QueueSize = 1024
	}
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.EmitTimeout <= 0 {
		c.EmitTimeout = 5 * time.Second
	}
}

// Dispatcher 异步把事件写到所有 sink
// 队列满时丢弃并计数，认证路径永远不会因审计阻塞
type Dispatcher struct {
	sinks   []Sink
	cfg     DispatcherConfig
	log     logger.Logger
	queue   chan Event
	stopCh  chan struct{}
	wg      sync.WaitGroup
	closed  atomic.Bool
	dropped atomic.Int64
	failed  atomic.Int64
}

// NewDispatcher 创建并启动分发器
func NewDispatcher(cfg DispatcherConfig, log logger.Logger, sinks ...Sink) *Dispatcher {
	cfg.setDefaults()
	if log == nil {
		log = logger.NewNop()
	}
	d := &Dispatcher{
		sinks:  sinks,
		cfg:    cfg,
		log:    log.Named("audit"),
		queue:  make(chan Event, cfg.QueueSize),
		stopCh: make(chan struct{}),
	}
	for i := 0; i < cfg.Workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}
	return d
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for {
		select {
		case e := <-d.queue:
			d.emit(e)
		case <-d.stopCh:
			return
		}
	}
}

func (d *Dispatcher) emit(e Event) {
	for _, sink := range d.sinks {
		ctx, cancel := context.WithTimeout(context.Background(), d.cfg.EmitTimeout)
		err := sink.Emit(ctx, e)
		cancel()
		if err != nil {
			d.failed.Add(1)
			d.log.Error("audit sink emit failed",
				zap.String("event_id", e.ID),
				zap.String("outcome", e.Outcome),
				zap.Error(err),
			)
		}
	}
}

// Publish 非阻塞入队
func (d *Dispatcher) Publish(e Event) {
	if d.closed.Load() {
		d.dropped.Add(1)
		return
	}
	select {
	case d.queue <- e:
	default:
		d.dropped.Add(1)
		d.log.Warn("audit queue full, event dropped",
			zap.String("event_id", e.ID),
			zap.String("outcome", e.Outcome),
		)
	}
}

// Close 停止 worker，把队列中剩余事件同步写完后关闭 sink
func (d *Dispatcher) Close() error {
	if !d.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(d.stopCh)
	d.wg.Wait()

drain:
	for {
		select {
		case e := <-d.queue:
			d.emit(e)
		default:
			break drain
		}
	}

	var firstErr error
	for _, sink := range d.sinks {
		if c, ok := sink.(io.Closer); ok {
			if err := c.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// Dropped 丢弃的事件数
func (d *Dispatcher) Dropped() int64 {
	return d.dropped.Load()
}

// Failed 输出失败次数
func (d *Dispatcher) Failed() int64 {
	return d.failed.Load()
}
