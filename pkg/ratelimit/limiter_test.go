package ratelimit

import (
	"context"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestLimiter(cfg Config) (*Limiter, *fakeClock) {
	clk := newFakeClock()
	return New(cfg, WithClock(clk.Now)), clk
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 300*time.Second, cfg.Window)
	assert.Equal(t, 10, cfg.PrincipalLimit)
	assert.Equal(t, 50, cfg.AddressLimit)
}

func TestSanitize(t *testing.T) {
	cfg, warnings := Config{Window: -time.Second, PrincipalLimit: -1, AddressLimit: 3}.Sanitize()
	assert.Len(t, warnings, 2)
	assert.Equal(t, 300*time.Second, cfg.Window)
	assert.Equal(t, 10, cfg.PrincipalLimit)
	assert.Equal(t, 3, cfg.AddressLimit)
	assert.Equal(t, 32, cfg.Shards)

	cfg, warnings = Config{}.Sanitize()
	assert.Len(t, warnings, 3)
	assert.Equal(t, DefaultConfig(), cfg)

	cfg, warnings = Config{Window: time.Minute, PrincipalLimit: 0, AddressLimit: 0}.Sanitize()
	require.Len(t, warnings, 2)
	assert.Contains(t, warnings[0], "non-positive principal limit 0")
	assert.Contains(t, warnings[1], "non-positive address limit 0")
	assert.Equal(t, time.Minute, cfg.Window)

	_, warnings = DefaultConfig().Sanitize()
	assert.Empty(t, warnings)
}

func TestCheckAndRecordCeiling(t *testing.T) {
	l, _ := newTestLimiter(Config{PrincipalLimit: 3, AddressLimit: 5})

	for i := 0; i < 3; i++ {
		assert.True(t, l.CheckAndRecord("42", KeyspacePrincipal), "attempt %d", i+1)
	}
	assert.False(t, l.CheckAndRecord("42", KeyspacePrincipal))
	assert.False(t, l.CheckAndRecord("42", KeyspacePrincipal))
	assert.Equal(t, 3, l.Count("42", KeyspacePrincipal))

	assert.True(t, l.CheckAndRecord("43", KeyspacePrincipal))
	assert.True(t, l.CheckAndRecord("42", KeyspaceAddress))
	assert.Equal(t, int64(2), l.Stats().Rejected)
}

func TestDefaultAddressCeiling(t *testing.T) {
	l, _ := newTestLimiter(DefaultConfig())
	for i := 0; i < 50; i++ {
		require.True(t, l.CheckAndRecord("203.0.113.7", KeyspaceAddress))
	}
	assert.False(t, l.CheckAndRecord("203.0.113.7", KeyspaceAddress))
}

func TestSlidingWindow(t *testing.T) {
	l, clk := newTestLimiter(Config{Window: time.Minute, PrincipalLimit: 2})

	assert.True(t, l.CheckAndRecord("u", KeyspacePrincipal))
	clk.Advance(30 * time.Second)
	assert.True(t, l.CheckAndRecord("u", KeyspacePrincipal))
	assert.False(t, l.CheckAndRecord("u", KeyspacePrincipal))

	// 第一条记录刚好到期
	clk.Advance(30 * time.Second)
	assert.True(t, l.CheckAndRecord("u", KeyspacePrincipal))
	assert.False(t, l.CheckAndRecord("u", KeyspacePrincipal))

	clk.Advance(31 * time.Second)
	assert.True(t, l.CheckAndRecord("u", KeyspacePrincipal))
}

func TestRejectedAttemptsDoNotExtendWindow(t *testing.T) {
	l, clk := newTestLimiter(Config{Window: time.Minute, PrincipalLimit: 1})

	assert.True(t, l.CheckAndRecord("u", KeyspacePrincipal))
	for i := 0; i < 5; i++ {
		clk.Advance(10 * time.Second)
		assert.False(t, l.CheckAndRecord("u", KeyspacePrincipal))
	}
	clk.Advance(11 * time.Second)
	assert.True(t, l.CheckAndRecord("u", KeyspacePrincipal))
}

func TestReset(t *testing.T) {
	l, _ := newTestLimiter(Config{PrincipalLimit: 1})
	assert.True(t, l.CheckAndRecord("u", KeyspacePrincipal))
	assert.False(t, l.CheckAndRecord("u", KeyspacePrincipal))

	l.Reset("u", KeyspacePrincipal)
	assert.True(t, l.CheckAndRecord("u", KeyspacePrincipal))
}

func TestFailOpen(t *testing.T) {
	l, _ := newTestLimiter(Config{PrincipalLimit: 1})

	assert.True(t, l.CheckAndRecord("u", Keyspace(99)))
	assert.True(t, l.CheckAndRecord("", KeyspaceAddress))
	assert.Equal(t, int64(2), l.Stats().FailOpen)
}

func TestFailOpenOnPanic(t *testing.T) {
	l := New(Config{PrincipalLimit: 1}, WithClock(func() time.Time { panic("clock broken") }))
	assert.True(t, l.CheckAndRecord("u", KeyspacePrincipal))
	assert.True(t, l.CheckAndRecord("u", KeyspacePrincipal))
	assert.Equal(t, int64(2), l.Stats().FailOpen)
}

func TestSweep(t *testing.T) {
	l, clk := newTestLimiter(Config{Window: time.Minute})

	l.CheckAndRecord("old", KeyspacePrincipal)
	l.CheckAndRecord("old-ip", KeyspaceAddress)
	clk.Advance(45 * time.Second)
	l.CheckAndRecord("fresh", KeyspacePrincipal)
	assert.Equal(t, 3, l.Stats().Keys)

	clk.Advance(30 * time.Second)
	assert.Equal(t, 2, l.Sweep(0))
	assert.Equal(t, 1, l.Stats().Keys)
	assert.Equal(t, 1, l.Count("fresh", KeyspacePrincipal))

	assert.Equal(t, 1, l.Sweep(time.Second))
	assert.Equal(t, 0, l.Stats().Keys)
}

func TestReconfigure(t *testing.T) {
	l, _ := newTestLimiter(Config{PrincipalLimit: 2, Shards: 4})
	l.CheckAndRecord("u", KeyspacePrincipal)
	l.CheckAndRecord("u", KeyspacePrincipal)
	assert.False(t, l.CheckAndRecord("u", KeyspacePrincipal))

	warnings := l.Reconfigure(Config{Window: time.Minute, PrincipalLimit: 5, AddressLimit: 5, Shards: 64})
	assert.Empty(t, warnings)
	assert.Equal(t, 4, l.Config().Shards)
	assert.True(t, l.CheckAndRecord("u", KeyspacePrincipal))
}

func TestRunStopsOnCancel(t *testing.T) {
	l, clk := newTestLimiter(Config{Window: time.Minute, SweepInterval: 5 * time.Millisecond})
	l.CheckAndRecord("u", KeyspacePrincipal)
	clk.Advance(2 * time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		l.Run(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool { return l.Stats().Keys == 0 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestConcurrentNoLostUpdates(t *testing.T) {
	l, _ := newTestLimiter(Config{PrincipalLimit: 100, AddressLimit: 1000})

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				ok := l.CheckAndRecord("shared", KeyspacePrincipal)
				l.CheckAndRecord(strconv.Itoa(n), KeyspaceAddress)
				if ok {
					mu.Lock()
					allowed++
					mu.Unlock()
				}
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 100, allowed)
	assert.Equal(t, 100, l.Count("shared", KeyspacePrincipal))
	assert.Equal(t, 20, l.Count("7", KeyspaceAddress))
}
