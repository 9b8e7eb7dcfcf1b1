package pool

import (
	"context"
	"testing"
	"time"

	"github.com/haasonsaas/nexus/internal/clock"
	"github.com/haasonsaas/nexus/pkg/models"
)

type fakeConn struct {
	closed bool
}

func (c *fakeConn) Close() error {
	c.closed = true
	return nil
}

func TestPoolAcquireCreatesUpToPoolSize(t *testing.T) {
	clk := clock.NewFake(time.Unix(0, 0))
	created := 0
	p := newTestPool(Config{PoolSize: 2, MaxIdleTime: time.Minute, Timeout: time.Second}, &created, clk)

	conn1, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatalf("first acquire failed: %v", err)
	}
	conn2, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatalf("second acquire failed: %v", err)
	}
	if created != 2 {
		t.Fatalf("expected two distinct connections to be created, got created=%d", created)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := p.Acquire(ctx); err == nil {
		t.Fatalf("expected a third acquire to block past PoolSize and time out")
	}

	p.Release(conn1)
	p.Release(conn2)
}

func TestPoolAcquireReleaseReuse(t *testing.T) {
	clk := clock.NewFake(time.Unix(0, 0))
	created := 0
	p := newTestPool(Config{PoolSize: 1, MaxIdleTime: time.Minute, Timeout: time.Second}, &created, clk)

	conn, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatalf("acquire failed: %v", err)
	}
	p.Release(conn)

	conn2, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatalf("second acquire failed: %v", err)
	}
	if created != 1 {
		t.Fatalf("expected connection to be reused, not recreated: created=%d", created)
	}
	p.Release(conn2)

	stats := p.Stats()
	if stats.Reused != 1 {
		t.Fatalf("expected one reuse recorded, got %+v", stats)
	}
}

func TestPoolAcquireExhaustedTimesOut(t *testing.T) {
	clk := clock.NewFake(time.Unix(0, 0))
	created := 0
	p := newTestPool(Config{PoolSize: 1, MaxIdleTime: time.Minute, Timeout: 10 * time.Millisecond}, &created, clk)

	conn, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatalf("first acquire failed: %v", err)
	}
	_ = conn

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = p.Acquire(ctx)
	if err == nil {
		t.Fatalf("expected second acquire to fail while the pool is exhausted")
	}
}

func TestPoolStaleEntryIsClosedAndRecreated(t *testing.T) {
	clk := clock.NewFake(time.Unix(0, 0))
	created := 0
	p := newTestPool(Config{PoolSize: 1, MaxIdleTime: time.Second, Timeout: time.Second}, &created, clk)

	conn, _ := p.Acquire(context.Background())
	p.Release(conn)

	clk.Advance(2 * time.Second)

	_, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if created != 2 {
		t.Fatalf("expected stale connection to be discarded and a new one created, got created=%d", created)
	}
}

func TestPoolCloseAllClosesIdleConnections(t *testing.T) {
	clk := clock.NewFake(time.Unix(0, 0))
	created := 0
	p := newTestPool(Config{PoolSize: 2, MaxIdleTime: time.Minute, Timeout: time.Second}, &created, clk)

	conn, _ := p.Acquire(context.Background())
	fc := conn.(*fakeConn)
	p.Release(conn)

	p.CloseAll()
	if !fc.closed {
		t.Fatalf("expected idle connection to be closed by CloseAll")
	}

	stats := p.Stats()
	if stats.Closed == 0 {
		t.Fatalf("expected Stats().Closed to reflect the closed connection")
	}
}

func newTestPool(cfg Config, created *int, clk clock.Clock) *Pool {
	factory := func(ctx context.Context) (models.Pooled, error) {
		*created++
		return &fakeConn{}, nil
	}
	return New(cfg, factory, clk)
}
