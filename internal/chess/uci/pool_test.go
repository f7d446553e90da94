package uci

import (
	"context"
	"errors"
	"testing"
	"time"
)

func newTestPool(t *testing.T, e *fakeEngine, capacity int) *Pool {
	t.Helper()
	p, err := NewPool(PoolConfig{Dialer: e.dialer(), PerLevelCapacity: capacity})
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func TestPoolReusesReleasedBridge(t *testing.T) {
	e := newFakeEngine(t, nil)
	p := newTestPool(t, e, 2)
	ctx := context.Background()

	b1, err := p.Acquire(ctx, "beginner")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if d := b1.Difficulty(); d.Level != Beginner {
		t.Fatalf("difficulty = %+v", d)
	}
	if e.sent("setoption name Skill Level value 1") == 0 {
		t.Fatalf("beginner skill not configured at handshake")
	}
	p.Release(b1, nil)

	b2, err := p.Acquire(ctx, "beginner")
	if err != nil {
		t.Fatalf("Acquire again: %v", err)
	}
	if b2 != b1 {
		t.Fatalf("released bridge not reused")
	}
	if n := e.dialCount(); n != 1 {
		t.Fatalf("dials = %d, want 1", n)
	}
	p.Release(b2, nil)
}

func TestPoolSeparatesLevels(t *testing.T) {
	e := newFakeEngine(t, nil)
	p := newTestPool(t, e, 1)
	ctx := context.Background()

	a, err := p.Acquire(ctx, "beginner")
	if err != nil {
		t.Fatalf("Acquire beginner: %v", err)
	}
	m, err := p.Acquire(ctx, "maximum")
	if err != nil {
		t.Fatalf("Acquire maximum: %v", err)
	}
	if a == m {
		t.Fatalf("levels share a bridge")
	}
	p.Release(a, nil)
	p.Release(m, nil)
}

func TestPoolWaitsAtCapacity(t *testing.T) {
	e := newFakeEngine(t, nil)
	p := newTestPool(t, e, 1)

	b, err := p.Acquire(context.Background(), "advanced")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := p.Acquire(ctx, "advanced"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Acquire at capacity = %v", err)
	}

	got := make(chan *Bridge, 1)
	go func() {
		next, err := p.Acquire(context.Background(), "advanced")
		if err == nil {
			got <- next
		}
	}()
	time.Sleep(20 * time.Millisecond)
	p.Release(b, nil)
	select {
	case next := <-got:
		if next != b {
			t.Fatalf("waiter got a different bridge")
		}
		p.Release(next, nil)
	case <-time.After(2 * time.Second):
		t.Fatalf("waiter never acquired the released bridge")
	}
}

func TestPoolDiscardsBrokenBridge(t *testing.T) {
	e := newFakeEngine(t, nil)
	p := newTestPool(t, e, 1)
	ctx := context.Background()

	b, err := p.Acquire(ctx, "intermediate")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	p.Release(b, errors.New("bad answer"))
	if got := b.State(); got != StateTerminated {
		t.Fatalf("broken bridge state = %s", got)
	}

	b2, err := p.Acquire(ctx, "intermediate")
	if err != nil {
		t.Fatalf("Acquire after discard: %v", err)
	}
	if b2 == b {
		t.Fatalf("broken bridge handed out again")
	}
	p.Release(b2, nil)
}

func TestPoolWaiterWakesWhenBridgeDiscarded(t *testing.T) {
	e := newFakeEngine(t, nil)
	p := newTestPool(t, e, 1)

	b, err := p.Acquire(context.Background(), "beginner")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	type result struct {
		b   *Bridge
		err error
	}
	got := make(chan result, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		next, err := p.Acquire(ctx, "beginner")
		got <- result{next, err}
	}()
	time.Sleep(20 * time.Millisecond)
	p.Release(b, errors.New("engine crashed"))

	select {
	case r := <-got:
		if r.err != nil {
			t.Fatalf("waiter after discard: %v", r.err)
		}
		if r.b == b {
			t.Fatalf("waiter got the discarded bridge")
		}
		p.Release(r.b, nil)
	case <-time.After(time.Second):
		t.Fatalf("waiter still blocked after the slot was freed")
	}
	if n := e.dialCount(); n != 2 {
		t.Fatalf("dials = %d, want 2", n)
	}
}

func TestPoolClose(t *testing.T) {
	e := newFakeEngine(t, nil)
	p := newTestPool(t, e, 1)
	b, err := p.Acquire(context.Background(), "")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if got := b.State(); got != StateTerminated {
		t.Fatalf("leased bridge after Close = %s", got)
	}
	if _, err := p.Acquire(context.Background(), ""); !errors.Is(err, ErrPoolClosed) {
		t.Fatalf("Acquire after Close = %v", err)
	}
}
