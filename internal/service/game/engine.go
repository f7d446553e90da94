package game

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/park285/cheese-board/internal/chess/rules"
	"github.com/park285/cheese-board/internal/chess/uci"
)

// EnginePool leases initialized bridges per difficulty. *uci.Pool satisfies it.
type EnginePool interface {
	Acquire(ctx context.Context, level string) (*uci.Bridge, error)
	Release(b *uci.Bridge, err error)
}

// pooledEngine borrows a bridge for each request, so sessions share a bounded
// set of engine processes.
type pooledEngine struct {
	pool EnginePool

	mu    sync.Mutex
	level string
}

func newPooledEngine(pool EnginePool, level string) *pooledEngine {
	return &pooledEngine{pool: pool, level: level}
}

func (e *pooledEngine) Initialize(ctx context.Context) error {
	if e.pool == nil {
		return uci.ErrEngineUnavailable
	}
	return nil
}

func (e *pooledEngine) ConfigureDifficulty(level string) error {
	if _, err := uci.LookupDifficulty(level); err != nil {
		return err
	}
	e.mu.Lock()
	e.level = level
	e.mu.Unlock()
	return nil
}

func (e *pooledEngine) currentLevel() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.level
}

func (e *pooledEngine) RequestBestMove(ctx context.Context, pos rules.Position, budget time.Duration) (rules.Move, error) {
	var mv rules.Move
	err := e.with(ctx, func(b *uci.Bridge) error {
		var err error
		mv, err = b.RequestBestMove(ctx, pos, budget)
		return err
	})
	return mv, err
}

func (e *pooledEngine) RequestEvaluation(ctx context.Context, pos rules.Position) (uci.Evaluation, error) {
	var ev uci.Evaluation
	err := e.with(ctx, func(b *uci.Bridge) error {
		var err error
		ev, err = b.RequestEvaluation(ctx, pos)
		return err
	})
	return ev, err
}

func (e *pooledEngine) with(ctx context.Context, fn func(*uci.Bridge) error) error {
	if e.pool == nil {
		return uci.ErrEngineUnavailable
	}
	b, err := e.pool.Acquire(ctx, e.currentLevel())
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		if errors.Is(err, uci.ErrEngineUnavailable) {
			return err
		}
		return errors.Join(uci.ErrEngineUnavailable, err)
	}
	err = fn(b)
	e.pool.Release(b, brokenBridge(err))
	return err
}

// brokenBridge keeps only the errors after which a bridge must not be reused.
func brokenBridge(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, uci.ErrEngineTerminated), errors.Is(err, uci.ErrEngineUnavailable):
		return err
	default:
		return nil
	}
}
