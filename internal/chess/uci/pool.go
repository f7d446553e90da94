package uci

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
)

type PoolConfig struct {
	Dialer Dialer
	Bridge Config
	// idle and busy bridges per difficulty
	PerLevelCapacity int
}

// Pool hands out initialized bridges keyed by difficulty level.
type Pool struct {
	dial     Dialer
	base     Config
	capacity int

	mu      sync.Mutex
	closed  bool
	buckets map[Level]*bridgeBucket
	leased  map[*Bridge]*bridgeBucket
}

var (
	errBucketAtCapacity = errors.New("bridge bucket at capacity")
	ErrPoolClosed       = errors.New("engine pool closed")
)

func NewPool(cfg PoolConfig) (*Pool, error) {
	if cfg.Dialer == nil {
		return nil, fmt.Errorf("pool requires a dialer")
	}
	capacity := cfg.PerLevelCapacity
	if capacity <= 0 {
		capacity = defaultPerLevelCapacity()
	}
	return &Pool{
		dial:     cfg.Dialer,
		base:     cfg.Bridge,
		capacity: capacity,
		buckets:  make(map[Level]*bridgeBucket),
		leased:   make(map[*Bridge]*bridgeBucket),
	}, nil
}

// Acquire returns a ready bridge configured for level, waiting for one to be
// released when the level is at capacity.
func (p *Pool) Acquire(ctx context.Context, level string) (*Bridge, error) {
	diff, err := LookupDifficulty(level)
	if err != nil {
		return nil, err
	}
	bucket, err := p.getBucket(diff)
	if err != nil {
		return nil, err
	}

	for {
		select {
		case b := <-bucket.idle:
			if p.revive(ctx, b, bucket) {
				return b, nil
			}
			continue
		default:
		}

		b, err := bucket.create()
		if err == nil {
			if err := b.Initialize(ctx); err != nil {
				bucket.discard(b)
				return nil, err
			}
			p.track(b, bucket)
			return b, nil
		}
		if !errors.Is(err, errBucketAtCapacity) {
			return nil, err
		}

		select {
		case b := <-bucket.idle:
			if p.revive(ctx, b, bucket) {
				return b, nil
			}
		case <-bucket.freed:
			// a slot was given back; retry create
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (p *Pool) revive(ctx context.Context, b *Bridge, bucket *bridgeBucket) bool {
	if b == nil {
		return false
	}
	if err := b.Initialize(ctx); err != nil {
		bucket.discard(b)
		return false
	}
	p.track(b, bucket)
	return true
}

// Release returns a bridge. A non-nil err marks it broken and disposes it.
func (p *Pool) Release(b *Bridge, err error) {
	if b == nil {
		return
	}
	b.Stop()

	p.mu.Lock()
	bucket, ok := p.leased[b]
	if ok {
		delete(p.leased, b)
	}
	closed := p.closed
	p.mu.Unlock()

	if !ok {
		b.Dispose()
		return
	}
	if err != nil || closed || b.State() == StateTerminated {
		bucket.discard(b)
		return
	}
	if !bucket.put(b) {
		bucket.discard(b)
	}
}

func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	buckets := make([]*bridgeBucket, 0, len(p.buckets))
	for _, bucket := range p.buckets {
		buckets = append(buckets, bucket)
	}
	leased := make([]*Bridge, 0, len(p.leased))
	for b := range p.leased {
		leased = append(leased, b)
	}
	p.leased = make(map[*Bridge]*bridgeBucket)
	p.mu.Unlock()

	for _, b := range leased {
		b.Dispose()
	}
	for _, bucket := range buckets {
		bucket.drain()
	}
	return nil
}

func (p *Pool) track(b *Bridge, bucket *bridgeBucket) {
	p.mu.Lock()
	p.leased[b] = bucket
	p.mu.Unlock()
}

func (p *Pool) getBucket(diff Difficulty) (*bridgeBucket, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, ErrPoolClosed
	}
	bucket, ok := p.buckets[diff.Level]
	if !ok {
		cfg := p.base
		cfg.Difficulty = string(diff.Level)
		bucket = newBridgeBucket(p.dial, cfg, p.capacity)
		p.buckets[diff.Level] = bucket
	}
	return bucket, nil
}

type bridgeBucket struct {
	dial     Dialer
	cfg      Config
	capacity int

	mu    sync.Mutex
	total int
	idle  chan *Bridge
	freed chan struct{}
}

func newBridgeBucket(dial Dialer, cfg Config, capacity int) *bridgeBucket {
	if capacity <= 0 {
		capacity = 1
	}
	return &bridgeBucket{
		dial:     dial,
		cfg:      cfg,
		capacity: capacity,
		idle:     make(chan *Bridge, capacity),
		freed:    make(chan struct{}, capacity),
	}
}

func (b *bridgeBucket) create() (*Bridge, error) {
	b.mu.Lock()
	if b.total >= b.capacity {
		b.mu.Unlock()
		return nil, errBucketAtCapacity
	}
	b.total++
	b.mu.Unlock()

	bridge, err := NewBridge(b.dial, b.cfg)
	if err != nil {
		b.decrement()
		return nil, err
	}
	return bridge, nil
}

func (b *bridgeBucket) put(bridge *Bridge) bool {
	select {
	case b.idle <- bridge:
		return true
	default:
		return false
	}
}

func (b *bridgeBucket) discard(bridge *Bridge) {
	if bridge != nil {
		bridge.Dispose()
	}
	b.decrement()
}

func (b *bridgeBucket) drain() {
	for {
		select {
		case bridge := <-b.idle:
			b.discard(bridge)
		default:
			return
		}
	}
}

func (b *bridgeBucket) decrement() {
	b.mu.Lock()
	if b.total > 0 {
		b.total--
	}
	b.mu.Unlock()

	select {
	case b.freed <- struct{}{}:
	default:
	}
}

func defaultPerLevelCapacity() int {
	cpu := runtime.NumCPU()
	if cpu < 2 {
		return 2
	}
	if cpu > 4 {
		return 4
	}
	return cpu
}
