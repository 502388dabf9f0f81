package pool

import (
	"context"
	"sync"
	"time"

	"idxsync/internal/errs"
	"idxsync/internal/logging"
	"idxsync/internal/metrics"
)

const (
	DefaultAttempts = 10
	DefaultInterval = 7 * time.Second
)

var log = logging.Log("pool")

type Options struct {
	Attempts int
	Interval time.Duration
}

func (o Options) normalize() Options {
	if o.Attempts <= 0 {
		o.Attempts = DefaultAttempts
	}
	if o.Interval < 0 {
		o.Interval = 0
	}
	return o
}

// Pool is a fixed set of reusable handles. Handles are created by the caller
// and live as long as the pool; a checked out handle belongs to one caller
// until its Guard is released.
type Pool[T any] struct {
	mu   sync.Mutex
	idle []T
	size int
	opts Options
}

func New[T any](items []T, opts Options) *Pool[T] {
	idle := make([]T, len(items))
	copy(idle, items)
	return &Pool[T]{idle: idle, size: len(items), opts: opts.normalize()}
}

func (p *Pool[T]) Size() int {
	if p == nil {
		return 0
	}
	return p.size
}

// Len is the number of idle handles.
func (p *Pool[T]) Len() int {
	if p == nil {
		return 0
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.idle)
}

func (p *Pool[T]) tryPop() (T, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	var zero T
	if len(p.idle) == 0 {
		return zero, false
	}
	v := p.idle[0]
	p.idle[0] = zero
	p.idle = p.idle[1:]
	return v, true
}

func (p *Pool[T]) push(v T) {
	p.mu.Lock()
	p.idle = append(p.idle, v)
	p.mu.Unlock()
}

// Checkout takes an idle handle, waiting Interval between attempts when none
// is available. It fails with a connection_exhausted error after Attempts
// tries, or with ctx's error if ctx ends first.
func (p *Pool[T]) Checkout(ctx context.Context) (*Guard[T], error) {
	if p == nil {
		return nil, errs.Configuration("checkout", "pool is nil")
	}
	for attempt := 1; ; attempt++ {
		if v, ok := p.tryPop(); ok {
			metrics.PoolCheckouts.WithLabelValues("ok").Inc()
			return &Guard[T]{pool: p, value: v}, nil
		}
		if attempt >= p.opts.Attempts {
			break
		}
		log.WithField("attempt", attempt).Debug("no idle connection, waiting")
		t := time.NewTimer(p.opts.Interval)
		select {
		case <-ctx.Done():
			t.Stop()
			metrics.PoolCheckouts.WithLabelValues("canceled").Inc()
			return nil, ctx.Err()
		case <-t.C:
		}
	}
	metrics.PoolCheckouts.WithLabelValues("exhausted").Inc()
	return nil, errs.ConnectionExhausted("checkout", p.opts.Attempts)
}

// Guard is a checked out handle. Release returns it to the pool; calling it
// more than once is a no-op.
type Guard[T any] struct {
	pool  *Pool[T]
	value T
	once  sync.Once
}

func (g *Guard[T]) Value() T {
	return g.value
}

func (g *Guard[T]) Release() {
	if g == nil || g.pool == nil {
		return
	}
	g.once.Do(func() {
		g.pool.push(g.value)
	})
}

// Do runs fn with a checked out handle and releases it afterwards, including
// when fn panics.
func Do[T any](ctx context.Context, p *Pool[T], fn func(T) error) error {
	g, err := p.Checkout(ctx)
	if err != nil {
		return err
	}
	defer g.Release()
	return fn(g.Value())
}
