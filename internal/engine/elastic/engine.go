package elastic

import (
	"context"
	"net/http"
	"time"

	"idxsync/internal/engine"
	"idxsync/internal/engine/pool"
	"idxsync/internal/errs"
)

type Config struct {
	Hosts          []string
	Username       string
	Password       string
	PoolSize       int
	Pool           pool.Options
	RequestTimeout time.Duration

	// Transport overrides the HTTP transport of every node client.
	Transport http.RoundTripper
}

// Engine serves engine.Conn values out of a fixed pool of Handles.
type Engine struct {
	pool *pool.Pool[*Handle]
}

var _ engine.Engine = (*Engine)(nil)

func New(cfg Config) (*Engine, error) {
	if len(cfg.Hosts) == 0 {
		return nil, errs.Configuration("elastic", "at least one host is required")
	}
	size := cfg.PoolSize
	if size <= 0 {
		size = 3
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	handles := make([]*Handle, 0, size)
	for i := 0; i < size; i++ {
		nodes := make([]*Node, 0, len(cfg.Hosts))
		for _, host := range cfg.Hosts {
			n, err := NewNode(host, cfg.Username, cfg.Password, cfg.Transport)
			if err != nil {
				return nil, err
			}
			nodes = append(nodes, n)
		}
		handles = append(handles, NewHandle(nodes, timeout))
	}
	log.WithField("hosts", cfg.Hosts).WithField("pool_size", size).Info("elasticsearch engine ready")
	return &Engine{pool: pool.New(handles, cfg.Pool)}, nil
}

func (e *Engine) Name() string { return "elastic" }

func (e *Engine) Do(ctx context.Context, fn func(engine.Conn) error) error {
	if e == nil || e.pool == nil {
		return errs.Configuration("elastic", "engine is not open")
	}
	return pool.Do(ctx, e.pool, func(h *Handle) error {
		return fn(h)
	})
}

func (e *Engine) Status() engine.Status {
	if e == nil {
		return engine.Status{Backend: "elastic"}
	}
	return engine.Status{Backend: "elastic", Idle: e.pool.Len(), Size: e.pool.Size()}
}

// Close is a no-op: node clients hold no resources beyond idle HTTP
// connections.
func (e *Engine) Close() error { return nil }
