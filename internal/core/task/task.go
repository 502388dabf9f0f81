package task

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"idxsync/internal/config"
	"idxsync/internal/errs"
	"idxsync/internal/logging"
	"idxsync/internal/metrics"
)

var log = logging.Log("task")

// Handler synchronizes one kind of entity. The runner picks the method
// matching the definition's mode; at is the cycle start.
type Handler interface {
	Full(ctx context.Context, def config.Definition, at time.Time) (Result, error)
	Incremental(ctx context.Context, def config.Definition, at time.Time) (Result, error)
}

type Result struct {
	Physical          string `json:"physical,omitempty"`
	Indexed           int    `json:"indexed"`
	Created           int    `json:"created"`
	Updated           int    `json:"updated"`
	Deleted           int    `json:"deleted"`
	WatermarkAdvanced bool   `json:"watermark_advanced"`
}

// Status is the outcome of the latest run of one definition.
type Status struct {
	Key        string      `json:"key"`
	Name       string      `json:"name"`
	Mode       config.Mode `json:"mode"`
	RunID      string      `json:"run_id,omitempty"`
	Running    bool        `json:"running"`
	StartedAt  time.Time   `json:"started_at,omitempty"`
	FinishedAt time.Time   `json:"finished_at,omitempty"`
	Result     *Result     `json:"result,omitempty"`
	Error      string      `json:"error,omitempty"`
}

// Runner executes definitions through their registered handlers. It is safe
// for concurrent use. Two cycles writing the same alias never overlap.
type Runner struct {
	now func() time.Time

	mu       sync.Mutex
	handlers map[string]Handler
	status   map[string]Status
	running  map[string]string // alias -> run id
}

func NewRunner() *Runner {
	return &Runner{
		now:      time.Now,
		handlers: map[string]Handler{},
		status:   map[string]Status{},
		running:  map[string]string{},
	}
}

// SetClock replaces the cycle clock. Tests only.
func (r *Runner) SetClock(now func() time.Time) {
	if r == nil || now == nil {
		return
	}
	r.now = now
}

func (r *Runner) Register(name string, h Handler) {
	if r == nil || h == nil {
		return
	}
	name = strings.ToLower(strings.TrimSpace(name))
	r.mu.Lock()
	r.handlers[name] = h
	r.mu.Unlock()
}

func (r *Runner) handler(name string) (Handler, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.handlers[strings.ToLower(strings.TrimSpace(name))]
	return h, ok
}

// Check reports the first definition whose handler is not registered.
func (r *Runner) Check(defs []config.Definition) error {
	if r == nil {
		return fmt.Errorf("runner is nil")
	}
	for _, d := range defs {
		if _, ok := r.handler(d.Handler); !ok {
			return errs.Configuration("handler", "%s: unknown handler %q", d.Name, d.Handler)
		}
	}
	return nil
}

// Run executes one cycle of def and records its outcome.
func (r *Runner) Run(ctx context.Context, def config.Definition) (Result, error) {
	if r == nil {
		return Result{}, fmt.Errorf("runner is nil")
	}
	def = def.Clone()
	h, ok := r.handler(def.Handler)
	if !ok {
		return Result{}, errs.Configuration("handler", "%s: unknown handler %q", def.Name, def.Handler)
	}

	// Watermarks are stored with second precision.
	at := r.now().UTC().Truncate(time.Second)
	runID := uuid.NewString()
	started := time.Now()
	if err := r.begin(def, runID, at); err != nil {
		return Result{}, err
	}

	l := log.WithField("index", def.Name).WithField("mode", def.Mode).WithField("run_id", runID)
	l.Info("cycle started")

	var (
		res Result
		err error
	)
	switch def.Mode {
	case config.ModeFull:
		res, err = h.Full(ctx, def, at)
	case config.ModeIncremental:
		res, err = h.Incremental(ctx, def, at)
	default:
		err = errs.Configuration("run", "%s: invalid mode %q", def.Name, def.Mode)
	}

	elapsed := time.Since(started)
	metrics.CycleDuration.WithLabelValues(def.Name, string(def.Mode)).Observe(elapsed.Seconds())
	r.finish(def, res, err)
	if err != nil {
		metrics.Cycles.WithLabelValues(def.Name, string(def.Mode), "error").Inc()
		l.WithError(err).WithField("kind", errs.KindOf(err)).Error("cycle failed")
		return res, err
	}
	metrics.Cycles.WithLabelValues(def.Name, string(def.Mode), "ok").Inc()
	l.WithField("indexed", res.Indexed).
		WithField("created", res.Created).
		WithField("updated", res.Updated).
		WithField("deleted", res.Deleted).
		WithField("watermark_advanced", res.WatermarkAdvanced).
		Info("cycle finished")
	return res, nil
}

func (r *Runner) begin(def config.Definition, runID string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if id, ok := r.running[def.Name]; ok {
		return fmt.Errorf("%s is already being written (run_id=%s)", def.Name, id)
	}
	r.running[def.Name] = runID
	r.status[def.Key()] = Status{Key: def.Key(), Name: def.Name, Mode: def.Mode, RunID: runID, Running: true, StartedAt: at}
	return nil
}

func (r *Runner) finish(def config.Definition, res Result, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.running, def.Name)
	st := r.status[def.Key()]
	st.Running = false
	st.FinishedAt = r.now().UTC()
	st.Result = &res
	st.Error = ""
	if err != nil {
		st.Result = nil
		st.Error = err.Error()
	}
	r.status[def.Key()] = st
}

// Statuses returns the latest status of every definition that has run,
// ordered by key.
func (r *Runner) Statuses() []Status {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Status, 0, len(r.status))
	for _, st := range r.status {
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}
