package schedule

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"idxsync/internal/config"
	"idxsync/internal/logging"
)

var log = logging.Log("schedule")

const DefaultTick = 500 * time.Millisecond

// RunFunc runs one cycle of def. Errors are logged by the scheduler and never
// stop a loop.
type RunFunc func(ctx context.Context, def config.Definition) error

type Options struct {
	Tick     time.Duration
	Location *time.Location
}

// Scheduler drives one independent loop per definition.
type Scheduler struct {
	tick time.Duration
	loc  *time.Location
	run  RunFunc

	entries []*entry
}

// entry is the firing state of one definition. A cron occurrence fires when
// it lies less than one tick ahead of now, and only once. Ticks wider than
// the gap between two occurrences can still skip one.
type entry struct {
	def   config.Definition
	sched cron.Schedule
	tick  time.Duration
	loc   *time.Location
	last  time.Time
}

func New(defs []config.Definition, run RunFunc, opts Options) (*Scheduler, error) {
	if run == nil {
		return nil, fmt.Errorf("run func is required")
	}
	tick := opts.Tick
	if tick <= 0 {
		tick = DefaultTick
	}
	loc := opts.Location
	if loc == nil {
		loc = time.UTC
	}

	s := &Scheduler{tick: tick, loc: loc, run: run}
	for _, d := range defs {
		sched, err := config.ParseCron(d.Cron)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", d.Name, err)
		}
		s.entries = append(s.entries, &entry{def: d.Clone(), sched: sched, tick: tick, loc: loc})
	}
	return s, nil
}

func (s *Scheduler) Tick() time.Duration {
	if s == nil {
		return 0
	}
	return s.tick
}

// Next reports the upcoming occurrence of every definition after now, keyed
// by definition key.
func (s *Scheduler) Next(now time.Time) map[string]time.Time {
	out := map[string]time.Time{}
	if s == nil {
		return out
	}
	for _, e := range s.entries {
		out[e.def.Key()] = e.sched.Next(now.In(e.loc))
	}
	return out
}

// Run starts every loop and blocks until ctx ends. Cycles still in flight
// see the cancelled ctx; Run does not wait for them.
func (s *Scheduler) Run(ctx context.Context) error {
	if s == nil {
		return fmt.Errorf("scheduler is nil")
	}
	for _, e := range s.entries {
		go s.loop(ctx, e)
	}
	log.WithField("definitions", len(s.entries)).
		WithField("tick", s.tick).
		WithField("tz", s.loc.String()).
		Info("scheduler started")
	<-ctx.Done()
	return nil
}

func (s *Scheduler) loop(ctx context.Context, e *entry) {
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if !e.due(now) {
				continue
			}
			l := log.WithField("index", e.def.Name).WithField("mode", e.def.Mode)
			l.Debug("occurrence due")
			if err := s.run(ctx, e.def.Clone()); err != nil {
				l.WithError(err).Error("scheduled run failed")
			}
		}
	}
}

// due reports whether the occurrence following now should fire, and marks
// it fired if so.
func (e *entry) due(now time.Time) bool {
	next := e.sched.Next(now.In(e.loc))
	if next.Sub(now) >= e.tick {
		return false
	}
	if next.Equal(e.last) {
		return false
	}
	e.last = next
	return true
}
