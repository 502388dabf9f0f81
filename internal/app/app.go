package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"idxsync/internal/config"
	"idxsync/internal/core/cache"
	"idxsync/internal/core/indexer"
	"idxsync/internal/core/schedule"
	"idxsync/internal/core/task"
	"idxsync/internal/core/watch"
	"idxsync/internal/engine"
	"idxsync/internal/engine/backend"
	"idxsync/internal/errs"
	"idxsync/internal/logging"
	"idxsync/internal/source"
	"idxsync/internal/source/sqlsource"
)

var log = logging.Log("app")

// App is built once at startup and handed to every entry point. It owns the
// engine and the source and closes both.
type App struct {
	System      config.System
	Definitions []config.Definition

	Engine   engine.Engine
	Source   source.Source
	Settings *cache.Settings
	Indexer  *indexer.Indexer
	Runner   *task.Runner
}

// Open loads the definitions named by sys and connects to the engine and the
// relational source.
func Open(ctx context.Context, sys config.System) (*App, error) {
	if err := sys.Prepare(); err != nil {
		return nil, err
	}
	defs, err := config.LoadDefinitions(sys.Definitions)
	if err != nil {
		return nil, err
	}

	eng, err := backend.Open(sys)
	if err != nil {
		return nil, errs.Wrap(errs.KindConfiguration, "app", "open engine", err)
	}
	src, err := sqlsource.Open(ctx, sys.DBDriver, sys.DBDSN)
	if err != nil {
		_ = eng.Close()
		return nil, err
	}
	src.SetQueryTimeout(sys.DBTimeout)

	a, err := New(sys, defs, eng, src)
	if err != nil {
		_ = src.Close()
		_ = eng.Close()
		return nil, err
	}
	log.WithField("backend", eng.Name()).
		WithField("definitions", len(defs)).
		Info("app ready")
	return a, nil
}

// New wires already opened collaborators. Every definition must name a
// registered handler.
func New(sys config.System, defs []config.Definition, eng engine.Engine, src source.Source) (*App, error) {
	if eng == nil {
		return nil, fmt.Errorf("engine is required")
	}
	if src == nil {
		return nil, fmt.Errorf("source is required")
	}
	settings, err := cache.NewSettings(cache.DefaultSettingsSize)
	if err != nil {
		return nil, err
	}
	idx, err := indexer.New(eng, settings)
	if err != nil {
		return nil, err
	}
	store, err := task.NewStore(src, idx)
	if err != nil {
		return nil, err
	}

	runner := task.NewRunner()
	runner.Register(task.StoreHandlerName, store)
	if err := runner.Check(defs); err != nil {
		return nil, err
	}

	return &App{
		System:      sys,
		Definitions: defs,
		Engine:      eng,
		Source:      src,
		Settings:    settings,
		Indexer:     idx,
		Runner:      runner,
	}, nil
}

// Definition returns a copy of the definition ref resolves to, see config.Find.
func (a *App) Definition(ref string) (config.Definition, error) {
	if a == nil {
		return config.Definition{}, fmt.Errorf("app is nil")
	}
	def, ok := config.Find(a.Definitions, ref)
	if !ok {
		return config.Definition{}, errs.Configuration("app", "unknown or ambiguous index %q", strings.TrimSpace(ref))
	}
	return def, nil
}

// RunOnce runs one cycle of the definition ref resolves to synchronously.
func (a *App) RunOnce(ctx context.Context, ref string) (task.Result, error) {
	def, err := a.Definition(ref)
	if err != nil {
		return task.Result{}, err
	}
	return a.Runner.Run(ctx, def)
}

func (a *App) Scheduler() (*schedule.Scheduler, error) {
	if a == nil {
		return nil, fmt.Errorf("app is nil")
	}
	loc, err := a.System.Location()
	if err != nil {
		return nil, err
	}
	run := func(ctx context.Context, def config.Definition) error {
		_, err := a.Runner.Run(ctx, def)
		return err
	}
	return schedule.New(a.Definitions, run, schedule.Options{Tick: a.System.Tick, Location: loc})
}

// WatchSettings drops cached settings documents when their files change. It
// returns immediately when no definition has a settings file.
func (a *App) WatchSettings(ctx context.Context) error {
	if a == nil {
		return fmt.Errorf("app is nil")
	}
	var paths []string
	for _, d := range a.Definitions {
		if strings.TrimSpace(d.SettingsPath) != "" {
			paths = append(paths, d.SettingsPath)
		}
	}
	if len(paths) == 0 {
		return nil
	}
	w, err := watch.NewWatcher(paths, watch.Options{
		OnChange: func(changed []string) {
			a.Settings.Invalidate(changed...)
			log.WithField("paths", changed).Info("settings reloaded")
		},
	})
	if err != nil {
		return err
	}
	defer w.Close()
	return w.Run(ctx)
}

func (a *App) Close() error {
	if a == nil {
		return nil
	}
	var errList []error
	if a.Source != nil {
		errList = append(errList, a.Source.Close())
	}
	if a.Engine != nil {
		errList = append(errList, a.Engine.Close())
	}
	return errors.Join(errList...)
}
