package idxsyncd

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"idxsync/internal/app"
	"idxsync/internal/metrics"
)

type DaemonOptions struct {
	AdminListen string
	// MetricsListen enables /metrics when set.
	MetricsListen string
}

// Serve runs the scheduler, the settings watcher, the admin socket and the
// optional metrics endpoint until ctx ends or one of them fails.
func Serve(ctx context.Context, a *app.App, opts DaemonOptions) error {
	sched, err := a.Scheduler()
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return sched.Run(ctx) })
	g.Go(func() error { return a.WatchSettings(ctx) })

	if strings.TrimSpace(opts.AdminListen) != "" {
		srv := NewServer(Options{Listen: opts.AdminListen}, NewHandlers(a))
		g.Go(func() error { return srv.Run(ctx) })
	}

	if addr := strings.TrimSpace(opts.MetricsListen); addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		hs := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		g.Go(func() error {
			log.WithField("addr", addr).Info("metrics listening")
			if err := hs.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return hs.Shutdown(shutdownCtx)
		})
	}

	return g.Wait()
}
