package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"idxsync/internal/app"
	"idxsync/internal/config"
	"idxsync/internal/idxsyncd"
	"idxsync/internal/logging"
)

func main() {
	sys, err := config.SystemFromEnv()
	if err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	flag.StringVar(&sys.Definitions, "definitions", sys.Definitions, "index definitions file (yaml)")
	flag.StringVar(&sys.Backend, "backend", sys.Backend, "search engine backend: elastic|bleve")
	esHosts := flag.String("es-hosts", "", "elasticsearch nodes (comma separated list)")
	flag.StringVar(&sys.DBDriver, "db-driver", sys.DBDriver, "relational source driver: mysql|postgres|sqlite")
	flag.StringVar(&sys.DBDSN, "db-dsn", sys.DBDSN, "relational source dsn")
	flag.DurationVar(&sys.DBTimeout, "db-timeout", sys.DBTimeout, "per query timeout for the relational source")
	flag.StringVar(&sys.BlevePath, "bleve-path", sys.BlevePath, "embedded index directory (bleve backend)")
	flag.DurationVar(&sys.Tick, "tick", sys.Tick, "scheduler polling tick")
	flag.StringVar(&sys.Timezone, "timezone", sys.Timezone, "civil timezone for cron evaluation")
	flag.StringVar(&sys.LogLevel, "log-level", sys.LogLevel, "log level")
	flag.StringVar(&sys.LogFile, "log-file", sys.LogFile, "also write logs to this file")
	flag.BoolVar(&sys.LogJSON, "log-json", sys.LogJSON, "log as JSON")
	flag.StringVar(&sys.AdminListen, "listen", sys.AdminListen, "admin listen address (tcp, empty disables)")
	flag.StringVar(&sys.MetricsListen, "metrics", sys.MetricsListen, "metrics listen address (empty disables)")
	flag.Parse()
	if *esHosts != "" {
		sys.ESHosts = config.SplitList(*esHosts)
	}

	closer, err := logging.Setup(logging.Options{Level: sys.LogLevel, File: sys.LogFile, JSON: sys.LogJSON})
	if err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	defer closer.Close()
	log := logging.Log("main")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.Open(ctx, sys)
	if err != nil {
		log.WithError(err).Error("startup failed")
		os.Exit(2)
	}
	defer a.Close()

	err = idxsyncd.Serve(ctx, a, idxsyncd.DaemonOptions{AdminListen: sys.AdminListen, MetricsListen: sys.MetricsListen})
	if err != nil && !errors.Is(err, context.Canceled) {
		if errors.Is(err, syscall.EADDRINUSE) {
			log.WithError(err).Errorf("listen address in use: %s", sys.AdminListen)
		} else {
			log.WithError(err).Error("daemon stopped")
		}
		os.Exit(1)
	}
	log.Info("shutdown")
}
