package backend

import (
	"fmt"
	"strings"

	"idxsync/internal/config"
	"idxsync/internal/engine"
	"idxsync/internal/engine/bleve"
	"idxsync/internal/engine/elastic"
	"idxsync/internal/engine/pool"
)

func NormalizeName(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return config.BackendElastic
	}
	switch name {
	case "elastic", "elasticsearch", "es":
		return config.BackendElastic
	case "bleve", "embedded":
		return config.BackendBleve
	default:
		return name
	}
}

// Open builds the search engine selected by sys.Backend.
func Open(sys config.System) (engine.Engine, error) {
	switch NormalizeName(sys.Backend) {
	case config.BackendElastic:
		return elastic.New(elastic.Config{
			Hosts:          sys.ESHosts,
			Username:       sys.ESUsername,
			Password:       sys.ESPassword,
			PoolSize:       sys.PoolSize,
			Pool:           pool.Options{Attempts: sys.PoolAttempts, Interval: sys.PoolInterval},
			RequestTimeout: sys.RequestTimeout,
		})
	case config.BackendBleve:
		return bleve.Open(sys.BlevePath)
	default:
		return nil, fmt.Errorf("unknown engine backend: %s", sys.Backend)
	}
}
