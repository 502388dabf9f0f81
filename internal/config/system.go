package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"idxsync/internal/errs"
)

const (
	BackendElastic = "elastic"
	BackendBleve   = "bleve"
)

// System holds process-wide settings. Values come from IDXSYNC_* environment
// variables and may be overridden by command-line flags before Prepare.
type System struct {
	Definitions string

	Backend        string
	ESHosts        []string
	ESUsername     string
	ESPassword     string
	PoolSize       int
	PoolAttempts   int
	PoolInterval   time.Duration
	RequestTimeout time.Duration
	BlevePath      string

	DBDriver  string
	DBDSN     string
	DBTimeout time.Duration

	Tick     time.Duration
	Timezone string

	LogLevel string
	LogFile  string
	LogJSON  bool

	AdminListen   string
	MetricsListen string
}

func DefaultSystem() System {
	return System{
		Definitions:    "config/index.yaml",
		Backend:        BackendElastic,
		PoolSize:       3,
		PoolAttempts:   10,
		PoolInterval:   7 * time.Second,
		RequestTimeout: 5 * time.Second,
		BlevePath:      ".idxsync/bleve",
		DBDriver:       "mysql",
		DBTimeout:      30 * time.Second,
		Tick:           500 * time.Millisecond,
		Timezone:       "Asia/Seoul",
		LogLevel:       "info",
		AdminListen:    "127.0.0.1:7447",
	}
}

// SystemFromEnv overlays IDXSYNC_* variables on the defaults.
func SystemFromEnv() (System, error) {
	return systemFrom(os.LookupEnv)
}

func systemFrom(lookup func(string) (string, bool)) (System, error) {
	s := DefaultSystem()
	get := func(key string) (string, bool) {
		v, ok := lookup("IDXSYNC_" + key)
		if !ok {
			return "", false
		}
		v = strings.TrimSpace(v)
		return v, v != ""
	}

	if v, ok := get("DEFINITIONS"); ok {
		s.Definitions = v
	}
	if v, ok := get("BACKEND"); ok {
		s.Backend = v
	}
	if v, ok := get("ES_HOSTS"); ok {
		s.ESHosts = SplitList(v)
	}
	if v, ok := get("ES_USERNAME"); ok {
		s.ESUsername = v
	}
	if v, ok := lookup("IDXSYNC_ES_PASSWORD"); ok {
		s.ESPassword = v
	}
	if v, ok := get("BLEVE_PATH"); ok {
		s.BlevePath = v
	}
	if v, ok := get("DB_DRIVER"); ok {
		s.DBDriver = v
	}
	if v, ok := get("DB_DSN"); ok {
		s.DBDSN = v
	}
	if v, ok := get("TIMEZONE"); ok {
		s.Timezone = v
	}
	if v, ok := get("LOG_LEVEL"); ok {
		s.LogLevel = v
	}
	if v, ok := get("LOG_FILE"); ok {
		s.LogFile = v
	}
	if v, ok := get("ADMIN_LISTEN"); ok {
		s.AdminListen = v
	}
	if v, ok := get("METRICS_LISTEN"); ok {
		s.MetricsListen = v
	}

	ints := []struct {
		key string
		dst *int
	}{
		{"POOL_SIZE", &s.PoolSize},
		{"POOL_ATTEMPTS", &s.PoolAttempts},
	}
	for _, it := range ints {
		v, ok := get(it.key)
		if !ok {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return System{}, errs.Wrap(errs.KindConfiguration, "env", "IDXSYNC_"+it.key, err)
		}
		*it.dst = n
	}

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"POOL_INTERVAL", &s.PoolInterval},
		{"REQUEST_TIMEOUT", &s.RequestTimeout},
		{"TICK", &s.Tick},
		{"DB_TIMEOUT", &s.DBTimeout},
	}
	for _, it := range durations {
		v, ok := get(it.key)
		if !ok {
			continue
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return System{}, errs.Wrap(errs.KindConfiguration, "env", "IDXSYNC_"+it.key, err)
		}
		*it.dst = d
	}

	if v, ok := get("LOG_JSON"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return System{}, errs.Wrap(errs.KindConfiguration, "env", "IDXSYNC_LOG_JSON", err)
		}
		s.LogJSON = b
	}
	return s, nil
}

func (s *System) Prepare() error {
	s.Backend = strings.ToLower(strings.TrimSpace(s.Backend))
	s.DBDriver = strings.ToLower(strings.TrimSpace(s.DBDriver))

	if strings.TrimSpace(s.Definitions) == "" {
		return errs.Configuration("system", "definitions path is required")
	}
	switch s.Backend {
	case BackendElastic:
		if len(s.ESHosts) == 0 {
			return errs.Configuration("system", "at least one elasticsearch host is required")
		}
		if s.PoolSize <= 0 {
			return errs.Configuration("system", "pool size must be > 0")
		}
		if s.PoolAttempts <= 0 {
			return errs.Configuration("system", "pool attempts must be > 0")
		}
		if s.PoolInterval < 0 {
			return errs.Configuration("system", "pool interval must be >= 0")
		}
		if s.RequestTimeout <= 0 {
			return errs.Configuration("system", "request timeout must be > 0")
		}
	case BackendBleve:
		if strings.TrimSpace(s.BlevePath) == "" {
			return errs.Configuration("system", "bleve path is required")
		}
	default:
		return errs.Configuration("system", "invalid backend %q (expected: elastic|bleve)", s.Backend)
	}

	switch s.DBDriver {
	case "mysql", "postgres", "sqlite":
	default:
		return errs.Configuration("system", "invalid db driver %q (expected: mysql|postgres|sqlite)", s.DBDriver)
	}
	if strings.TrimSpace(s.DBDSN) == "" {
		return errs.Configuration("system", "db dsn is required")
	}
	if s.DBTimeout <= 0 {
		return errs.Configuration("system", "db timeout must be > 0")
	}
	if s.Tick <= 0 {
		return errs.Configuration("system", "tick must be > 0")
	}
	if _, err := s.Location(); err != nil {
		return err
	}
	return nil
}

// Location resolves Timezone. Asia/Seoul falls back to a fixed +09:00 zone
// when the host has no tzdata.
func (s System) Location() (*time.Location, error) {
	name := strings.TrimSpace(s.Timezone)
	if name == "" || strings.EqualFold(name, "utc") {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(name)
	if err == nil {
		return loc, nil
	}
	if name == "Asia/Seoul" {
		return time.FixedZone("KST", 9*60*60), nil
	}
	return nil, errs.Wrap(errs.KindConfiguration, "system", fmt.Sprintf("invalid timezone %q", name), err)
}

// SplitList splits a comma separated list, dropping blanks.
func SplitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
