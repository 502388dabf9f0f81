package idxsynccli

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"idxsync/internal/config"
	"idxsync/internal/idxsyncd"
	"idxsync/internal/logging"
)

type Options struct {
	System config.System
	// AdminAddr is the daemon admin socket the status command dials.
	AdminAddr string

	envErr    error
	logCloser io.Closer
}

func (o *Options) Prepare() error {
	if o.envErr != nil {
		return o.envErr
	}
	o.normalize()
	if o.System.Definitions == "" {
		return fmt.Errorf("definitions path is required")
	}
	if o.AdminAddr == "" {
		return fmt.Errorf("admin address is required")
	}
	closer, err := logging.Setup(logging.Options{
		Level: o.System.LogLevel,
		File:  o.System.LogFile,
		JSON:  o.System.LogJSON,
	})
	if err != nil {
		return err
	}
	o.logCloser = closer
	return nil
}

func (o *Options) normalize() {
	o.System.Definitions = strings.TrimSpace(o.System.Definitions)
	o.System.Backend = strings.ToLower(strings.TrimSpace(o.System.Backend))
	o.System.DBDriver = strings.ToLower(strings.TrimSpace(o.System.DBDriver))
	o.AdminAddr = strings.TrimSpace(o.AdminAddr)

	var hosts []string
	for _, h := range o.System.ESHosts {
		if h = strings.TrimSpace(h); h != "" {
			hosts = append(hosts, h)
		}
	}
	o.System.ESHosts = hosts
}

func (o *Options) closeLog() {
	if o.logCloser != nil {
		_ = o.logCloser.Close()
		o.logCloser = nil
	}
}

type optionsKey struct{}

func optionsFrom(cmd *cobra.Command) *Options {
	if cmd == nil {
		return nil
	}
	root := cmd.Root()
	if root == nil {
		root = cmd
	}
	v := root.Context().Value(optionsKey{})
	opts, _ := v.(*Options)
	return opts
}

func bindFlags(cmd *cobra.Command, opts *Options) {
	s := &opts.System
	f := cmd.PersistentFlags()
	f.StringVarP(&s.Definitions, "definitions", "f", s.Definitions, "index definitions file (yaml)")
	f.StringVar(&s.Backend, "backend", s.Backend, "search engine backend: elastic|bleve")
	f.StringSliceVar(&s.ESHosts, "es-hosts", s.ESHosts, "elasticsearch nodes (comma separated list)")
	f.StringVar(&s.ESUsername, "es-username", s.ESUsername, "elasticsearch user")
	f.StringVar(&s.ESPassword, "es-password", s.ESPassword, "elasticsearch password")
	f.IntVar(&s.PoolSize, "pool-size", s.PoolSize, "pooled elasticsearch handles")
	f.DurationVar(&s.RequestTimeout, "request-timeout", s.RequestTimeout, "per request timeout")
	f.StringVar(&s.BlevePath, "bleve-path", s.BlevePath, "embedded index directory (bleve backend)")
	f.StringVar(&s.DBDriver, "db-driver", s.DBDriver, "relational source driver: mysql|postgres|sqlite")
	f.StringVar(&s.DBDSN, "db-dsn", s.DBDSN, "relational source dsn")
	f.DurationVar(&s.DBTimeout, "db-timeout", s.DBTimeout, "per query timeout for the relational source")
	f.StringVar(&s.Timezone, "timezone", s.Timezone, "civil timezone for cron evaluation")
	f.StringVar(&s.LogLevel, "log-level", s.LogLevel, "log level: debug|info|warn|error")
	f.StringVar(&s.LogFile, "log-file", s.LogFile, "also write logs to this file")
	f.BoolVar(&s.LogJSON, "log-json", s.LogJSON, "log as JSON")
	f.StringVar(&opts.AdminAddr, "admin", opts.AdminAddr, "daemon admin address")
}

func ExecuteForTest(cmd *cobra.Command, stdin string) (string, Options, error) {
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetIn(strings.NewReader(stdin))

	err := cmd.Execute()

	opts := optionsFrom(cmd)
	if opts == nil {
		return out.String(), Options{}, err
	}
	opts.normalize()
	return out.String(), *opts, err
}

// newDefaultOptions starts from the environment. An invalid variable is
// reported by Prepare so --help still works.
func newDefaultOptions() *Options {
	sys, err := config.SystemFromEnv()
	if err != nil {
		sys = config.DefaultSystem()
	}
	admin := sys.AdminListen
	if admin == "" {
		admin = idxsyncd.DefaultAdminListen
	}
	return &Options{System: sys, AdminAddr: admin, envErr: err}
}

func withOptionsContext(cmd *cobra.Command, opts *Options) {
	cmd.SetContext(context.WithValue(context.Background(), optionsKey{}, opts))
}
