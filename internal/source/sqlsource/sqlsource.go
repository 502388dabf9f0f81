package sqlsource

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"idxsync/internal/errs"
	"idxsync/internal/logging"
	"idxsync/internal/source"
)

//go:embed schema.sql
var schemaSQL string

const sqliteTimeLayout = "2006-01-02 15:04:05"

var log = logging.Log("sqlsource")

type placeholderStyle int

const (
	placeholderQuestion placeholderStyle = iota
	placeholderDollar
)

type dialect struct {
	name  string
	style placeholderStyle
}

// timeArg renders t the way the dialect stores timestamps.
func (d dialect) timeArg(t time.Time) any {
	t = t.UTC()
	if d.name == "sqlite" {
		return t.Format(sqliteTimeLayout)
	}
	return t
}

// DefaultQueryTimeout bounds each query and watermark transaction.
const DefaultQueryTimeout = 30 * time.Second

// Source reads store rows and watermarks through database/sql.
type Source struct {
	db      *sql.DB
	d       dialect
	timeout time.Duration
}

var _ source.Source = (*Source)(nil)

// Open connects with driver mysql, postgres or sqlite.
func Open(ctx context.Context, driver string, dsn string) (*Source, error) {
	driver = strings.ToLower(strings.TrimSpace(driver))
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, errs.Configuration("sqlsource", "dsn is required")
	}

	var (
		db  *sql.DB
		d   dialect
		err error
	)
	switch driver {
	case "mysql":
		d = dialect{name: "mysql", style: placeholderQuestion}
		db, err = openMySQL(dsn)
	case "postgres", "postgresql", "pgx":
		d = dialect{name: "postgres", style: placeholderDollar}
		db, err = openPostgres(dsn)
	case "sqlite", "sqlite3":
		d = dialect{name: "sqlite", style: placeholderQuestion}
		db, err = openSQLite(dsn)
	default:
		return nil, errs.Configuration("sqlsource", "unknown driver %q (expected: mysql|postgres|sqlite)", driver)
	}
	if err != nil {
		return nil, errs.Wrap(errs.KindConfiguration, "sqlsource", "open "+d.name, err)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, errs.Wrap(errs.KindConfiguration, "sqlsource", "ping "+d.name, err)
	}
	s := &Source{db: db, d: d, timeout: DefaultQueryTimeout}
	if d.name == "sqlite" {
		if err := s.applyPragmas(); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	log.WithField("driver", d.name).Info("data source connected")
	return s, nil
}

func openMySQL(dsn string) (*sql.DB, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, err
	}
	cfg.ParseTime = true
	cfg.Loc = time.UTC
	conn, err := mysql.NewConnector(cfg)
	if err != nil {
		return nil, err
	}
	return sql.OpenDB(conn), nil
}

func openPostgres(dsn string) (*sql.DB, error) {
	cfg, err := pgx.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	if cfg.RuntimeParams == nil {
		cfg.RuntimeParams = map[string]string{}
	}
	cfg.RuntimeParams["timezone"] = "UTC"
	return stdlib.OpenDB(*cfg), nil
}

func openSQLite(dsn string) (*sql.DB, error) {
	path := strings.TrimPrefix(dsn, "file:")
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if path != "" && path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	return db, nil
}

func (s *Source) applyPragmas() error {
	stmts := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	_, _ = s.db.Exec("PRAGMA journal_mode = WAL")
	return nil
}

func (s *Source) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// SetQueryTimeout changes the per-call bound. Zero or less disables it.
func (s *Source) SetQueryTimeout(d time.Duration) {
	if s != nil {
		s.timeout = d
	}
}

func (s *Source) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.timeout)
}

// DB exposes the handle for fixtures and maintenance commands.
func (s *Source) DB() *sql.DB {
	return s.db
}

func (s *Source) Dialect() string {
	return s.d.name
}

// Bootstrap creates the development schema. Only sqlite sources support it;
// production databases are managed outside this tool.
func (s *Source) Bootstrap(ctx context.Context) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("source is not open")
	}
	if s.d.name != "sqlite" {
		return errs.Configuration("bootstrap", "schema bootstrap is only supported for sqlite, got %s", s.d.name)
	}
	return execStatements(ctx, s.db, schemaSQL)
}

func execStatements(ctx context.Context, db *sql.DB, sqlText string) error {
	if db == nil {
		return fmt.Errorf("db is nil")
	}
	sqlText = strings.ReplaceAll(sqlText, "\r\n", "\n")

	var cleaned strings.Builder
	for _, line := range strings.Split(sqlText, "\n") {
		trim := strings.TrimSpace(line)
		if trim == "" || strings.HasPrefix(trim, "--") {
			continue
		}
		cleaned.WriteString(line)
		cleaned.WriteString("\n")
	}

	for _, raw := range strings.Split(cleaned.String(), ";") {
		stmt := strings.TrimSpace(raw)
		if stmt == "" {
			continue
		}
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("exec %q: %w", stmt, err)
		}
	}
	return nil
}

// builder collects positional arguments and renders placeholders for the
// dialect.
type builder struct {
	style placeholderStyle
	args  []any
}

func (s *Source) newBuilder() *builder {
	return &builder{style: s.d.style}
}

func (b *builder) arg(v any) string {
	b.args = append(b.args, v)
	if b.style == placeholderDollar {
		return fmt.Sprintf("$%d", len(b.args))
	}
	return "?"
}
