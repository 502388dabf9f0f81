package task

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"idxsync/internal/config"
	"idxsync/internal/core/cache"
	"idxsync/internal/core/indexer"
	"idxsync/internal/engine"
	"idxsync/internal/engine/bleve"
	"idxsync/internal/engine/elastic"
	"idxsync/internal/engine/pool"
	"idxsync/internal/errs"
	"idxsync/internal/source/sqlsource"
)

type fakeHandler struct {
	full, incr int
	err        error
	block      chan struct{}
}

func (f *fakeHandler) Full(ctx context.Context, def config.Definition, at time.Time) (Result, error) {
	f.full++
	return Result{Indexed: 1, WatermarkAdvanced: true}, f.err
}

func (f *fakeHandler) Incremental(ctx context.Context, def config.Definition, at time.Time) (Result, error) {
	f.incr++
	if f.block != nil {
		<-f.block
	}
	return Result{}, f.err
}

func TestRunnerDispatchesByMode(t *testing.T) {
	r := NewRunner()
	h := &fakeHandler{}
	r.Register("Store", h)

	_, err := r.Run(context.Background(), config.Definition{Name: "a", Mode: config.ModeFull, Handler: "store"})
	require.NoError(t, err)
	_, err = r.Run(context.Background(), config.Definition{Name: "b", Mode: config.ModeIncremental, Handler: "store"})
	require.NoError(t, err)
	assert.Equal(t, 1, h.full)
	assert.Equal(t, 1, h.incr)

	st := r.Statuses()
	require.Len(t, st, 2)
	assert.Equal(t, "a", st[0].Name)
	assert.False(t, st[0].Running)
	require.NotNil(t, st[0].Result)
	assert.Equal(t, 1, st[0].Result.Indexed)
	assert.NotEmpty(t, st[0].RunID)
}

func TestRunnerRecordsFailure(t *testing.T) {
	r := NewRunner()
	r.Register("store", &fakeHandler{err: errors.New("boom")})

	_, err := r.Run(context.Background(), config.Definition{Name: "a", Mode: config.ModeFull, Handler: "store"})
	require.Error(t, err)
	st := r.Statuses()
	require.Len(t, st, 1)
	assert.Nil(t, st[0].Result)
	assert.Equal(t, "boom", st[0].Error)
}

func TestRunnerUnknownHandler(t *testing.T) {
	r := NewRunner()
	def := config.Definition{Name: "a", Mode: config.ModeFull, Handler: "missing"}

	err := r.Check([]config.Definition{def})
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.KindConfiguration))

	_, err = r.Run(context.Background(), def)
	assert.True(t, errs.Is(err, errs.KindConfiguration))
}

func TestRunnerRejectsOverlappingRuns(t *testing.T) {
	r := NewRunner()
	h := &fakeHandler{block: make(chan struct{})}
	r.Register("store", h)
	def := config.Definition{Name: "a", Mode: config.ModeIncremental, Handler: "store"}

	done := make(chan error, 1)
	go func() {
		_, err := r.Run(context.Background(), def)
		done <- err
	}()
	require.Eventually(t, func() bool {
		st := r.Statuses()
		return len(st) == 1 && st[0].Running
	}, time.Second, 5*time.Millisecond)

	_, err := r.Run(context.Background(), def)
	require.Error(t, err)

	close(h.block)
	require.NoError(t, <-done)
}

const storeFixture = `
INSERT INTO store (seq, name, type, use_yn, reg_dt, chg_dt) VALUES
  (1, 'Alpha', 'korean', 'Y', '2024-01-01 00:00:00', NULL),
  (2, 'Beta', NULL, 'Y', '2024-01-01 00:00:00', NULL);
INSERT INTO store_location_info_tbl (seq, address, lat, lng, reg_dt) VALUES
  (1, 'addr 1', 37.5, 127.0, '2024-01-01 00:00:00'),
  (2, 'addr 2', 37.6, 127.1, '2024-01-01 00:00:00');
INSERT INTO store_type_major (major_type, type_name) VALUES (10, 'food');
INSERT INTO store_type_sub (sub_type, major_type, type_name) VALUES (101, 10, 'rice');
INSERT INTO store_type_link_tbl (sub_type, seq, reg_dt) VALUES (101, 1, '2024-01-01 00:00:00');
`

const storeChanges = `
INSERT INTO store (seq, name, type, use_yn, reg_dt, chg_dt) VALUES
  (3, 'Gamma', NULL, 'Y', '2024-01-10 12:00:00', NULL);
INSERT INTO store_location_info_tbl (seq, address, lat, lng, reg_dt) VALUES
  (3, 'addr 3', 37.7, 127.2, '2024-01-10 12:00:00');
UPDATE store SET name = 'Alpha2', chg_dt = '2024-01-10 12:00:00' WHERE seq = 1;
UPDATE store SET use_yn = 'N', chg_dt = '2024-01-10 12:00:00' WHERE seq = 2;
`

type pipeline struct {
	src    *sqlsource.Source
	eng    *bleve.Engine
	runner *Runner
	def    config.Definition
}

func newPipeline(t *testing.T) *pipeline {
	t.Helper()
	ctx := context.Background()
	dir := t.TempDir()

	src, err := sqlsource.Open(ctx, "sqlite", filepath.Join(dir, "src.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = src.Close() })
	require.NoError(t, src.Bootstrap(ctx))
	exec(t, src, storeFixture)

	eng, err := bleve.Open(filepath.Join(dir, "engine"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = eng.Close() })

	settingsPath := filepath.Join(dir, "stores.json")
	require.NoError(t, os.WriteFile(settingsPath, []byte(`{"settings":{}}`), 0o644))
	settings, err := cache.NewSettings(0)
	require.NoError(t, err)
	idx, err := indexer.New(eng, settings)
	require.NoError(t, err)
	h, err := NewStore(src, idx)
	require.NoError(t, err)

	r := NewRunner()
	r.Register(StoreHandlerName, h)
	return &pipeline{
		src:    src,
		eng:    eng,
		runner: r,
		def: config.Definition{
			Name:         "stores",
			Cron:         "0 0 * * * *",
			Mode:         config.ModeFull,
			SettingsPath: settingsPath,
			Handler:      StoreHandlerName,
			DBBatchSize:  1,
			ESBatchSize:  2,
		},
	}
}

func exec(t *testing.T, src *sqlsource.Source, sqlText string) {
	t.Helper()
	for _, stmt := range strings.Split(sqlText, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		_, err := src.DB().ExecContext(context.Background(), stmt)
		require.NoError(t, err)
	}
}

func (p *pipeline) runAt(t *testing.T, mode config.Mode, at time.Time) Result {
	t.Helper()
	p.runner.SetClock(func() time.Time { return at })
	def := p.def.Clone()
	def.Mode = mode
	res, err := p.runner.Run(context.Background(), def)
	require.NoError(t, err)
	return res
}

func (p *pipeline) count(t *testing.T, term *engine.Term) int {
	t.Helper()
	var total int
	require.NoError(t, p.eng.Do(context.Background(), func(c engine.Conn) error {
		res, err := c.Search(context.Background(), "stores", engine.SearchRequest{Term: term, Size: 100})
		total = res.Total
		return err
	}))
	return total
}

func (p *pipeline) watermark(t *testing.T) time.Time {
	t.Helper()
	wm, err := p.src.ReadWatermark(context.Background(), "stores")
	require.NoError(t, err)
	return wm
}

func TestStoreFullThenIncremental(t *testing.T) {
	p := newPipeline(t)
	t0 := time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)
	t1 := time.Date(2024, 1, 11, 0, 0, 0, 0, time.UTC)

	res := p.runAt(t, config.ModeFull, t0)
	assert.Equal(t, 2, res.Indexed)
	assert.True(t, res.WatermarkAdvanced)
	assert.Equal(t, 2, p.count(t, nil))
	assert.Equal(t, 1, p.count(t, &engine.Term{Field: "major_type", Value: 10}))
	assert.True(t, p.watermark(t).Equal(t0))

	res = p.runAt(t, config.ModeIncremental, t1)
	assert.Equal(t, Result{}, res)
	assert.True(t, p.watermark(t).Equal(t0), "an empty cycle leaves the watermark alone")

	exec(t, p.src, storeChanges)
	res = p.runAt(t, config.ModeIncremental, t1)
	assert.Equal(t, 1, res.Created)
	assert.Equal(t, 1, res.Updated)
	assert.Equal(t, 1, res.Deleted)
	assert.True(t, res.WatermarkAdvanced)
	assert.True(t, p.watermark(t).Equal(t1))

	assert.Equal(t, 2, p.count(t, nil))
	assert.Equal(t, 1, p.count(t, &engine.Term{Field: "name", Value: "Alpha2"}))
	assert.Equal(t, 1, p.count(t, &engine.Term{Field: "major_type", Value: 10}), "updated stores keep their categories")
	assert.Equal(t, 1, p.count(t, &engine.Term{Field: "seq", Value: 3}))
	assert.Equal(t, 0, p.count(t, &engine.Term{Field: "seq", Value: 2}))
}

func TestIncrementalWithoutWatermark(t *testing.T) {
	p := newPipeline(t)
	def := p.def.Clone()
	def.Mode = config.ModeIncremental

	_, err := p.runner.Run(context.Background(), def)
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.KindConfiguration))
}

func TestNewRecommendationReplacesStore(t *testing.T) {
	p := newPipeline(t)
	t0 := time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)
	t1 := time.Date(2024, 1, 11, 0, 0, 0, 0, time.UTC)
	p.runAt(t, config.ModeFull, t0)

	exec(t, p.src, `
INSERT INTO recommend_tbl (recommend_seq, recommend_name, recommend_yn, reg_dt) VALUES (7, 'New', 'Y', '2024-01-10 12:00:00');
INSERT INTO store_recommend_tbl (seq, recommend_seq, recommend_end_dt, reg_dt) VALUES (1, 7, '2099-01-01 00:00:00', '2024-01-10 12:00:00');
`)
	res := p.runAt(t, config.ModeIncremental, t1)
	assert.Equal(t, Result{Updated: 1, WatermarkAdvanced: true}, res)

	assert.Equal(t, 2, p.count(t, nil))
	assert.Equal(t, 1, p.count(t, &engine.Term{Field: "seq", Value: 1}), "an existing store is replaced, not appended")
	assert.Equal(t, 1, p.count(t, &engine.Term{Field: "recommend_names", Value: "New"}))
}

func TestCategoryLinkUpdatesStore(t *testing.T) {
	p := newPipeline(t)
	t0 := time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)
	t1 := time.Date(2024, 1, 11, 0, 0, 0, 0, time.UTC)
	p.runAt(t, config.ModeFull, t0)
	assert.Equal(t, 1, p.count(t, &engine.Term{Field: "major_type", Value: 10}))

	exec(t, p.src, `INSERT INTO store_type_link_tbl (sub_type, seq, reg_dt) VALUES (101, 2, '2024-01-10 12:00:00')`)
	res := p.runAt(t, config.ModeIncremental, t1)
	assert.Equal(t, Result{Updated: 1, WatermarkAdvanced: true}, res)

	assert.Equal(t, 2, p.count(t, nil))
	assert.Equal(t, 2, p.count(t, &engine.Term{Field: "major_type", Value: 10}))
}

// recordingES answers the calls an incremental cycle makes and records
// their paths in order.
type recordingES struct {
	mu    sync.Mutex
	paths []string
}

func (r *recordingES) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	w.Header().Set("X-Elastic-Product", "Elasticsearch")
	w.Header().Set("Content-Type", "application/json")
	r.mu.Lock()
	r.paths = append(r.paths, req.URL.Path)
	r.mu.Unlock()

	switch {
	case strings.HasSuffix(req.URL.Path, "/_bulk"):
		_, _ = w.Write([]byte(`{"errors":false,"items":[]}`))
	case strings.HasSuffix(req.URL.Path, "/_delete_by_query"):
		_, _ = w.Write([]byte(`{"deleted":1}`))
	default:
		_, _ = w.Write([]byte(`{"acknowledged":true}`))
	}
}

func (r *recordingES) calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.paths...)
}

func TestIncrementalRefreshesBetweenPhases(t *testing.T) {
	ctx := context.Background()
	src, err := sqlsource.Open(ctx, "sqlite", filepath.Join(t.TempDir(), "src.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = src.Close() })
	require.NoError(t, src.Bootstrap(ctx))
	exec(t, src, storeFixture)

	t0 := time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)
	t1 := time.Date(2024, 1, 11, 0, 0, 0, 0, time.UTC)
	require.NoError(t, src.WriteWatermark(ctx, "stores", t0))
	exec(t, src, storeChanges)

	es := &recordingES{}
	srv := httptest.NewServer(es)
	defer srv.Close()
	eng, err := elastic.New(elastic.Config{Hosts: []string{srv.URL}, PoolSize: 1, Pool: pool.Options{Attempts: 1}})
	require.NoError(t, err)

	settings, err := cache.NewSettings(0)
	require.NoError(t, err)
	idx, err := indexer.New(eng, settings)
	require.NoError(t, err)
	h, err := NewStore(src, idx)
	require.NoError(t, err)

	def := config.Definition{Name: "stores", Mode: config.ModeIncremental, Handler: StoreHandlerName, DBBatchSize: 10, ESBatchSize: 10}
	res, err := h.Incremental(ctx, def, t1)
	require.NoError(t, err)
	assert.Equal(t, Result{Created: 1, Updated: 1, Deleted: 1, WatermarkAdvanced: true}, res)

	var got []string
	for _, p := range es.calls() {
		if strings.HasPrefix(p, "/stores/") {
			got = append(got, p)
		}
	}
	assert.Equal(t, []string{
		"/stores/_bulk", "/stores/_refresh",
		"/stores/_delete_by_query", "/stores/_bulk", "/stores/_refresh",
		"/stores/_delete_by_query", "/stores/_refresh",
	}, got)
}
