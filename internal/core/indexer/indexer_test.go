package indexer

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"idxsync/internal/config"
	"idxsync/internal/core/cache"
	"idxsync/internal/engine"
	"idxsync/internal/engine/bleve"
	"idxsync/internal/errs"
	"idxsync/internal/model"
)

func newIndexer(t *testing.T) (*Indexer, *bleve.Engine, config.Definition) {
	t.Helper()
	dir := t.TempDir()
	eng, err := bleve.Open(filepath.Join(dir, "engine"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = eng.Close() })

	settingsPath := filepath.Join(dir, "stores.json")
	require.NoError(t, os.WriteFile(settingsPath, []byte(`{"settings":{"number_of_shards":1}}`), 0o644))

	settings, err := cache.NewSettings(0)
	require.NoError(t, err)
	x, err := New(eng, settings)
	require.NoError(t, err)

	def := config.Definition{
		Name:         "stores",
		Cron:         "0 0 * * * *",
		Mode:         config.ModeFull,
		SettingsPath: settingsPath,
		Handler:      "store",
		DBBatchSize:  10,
		ESBatchSize:  2,
	}
	return x, eng, def
}

func encode(t *testing.T, docs ...model.StoreDoc) []json.RawMessage {
	t.Helper()
	out, err := Encode(docs)
	require.NoError(t, err)
	return out
}

func count(t *testing.T, eng engine.Engine, index string, term *engine.Term) int {
	t.Helper()
	var total int
	require.NoError(t, eng.Do(context.Background(), func(c engine.Conn) error {
		res, err := c.Search(context.Background(), index, engine.SearchRequest{Term: term, Size: 100})
		total = res.Total
		return err
	}))
	return total
}

func aliasTargets(t *testing.T, eng engine.Engine, alias string) []string {
	t.Helper()
	var got []string
	require.NoError(t, eng.Do(context.Background(), func(c engine.Conn) error {
		var err error
		got, err = c.GetAlias(context.Background(), alias)
		return err
	}))
	return got
}

func TestPhysicalName(t *testing.T) {
	at := time.Date(2024, 3, 4, 5, 6, 7, 0, time.FixedZone("KST", 9*3600))
	assert.Equal(t, "stores-20240303200607", PhysicalName("stores", at))
}

func TestFullReindexSwapsAlias(t *testing.T) {
	x, eng, def := newIndexer(t)
	ctx := context.Background()
	t1 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Hour)

	first, err := x.FullReindex(ctx, def, encode(t, model.StoreDoc{Seq: 1}, model.StoreDoc{Seq: 2}, model.StoreDoc{Seq: 3}), t1)
	require.NoError(t, err)
	assert.Equal(t, []string{first}, aliasTargets(t, eng, "stores"))
	assert.Equal(t, 3, count(t, eng, "stores", nil))

	second, err := x.FullReindex(ctx, def, encode(t, model.StoreDoc{Seq: 9}), t2)
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
	assert.Equal(t, []string{second}, aliasTargets(t, eng, "stores"))
	assert.Equal(t, 1, count(t, eng, "stores", nil))

	require.NoError(t, eng.Do(ctx, func(c engine.Conn) error {
		ok, err := c.IndexExists(ctx, first)
		assert.False(t, ok, "previous physical index is deleted")
		return err
	}))
}

func TestFullReindexRequiresSettings(t *testing.T) {
	x, eng, def := newIndexer(t)
	def.SettingsPath = filepath.Join(t.TempDir(), "missing.json")

	_, err := x.FullReindex(context.Background(), def, nil, time.Now())
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.KindConfiguration))
	assert.Empty(t, aliasTargets(t, eng, "stores"))
}

func TestIncrementalWrites(t *testing.T) {
	x, eng, def := newIndexer(t)
	ctx := context.Background()
	_, err := x.FullReindex(ctx, def, encode(t, model.StoreDoc{Seq: 1, Name: "a"}, model.StoreDoc{Seq: 2, Name: "b"}), time.Now())
	require.NoError(t, err)

	require.NoError(t, x.Insert(ctx, def, encode(t, model.StoreDoc{Seq: 3, Name: "c"})))
	assert.Equal(t, 3, count(t, eng, "stores", nil))

	require.NoError(t, x.Update(ctx, def, encode(t, model.StoreDoc{Seq: 2, Name: "b2"}), "seq"))
	assert.Equal(t, 3, count(t, eng, "stores", nil))
	assert.Equal(t, 1, count(t, eng, "stores", &engine.Term{Field: "name", Value: "b2"}))
	assert.Equal(t, 0, count(t, eng, "stores", &engine.Term{Field: "name", Value: "b"}))

	require.NoError(t, x.Delete(ctx, def, encode(t, model.StoreDoc{Seq: 1}), "seq"))
	assert.Equal(t, 2, count(t, eng, "stores", nil))
	assert.Equal(t, 0, count(t, eng, "stores", &engine.Term{Field: "seq", Value: 1}))
}

func TestUpdateRequiresField(t *testing.T) {
	x, _, def := newIndexer(t)
	err := x.Update(context.Background(), def, []json.RawMessage{json.RawMessage(`{"name":"x"}`)}, "seq")
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.KindDataIntegrity))
}

func TestLatestTimestamp(t *testing.T) {
	x, _, def := newIndexer(t)
	ctx := context.Background()
	_, err := x.FullReindex(ctx, def, encode(t,
		model.StoreDoc{Seq: 1, Timestamp: "2024-01-01T00:00:00Z"},
		model.StoreDoc{Seq: 2, Timestamp: "2024-02-01T00:00:00Z"},
	), time.Now())
	require.NoError(t, err)

	got, err := x.LatestTimestamp(ctx, "stores", "timestamp")
	require.NoError(t, err)
	assert.Equal(t, "2024-02-01T00:00:00Z", got)
}

func TestTermKeepsLargeKeysExact(t *testing.T) {
	term, err := termOf(json.RawMessage(`{"seq":9007199254740993,"name":"x"}`), "seq")
	require.NoError(t, err)
	assert.Equal(t, json.Number("9007199254740993"), term.Value)

	body, err := json.Marshal(map[string]any{"term": map[string]any{term.Field: term.Value}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"term":{"seq":9007199254740993}}`, string(body))
	assert.Contains(t, string(body), "9007199254740993")
}
