package bleve

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/google/uuid"
	"go.etcd.io/bbolt"

	"idxsync/internal/engine"
	"idxsync/internal/errs"
	"idxsync/internal/logging"
)

var log = logging.Log("bleve")

// Engine is an embedded search backend. Physical indexes are bleve indexes
// under root/indexes; aliases, the index registry and document sources live
// in a bbolt file next to them.
type Engine struct {
	mu      sync.Mutex
	root    string
	meta    *bbolt.DB
	open    map[string]bleve.Index
	scrolls map[string]*scrollState
}

var (
	_ engine.Engine = (*Engine)(nil)
	_ engine.Conn   = (*Engine)(nil)
)

func Open(root string) (*Engine, error) {
	root = strings.TrimSpace(root)
	if root == "" {
		return nil, errs.Configuration("bleve", "path is required")
	}
	if err := os.MkdirAll(filepath.Join(root, "indexes"), 0o755); err != nil {
		return nil, err
	}
	meta, err := bbolt.Open(filepath.Join(root, "idxsync-meta.db"), 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, err
	}
	e := &Engine{
		root:    root,
		meta:    meta,
		open:    map[string]bleve.Index{},
		scrolls: map[string]*scrollState{},
	}
	if err := e.ensureBuckets(); err != nil {
		_ = meta.Close()
		return nil, err
	}
	return e, nil
}

func (e *Engine) Name() string { return "bleve" }

func (e *Engine) Do(ctx context.Context, fn func(engine.Conn) error) error {
	if e == nil || e.meta == nil {
		return errs.Configuration("bleve", "engine is not open")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(e)
}

func (e *Engine) Status() engine.Status {
	return engine.Status{Backend: "bleve", Idle: 1, Size: 1}
}

func (e *Engine) Close() error {
	if e == nil {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	for name, idx := range e.open {
		_ = idx.Close()
		delete(e.open, name)
	}
	if e.meta != nil {
		err := e.meta.Close()
		e.meta = nil
		return err
	}
	return nil
}

func buildMapping() mapping.IndexMapping {
	m := bleve.NewIndexMapping()
	m.DefaultAnalyzer = keyword.Name
	return m
}

func notFound(op, name string) error {
	return errs.RemoteProtocol(op, 404, fmt.Sprintf(`{"error":"index_not_found_exception","index":%q}`, name))
}

func (e *Engine) indexPath(name string) string {
	return filepath.Join(e.root, "indexes", name)
}

// index returns the open bleve index for a physical name. Caller holds e.mu.
func (e *Engine) index(name string) (bleve.Index, error) {
	if idx, ok := e.open[name]; ok {
		return idx, nil
	}
	idx, err := bleve.Open(e.indexPath(name))
	if err != nil {
		return nil, err
	}
	e.open[name] = idx
	return idx, nil
}

// resolve maps a physical name or alias to physical index names. Caller holds e.mu.
func (e *Engine) resolve(op, name string) ([]string, error) {
	var out []string
	err := e.meta.View(func(tx *bbolt.Tx) error {
		if hasIndex(tx, name) {
			out = []string{name}
			return nil
		}
		targets, err := aliasTargets(tx, name)
		if err != nil {
			return err
		}
		out = targets
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, notFound(op, name)
	}
	return out, nil
}

func (e *Engine) CreateIndex(ctx context.Context, name string, settings json.RawMessage) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("index name is required")
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	var exists bool
	if err := e.meta.View(func(tx *bbolt.Tx) error {
		exists = hasIndex(tx, name)
		return nil
	}); err != nil {
		return err
	}
	if exists {
		return errs.RemoteProtocol("create_index", 400, fmt.Sprintf(`{"error":"resource_already_exists_exception","index":%q}`, name))
	}

	idx, err := bleve.New(e.indexPath(name), buildMapping())
	if err != nil {
		return err
	}
	e.open[name] = idx
	log.WithField("index", name).Debug("index created")

	meta := indexMeta{Name: name, CreatedAt: nowUnix()}
	if len(settings) > 0 {
		meta.Settings = append(json.RawMessage(nil), settings...)
	}
	return e.meta.Update(func(tx *bbolt.Tx) error {
		buf, err := encode(meta)
		if err != nil {
			return err
		}
		mustDocBucket(tx, name)
		return mustBucket(tx, bucketIndexes).Put([]byte(name), buf)
	})
}

func (e *Engine) DeleteIndex(ctx context.Context, name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	var exists bool
	if err := e.meta.View(func(tx *bbolt.Tx) error {
		exists = hasIndex(tx, name)
		return nil
	}); err != nil {
		return err
	}
	if !exists {
		return notFound("delete_index", name)
	}

	if idx, ok := e.open[name]; ok {
		_ = idx.Close()
		delete(e.open, name)
	}
	if err := os.RemoveAll(e.indexPath(name)); err != nil {
		return err
	}
	return e.meta.Update(func(tx *bbolt.Tx) error {
		if err := mustBucket(tx, bucketIndexes).Delete([]byte(name)); err != nil {
			return err
		}
		if docBucket(tx, name) != nil {
			if err := mustBucket(tx, bucketDocs).DeleteBucket([]byte(name)); err != nil {
				return err
			}
		}
		ab := mustBucket(tx, bucketAliases)
		var aliases []string
		if err := ab.ForEach(func(k, _ []byte) error {
			aliases = append(aliases, string(k))
			return nil
		}); err != nil {
			return err
		}
		for _, alias := range aliases {
			targets, err := aliasTargets(tx, alias)
			if err != nil {
				return err
			}
			if err := putAliasTargets(tx, alias, without(targets, name)); err != nil {
				return err
			}
		}
		return nil
	})
}

func (e *Engine) IndexExists(ctx context.Context, name string) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, err := e.resolve("index_exists", name)
	if errs.Is(err, errs.KindRemoteProtocol) {
		return false, nil
	}
	return err == nil, err
}

func (e *Engine) GetAlias(ctx context.Context, alias string) ([]string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []string
	err := e.meta.View(func(tx *bbolt.Tx) error {
		targets, err := aliasTargets(tx, alias)
		out = targets
		return err
	})
	sort.Strings(out)
	return out, err
}

// UpdateAliases applies every action in a single bbolt transaction.
func (e *Engine) UpdateAliases(ctx context.Context, actions []engine.AliasAction) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.meta.Update(func(tx *bbolt.Tx) error {
		for _, a := range actions {
			if !hasIndex(tx, a.Index) {
				return notFound("update_aliases", a.Index)
			}
			targets, err := aliasTargets(tx, a.Alias)
			if err != nil {
				return err
			}
			switch a.Op {
			case engine.AliasAdd:
				if !contains(targets, a.Index) {
					targets = append(targets, a.Index)
				}
			case engine.AliasRemove:
				if !contains(targets, a.Index) {
					return errs.RemoteProtocol("update_aliases", 404, fmt.Sprintf(`{"error":"aliases_not_found_exception","alias":%q}`, a.Alias))
				}
				targets = without(targets, a.Index)
			default:
				return fmt.Errorf("invalid alias action %q", a.Op)
			}
			if err := putAliasTargets(tx, a.Alias, targets); err != nil {
				return err
			}
		}
		return nil
	})
}

func (e *Engine) Bulk(ctx context.Context, index string, docs []json.RawMessage) error {
	if len(docs) == 0 {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	names, err := e.resolve("bulk", index)
	if err != nil {
		return err
	}
	if len(names) != 1 {
		return errs.RemoteProtocol("bulk", 400, fmt.Sprintf(`{"error":"alias [%s] has more than one index and no write index"}`, index))
	}
	name := names[0]
	idx, err := e.index(name)
	if err != nil {
		return err
	}

	batch := idx.NewBatch()
	ids := make([]string, len(docs))
	for i, raw := range docs {
		var fields map[string]any
		if err := json.Unmarshal(raw, &fields); err != nil {
			return errs.RemoteProtocol("bulk", 400, fmt.Sprintf(`{"error":"mapper_parsing_exception","item":%d}`, i))
		}
		ids[i] = uuid.NewString()
		if err := batch.Index(ids[i], fields); err != nil {
			return err
		}
	}
	if err := idx.Batch(batch); err != nil {
		return err
	}
	return e.meta.Update(func(tx *bbolt.Tx) error {
		b := mustDocBucket(tx, name)
		for i, raw := range docs {
			if err := b.Put([]byte(ids[i]), raw); err != nil {
				return err
			}
		}
		return nil
	})
}

func (e *Engine) DeleteByTerm(ctx context.Context, index string, term engine.Term) (int, error) {
	if strings.TrimSpace(term.Field) == "" {
		return 0, fmt.Errorf("term field is required")
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	names, err := e.resolve("delete_by_query", index)
	if err != nil {
		return 0, err
	}
	deleted := 0
	for _, name := range names {
		idx, err := e.index(name)
		if err != nil {
			return deleted, err
		}
		total, err := idx.DocCount()
		if err != nil {
			return deleted, err
		}
		if total == 0 {
			continue
		}
		req := bleve.NewSearchRequestOptions(buildQuery(&term), int(total), 0, false)
		res, err := idx.Search(req)
		if err != nil {
			return deleted, err
		}
		batch := idx.NewBatch()
		for _, hit := range res.Hits {
			batch.Delete(hit.ID)
		}
		if err := idx.Batch(batch); err != nil {
			return deleted, err
		}
		err = e.meta.Update(func(tx *bbolt.Tx) error {
			b := mustDocBucket(tx, name)
			for _, hit := range res.Hits {
				if err := b.Delete([]byte(hit.ID)); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return deleted, err
		}
		deleted += len(res.Hits)
	}
	return deleted, nil
}

// Refresh only checks that the target exists; bleve batches are searchable
// as soon as they are applied.
func (e *Engine) Refresh(ctx context.Context, index string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, err := e.resolve("refresh", index)
	return err
}

func (e *Engine) Search(ctx context.Context, index string, req engine.SearchRequest) (engine.SearchResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.search("search", index, req, 0)
}

// search runs req from offset from. Caller holds e.mu.
func (e *Engine) search(op, index string, req engine.SearchRequest, from int) (engine.SearchResult, error) {
	names, err := e.resolve(op, index)
	if err != nil {
		return engine.SearchResult{}, err
	}
	idxs := make([]bleve.Index, 0, len(names))
	for _, name := range names {
		idx, err := e.index(name)
		if err != nil {
			return engine.SearchResult{}, err
		}
		idxs = append(idxs, idx)
	}

	size := req.Size
	if size <= 0 {
		size = 10
	}
	sr := bleve.NewSearchRequestOptions(buildQuery(req.Term), size, from, false)
	if req.Sort != "" {
		field := req.Sort
		if req.Desc {
			field = "-" + field
		}
		sr.SortBy([]string{field, "_id"})
	}

	var res *bleve.SearchResult
	if len(idxs) == 1 {
		res, err = idxs[0].Search(sr)
	} else {
		res, err = bleve.NewIndexAlias(idxs...).Search(sr)
	}
	if err != nil {
		return engine.SearchResult{}, err
	}

	out := engine.SearchResult{Total: int(res.Total)}
	err = e.meta.View(func(tx *bbolt.Tx) error {
		for _, hit := range res.Hits {
			var src []byte
			for _, name := range names {
				if b := docBucket(tx, name); b != nil {
					if v := b.Get([]byte(hit.ID)); v != nil {
						src = append([]byte(nil), v...)
						break
					}
				}
			}
			out.Hits = append(out.Hits, engine.Hit{ID: hit.ID, Source: project(src, req.Source)})
		}
		return nil
	})
	return out, err
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func without(list []string, v string) []string {
	out := list[:0:0]
	for _, s := range list {
		if s != v {
			out = append(out, s)
		}
	}
	return out
}
