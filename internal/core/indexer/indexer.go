package indexer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"idxsync/internal/config"
	"idxsync/internal/core/cache"
	"idxsync/internal/engine"
	"idxsync/internal/errs"
	"idxsync/internal/logging"
	"idxsync/internal/metrics"
)

var log = logging.Log("indexer")

const physicalLayout = "20060102150405"

// Indexer writes documents to the engine. Every engine call borrows its own
// pooled handle so a long reindex never pins one for its whole duration.
type Indexer struct {
	eng      engine.Engine
	settings *cache.Settings
}

func New(eng engine.Engine, settings *cache.Settings) (*Indexer, error) {
	if eng == nil {
		return nil, fmt.Errorf("engine is required")
	}
	return &Indexer{eng: eng, settings: settings}, nil
}

// PhysicalName is the concrete index a full reindex of alias builds at t.
func PhysicalName(alias string, t time.Time) string {
	return alias + "-" + t.UTC().Format(physicalLayout)
}

// Encode marshals docs into bulk sources.
func Encode[T any](docs []T) ([]json.RawMessage, error) {
	out := make([]json.RawMessage, 0, len(docs))
	for i := range docs {
		b, err := json.Marshal(docs[i])
		if err != nil {
			return nil, errs.Parse("encode", fmt.Sprintf("document %d", i), err)
		}
		out = append(out, b)
	}
	return out, nil
}

// FullReindex builds a fresh physical index holding docs and points the
// definition's alias at it, removing the index the alias used before. It
// returns the new physical index name.
func (x *Indexer) FullReindex(ctx context.Context, def config.Definition, docs []json.RawMessage, at time.Time) (string, error) {
	if x == nil {
		return "", fmt.Errorf("indexer is nil")
	}
	alias := strings.TrimSpace(def.Name)
	if alias == "" {
		return "", errs.Configuration("full_reindex", "index name is required")
	}
	settings, err := x.settings.Load(def.SettingsPath)
	if err != nil {
		return "", err
	}
	physical := PhysicalName(alias, at)
	l := log.WithField("index", alias).WithField("physical", physical)

	if err := x.eng.Do(ctx, func(c engine.Conn) error {
		return c.CreateIndex(ctx, physical, settings)
	}); err != nil {
		return "", err
	}
	l.Info("physical index created")

	if err := x.bulk(ctx, physical, def.ESBatchSize, docs); err != nil {
		x.dropOrphan(ctx, physical)
		return "", err
	}
	metrics.Documents.WithLabelValues(alias, "full").Add(float64(len(docs)))

	var old []string
	if err := x.eng.Do(ctx, func(c engine.Conn) error {
		var err error
		old, err = c.GetAlias(ctx, alias)
		return err
	}); err != nil {
		x.dropOrphan(ctx, physical)
		return "", err
	}

	actions := make([]engine.AliasAction, 0, len(old)+1)
	for _, name := range old {
		actions = append(actions, engine.AliasAction{Op: engine.AliasRemove, Index: name, Alias: alias})
	}
	actions = append(actions, engine.AliasAction{Op: engine.AliasAdd, Index: physical, Alias: alias})
	if err := x.eng.Do(ctx, func(c engine.Conn) error {
		return c.UpdateAliases(ctx, actions)
	}); err != nil {
		x.dropOrphan(ctx, physical)
		return "", err
	}
	l.WithField("previous", old).Info("alias switched")

	for _, name := range old {
		if name == physical {
			continue
		}
		if err := x.eng.Do(ctx, func(c engine.Conn) error {
			return c.DeleteIndex(ctx, name)
		}); err != nil {
			return physical, err
		}
	}

	if err := x.refresh(ctx, alias); err != nil {
		return physical, err
	}
	return physical, nil
}

// dropOrphan removes a physical index that never became reachable through
// the alias. Failures are only logged.
func (x *Indexer) dropOrphan(ctx context.Context, physical string) {
	err := x.eng.Do(ctx, func(c engine.Conn) error {
		return c.DeleteIndex(ctx, physical)
	})
	if err != nil {
		log.WithField("physical", physical).WithError(err).Warn("orphan index left behind")
	}
}

// Insert bulk indexes docs into the alias without rotating indexes. Insert,
// Update and Delete refresh the alias before returning so the next
// delete-by-term sees their writes.
func (x *Indexer) Insert(ctx context.Context, def config.Definition, docs []json.RawMessage) error {
	if x == nil {
		return fmt.Errorf("indexer is nil")
	}
	if len(docs) == 0 {
		return nil
	}
	if err := x.bulk(ctx, def.Name, def.ESBatchSize, docs); err != nil {
		return err
	}
	metrics.Documents.WithLabelValues(def.Name, "insert").Add(float64(len(docs)))
	return x.refresh(ctx, def.Name)
}

// Update replaces each doc: every document whose field matches the doc's
// value is deleted, then the doc is indexed again.
func (x *Indexer) Update(ctx context.Context, def config.Definition, docs []json.RawMessage, field string) error {
	if x == nil {
		return fmt.Errorf("indexer is nil")
	}
	if len(docs) == 0 {
		return nil
	}
	for _, doc := range docs {
		term, err := termOf(doc, field)
		if err != nil {
			return err
		}
		if err := x.eng.Do(ctx, func(c engine.Conn) error {
			if _, err := c.DeleteByTerm(ctx, def.Name, term); err != nil {
				return err
			}
			return c.Bulk(ctx, def.Name, []json.RawMessage{doc})
		}); err != nil {
			return err
		}
	}
	metrics.Documents.WithLabelValues(def.Name, "update").Add(float64(len(docs)))
	return x.refresh(ctx, def.Name)
}

// Delete removes every document matching each doc's field value.
func (x *Indexer) Delete(ctx context.Context, def config.Definition, docs []json.RawMessage, field string) error {
	if x == nil {
		return fmt.Errorf("indexer is nil")
	}
	if len(docs) == 0 {
		return nil
	}
	removed := 0
	for _, doc := range docs {
		term, err := termOf(doc, field)
		if err != nil {
			return err
		}
		if err := x.eng.Do(ctx, func(c engine.Conn) error {
			n, err := c.DeleteByTerm(ctx, def.Name, term)
			removed += n
			return err
		}); err != nil {
			return err
		}
	}
	metrics.Documents.WithLabelValues(def.Name, "delete").Add(float64(removed))
	return x.refresh(ctx, def.Name)
}

// LatestTimestamp returns the greatest value of field in alias, or "" when
// the index is empty.
func (x *Indexer) LatestTimestamp(ctx context.Context, alias string, field string) (string, error) {
	if x == nil {
		return "", fmt.Errorf("indexer is nil")
	}
	if strings.TrimSpace(field) == "" {
		return "", fmt.Errorf("field is required")
	}
	var res engine.SearchResult
	if err := x.eng.Do(ctx, func(c engine.Conn) error {
		var err error
		res, err = c.Search(ctx, alias, engine.SearchRequest{Size: 1, Sort: field, Desc: true, Source: []string{field}})
		return err
	}); err != nil {
		return "", err
	}
	if len(res.Hits) == 0 {
		return "", nil
	}
	var src map[string]any
	if err := json.Unmarshal(res.Hits[0].Source, &src); err != nil {
		return "", errs.Parse("latest_timestamp", "decode hit", err)
	}
	v, ok := src[field].(string)
	if !ok {
		return "", errs.Parse("latest_timestamp", fmt.Sprintf("field %q is not a string", field), nil)
	}
	return v, nil
}

func (x *Indexer) bulk(ctx context.Context, index string, batch int, docs []json.RawMessage) error {
	if batch <= 0 {
		return errs.Configuration("bulk", "es_batch_size must be > 0")
	}
	for start := 0; start < len(docs); start += batch {
		chunk := docs[start:min(start+batch, len(docs))]
		if err := x.eng.Do(ctx, func(c engine.Conn) error {
			return c.Bulk(ctx, index, chunk)
		}); err != nil {
			return err
		}
		log.WithField("index", index).Debugf("bulk chunk %d-%d", start, start+len(chunk))
	}
	return nil
}

func (x *Indexer) refresh(ctx context.Context, index string) error {
	return x.eng.Do(ctx, func(c engine.Conn) error {
		return c.Refresh(ctx, index)
	})
}

// termOf reads field from doc. Numbers stay json.Number so large keys keep
// every digit.
func termOf(doc json.RawMessage, field string) (engine.Term, error) {
	field = strings.TrimSpace(field)
	if field == "" {
		return engine.Term{}, fmt.Errorf("field is required")
	}
	dec := json.NewDecoder(bytes.NewReader(doc))
	dec.UseNumber()
	var src map[string]any
	if err := dec.Decode(&src); err != nil {
		return engine.Term{}, errs.Parse("term", "decode document", err)
	}
	v, ok := src[field]
	if !ok || v == nil {
		return engine.Term{}, errs.DataIntegrity("term", "document has no %q value", field)
	}
	return engine.Term{Field: field, Value: v}, nil
}
