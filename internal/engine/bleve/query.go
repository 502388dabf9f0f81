package bleve

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/blevesearch/bleve/v2"
	bquery "github.com/blevesearch/bleve/v2/search/query"
	"github.com/google/uuid"

	"idxsync/internal/engine"
	"idxsync/internal/errs"
)

func buildQuery(term *engine.Term) bquery.Query {
	if term == nil {
		return bleve.NewMatchAllQuery()
	}
	if f, ok := toFloat(term.Value); ok {
		q := bleve.NewNumericRangeInclusiveQuery(&f, &f, &inclusive, &inclusive)
		q.SetField(term.Field)
		return q
	}
	if b, ok := term.Value.(bool); ok {
		q := bleve.NewBoolFieldQuery(b)
		q.SetField(term.Field)
		return q
	}
	q := bleve.NewTermQuery(fmt.Sprint(term.Value))
	q.SetField(term.Field)
	return q
}

var inclusive = true

func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case int32:
		return float64(t), true
	case uint64:
		return float64(t), true
	case uint32:
		return float64(t), true
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

// project keeps only the requested top-level fields of a source document.
func project(src []byte, fields []string) json.RawMessage {
	if len(src) == 0 || len(fields) == 0 {
		return src
	}
	var all map[string]json.RawMessage
	if err := json.Unmarshal(src, &all); err != nil {
		return src
	}
	out := make(map[string]json.RawMessage, len(fields))
	for _, f := range fields {
		if v, ok := all[f]; ok {
			out[f] = v
		}
	}
	buf, err := json.Marshal(out)
	if err != nil {
		return src
	}
	return buf
}

type scrollState struct {
	index    string
	req      engine.SearchRequest
	from     int
	deadline time.Time
}

func (e *Engine) ScrollOpen(ctx context.Context, index string, req engine.SearchRequest, keepAlive time.Duration) (engine.SearchResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	res, err := e.search("scroll_open", index, req, 0)
	if err != nil {
		return engine.SearchResult{}, err
	}
	id := uuid.NewString()
	e.scrolls[id] = &scrollState{index: index, req: req, from: len(res.Hits), deadline: time.Now().Add(keepAlive)}
	res.ScrollID = id
	return res, nil
}

func (e *Engine) ScrollNext(ctx context.Context, scrollID string, keepAlive time.Duration) (engine.SearchResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	st, ok := e.scrolls[scrollID]
	if !ok || time.Now().After(st.deadline) {
		delete(e.scrolls, scrollID)
		return engine.SearchResult{}, errs.RemoteProtocol("scroll_next", 404, fmt.Sprintf(`{"error":"search_context_missing_exception","scroll_id":%q}`, scrollID))
	}
	res, err := e.search("scroll_next", st.index, st.req, st.from)
	if err != nil {
		return engine.SearchResult{}, err
	}
	st.from += len(res.Hits)
	st.deadline = time.Now().Add(keepAlive)
	res.ScrollID = scrollID
	return res, nil
}

func (e *Engine) ScrollClear(ctx context.Context, scrollID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.scrolls, scrollID)
	return nil
}
