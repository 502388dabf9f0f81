package elastic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/elastic/go-elasticsearch/v8/esapi"

	"idxsync/internal/engine"
	"idxsync/internal/errs"
)

// Handle bundles one client per node. A Handle is the unit stored in the
// connection pool and implements engine.Conn.
type Handle struct {
	nodes   []*Node
	timeout time.Duration
}

var _ engine.Conn = (*Handle)(nil)

func NewHandle(nodes []*Node, timeout time.Duration) *Handle {
	return &Handle{nodes: nodes, timeout: timeout}
}

func (h *Handle) Nodes() []*Node {
	return h.nodes
}

func (h *Handle) send(ctx context.Context, build func() esapi.Request) (response, error) {
	return Execute(ctx, h.nodes, func(ctx context.Context, n *Node) (response, error) {
		return n.perform(ctx, h.timeout, build())
	})
}

func (h *Handle) CreateIndex(ctx context.Context, name string, settings json.RawMessage) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("index name is required")
	}
	res, err := h.send(ctx, func() esapi.Request {
		req := esapi.IndicesCreateRequest{Index: name}
		if len(settings) > 0 {
			req.Body = bytes.NewReader(settings)
		}
		return req
	})
	if err != nil {
		return err
	}
	return expectEmpty("create_index", res)
}

func (h *Handle) DeleteIndex(ctx context.Context, name string) error {
	res, err := h.send(ctx, func() esapi.Request {
		return esapi.IndicesDeleteRequest{Index: []string{name}}
	})
	if err != nil {
		return err
	}
	return expectEmpty("delete_index", res)
}

func (h *Handle) IndexExists(ctx context.Context, name string) (bool, error) {
	res, err := h.send(ctx, func() esapi.Request {
		return esapi.IndicesExistsRequest{Index: []string{name}}
	})
	if err != nil {
		return false, err
	}
	switch res.Status {
	case 200:
		return true, nil
	case 404:
		return false, nil
	default:
		return false, errs.RemoteProtocol("index_exists", res.Status, string(res.Body))
	}
}

func (h *Handle) GetAlias(ctx context.Context, alias string) ([]string, error) {
	res, err := h.send(ctx, func() esapi.Request {
		return esapi.IndicesGetAliasRequest{Name: []string{alias}}
	})
	if err != nil {
		return nil, err
	}
	if res.Status == 404 {
		return nil, nil
	}
	var body map[string]json.RawMessage
	if err := expectJSON("get_alias", res, &body); err != nil {
		return nil, err
	}
	out := make([]string, 0, len(body))
	for index := range body {
		out = append(out, index)
	}
	sort.Strings(out)
	return out, nil
}

func (h *Handle) UpdateAliases(ctx context.Context, actions []engine.AliasAction) error {
	if len(actions) == 0 {
		return nil
	}
	type target struct {
		Index string `json:"index"`
		Alias string `json:"alias"`
	}
	payload := struct {
		Actions []map[string]target `json:"actions"`
	}{}
	for _, a := range actions {
		switch a.Op {
		case engine.AliasAdd, engine.AliasRemove:
		default:
			return fmt.Errorf("invalid alias action %q", a.Op)
		}
		payload.Actions = append(payload.Actions, map[string]target{
			string(a.Op): {Index: a.Index, Alias: a.Alias},
		})
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	res, err := h.send(ctx, func() esapi.Request {
		return esapi.IndicesUpdateAliasesRequest{Body: bytes.NewReader(body)}
	})
	if err != nil {
		return err
	}
	return expectEmpty("update_aliases", res)
}

func (h *Handle) Bulk(ctx context.Context, index string, docs []json.RawMessage) error {
	if len(docs) == 0 {
		return nil
	}
	var buf bytes.Buffer
	for _, d := range docs {
		buf.WriteString(`{"index":{}}`)
		buf.WriteByte('\n')
		buf.Write(bytes.TrimSpace(d))
		buf.WriteByte('\n')
	}
	body := buf.Bytes()
	res, err := h.send(ctx, func() esapi.Request {
		return esapi.BulkRequest{Index: index, Body: bytes.NewReader(body)}
	})
	if err != nil {
		return err
	}
	var out bulkResponse
	if err := expectJSON("bulk", res, &out); err != nil {
		return err
	}
	if out.Errors {
		status, detail, _ := out.firstFailure()
		return errs.RemoteProtocol("bulk", status, detail)
	}
	return nil
}

func (h *Handle) DeleteByTerm(ctx context.Context, index string, term engine.Term) (int, error) {
	if strings.TrimSpace(term.Field) == "" {
		return 0, fmt.Errorf("term field is required")
	}
	body, err := json.Marshal(map[string]any{
		"query": map[string]any{"term": map[string]any{term.Field: term.Value}},
	})
	if err != nil {
		return 0, err
	}
	res, err := h.send(ctx, func() esapi.Request {
		return esapi.DeleteByQueryRequest{
			Index:     []string{index},
			Body:      bytes.NewReader(body),
			Conflicts: "proceed",
		}
	})
	if err != nil {
		return 0, err
	}
	var out struct {
		Deleted int `json:"deleted"`
	}
	if err := expectJSON("delete_by_query", res, &out); err != nil {
		return 0, err
	}
	return out.Deleted, nil
}

func (h *Handle) Refresh(ctx context.Context, index string) error {
	res, err := h.send(ctx, func() esapi.Request {
		return esapi.IndicesRefreshRequest{Index: []string{index}}
	})
	if err != nil {
		return err
	}
	return expectEmpty("refresh", res)
}

func searchBody(req engine.SearchRequest) ([]byte, error) {
	body := map[string]any{}
	if req.Term != nil {
		body["query"] = map[string]any{"term": map[string]any{req.Term.Field: req.Term.Value}}
	} else {
		body["query"] = map[string]any{"match_all": map[string]any{}}
	}
	if req.Size > 0 {
		body["size"] = req.Size
	}
	if req.Sort != "" {
		order := "asc"
		if req.Desc {
			order = "desc"
		}
		body["sort"] = []any{map[string]any{req.Sort: map[string]any{"order": order}}}
	}
	if len(req.Source) > 0 {
		body["_source"] = req.Source
	}
	return json.Marshal(body)
}

func decodeSearch(op string, res response) (engine.SearchResult, error) {
	var out searchResponse
	if err := expectJSON(op, res, &out); err != nil {
		return engine.SearchResult{}, err
	}
	r := engine.SearchResult{Total: out.Hits.Total.Value, ScrollID: out.ScrollID}
	for _, hit := range out.Hits.Hits {
		r.Hits = append(r.Hits, engine.Hit{ID: hit.ID, Source: hit.Source})
	}
	return r, nil
}

func (h *Handle) Search(ctx context.Context, index string, req engine.SearchRequest) (engine.SearchResult, error) {
	body, err := searchBody(req)
	if err != nil {
		return engine.SearchResult{}, err
	}
	res, err := h.send(ctx, func() esapi.Request {
		return esapi.SearchRequest{Index: []string{index}, Body: bytes.NewReader(body)}
	})
	if err != nil {
		return engine.SearchResult{}, err
	}
	return decodeSearch("search", res)
}

func (h *Handle) ScrollOpen(ctx context.Context, index string, req engine.SearchRequest, keepAlive time.Duration) (engine.SearchResult, error) {
	body, err := searchBody(req)
	if err != nil {
		return engine.SearchResult{}, err
	}
	res, err := h.send(ctx, func() esapi.Request {
		return esapi.SearchRequest{Index: []string{index}, Body: bytes.NewReader(body), Scroll: keepAlive}
	})
	if err != nil {
		return engine.SearchResult{}, err
	}
	return decodeSearch("scroll_open", res)
}

func (h *Handle) ScrollNext(ctx context.Context, scrollID string, keepAlive time.Duration) (engine.SearchResult, error) {
	res, err := h.send(ctx, func() esapi.Request {
		return esapi.ScrollRequest{ScrollID: scrollID, Scroll: keepAlive}
	})
	if err != nil {
		return engine.SearchResult{}, err
	}
	return decodeSearch("scroll_next", res)
}

func (h *Handle) ScrollClear(ctx context.Context, scrollID string) error {
	res, err := h.send(ctx, func() esapi.Request {
		return esapi.ClearScrollRequest{ScrollID: []string{scrollID}}
	})
	if err != nil {
		return err
	}
	return expectEmpty("scroll_clear", res)
}
