package engine

import (
	"context"
	"encoding/json"
	"time"
)

type AliasOp string

const (
	AliasAdd    AliasOp = "add"
	AliasRemove AliasOp = "remove"
)

type AliasAction struct {
	Op    AliasOp
	Index string
	Alias string
}

// Term restricts a search to documents whose Field equals Value exactly.
type Term struct {
	Field string
	Value any
}

type SearchRequest struct {
	Term   *Term // nil matches all documents
	Size   int
	Sort   string
	Desc   bool
	Source []string
}

type Hit struct {
	ID     string
	Source json.RawMessage
}

type SearchResult struct {
	Total    int
	Hits     []Hit
	ScrollID string
}

// Conn is the set of search-index operations the sync pipeline needs. Names
// passed to Conn may be physical index names or aliases unless stated
// otherwise.
type Conn interface {
	CreateIndex(ctx context.Context, name string, settings json.RawMessage) error
	DeleteIndex(ctx context.Context, name string) error
	IndexExists(ctx context.Context, name string) (bool, error)

	// GetAlias returns the physical indexes alias points to; empty when the
	// alias does not exist.
	GetAlias(ctx context.Context, alias string) ([]string, error)
	// UpdateAliases applies all actions atomically.
	UpdateAliases(ctx context.Context, actions []AliasAction) error

	// Bulk indexes docs with engine-assigned ids.
	Bulk(ctx context.Context, index string, docs []json.RawMessage) error
	DeleteByTerm(ctx context.Context, index string, term Term) (int, error)
	Refresh(ctx context.Context, index string) error

	Search(ctx context.Context, index string, req SearchRequest) (SearchResult, error)
	ScrollOpen(ctx context.Context, index string, req SearchRequest, keepAlive time.Duration) (SearchResult, error)
	ScrollNext(ctx context.Context, scrollID string, keepAlive time.Duration) (SearchResult, error)
	ScrollClear(ctx context.Context, scrollID string) error
}

// Engine hands out a Conn for the duration of fn. The Conn must not be
// retained after fn returns.
type Engine interface {
	Name() string
	Do(ctx context.Context, fn func(Conn) error) error
	Status() Status
	Close() error
}

type Status struct {
	Backend string `json:"backend"`
	Idle    int    `json:"idle"`
	Size    int    `json:"size"`
}
