package source

import (
	"context"
	"time"

	"idxsync/internal/model"
)

type ChangeKind string

const (
	ChangeCreated ChangeKind = "create"
	ChangeUpdated ChangeKind = "update"
	ChangeDeleted ChangeKind = "delete"
)

// Window selects entities touched in (From, To]. Created matches active
// entities by registration time, Updated active entities by modification
// time and Deleted inactive entities by modification time.
type Window struct {
	Kind ChangeKind
	From time.Time
	To   time.Time
}

// Source is the relational system of record. Pages are keyed by a strictly
// increasing entity key: a page holds every row of the keys it covers, and
// the next page starts after the largest key seen. An empty page ends the
// scan.
type Source interface {
	// FetchSnapshotPage returns active entities; recommendations count as
	// active when they have not expired at at.
	FetchSnapshotPage(ctx context.Context, at time.Time, cursor int64, batch int) ([]model.StoreRow, error)
	FetchChangedPage(ctx context.Context, w Window, cursor int64, batch int) ([]model.StoreRow, error)
	// FetchTaxonomy returns category rows for keys, or for every active
	// entity when keys is nil.
	FetchTaxonomy(ctx context.Context, keys []int64) ([]model.TaxonomyRow, error)

	ReadWatermark(ctx context.Context, name string) (time.Time, error)
	WriteWatermark(ctx context.Context, name string, ts time.Time) error

	Close() error
}

// Drain pages through fetch until it returns an empty page.
func Drain(ctx context.Context, fetch func(ctx context.Context, cursor int64) ([]model.StoreRow, error)) ([]model.StoreRow, error) {
	var out []model.StoreRow
	var cursor int64
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		page, err := fetch(ctx, cursor)
		if err != nil {
			return nil, err
		}
		if len(page) == 0 {
			return out, nil
		}
		out = append(out, page...)
		cursor = page[len(page)-1].Seq
	}
}
