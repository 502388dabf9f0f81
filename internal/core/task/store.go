package task

import (
	"context"
	"fmt"
	"time"

	"idxsync/internal/config"
	"idxsync/internal/core/indexer"
	"idxsync/internal/core/reconcile"
	"idxsync/internal/model"
	"idxsync/internal/source"
)

// StoreHandlerName is the handler key store definitions use.
const StoreHandlerName = "store"

// keyField identifies a store document in the engine.
const keyField = "seq"

// Store synchronizes store documents from the relational source.
type Store struct {
	src source.Source
	idx *indexer.Indexer
}

var _ Handler = (*Store)(nil)

func NewStore(src source.Source, idx *indexer.Indexer) (*Store, error) {
	if src == nil {
		return nil, fmt.Errorf("source is required")
	}
	if idx == nil {
		return nil, fmt.Errorf("indexer is required")
	}
	return &Store{src: src, idx: idx}, nil
}

// Full rebuilds the index from a snapshot of every active store and then
// moves the watermark to at.
func (s *Store) Full(ctx context.Context, def config.Definition, at time.Time) (Result, error) {
	rows, err := source.Drain(ctx, func(ctx context.Context, cursor int64) ([]model.StoreRow, error) {
		return s.src.FetchSnapshotPage(ctx, at, cursor, def.DBBatchSize)
	})
	if err != nil {
		return Result{}, err
	}
	docs := reconcile.Aggregate(rows, model.FormatTimestamp(at))

	taxRows, err := s.src.FetchTaxonomy(ctx, nil)
	if err != nil {
		return Result{}, err
	}
	if err := reconcile.Enrich(docs, reconcile.BuildTaxonomy(taxRows), true); err != nil {
		return Result{}, err
	}

	raw, err := indexer.Encode(docs)
	if err != nil {
		return Result{}, err
	}
	physical, err := s.idx.FullReindex(ctx, def, raw, at)
	if err != nil {
		return Result{}, err
	}
	if err := s.src.WriteWatermark(ctx, def.Name, at); err != nil {
		return Result{Physical: physical, Indexed: len(docs)}, err
	}
	return Result{Physical: physical, Indexed: len(docs), WatermarkAdvanced: true}, nil
}

// Incremental applies the stores created, updated and deleted since the
// watermark, in that order. The watermark moves to at only when the change
// set is not empty.
func (s *Store) Incremental(ctx context.Context, def config.Definition, at time.Time) (Result, error) {
	from, err := s.src.ReadWatermark(ctx, def.Name)
	if err != nil {
		return Result{}, err
	}

	var cs model.ChangeSet
	for _, kind := range []source.ChangeKind{source.ChangeCreated, source.ChangeUpdated, source.ChangeDeleted} {
		docs, err := s.phase(ctx, def, source.Window{Kind: kind, From: from, To: at})
		if err != nil {
			return resultOf(cs), fmt.Errorf("%s phase: %w", kind, err)
		}
		switch kind {
		case source.ChangeCreated:
			cs.Created = docs
		case source.ChangeUpdated:
			cs.Updated = docs
		case source.ChangeDeleted:
			cs.Deleted = docs
		}
	}

	res := resultOf(cs)
	if cs.Empty() {
		return res, nil
	}
	if err := s.src.WriteWatermark(ctx, def.Name, at); err != nil {
		return res, err
	}
	res.WatermarkAdvanced = true
	return res, nil
}

func resultOf(cs model.ChangeSet) Result {
	return Result{Created: len(cs.Created), Updated: len(cs.Updated), Deleted: len(cs.Deleted)}
}

// phase fetches one window and applies it to the alias.
func (s *Store) phase(ctx context.Context, def config.Definition, w source.Window) ([]model.StoreDoc, error) {
	rows, err := source.Drain(ctx, func(ctx context.Context, cursor int64) ([]model.StoreRow, error) {
		return s.src.FetchChangedPage(ctx, w, cursor, def.DBBatchSize)
	})
	if err != nil {
		return nil, err
	}
	docs := reconcile.Aggregate(rows, model.FormatTimestamp(w.To))
	if len(docs) == 0 {
		return nil, nil
	}

	if w.Kind != source.ChangeDeleted {
		taxRows, err := s.src.FetchTaxonomy(ctx, reconcile.Keys(docs))
		if err != nil {
			return nil, err
		}
		if err := reconcile.Enrich(docs, reconcile.BuildTaxonomy(taxRows), false); err != nil {
			return nil, err
		}
	}

	raw, err := indexer.Encode(docs)
	if err != nil {
		return nil, err
	}
	switch w.Kind {
	case source.ChangeCreated:
		err = s.idx.Insert(ctx, def, raw)
	case source.ChangeUpdated:
		err = s.idx.Update(ctx, def, raw, keyField)
	case source.ChangeDeleted:
		err = s.idx.Delete(ctx, def, raw, keyField)
	}
	if err != nil {
		return nil, err
	}
	return docs, nil
}
