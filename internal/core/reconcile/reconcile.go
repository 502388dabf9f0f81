package reconcile

import (
	"sort"

	"idxsync/internal/errs"
	"idxsync/internal/model"
)

// Aggregate folds denormalized rows into one document per key. Every
// document carries ts. Recommendation names are appended in row order with
// nulls skipped and duplicates kept. The result is sorted by key.
func Aggregate(rows []model.StoreRow, ts string) []model.StoreDoc {
	byKey := make(map[int64]*model.StoreDoc, len(rows))
	order := make([]int64, 0, len(rows))

	for _, r := range rows {
		doc, ok := byKey[r.Seq]
		if ok {
			if r.RecommendName != nil {
				doc.RecommendNames = append(doc.RecommendNames, *r.RecommendName)
			}
			continue
		}
		doc = &model.StoreDoc{
			Timestamp:        ts,
			Seq:              r.Seq,
			Name:             r.Name,
			Type:             r.Type,
			Address:          r.Address,
			Lat:              r.Lat,
			Lng:              r.Lng,
			ZeroPossible:     r.ZeroPossible,
			RecommendNames:   []string{},
			LocationCity:     r.LocationCity,
			LocationCounty:   r.LocationCounty,
			LocationDistrict: r.LocationDistrict,
		}
		if r.RecommendName != nil {
			doc.RecommendNames = append(doc.RecommendNames, *r.RecommendName)
		}
		byKey[r.Seq] = doc
		order = append(order, r.Seq)
	}

	sort.Slice(order, func(i, j int) bool { return order[i] < order[j] })
	out := make([]model.StoreDoc, 0, len(order))
	for _, k := range order {
		out = append(out, *byKey[k])
	}
	return out
}

type Categories struct {
	Major []int64
	Sub   []int64
}

// Taxonomy maps an entity key to its category codes.
type Taxonomy map[int64]*Categories

// BuildTaxonomy groups rows by key. Codes are deduplicated per key in first
// seen order; a row with null codes still registers its key.
func BuildTaxonomy(rows []model.TaxonomyRow) Taxonomy {
	tax := make(Taxonomy, len(rows))
	seenMajor := map[int64]map[int64]struct{}{}
	seenSub := map[int64]map[int64]struct{}{}

	for _, r := range rows {
		c, ok := tax[r.Seq]
		if !ok {
			c = &Categories{Major: []int64{}, Sub: []int64{}}
			tax[r.Seq] = c
			seenMajor[r.Seq] = map[int64]struct{}{}
			seenSub[r.Seq] = map[int64]struct{}{}
		}
		if r.MajorType != nil {
			if _, dup := seenMajor[r.Seq][*r.MajorType]; !dup {
				seenMajor[r.Seq][*r.MajorType] = struct{}{}
				c.Major = append(c.Major, *r.MajorType)
			}
		}
		if r.SubType != nil {
			if _, dup := seenSub[r.Seq][*r.SubType]; !dup {
				seenSub[r.Seq][*r.SubType] = struct{}{}
				c.Sub = append(c.Sub, *r.SubType)
			}
		}
	}
	return tax
}

// Enrich attaches category codes to docs in place. With strict set, a key
// missing from tax is a data integrity error; otherwise it gets empty
// arrays.
func Enrich(docs []model.StoreDoc, tax Taxonomy, strict bool) error {
	for i := range docs {
		c, ok := tax[docs[i].Seq]
		if !ok {
			if strict {
				return errs.DataIntegrity("enrich", "store %d missing from taxonomy lookup", docs[i].Seq)
			}
			docs[i].MajorType = []int64{}
			docs[i].SubType = []int64{}
			continue
		}
		docs[i].MajorType = append([]int64{}, c.Major...)
		docs[i].SubType = append([]int64{}, c.Sub...)
	}
	return nil
}

// Keys returns the entity keys of docs in order.
func Keys(docs []model.StoreDoc) []int64 {
	out := make([]int64, len(docs))
	for i, d := range docs {
		out[i] = d.Seq
	}
	return out
}
