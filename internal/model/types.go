package model

import "time"

// TimestampLayout is the wire format of StoreDoc.Timestamp.
const TimestampLayout = "2006-01-02T15:04:05Z"

// StoreRow is one denormalized join row: a store repeated once per active
// recommendation it belongs to.
type StoreRow struct {
	Seq              int64
	Name             string
	Type             *string
	Address          *string
	Lat              float64
	Lng              float64
	ZeroPossible     bool
	RecommendName    *string
	LocationCity     *string
	LocationCounty   *string
	LocationDistrict *string
}

// StoreDoc is the deduplicated document written to the search engine.
type StoreDoc struct {
	Timestamp        string   `json:"timestamp"`
	Seq              int64    `json:"seq"`
	Name             string   `json:"name"`
	Type             *string  `json:"type"`
	Address          *string  `json:"address"`
	Lat              float64  `json:"lat"`
	Lng              float64  `json:"lng"`
	ZeroPossible     bool     `json:"zero_possible"`
	RecommendNames   []string `json:"recommend_names"`
	LocationCity     *string  `json:"location_city"`
	LocationCounty   *string  `json:"location_county"`
	LocationDistrict *string  `json:"location_district"`
	MajorType        []int64  `json:"major_type"`
	SubType          []int64  `json:"sub_type"`
}

// TaxonomyRow links a store to one sub category. A store without categories
// yields a single row with both codes nil.
type TaxonomyRow struct {
	Seq       int64
	MajorType *int64
	SubType   *int64
}

// ChangeSet is the outcome of one incremental reconciliation cycle.
type ChangeSet struct {
	Created []StoreDoc
	Updated []StoreDoc
	Deleted []StoreDoc
}

func (c ChangeSet) Empty() bool {
	return len(c.Created) == 0 && len(c.Updated) == 0 && len(c.Deleted) == 0
}

// FormatTimestamp renders t in UTC using TimestampLayout.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}
