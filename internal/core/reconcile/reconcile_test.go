package reconcile

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"idxsync/internal/errs"
	"idxsync/internal/model"
)

func str(s string) *string { return &s }
func num(n int64) *int64   { return &n }

func TestAggregateMergesRecommendations(t *testing.T) {
	rows := []model.StoreRow{
		{Seq: 1, Name: "a", RecommendName: str("X")},
		{Seq: 1, Name: "a", RecommendName: str("Y")},
		{Seq: 2, Name: "b"},
	}
	docs := Aggregate(rows, "2024-01-01T00:00:00Z")
	require.Len(t, docs, 2)

	assert.Equal(t, int64(1), docs[0].Seq)
	assert.Equal(t, []string{"X", "Y"}, docs[0].RecommendNames)
	assert.Equal(t, int64(2), docs[1].Seq)
	assert.NotNil(t, docs[1].RecommendNames)
	assert.Empty(t, docs[1].RecommendNames)
	for _, d := range docs {
		assert.Equal(t, "2024-01-01T00:00:00Z", d.Timestamp)
	}
}

func TestAggregateKeepsDuplicatesAndSkipsNulls(t *testing.T) {
	rows := []model.StoreRow{
		{Seq: 3},
		{Seq: 3, RecommendName: str("X")},
		{Seq: 3},
		{Seq: 3, RecommendName: str("X")},
	}
	docs := Aggregate(rows, "ts")
	require.Len(t, docs, 1)
	assert.Equal(t, []string{"X", "X"}, docs[0].RecommendNames)
}

func TestAggregateUniqueKeys(t *testing.T) {
	var rows []model.StoreRow
	for i := 0; i < 50; i++ {
		rows = append(rows, model.StoreRow{Seq: int64(i % 7)})
	}
	docs := Aggregate(rows, "ts")
	assert.Len(t, docs, 7)
	seen := map[int64]bool{}
	for _, d := range docs {
		assert.False(t, seen[d.Seq])
		seen[d.Seq] = true
	}
}

func TestBuildTaxonomyDedupes(t *testing.T) {
	tax := BuildTaxonomy([]model.TaxonomyRow{
		{Seq: 1, MajorType: num(10), SubType: num(101)},
		{Seq: 1, MajorType: num(10), SubType: num(102)},
		{Seq: 1, MajorType: num(20), SubType: num(201)},
		{Seq: 1, MajorType: num(10), SubType: num(101)},
		{Seq: 2},
	})
	require.Contains(t, tax, int64(1))
	assert.Equal(t, []int64{10, 20}, tax[1].Major)
	assert.Equal(t, []int64{101, 102, 201}, tax[1].Sub)

	require.Contains(t, tax, int64(2), "null codes still register the key")
	assert.Empty(t, tax[2].Major)
	assert.Empty(t, tax[2].Sub)
}

func TestEnrich(t *testing.T) {
	tax := BuildTaxonomy([]model.TaxonomyRow{{Seq: 1, MajorType: num(10), SubType: num(101)}})
	docs := []model.StoreDoc{{Seq: 1}, {Seq: 9}}

	err := Enrich(docs, tax, true)
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.KindDataIntegrity))

	docs = []model.StoreDoc{{Seq: 1}, {Seq: 9}}
	require.NoError(t, Enrich(docs, tax, false))
	assert.Equal(t, []int64{10}, docs[0].MajorType)
	assert.Equal(t, []int64{101}, docs[0].SubType)
	assert.NotNil(t, docs[1].MajorType)
	assert.Empty(t, docs[1].MajorType)
	assert.NotNil(t, docs[1].SubType)

	docs[0].MajorType[0] = 99
	assert.Equal(t, []int64{10}, tax[1].Major, "enriched arrays must not alias the lookup")
}

func TestKeys(t *testing.T) {
	assert.Equal(t, []int64{4, 2}, Keys([]model.StoreDoc{{Seq: 4}, {Seq: 2}}))
}
