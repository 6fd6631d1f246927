package search

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"slm-core/internal/config"
	"slm-core/internal/domain"
)

func note(id int64) domain.Note { return domain.Note{ID: id} }

func TestWeightedFuseCombinesAllThreeSignals(t *testing.T) {
	notes := map[int64]domain.Note{1: note(1), 2: note(2)}
	keyword := map[int64]float64{1: 1.0}
	term := map[int64]float64{1: 0.5, 2: 0.8}
	graph := map[int64]float64{2: 0.2}
	weights := config.SearchWeights{Keyword: 0.5, Term: 0.3, Graph: 0.2}

	hits := weightedFuse(notes, keyword, term, graph, weights)
	require.Len(t, hits, 2)

	byID := map[int64]domain.Hit{}
	for _, h := range hits {
		byID[h.Note.ID] = h
	}
	assert.InDelta(t, 0.5*1.0+0.3*0.5, byID[1].Score, 1e-9)
	assert.InDelta(t, 0.3*0.8+0.2*0.2, byID[2].Score, 1e-9)
	assert.ElementsMatch(t, []string{"keyword", "term"}, byID[1].Sources)
	assert.ElementsMatch(t, []string{"term", "graph"}, byID[2].Sources)
}

func TestRRFFuseRanksIndependentlyPerSignal(t *testing.T) {
	notes := map[int64]domain.Note{1: note(1), 2: note(2), 3: note(3)}
	keyword := map[int64]float64{1: 10, 2: 5}
	term := map[int64]float64{2: 9, 3: 4}
	graph := map[int64]float64{}
	k := 60

	hits := rrfFuse(notes, keyword, term, graph, k)
	byID := map[int64]float64{}
	for _, h := range hits {
		byID[h.Note.ID] = h.Score
	}
	// note 2 ranks 1st in term and 2nd in keyword: it should outrank note 1
	// (2nd in keyword only) and note 3 (2nd in term only).
	assert.Greater(t, byID[2], byID[1])
	assert.Greater(t, byID[2], byID[3])
}

func TestApplyFiltersNoFilterReturnsAllUnchanged(t *testing.T) {
	hits := []domain.Hit{{Note: note(1)}, {Note: note(2)}}
	out := applyFilters(hits, Filters{})
	assert.Equal(t, hits, out)
}

func TestApplyFiltersByProjectAndImportance(t *testing.T) {
	hits := []domain.Hit{
		{Note: domain.Note{ID: 1, ProjectName: "alpha", Importance: 8}},
		{Note: domain.Note{ID: 2, ProjectName: "beta", Importance: 9}},
		{Note: domain.Note{ID: 3, ProjectName: "alpha", Importance: 2}},
	}
	out := applyFilters(hits, Filters{Project: "alpha", MinImportance: 5})
	require.Len(t, out, 1)
	assert.Equal(t, int64(1), out[0].Note.ID)
}

func TestApplyFiltersRequiresAllTags(t *testing.T) {
	hits := []domain.Hit{
		{Note: domain.Note{ID: 1, Tags: []string{"go", "infra"}}},
		{Note: domain.Note{ID: 2, Tags: []string{"go"}}},
	}
	out := applyFilters(hits, Filters{Tags: []string{"go", "infra"}})
	require.Len(t, out, 1)
	assert.Equal(t, int64(1), out[0].Note.ID)
}

func TestFilterHashStableAcrossTagOrder(t *testing.T) {
	a := Filters{Tags: []string{"b", "a"}, Project: "x"}
	b := Filters{Tags: []string{"a", "b"}, Project: "x"}
	assert.Equal(t, filterHash(a), filterHash(b))
}

func TestFilterHashDiffersOnProject(t *testing.T) {
	a := Filters{Project: "alpha"}
	b := Filters{Project: "beta"}
	assert.NotEqual(t, filterHash(a), filterHash(b))
}

func TestHasAllTagsRequiresEveryWantedTag(t *testing.T) {
	assert.True(t, hasAllTags([]string{"a", "b", "c"}, []string{"a", "c"}))
	assert.False(t, hasAllTags([]string{"a"}, []string{"a", "b"}))
}

func TestInvalidateDropsOnlyMatchingProfile(t *testing.T) {
	s := &Searcher{cache: newResultCache(10, time.Minute)}
	s.cache.put(cacheKey{profile: "default", query: "q"}, []domain.Hit{{Note: note(1)}})
	s.cache.put(cacheKey{profile: "work", query: "q"}, []domain.Hit{{Note: note(2)}})

	s.Invalidate("default")

	_, ok := s.cache.get(cacheKey{profile: "default", query: "q"})
	assert.False(t, ok)
	_, ok = s.cache.get(cacheKey{profile: "work", query: "q"})
	assert.True(t, ok)
}
