package graphintel

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"slm-core/internal/domain"
	"slm-core/internal/terms"
)

func sw() *terms.Stopwords { return terms.Default() }

func TestComputeEdgesCanonicalizesSourceBeforeTarget(t *testing.T) {
	b := &Builder{sw: sw()}
	notes := []noteRow{
		{id: 50, content: "graph database indexing terms"},
		{id: 10, content: "graph database indexing terms"},
	}
	docs := []terms.Document{
		{MemoryID: 50, Content: notes[0].content},
		{MemoryID: 10, Content: notes[1].content},
	}
	vectors := terms.Extract(docs, sw())
	edges, err := b.computeEdges(make(chan struct{}), notes, vectors, 0.01)
	require.NoError(t, err)
	require.Len(t, edges, 1)
	assert.Less(t, edges[0].Source, edges[0].Target)
	assert.Equal(t, int64(10), edges[0].Source)
	assert.Equal(t, int64(50), edges[0].Target)
}

func TestComputeEdgesPrunesBelowThreshold(t *testing.T) {
	b := &Builder{sw: sw()}
	notes := []noteRow{
		{id: 1, content: "kubernetes deployment pipeline"},
		{id: 2, content: "grocery shopping list eggs milk"},
	}
	docs := []terms.Document{
		{MemoryID: 1, Content: notes[0].content},
		{MemoryID: 2, Content: notes[1].content},
	}
	vectors := terms.Extract(docs, sw())
	edges, err := b.computeEdges(make(chan struct{}), notes, vectors, 0.9)
	require.NoError(t, err)
	assert.Empty(t, edges)
}

func TestProfileSeedIsDeterministic(t *testing.T) {
	s1 := profileSeed("default", 12)
	s2 := profileSeed("default", 12)
	assert.Equal(t, s1, s2)
}

func TestProfileSeedVariesByProfileAndCount(t *testing.T) {
	base := profileSeed("default", 12)
	assert.NotEqual(t, base, profileSeed("work", 12))
	assert.NotEqual(t, base, profileSeed("default", 13))
}

func TestBuildIndexedGraphMapsIDsToDenseIndices(t *testing.T) {
	ids := []int64{100, 200, 300}
	edges := []domain.GraphEdge{{Source: 100, Target: 300, Similarity: 0.5}}
	g, idToIdx, idxToID := buildIndexedGraph(ids, edges)
	require.Equal(t, 3, g.n)
	assert.Equal(t, int64(100), idxToID[idToIdx[100]])
	assert.Greater(t, g.adj[idToIdx[100]][idToIdx[300]], 0.0)
}

func TestSortedMemberCountsOrdersDescendingThenByID(t *testing.T) {
	groups := map[int][]int64{
		2: {1, 2, 3},
		1: {1, 2},
		3: {1, 2, 3},
	}
	keys := sortedMemberCounts(groups)
	assert.Equal(t, []int{2, 3, 1}, keys)
}
