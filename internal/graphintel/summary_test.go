package graphintel

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"slm-core/internal/domain"
)

func TestTopKeysByCountOrdersDescendingThenAlphabetically(t *testing.T) {
	m := map[string]int{"beta": 2, "alpha": 2, "gamma": 5}
	got := topKeysByCount(m, 5)
	assert.Equal(t, []string{"gamma", "alpha", "beta"}, got)
}

func TestTopKeysByCountRespectsLimit(t *testing.T) {
	m := map[string]int{"a": 1, "b": 2, "c": 3, "d": 4}
	got := topKeysByCount(m, 2)
	assert.Equal(t, []string{"d", "c"}, got)
}

func TestTopKeysByCountEmptyMap(t *testing.T) {
	got := topKeysByCount(map[string]int{}, 5)
	assert.Empty(t, got)
}

func TestBuildStructuredSummaryIncludesAllSections(t *testing.T) {
	parent := &clusterBuild{cluster: domain.Cluster{ClusterName: "Infra & Deploy"}}
	cb := &clusterBuild{
		cluster: domain.Cluster{MemberCount: 4, AvgImportance: 6.5},
		parent:  parent,
	}
	summary := buildStructuredSummary(cb, []string{"kubernetes", "pipeline"}, map[string]int{"rover": 3}, map[string]int{"infra": 2})

	assert.Contains(t, summary, "Members: 4, avg importance 6.5")
	assert.Contains(t, summary, "Topics: kubernetes, pipeline")
	assert.Contains(t, summary, "Projects: rover")
	assert.Contains(t, summary, "Categories: infra")
	assert.Contains(t, summary, "Sub-cluster of: Infra & Deploy")
}

func TestBuildStructuredSummaryOmitsEmptySections(t *testing.T) {
	cb := &clusterBuild{cluster: domain.Cluster{MemberCount: 2, AvgImportance: 3.0}}
	summary := buildStructuredSummary(cb, nil, nil, nil)

	assert.Contains(t, summary, "Members: 2")
	assert.NotContains(t, summary, "Topics:")
	assert.NotContains(t, summary, "Projects:")
	assert.NotContains(t, summary, "Categories:")
	assert.NotContains(t, summary, "Sub-cluster of:")
}

func TestBuildStructuredSummaryFallsBackToGenericParentName(t *testing.T) {
	parent := &clusterBuild{cluster: domain.Cluster{ClusterName: ""}}
	cb := &clusterBuild{cluster: domain.Cluster{MemberCount: 1}, parent: parent}
	summary := buildStructuredSummary(cb, nil, nil, nil)
	assert.Contains(t, summary, "Sub-cluster of: parent cluster")
}
