package graphintel

import (
	"fmt"
	"sort"
	"strings"

	"slm-core/internal/domain"
)

// MinNameWeight is the minimum aggregate TF·IDF weight a cluster's top
// terms must clear before they're used in its name; below this the
// cluster falls back to "Cluster <id>" (§4.5 step 6).
const MinNameWeight = 0.05

// scoredTerm pairs a term with its cluster-aggregated TF·IDF weight.
type scoredTerm struct {
	term   string
	weight float64
}

// nameAndSummarize names every cluster from its members' aggregated
// entity weights and builds its structured summary (§4.5 steps 6-7).
func nameAndSummarize(clusters []*clusterBuild, vectors map[int64][]domain.Entity, notes map[int64]noteRow) {
	for _, cb := range clusters {
		termWeights := map[string]float64{}
		var importanceSum float64
		projects := map[string]int{}
		categories := map[string]int{}
		for _, id := range cb.members {
			for _, e := range vectors[id] {
				termWeights[e.Term] += e.Weight
			}
			if nr, ok := notes[id]; ok {
				importanceSum += float64(nr.importance)
				if nr.project != "" {
					projects[nr.project]++
				}
				if nr.category != "" {
					categories[nr.category]++
				}
			}
		}

		var top []scoredTerm
		for t, w := range termWeights {
			top = append(top, scoredTerm{t, w})
		}
		sort.Slice(top, func(i, j int) bool {
			if top[i].weight != top[j].weight {
				return top[i].weight > top[j].weight
			}
			return top[i].term < top[j].term
		})

		topEntities := make([]string, 0, 8)
		for i := 0; i < len(top) && i < 8; i++ {
			topEntities = append(topEntities, top[i].term)
		}
		cb.cluster.TopEntities = topEntities

		cb.cluster.ClusterName = deriveName(top)
		cb.cluster.MemberCount = len(cb.members)
		if len(cb.members) > 0 {
			cb.cluster.AvgImportance = importanceSum / float64(len(cb.members))
		}
		cb.cluster.Description = describeTopics(topEntities)
		cb.cluster.Summary = buildStructuredSummary(cb, topEntities, projects, categories)
	}
}

func deriveName(top []scoredTerm) string {
	var picked []string
	var weightSum float64
	for i := 0; i < len(top) && i < 3; i++ {
		picked = append(picked, top[i].term)
		weightSum += top[i].weight
	}
	if len(picked) < 2 || weightSum < MinNameWeight {
		return ""
	}
	sep := " & "
	if len(picked) == 3 {
		sep = " — "
	}
	return strings.Join(picked, sep)
}

func describeTopics(topEntities []string) string {
	if len(topEntities) == 0 {
		return ""
	}
	n := len(topEntities)
	if n > 5 {
		n = 5
	}
	return "Key topics: " + strings.Join(topEntities[:n], ", ")
}

// FinalizeName fills in the "Cluster <id>" fallback once a cluster has a
// real persisted id (the in-memory name derivation can't know the id yet).
func FinalizeName(c *domain.Cluster) {
	if strings.TrimSpace(c.ClusterName) == "" {
		c.ClusterName = fmt.Sprintf("Cluster %d", c.ID)
	}
}
