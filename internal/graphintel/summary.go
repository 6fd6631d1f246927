package graphintel

import (
	"fmt"
	"sort"
	"strings"
)

// buildStructuredSummary assembles the structured record §4.5 step 7
// requires: key topics, projects, categories, member count, average
// importance, and — for sub-clusters — a line naming the parent context.
func buildStructuredSummary(cb *clusterBuild, topEntities []string, projects, categories map[string]int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Members: %d, avg importance %.1f\n", cb.cluster.MemberCount, cb.cluster.AvgImportance)
	if len(topEntities) > 0 {
		fmt.Fprintf(&b, "Topics: %s\n", strings.Join(topEntities, ", "))
	}
	if len(projects) > 0 {
		fmt.Fprintf(&b, "Projects: %s\n", strings.Join(topKeysByCount(projects, 5), ", "))
	}
	if len(categories) > 0 {
		fmt.Fprintf(&b, "Categories: %s\n", strings.Join(topKeysByCount(categories, 5), ", "))
	}
	if cb.parent != nil {
		parentName := cb.parent.cluster.ClusterName
		if parentName == "" {
			parentName = "parent cluster"
		}
		fmt.Fprintf(&b, "Sub-cluster of: %s\n", parentName)
	}
	return strings.TrimRight(b.String(), "\n")
}

func topKeysByCount(m map[string]int, n int) []string {
	type kv struct {
		k string
		v int
	}
	var all []kv
	for k, v := range m {
		all = append(all, kv{k, v})
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].v != all[j].v {
			return all[i].v > all[j].v
		}
		return all[i].k < all[j].k
	})
	if len(all) > n {
		all = all[:n]
	}
	out := make([]string, len(all))
	for i, e := range all {
		out[i] = e.k
	}
	return out
}
