package graphintel

import (
	"slm-core/internal/config"
	"slm-core/internal/domain"
)

// clusterBuild is one in-progress cluster before persistence assigns it a
// real row id.
type clusterBuild struct {
	cluster     domain.Cluster // ParentClusterID left nil until persist assigns real ids
	members     []int64
	parent      *clusterBuild // in-memory parent link, resolved to an id at persist time
	hasChildren bool          // true once a sub-split produced child clusters; only leaves get note.cluster_id
}

// detectHierarchical runs community detection at the top level, then
// recurses into clusters with >= MinSplitSize members up to MaxDepth
// (§4.5 steps 4-5). It returns the flattened cluster list (all depths)
// and whether detection degraded to connected components anywhere.
func (b *Builder) detectHierarchical(notes []noteRow, edges []domain.GraphEdge, vectors map[int64][]domain.Entity, cfg config.Graph) ([]*clusterBuild, bool) {
	ids := make([]int64, len(notes))
	for i, n := range notes {
		ids[i] = n.id
	}
	degraded := false

	var recurse func(memberIDs []int64, memberEdges []domain.GraphEdge, depth int, parent *clusterBuild) []*clusterBuild
	recurse = func(memberIDs []int64, memberEdges []domain.GraphEdge, depth int, parent *clusterBuild) []*clusterBuild {
		if len(memberIDs) == 0 {
			return nil
		}
		g, _, idxToID := buildIndexedGraph(memberIDs, memberEdges)

		var comm []int
		func() {
			defer func() {
				if r := recover(); r != nil {
					degraded = true
					comm = connectedComponents(g)
				}
			}()
			seed := profileSeed("cluster", len(memberIDs)) + uint64(depth)
			comm = louvainCommunities(g, cfg.Resolution, seed)
		}()

		groups := map[int][]int64{}
		for idx, c := range comm {
			groups[c] = append(groups[c], idxToID[idx])
		}

		// Only notes that participate in at least one edge are ever
		// assigned a cluster (invariant 5); isolated singleton groups with
		// no incident edges in memberEdges are dropped here.
		hasEdge := map[int64]bool{}
		for _, e := range memberEdges {
			hasEdge[e.Source] = true
			hasEdge[e.Target] = true
		}

		var out []*clusterBuild
		for _, commID := range sortedMemberCounts(groups) {
			members := groups[commID]
			var connected []int64
			for _, id := range members {
				if hasEdge[id] {
					connected = append(connected, id)
				}
			}
			if len(connected) == 0 {
				continue
			}
			cb := &clusterBuild{
				members: connected,
				parent:  parent,
				cluster: domain.Cluster{Depth: depth, MemberCount: len(connected)},
			}
			out = append(out, cb)

			if len(connected) >= cfg.MinSplitSize && depth+1 < cfg.MaxDepth {
				sub := subEdges(connected, memberEdges)
				children := recurse(connected, sub, depth+1, cb)
				if len(children) > 0 {
					cb.hasChildren = true
				}
				out = append(out, children...)
			}
		}
		return out
	}

	return recurse(ids, edges, 0, nil), degraded
}

// subEdges filters edges to only those with both endpoints in members.
func subEdges(members []int64, edges []domain.GraphEdge) []domain.GraphEdge {
	set := make(map[int64]struct{}, len(members))
	for _, m := range members {
		set[m] = struct{}{}
	}
	var out []domain.GraphEdge
	for _, e := range edges {
		if _, ok := set[e.Source]; ok {
			if _, ok2 := set[e.Target]; ok2 {
				out = append(out, e)
			}
		}
	}
	return out
}
