// Package graphintel is the Graph Builder (C5): pairwise similarity over
// entity vectors, edge pruning, hierarchical community detection, cluster
// naming, and summary generation (§4.5). No Leiden/Louvain Go library
// appears anywhere in the retrieved example pack (see DESIGN.md), so the
// "community-detection algorithm of the Leiden family" is implemented
// in-module as a deterministic, resolution-parameterized greedy
// modularity optimizer (the Louvain method Leiden itself refines), with
// connected components as the explicit degraded fallback for when the
// dependency is unavailable.
package graphintel

import "sort"

// weightedGraph is a small adjacency-list undirected graph used internally
// by the community detector; vertex ids are dense indices 0..n-1 assigned
// by the caller (arena-and-index discipline, §9).
type weightedGraph struct {
	n     int
	adj   []map[int]float64
	degree []float64 // weighted degree per vertex
	total  float64   // sum of all edge weights (m)
}

func newWeightedGraph(n int) *weightedGraph {
	adj := make([]map[int]float64, n)
	for i := range adj {
		adj[i] = map[int]float64{}
	}
	return &weightedGraph{n: n, adj: adj, degree: make([]float64, n)}
}

func (g *weightedGraph) addEdge(u, v int, w float64) {
	if u == v || w <= 0 {
		return
	}
	g.adj[u][v] += w
	g.adj[v][u] += w
	g.degree[u] += w
	g.degree[v] += w
	g.total += w
}

// seededPermutation deterministically shuffles [0,n) using a simple linear
// congruential generator keyed by seed, giving the detector a
// configuration-stable but non-trivial traversal order. detectHierarchical
// seeds it from profileSeed("cluster", member count) plus the recursion
// depth, so the order depends on the member count and depth but not on the
// profile name.
func seededPermutation(n int, seed uint64) []int {
	perm := make([]int, n)
	for i := range perm {
		perm[i] = i
	}
	state := seed | 1
	next := func() uint64 {
		state = state*6364136223846793005 + 1442695040888963407
		return state
	}
	for i := n - 1; i > 0; i-- {
		j := int(next() % uint64(i+1))
		perm[i], perm[j] = perm[j], perm[i]
	}
	return perm
}

// louvainCommunities runs one multi-pass Louvain-style local-moving +
// aggregation optimization and returns, for each original vertex, its
// final community id (dense, 0-based, not yet renumbered for persistence).
func louvainCommunities(g *weightedGraph, resolution float64, seed uint64) []int {
	if g.n == 0 {
		return nil
	}
	// assignment maps an original vertex to its community at the *current*
	// aggregation level; levelMembers tracks, for each aggregated-level vertex,
	// which original vertices it represents.
	assignment := make([]int, g.n)
	for i := range assignment {
		assignment[i] = i
	}

	current := g
	levelMembers := make([][]int, g.n)
	for i := range levelMembers {
		levelMembers[i] = []int{i}
	}

	const maxPasses = 30
	for pass := 0; pass < maxPasses; pass++ {
		comm, moved := localMoving(current, resolution, seed+uint64(pass))
		if !moved {
			break
		}
		next, nextMembers := aggregate(current, comm, levelMembers)
		if next.n == current.n {
			break
		}
		current = next
		levelMembers = nextMembers
	}

	// levelMembers[i] lists original vertex ids belonging to aggregated
	// community i; invert into a per-original-vertex community id.
	result := make([]int, g.n)
	for commID, members := range levelMembers {
		for _, v := range members {
			result[v] = commID
		}
	}
	return result
}

// localMoving performs one Louvain local-moving phase: repeatedly sweep
// vertices in seeded order, moving each to the neighbor community that
// maximizes modularity gain, until a full sweep makes no move.
func localMoving(g *weightedGraph, resolution float64, seed uint64) ([]int, bool) {
	comm := make([]int, g.n)
	commTot := make([]float64, g.n) // Σtot per community
	for i := range comm {
		comm[i] = i
		commTot[i] = g.degree[i]
	}
	m2 := 2 * g.total
	if m2 == 0 {
		return comm, false
	}

	order := seededPermutation(g.n, seed)
	anyMoved := false
	for iter := 0; iter < 50; iter++ {
		movedThisSweep := false
		for _, v := range order {
			oldC := comm[v]
			commTot[oldC] -= g.degree[v]

			neighborWeight := map[int]float64{}
			for u, w := range g.adj[v] {
				neighborWeight[comm[u]] += w
			}

			bestC := oldC
			bestGain := neighborWeight[oldC] - resolution*commTot[oldC]*g.degree[v]/m2
			// deterministic tie-break: lowest community id wins, visited in
			// ascending order below.
			candidates := make([]int, 0, len(neighborWeight))
			for c := range neighborWeight {
				candidates = append(candidates, c)
			}
			sort.Ints(candidates)
			for _, c := range candidates {
				gain := neighborWeight[c] - resolution*commTot[c]*g.degree[v]/m2
				if gain > bestGain {
					bestGain = gain
					bestC = c
				}
			}

			comm[v] = bestC
			commTot[bestC] += g.degree[v]
			if bestC != oldC {
				movedThisSweep = true
				anyMoved = true
			}
		}
		if !movedThisSweep {
			break
		}
	}
	return comm, anyMoved
}

// aggregate builds the next-level graph whose vertices are the communities
// found by localMoving, and carries forward which original vertices each
// aggregated vertex now represents.
func aggregate(g *weightedGraph, comm []int, prevMembers [][]int) (*weightedGraph, [][]int) {
	// renumber communities densely
	renumber := map[int]int{}
	for _, c := range comm {
		if _, ok := renumber[c]; !ok {
			renumber[c] = len(renumber)
		}
	}
	next := newWeightedGraph(len(renumber))
	nextMembers := make([][]int, len(renumber))

	for v := 0; v < g.n; v++ {
		nc := renumber[comm[v]]
		nextMembers[nc] = append(nextMembers[nc], prevMembers[v]...)
	}
	seenPair := map[[2]int]float64{}
	for v := 0; v < g.n; v++ {
		cv := renumber[comm[v]]
		for u, w := range g.adj[v] {
			if u < v {
				continue // count each undirected edge once
			}
			cu := renumber[comm[u]]
			if cu == cv {
				// an intra-community edge becomes a self-loop of the
				// aggregated vertex: no adjacency entry, but its weight
				// stays in that vertex's degree and in the total
				next.degree[cv] += 2 * w
				next.total += w
				continue
			}
			key := [2]int{cv, cu}
			if key[0] > key[1] {
				key[0], key[1] = key[1], key[0]
			}
			seenPair[key] += w
		}
	}
	for k, w := range seenPair {
		next.addEdge(k[0], k[1], w)
	}
	return next, nextMembers
}

// connectedComponents is the degraded fallback used when the
// community-detection path is unavailable (§4.5 failure semantics): plain
// BFS components of the pruned similarity graph.
func connectedComponents(g *weightedGraph) []int {
	comm := make([]int, g.n)
	for i := range comm {
		comm[i] = -1
	}
	next := 0
	for start := 0; start < g.n; start++ {
		if comm[start] != -1 {
			continue
		}
		queue := []int{start}
		comm[start] = next
		for len(queue) > 0 {
			v := queue[0]
			queue = queue[1:]
			for u := range g.adj[v] {
				if comm[u] == -1 {
					comm[u] = next
					queue = append(queue, u)
				}
			}
		}
		next++
	}
	return comm
}
