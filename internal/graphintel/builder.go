package graphintel

import (
	"context"
	"database/sql"
	"encoding/json"
	"hash/fnv"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"slm-core/internal/apperrors"
	"slm-core/internal/config"
	"slm-core/internal/domain"
	"slm-core/internal/terms"
)

// Builder is C5: it reads the current profile's notes, extracts terms,
// computes a pruned similarity graph, runs hierarchical community
// detection, names and summarizes clusters, and swaps the result in
// atomically.
type Builder struct {
	db *sql.DB
	sw *terms.Stopwords
}

func NewBuilder(db *sql.DB, sw *terms.Stopwords) *Builder {
	return &Builder{db: db, sw: sw}
}

type noteRow struct {
	id          int64
	content     string
	tags        []string
	project     string
	category    string
	importance  int
}

// Build runs one atomic rebuild for profile, replacing all GraphNode/
// GraphEdge/Cluster rows (§4.5). cancel is checked between the five major
// phases; cancelling rolls back to the previously committed graph,
// leaving it completely intact (§4.5 failure semantics, §5).
func (b *Builder) Build(cancel <-chan struct{}, profile string, cfg config.Graph) (domain.BuildStats, error) {
	start := time.Now()
	stats := domain.BuildStats{Profile: profile}

	rows, err := b.db.Query(`SELECT id, content, tags, project_name, category, importance FROM notes WHERE profile = ? ORDER BY id ASC`, profile)
	if err != nil {
		return stats, apperrors.IO(err, "load notes for build")
	}
	var notes []noteRow
	for rows.Next() {
		var nr noteRow
		var tagsJSON string
		if err := rows.Scan(&nr.id, &nr.content, &tagsJSON, &nr.project, &nr.category, &nr.importance); err != nil {
			rows.Close()
			return stats, apperrors.IO(err, "scan note for build")
		}
		_ = json.Unmarshal([]byte(tagsJSON), &nr.tags)
		notes = append(notes, nr)
	}
	rows.Close()
	stats.NoteCount = len(notes)

	if len(notes) < 2 {
		// §4.5 step 2: "If fewer than 2 notes, graph is empty — skip
		// remaining steps." Still clear any stale graph atomically.
		if err := b.persist(profile, nil, nil, nil); err != nil {
			return stats, err
		}
		stats.Duration = time.Since(start)
		return stats, nil
	}

	if cancelled(cancel) {
		stats.Cancelled = true
		return stats, apperrors.Cancelled("build cancelled before entity extraction")
	}

	docs := make([]terms.Document, len(notes))
	for i, nr := range notes {
		docs[i] = terms.Document{MemoryID: nr.id, Content: nr.content}
	}
	vectors := terms.Extract(docs, b.sw)

	if cancelled(cancel) {
		stats.Cancelled = true
		return stats, apperrors.Cancelled("build cancelled before edge computation")
	}

	edges, err := b.computeEdges(cancel, notes, vectors, cfg.EdgeThreshold)
	if err != nil {
		return stats, err
	}
	stats.EdgeCount = len(edges)

	if cancelled(cancel) {
		stats.Cancelled = true
		return stats, apperrors.Cancelled("build cancelled before community detection")
	}

	clusters, degraded := b.detectHierarchical(notes, edges, vectors, cfg)
	stats.Degraded = degraded

	if cancelled(cancel) {
		stats.Cancelled = true
		return stats, apperrors.Cancelled("build cancelled before naming")
	}

	noteByID := make(map[int64]noteRow, len(notes))
	for _, nr := range notes {
		noteByID[nr.id] = nr
	}
	nameAndSummarize(clusters, vectors, noteByID)

	maxDepth := 0
	for _, c := range clusters {
		if c.cluster.Depth > maxDepth {
			maxDepth = c.cluster.Depth
		}
	}
	stats.ClusterCount = len(clusters)
	stats.MaxClusterDepth = maxDepth

	if cancelled(cancel) {
		stats.Cancelled = true
		return stats, apperrors.Cancelled("build cancelled before persistence")
	}

	nodes := make([]domain.GraphNode, 0, len(notes))
	for _, nr := range notes {
		nodes = append(nodes, domain.GraphNode{MemoryID: nr.id, Entities: vectors[nr.id]})
	}

	if err := b.persist(profile, nodes, edges, clusters); err != nil {
		return stats, err
	}

	stats.Duration = time.Since(start)
	return stats, nil
}

func cancelled(c <-chan struct{}) bool {
	select {
	case <-c:
		return true
	default:
		return false
	}
}

// computeEdges computes pairwise cosine similarity concurrently using
// golang.org/x/sync/errgroup, pruning below threshold (§4.5 step 3).
func (b *Builder) computeEdges(cancel <-chan struct{}, notes []noteRow, vectors map[int64][]domain.Entity, threshold float64) ([]domain.GraphEdge, error) {
	type pair struct{ i, j int }
	var pairs []pair
	for i := 0; i < len(notes); i++ {
		for j := i + 1; j < len(notes); j++ {
			pairs = append(pairs, pair{i, j})
		}
	}

	results := make([]*domain.GraphEdge, len(pairs))
	ctx, cancelFn := context.WithCancel(context.Background())
	defer cancelFn()
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(8)

	for idx, p := range pairs {
		idx, p := idx, p
		g.Go(func() error {
			select {
			case <-cancel:
				return apperrors.Cancelled("edge computation cancelled")
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			a := notes[p.i]
			bN := notes[p.j]
			sim := terms.CosineSimilarity(vectors[a.id], vectors[bN.id])
			if sim >= threshold {
				src, tgt := a.id, bN.id
				if src > tgt {
					src, tgt = tgt, src
				}
				results[idx] = &domain.GraphEdge{
					Source:           src,
					Target:           tgt,
					Similarity:       sim,
					RelationshipType: "similar",
					SharedEntities:   terms.SharedEntities(vectors[a.id], vectors[bN.id]),
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		if ae, ok := apperrors.As(err); ok {
			return nil, ae
		}
		return nil, apperrors.Internal("edge computation: %v", err)
	}

	var edges []domain.GraphEdge
	for _, r := range results {
		if r != nil {
			edges = append(edges, *r)
		}
	}
	return edges, nil
}

// profileSeed derives the deterministic community-detection seed from the
// profile name and note count (§4.5 step 4).
func profileSeed(profile string, noteCount int) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(profile))
	base := h.Sum64()
	return base ^ uint64(noteCount)*0x9E3779B97F4A7C15
}

func buildIndexedGraph(ids []int64, edges []domain.GraphEdge) (*weightedGraph, map[int64]int, []int64) {
	idToIdx := make(map[int64]int, len(ids))
	idxToID := make([]int64, len(ids))
	for i, id := range ids {
		idToIdx[id] = i
		idxToID[i] = id
	}
	g := newWeightedGraph(len(ids))
	for _, e := range edges {
		ui, uok := idToIdx[e.Source]
		vi, vok := idToIdx[e.Target]
		if uok && vok {
			g.addEdge(ui, vi, e.Similarity)
		}
	}
	return g, idToIdx, idxToID
}

func sortedMemberCounts(groups map[int][]int64) []int {
	keys := make([]int, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if len(groups[keys[i]]) != len(groups[keys[j]]) {
			return len(groups[keys[i]]) > len(groups[keys[j]]) // §4.5 tie-break: descending member count
		}
		return keys[i] < keys[j]
	})
	return keys
}
