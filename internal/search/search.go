// Package search is the Hybrid Searcher (C6): it fuses keyword (FTS/BM25),
// term-similarity, and graph-neighborhood signals into one ranked result
// list, following a connection-scoring idiom from the application layer
// but fed by the embedded stores instead of DynamoDB.
package search

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"slm-core/internal/apperrors"
	"slm-core/internal/config"
	"slm-core/internal/domain"
	"slm-core/internal/persistence/sqlite"
	"slm-core/internal/terms"
)

func unmarshalEntities(raw string) ([]domain.Entity, error) {
	var entities []domain.Entity
	if err := json.Unmarshal([]byte(raw), &entities); err != nil {
		return nil, err
	}
	return entities, nil
}

// Filters narrows search results; zero values are "no filter" (§4.6 step 5).
type Filters struct {
	Tags          []string
	Project       string
	Category      string
	MinImportance int
}

// Searcher is C6.
type Searcher struct {
	db    *sql.DB
	store *sqlite.Store
	sw    *terms.Stopwords
	cache *resultCache
}

// New builds a Searcher backed by store and sw, with an LRU cache sized per
// cfg (§4.6's optional result cache).
func New(store *sqlite.Store, sw *terms.Stopwords, cfg config.Search) *Searcher {
	return &Searcher{
		db:    store.DB(),
		store: store,
		sw:    sw,
		cache: newResultCache(cfg.CacheSize, time.Duration(cfg.CacheTTLSecs)*time.Second),
	}
}

// Invalidate drops every cached result for profile; callers invoke this on
// any write that changes the corpus (§5).
func (s *Searcher) Invalidate(profile string) {
	s.cache.invalidateProfile(profile)
}

// Search runs the fusion pipeline for query within profile (§4.6). cfg is
// passed per call so a live config.Reload() takes effect immediately.
func (s *Searcher) Search(profile, query string, limit int, minScore float64, f Filters, cfg config.Search) ([]domain.Hit, error) {
	if strings.TrimSpace(query) == "" {
		return nil, apperrors.Validation("query must not be empty")
	}
	if limit <= 0 {
		limit = 20
	}

	normalized := strings.ToLower(strings.TrimSpace(query))
	key := cacheKey{profile: profile, query: normalized, filterHash: filterHash(f), limit: limit}
	if hits, ok := s.cache.get(key); ok {
		return hits, nil
	}

	kwFilters := sqlite.KeywordFilters{
		Tags:          f.Tags,
		Project:       f.Project,
		Category:      f.Category,
		MinImportance: f.MinImportance,
	}
	kwHits, err := s.store.SearchKeyword(profile, query, 200, kwFilters)
	if err != nil {
		return nil, err
	}
	keywordScore := make(map[int64]float64, len(kwHits))
	for _, h := range kwHits {
		keywordScore[h.Note.ID] = h.Score
	}

	termScore, err := s.termScores(profile, query)
	if err != nil {
		return nil, err
	}

	graphScore, err := s.graphScores(profile, keywordScore, cfg.GraphDamping)
	if err != nil {
		return nil, err
	}

	candidates := map[int64]struct{}{}
	for id := range keywordScore {
		candidates[id] = struct{}{}
	}
	for id := range termScore {
		candidates[id] = struct{}{}
	}
	for id := range graphScore {
		candidates[id] = struct{}{}
	}
	if len(candidates) == 0 {
		s.cache.put(key, nil)
		return nil, nil
	}

	ids := make([]int64, 0, len(candidates))
	for id := range candidates {
		ids = append(ids, id)
	}
	notes, err := s.store.GetMany(profile, ids)
	if err != nil {
		return nil, err
	}

	var fused []domain.Hit
	switch cfg.Fusion {
	case "rrf":
		fused = rrfFuse(notes, keywordScore, termScore, graphScore, cfg.RRFConstant)
	default:
		fused = weightedFuse(notes, keywordScore, termScore, graphScore, cfg.Weights)
	}
	fused = applyFilters(fused, f)

	sort.Slice(fused, func(i, j int) bool {
		if fused[i].Score != fused[j].Score {
			return fused[i].Score > fused[j].Score
		}
		return fused[i].Note.ID > fused[j].Note.ID
	})

	var out []domain.Hit
	for _, h := range fused {
		if h.Score < minScore {
			continue
		}
		out = append(out, h)
		if len(out) >= limit {
			break
		}
	}

	s.cache.put(key, out)
	return out, nil
}

// termScores computes the query's TF·IDF vector against the profile's
// current corpus and cosine-similarity scores it against each Note's
// persisted graph_nodes vector (§4.6 step 2).
func (s *Searcher) termScores(profile, query string) (map[int64]float64, error) {
	rows, err := s.db.Query(`SELECT id, content FROM notes WHERE profile = ?`, profile)
	if err != nil {
		return nil, apperrors.IO(err, "load corpus for term score")
	}
	var docs []terms.Document
	for rows.Next() {
		var id int64
		var content string
		if err := rows.Scan(&id, &content); err != nil {
			rows.Close()
			return nil, apperrors.IO(err, "scan corpus row")
		}
		docs = append(docs, terms.Document{MemoryID: id, Content: content})
	}
	rows.Close()
	if len(docs) == 0 {
		return nil, nil
	}

	queryVec := terms.ExtractQuery(query, docs, s.sw)
	if len(queryVec) == 0 {
		return nil, nil
	}

	nodeRows, err := s.db.Query(`SELECT memory_id, entities FROM graph_nodes WHERE profile = ?`, profile)
	if err != nil {
		return nil, apperrors.IO(err, "load graph_nodes for term score")
	}
	defer nodeRows.Close()

	out := map[int64]float64{}
	for nodeRows.Next() {
		var id int64
		var entitiesJSON string
		if err := nodeRows.Scan(&id, &entitiesJSON); err != nil {
			return nil, apperrors.IO(err, "scan graph_node for term score")
		}
		vec, err := unmarshalEntities(entitiesJSON)
		if err != nil {
			continue
		}
		sim := terms.CosineSimilarity(queryVec, vec)
		if sim > 0 {
			out[id] = sim
		}
	}
	return out, nodeRows.Err()
}

// graphScores propagates a damped score from each direct keyword hit to its
// one-hop graph neighbors, taking the max over multiple incident edges
// (§4.6 step 3).
func (s *Searcher) graphScores(profile string, keywordScore map[int64]float64, beta float64) (map[int64]float64, error) {
	if len(keywordScore) == 0 {
		return nil, nil
	}
	rows, err := s.db.Query(`SELECT source_memory_id, target_memory_id, similarity FROM graph_edges WHERE profile = ?`, profile)
	if err != nil {
		return nil, apperrors.IO(err, "load graph_edges for graph score")
	}
	defer rows.Close()

	out := map[int64]float64{}
	propagate := func(hitID, neighborID int64) {
		sk, ok := keywordScore[hitID]
		if !ok {
			return
		}
		score := beta * sk
		if cur, exists := out[neighborID]; !exists || score > cur {
			out[neighborID] = score
		}
	}
	for rows.Next() {
		var src, tgt int64
		var sim float64
		if err := rows.Scan(&src, &tgt, &sim); err != nil {
			return nil, apperrors.IO(err, "scan graph_edge for graph score")
		}
		propagate(src, tgt)
		propagate(tgt, src)
	}
	return out, rows.Err()
}

func weightedFuse(notes map[int64]domain.Note, keyword, term, graph map[int64]float64, w config.SearchWeights) []domain.Hit {
	hits := make([]domain.Hit, 0, len(notes))
	for id, note := range notes {
		var sources []string
		sk, skOK := keyword[id]
		st, stOK := term[id]
		sg, sgOK := graph[id]
		if skOK {
			sources = append(sources, "keyword")
		}
		if stOK {
			sources = append(sources, "term")
		}
		if sgOK {
			sources = append(sources, "graph")
		}
		score := w.Keyword*sk + w.Term*st + w.Graph*sg
		hits = append(hits, domain.Hit{Note: note, Score: score, Sources: sources})
	}
	return hits
}

// rrfFuse replaces the weighted sum with Reciprocal Rank Fusion: each
// signal contributes 1/(k+rank) from its own independently ranked list
// (§4.6 step 4).
func rrfFuse(notes map[int64]domain.Note, keyword, term, graph map[int64]float64, k int) []domain.Hit {
	ranks := map[int64]float64{}
	sources := map[int64]map[string]bool{}
	addRanked := func(scores map[int64]float64, label string) {
		type kv struct {
			id    int64
			score float64
		}
		var sorted []kv
		for id, sc := range scores {
			sorted = append(sorted, kv{id, sc})
		}
		sort.Slice(sorted, func(i, j int) bool {
			if sorted[i].score != sorted[j].score {
				return sorted[i].score > sorted[j].score
			}
			return sorted[i].id > sorted[j].id
		})
		for rank, e := range sorted {
			ranks[e.id] += 1.0 / float64(k+rank+1)
			if sources[e.id] == nil {
				sources[e.id] = map[string]bool{}
			}
			sources[e.id][label] = true
		}
	}
	addRanked(keyword, "keyword")
	addRanked(term, "term")
	addRanked(graph, "graph")

	hits := make([]domain.Hit, 0, len(notes))
	for id, note := range notes {
		var srcList []string
		for label := range sources[id] {
			srcList = append(srcList, label)
		}
		sort.Strings(srcList)
		hits = append(hits, domain.Hit{Note: note, Score: ranks[id], Sources: srcList})
	}
	return hits
}

func applyFilters(hits []domain.Hit, f Filters) []domain.Hit {
	if len(f.Tags) == 0 && f.Project == "" && f.Category == "" && f.MinImportance == 0 {
		return hits
	}
	var out []domain.Hit
	for _, h := range hits {
		if f.Project != "" && h.Note.ProjectName != f.Project {
			continue
		}
		if f.Category != "" && h.Note.Category != f.Category {
			continue
		}
		if f.MinImportance > 0 && h.Note.Importance < f.MinImportance {
			continue
		}
		if len(f.Tags) > 0 && !hasAllTags(h.Note.Tags, f.Tags) {
			continue
		}
		out = append(out, h)
	}
	return out
}

func hasAllTags(noteTags, want []string) bool {
	set := make(map[string]struct{}, len(noteTags))
	for _, t := range noteTags {
		set[t] = struct{}{}
	}
	for _, w := range want {
		if _, ok := set[w]; !ok {
			return false
		}
	}
	return true
}

func filterHash(f Filters) string {
	h := sha256.New()
	tags := append([]string(nil), f.Tags...)
	sort.Strings(tags)
	fmt.Fprintf(h, "%s|%s|%s|%d", strings.Join(tags, ","), f.Project, f.Category, f.MinImportance)
	return hex.EncodeToString(h.Sum(nil))
}
