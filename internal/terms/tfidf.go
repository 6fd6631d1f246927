package terms

import (
	"math"
	"sort"

	"slm-core/internal/domain"
)

// TopK is the maximum number of entities retained per Note (§3, §4.4).
const TopK = 20

// Document is one corpus member handed to Extract.
type Document struct {
	MemoryID int64
	Content  string
}

// Extract turns a corpus into per-Note entity vectors. It is deterministic
// given (corpus, stop-words, k): ties in TF·IDF break by ascending
// document frequency (rarer wins), then lexicographically (§4.4 step 6).
func Extract(docs []Document, sw *Stopwords) map[int64][]domain.Entity {
	type docTerms struct {
		memoryID int64
		terms    []string
	}

	parsed := make([]docTerms, 0, len(docs))
	df := map[string]int{}
	for _, d := range docs {
		uni := FilterStop(Tokenize(d.Content), sw)
		all := Bigrams(uni)
		parsed = append(parsed, docTerms{memoryID: d.MemoryID, terms: all})

		seen := map[string]struct{}{}
		for _, t := range all {
			if _, ok := seen[t]; ok {
				continue
			}
			seen[t] = struct{}{}
			df[t]++
		}
	}

	n := len(docs)
	idf := func(term string) float64 {
		return math.Log(float64(n+1)/float64(1+df[term])) + 1
	}

	result := make(map[int64][]domain.Entity, len(parsed))
	for _, dt := range parsed {
		if len(dt.terms) == 0 {
			result[dt.memoryID] = nil
			continue
		}
		tf := map[string]int{}
		for _, t := range dt.terms {
			tf[t]++
		}
		total := float64(len(dt.terms))

		type scored struct {
			term   string
			weight float64
			df     int
		}
		var scoredTerms []scored
		for term, count := range tf {
			w := (float64(count) / total) * idf(term)
			scoredTerms = append(scoredTerms, scored{term: term, weight: w, df: df[term]})
		}
		sort.Slice(scoredTerms, func(i, j int) bool {
			if scoredTerms[i].weight != scoredTerms[j].weight {
				return scoredTerms[i].weight > scoredTerms[j].weight
			}
			if scoredTerms[i].df != scoredTerms[j].df {
				return scoredTerms[i].df < scoredTerms[j].df
			}
			return scoredTerms[i].term < scoredTerms[j].term
		})
		if len(scoredTerms) > TopK {
			scoredTerms = scoredTerms[:TopK]
		}
		entities := make([]domain.Entity, len(scoredTerms))
		for i, st := range scoredTerms {
			entities[i] = domain.Entity{Term: st.term, Weight: st.weight}
		}
		result[dt.memoryID] = entities
	}
	return result
}

// ExtractQuery applies the same pipeline to an ad-hoc query string against
// an existing corpus's document frequencies, used by the hybrid searcher's
// term-similarity signal (§4.6 step 2). Passing the live corpus keeps the
// IDF consistent with the current graph build.
func ExtractQuery(query string, corpusDocs []Document, sw *Stopwords) []domain.Entity {
	docs := append([]Document{{MemoryID: -1, Content: query}}, corpusDocs...)
	vectors := Extract(docs, sw)
	return vectors[-1]
}

// TopTermsForSummary ranks terms of a single piece of content by raw
// frequency (no corpus-wide IDF available at compression time) and
// returns the top k terms, used by the compression tier-2 summary (§4.9).
func TopTermsForSummary(content string, k int) []string {
	sw := Default()
	uni := FilterStop(Tokenize(content), sw)
	if len(uni) == 0 {
		return nil
	}
	counts := map[string]int{}
	order := []string{}
	for _, t := range uni {
		if _, ok := counts[t]; !ok {
			order = append(order, t)
		}
		counts[t]++
	}
	sort.Slice(order, func(i, j int) bool {
		if counts[order[i]] != counts[order[j]] {
			return counts[order[i]] > counts[order[j]]
		}
		return order[i] < order[j]
	})
	if len(order) > k {
		order = order[:k]
	}
	return order
}
