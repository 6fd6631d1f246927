package terms

import (
	"gonum.org/v1/gonum/floats"

	"slm-core/internal/domain"
)

// CosineSimilarity computes cosine similarity between two weighted entity
// vectors over their shared term set (§4.5 step 2), using
// gonum.org/v1/gonum/floats for the dot product and norms once the
// vectors are aligned to a common term index.
func CosineSimilarity(a, b []domain.Entity) float64 {
	av := toMap(a)
	bv := toMap(b)
	if len(av) == 0 || len(bv) == 0 {
		return 0
	}

	terms := make(map[string]struct{}, len(av)+len(bv))
	for t := range av {
		terms[t] = struct{}{}
	}
	for t := range bv {
		terms[t] = struct{}{}
	}

	avec := make([]float64, 0, len(terms))
	bvec := make([]float64, 0, len(terms))
	for t := range terms {
		avec = append(avec, av[t])
		bvec = append(bvec, bv[t])
	}

	an := floats.Norm(avec, 2)
	bn := floats.Norm(bvec, 2)
	if an == 0 || bn == 0 {
		return 0
	}
	dot := floats.Dot(avec, bvec)
	sim := dot / (an * bn)
	if sim < 0 {
		return 0
	}
	if sim > 1 {
		return 1
	}
	return sim
}

// SharedEntities returns the terms present in both vectors, ordered by
// combined weight descending (§4.5 step 3).
func SharedEntities(a, b []domain.Entity) []string {
	av := toMap(a)
	bv := toMap(b)
	type pair struct {
		term   string
		weight float64
	}
	var shared []pair
	for t, wa := range av {
		if wb, ok := bv[t]; ok {
			shared = append(shared, pair{term: t, weight: wa + wb})
		}
	}
	// simple insertion sort is fine: entity vectors are capped at TopK=20
	for i := 1; i < len(shared); i++ {
		j := i
		for j > 0 && shared[j-1].weight < shared[j].weight {
			shared[j-1], shared[j] = shared[j], shared[j-1]
			j--
		}
	}
	out := make([]string, len(shared))
	for i, p := range shared {
		out[i] = p.term
	}
	return out
}

func toMap(entities []domain.Entity) map[string]float64 {
	m := make(map[string]float64, len(entities))
	for _, e := range entities {
		m[e.Term] = e.Weight
	}
	return m
}
