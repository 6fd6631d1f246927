package terms

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"slm-core/internal/domain"
)

func entities(pairs ...any) []domain.Entity {
	out := make([]domain.Entity, 0, len(pairs)/2)
	for i := 0; i < len(pairs); i += 2 {
		out = append(out, domain.Entity{Term: pairs[i].(string), Weight: pairs[i+1].(float64)})
	}
	return out
}

func TestCosineSimilarityIdenticalVectorsIsOne(t *testing.T) {
	v := entities("go", 0.5, "channel", 0.5)
	assert.InDelta(t, 1.0, CosineSimilarity(v, v), 1e-9)
}

func TestCosineSimilarityDisjointVectorsIsZero(t *testing.T) {
	a := entities("go", 0.5)
	b := entities("python", 0.5)
	assert.Equal(t, 0.0, CosineSimilarity(a, b))
}

func TestCosineSimilarityEmptyVectorIsZero(t *testing.T) {
	a := entities("go", 0.5)
	assert.Equal(t, 0.0, CosineSimilarity(a, nil))
	assert.Equal(t, 0.0, CosineSimilarity(nil, nil))
}

func TestCosineSimilarityIsBounded(t *testing.T) {
	a := entities("go", 0.9, "channel", 0.1)
	b := entities("go", 0.3, "channel", 0.7, "fox", 0.2)
	sim := CosineSimilarity(a, b)
	assert.GreaterOrEqual(t, sim, 0.0)
	assert.LessOrEqual(t, sim, 1.0)
}

func TestSharedEntitiesOrdersByCombinedWeightDescending(t *testing.T) {
	a := entities("go", 0.9, "channel", 0.1, "only_a", 0.4)
	b := entities("go", 0.3, "channel", 0.7, "only_b", 0.4)
	shared := SharedEntities(a, b)
	assert.Equal(t, []string{"go", "channel"}, shared)
}

func TestSharedEntitiesNoOverlap(t *testing.T) {
	a := entities("go", 0.5)
	b := entities("python", 0.5)
	assert.Empty(t, SharedEntities(a, b))
}
