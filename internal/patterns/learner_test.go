package patterns

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"slm-core/internal/config"
	"slm-core/internal/domain"
	"slm-core/internal/persistence/sqlite"
)

func newLearnerTestDB(t *testing.T) (*sqlite.Store, *Learner) {
	t.Helper()
	dir := t.TempDir()
	db, err := sqlite.Open(filepath.Join(dir, "memory.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	store := sqlite.NewStore(db)
	learner := NewLearner(db, config.Default().Pattern)
	return store, learner
}

// TestLearnInfersPreferredLanguageFromExactTokenMatches grounds invariant 7
// (confidence stays within [0, MaxLearnedConfidence] for non-pinned patterns)
// against a corpus strongly favoring the language "Go".
func TestLearnInfersPreferredLanguageFromExactTokenMatches(t *testing.T) {
	store, learner := newLearnerTestDB(t)
	for i := 0; i < 5; i++ {
		_, err := store.Add(sqlite.AddParams{Profile: "default", Content: fmt.Sprintf("writing a Go channel fan-in pipeline today, take %d", i)})
		require.NoError(t, err)
	}
	_, err := store.Add(sqlite.AddParams{Profile: "default", Content: "grocery list: eggs milk bread"})
	require.NoError(t, err)

	patterns, err := learner.Learn("default")
	require.NoError(t, err)

	var found *domain.IdentityPattern
	for i := range patterns {
		if patterns[i].PatternType == domain.PatternPreferredLanguage && patterns[i].PatternValue == "Go" {
			found = &patterns[i]
		}
	}
	require.NotNil(t, found, "expected a preferred_language=Go pattern")
	assert.Equal(t, 5, found.Frequency)
	assert.Greater(t, found.Confidence, 0.0)
	assert.LessOrEqual(t, found.Confidence, domain.MaxLearnedConfidence)
}

// TestLearnDoesNotMatchSubstringForExactTokenType covers the exact-token
// protection: "Go" must not match inside an unrelated word such as "going".
func TestLearnDoesNotMatchSubstringForExactTokenType(t *testing.T) {
	store, learner := newLearnerTestDB(t)
	_, err := store.Add(sqlite.AddParams{Profile: "default", Content: "I am going to the store"})
	require.NoError(t, err)

	patterns, err := learner.Learn("default")
	require.NoError(t, err)
	for _, p := range patterns {
		if p.PatternType == domain.PatternPreferredLanguage && p.PatternValue == "Go" {
			t.Fatalf("unexpected false-positive exact-token match: %+v", p)
		}
	}
}

// TestLearnActiveProjectUsesDistinctProjectNames covers the
// PatternActiveProject special case, which scans distinct project_name
// values instead of the static taxonomy list.
func TestLearnActiveProjectUsesDistinctProjectNames(t *testing.T) {
	store, learner := newLearnerTestDB(t)
	_, err := store.Add(sqlite.AddParams{Profile: "default", Content: "note one", ProjectName: "rover"})
	require.NoError(t, err)
	_, err = store.Add(sqlite.AddParams{Profile: "default", Content: "note two", ProjectName: "rover"})
	require.NoError(t, err)
	_, err = store.Add(sqlite.AddParams{Profile: "default", Content: "note three", ProjectName: "satellite"})
	require.NoError(t, err)

	patterns, err := learner.Learn("default")
	require.NoError(t, err)

	byValue := map[string]domain.IdentityPattern{}
	for _, p := range patterns {
		if p.PatternType == domain.PatternActiveProject {
			byValue[p.PatternValue] = p
		}
	}
	require.Contains(t, byValue, "rover")
	require.Contains(t, byValue, "satellite")
	assert.Equal(t, 2, byValue["rover"].Frequency)
	assert.Equal(t, 1, byValue["satellite"].Frequency)
}

// TestLearnIsIdempotentWhenRunTwice covers that re-running Learn on an
// unchanged corpus reproduces the same non-pinned pattern set rather than
// accumulating duplicates (the non-pinned rows are fully cleared each run).
func TestLearnIsIdempotentWhenRunTwice(t *testing.T) {
	store, learner := newLearnerTestDB(t)
	for i := 0; i < 3; i++ {
		_, err := store.Add(sqlite.AddParams{Profile: "default", Content: "we use PostgreSQL for everything here"})
		require.NoError(t, err)
	}

	first, err := learner.Learn("default")
	require.NoError(t, err)
	second, err := learner.Learn("default")
	require.NoError(t, err)
	assert.Equal(t, len(first), len(second))
}

// TestCorrectPinsPatternAndLearnPreservesIt covers §4.7's correction flow:
// pinning a pattern fixes its confidence to 1.0 and future Learn calls must
// not overwrite it.
func TestCorrectPinsPatternAndLearnPreservesIt(t *testing.T) {
	store, learner := newLearnerTestDB(t)
	for i := 0; i < 4; i++ {
		_, err := store.Add(sqlite.AddParams{Profile: "default", Content: "we always reach for Redis as our cache"})
		require.NoError(t, err)
	}

	patterns, err := learner.Learn("default")
	require.NoError(t, err)

	var target *domain.IdentityPattern
	for i := range patterns {
		if patterns[i].PatternType == domain.PatternPreferredBackend && patterns[i].PatternValue == "Redis" {
			target = &patterns[i]
		}
	}
	require.NotNil(t, target, "expected a preferred_backend=Redis pattern")
	require.NotZero(t, target.ID)

	require.NoError(t, learner.Correct("default", target.ID, "MongoDB"))

	relearned, err := learner.Learn("default")
	require.NoError(t, err)

	var pinned *domain.IdentityPattern
	for i := range relearned {
		if relearned[i].ID == target.ID {
			pinned = &relearned[i]
		}
	}
	require.NotNil(t, pinned, "pinned pattern must survive re-learning")
	assert.True(t, pinned.Pinned)
	assert.Equal(t, "MongoDB", pinned.PatternValue)
	assert.Equal(t, domain.PinnedConfidence, pinned.Confidence)
}

// TestCorrectUnknownPatternReturnsNotFound covers the error path for an
// invalid pattern id.
func TestCorrectUnknownPatternReturnsNotFound(t *testing.T) {
	_, learner := newLearnerTestDB(t)
	err := learner.Correct("default", 9999, "whatever")
	require.Error(t, err)
}

// TestGetIdentityContextFiltersByMinConfidenceAndOrdersDescending covers the
// get_identity_context read path.
func TestGetIdentityContextFiltersByMinConfidenceAndOrdersDescending(t *testing.T) {
	store, learner := newLearnerTestDB(t)
	for i := 0; i < 6; i++ {
		_, err := store.Add(sqlite.AddParams{Profile: "default", Content: "deploying with Kubernetes and Go microservices"})
		require.NoError(t, err)
	}
	_, err := learner.Learn("default")
	require.NoError(t, err)

	ctx, err := learner.GetIdentityContext("default", 0.0)
	require.NoError(t, err)
	assert.Equal(t, "default", ctx.Profile)
	for i := 1; i < len(ctx.Patterns); i++ {
		assert.GreaterOrEqual(t, ctx.Patterns[i-1].Confidence, ctx.Patterns[i].Confidence)
	}

	high, err := learner.GetIdentityContext("default", 1.1)
	require.NoError(t, err)
	assert.Empty(t, high.Patterns)
}
