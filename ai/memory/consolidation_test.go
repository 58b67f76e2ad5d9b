package memory

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/storyreel/store"
	storetest "github.com/hrygo/storyreel/store/test"
)

func listCategory(t *testing.T, m *Manager, userID string, category store.KnowledgeCategory) []*store.SemanticMemory {
	t.Helper()
	list, err := m.Semantic.GetByCategory(context.Background(), userID, category)
	require.NoError(t, err)
	return list
}

func TestConsolidateExtractsSuccessPattern(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t, nil)

	scifi := map[string]any{"genre": "sci-fi", "mood": "tense", "prompt": "a derelict station"}
	recordDecision(t, m, "ep1", "u1", "director", score(0.9), scifi)
	recordDecision(t, m, "ep1", "u1", "director", score(0.85), scifi)
	recordDecision(t, m, "ep1", "u1", "director", score(0.4), map[string]any{"genre": "comedy"})
	recordDecision(t, m, "ep1", "u1", "director", nil, map[string]any{"genre": "western"})
	recordDecision(t, m, "ep1", "u2", "director", score(0.95), scifi)

	result, err := m.TriggerConsolidation(ctx, "ep1", "u1", ConsolidateOptions{})
	require.NoError(t, err)
	require.NoError(t, result.Err())

	assert.Equal(t, 4, result.DecisionsTotal)
	assert.GreaterOrEqual(t, result.InsightsExtracted, 1)
	assert.Equal(t, 0, result.PatternsIdentified)
	assert.Equal(t, 1, result.MemoriesCreated)
	assert.NotZero(t, result.ID)

	patterns := listCategory(t, m, "u1", store.CategoryGenerationPattern)
	require.Len(t, patterns, 1)
	pattern := patterns[0]
	assert.True(t, strings.HasPrefix(pattern.KnowledgeKey, "director:success:"))
	assert.InDelta(t, 0.7, pattern.ConfidenceScore, 1e-9)
	assert.InDelta(t, 0.875, pattern.ImportanceScore, 1e-9)
	require.NotNil(t, pattern.SourceEpisode)
	assert.Equal(t, "ep1", *pattern.SourceEpisode)
	assert.Equal(t, map[string]any{"genre": "sci-fi", "mood": "tense"}, pattern.KnowledgeValue["fields"])

	assert.Empty(t, listCategory(t, m, "u1", store.CategoryFailurePattern))
	assert.Empty(t, listCategory(t, m, "u2", store.CategoryGenerationPattern))
}

func TestConsolidateConverges(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t, nil)

	for _, q := range []float64{0.9, 0.8} {
		recordDecision(t, m, "ep1", "u1", "editor", score(q), map[string]any{"style": "Handheld "})
	}

	first, err := m.TriggerConsolidation(ctx, "ep1", "u1", ConsolidateOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, first.MemoriesCreated)
	before := listCategory(t, m, "u1", store.CategoryGenerationPattern)

	second, err := m.TriggerConsolidation(ctx, "ep1", "u1", ConsolidateOptions{})
	require.NoError(t, err)
	assert.Equal(t, 0, second.MemoriesCreated)
	assert.Equal(t, 0, second.MemoriesPruned)

	after := listCategory(t, m, "u1", store.CategoryGenerationPattern)
	require.Len(t, after, 1)
	assert.Equal(t, before[0].ID, after[0].ID)
	assert.Equal(t, before[0].ConfidenceScore, after[0].ConfidenceScore)
	assert.Equal(t, before[0].ImportanceScore, after[0].ImportanceScore)
	assert.EqualValues(t, 2, after[0].KnowledgeValue["support"])
}

func TestConsolidateAccumulatesAcrossEpisodes(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t, nil)

	look := map[string]any{"shot_type": "wide", "tone": "warm"}
	recordDecision(t, m, "ep1", "u1", "cinematographer", score(0.8), look)
	recordDecision(t, m, "ep2", "u1", "cinematographer", score(1.0), look)

	_, err := m.TriggerConsolidation(ctx, "ep1", "u1", ConsolidateOptions{})
	require.NoError(t, err)
	_, err = m.TriggerConsolidation(ctx, "ep2", "u1", ConsolidateOptions{})
	require.NoError(t, err)

	patterns := listCategory(t, m, "u1", store.CategoryGenerationPattern)
	require.Len(t, patterns, 1)
	assert.InDelta(t, 0.7, patterns[0].ConfidenceScore, 1e-9)
	assert.InDelta(t, 0.9, patterns[0].ImportanceScore, 1e-9)
	assert.Equal(t, "ep2", *patterns[0].SourceEpisode)
}

func TestConsolidateFailurePattern(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t, nil)

	shaky := map[string]any{"camera_movement": "whip pan", "format": "vertical"}
	recordDecision(t, m, "ep1", "u1", "director", score(0.3), shaky)
	recordDecision(t, m, "ep1", "u1", "director", score(0.1), shaky)

	result, err := m.TriggerConsolidation(ctx, "ep1", "u1", ConsolidateOptions{})
	require.NoError(t, err)
	assert.Equal(t, 0, result.InsightsExtracted)
	assert.Equal(t, 1, result.PatternsIdentified)

	failures := listCategory(t, m, "u1", store.CategoryFailurePattern)
	require.Len(t, failures, 1)
	assert.True(t, strings.HasPrefix(failures[0].KnowledgeKey, "director:failure:"))
	assert.InDelta(t, 0.5, failures[0].ConfidenceScore, 1e-9)
	assert.InDelta(t, 0.8, failures[0].ImportanceScore, 1e-9)
}

func TestConsolidateSingleFailureIsNotAPattern(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t, nil)

	recordDecision(t, m, "ep1", "u1", "director", score(0.3), map[string]any{"mood": "bleak"})

	result, err := m.TriggerConsolidation(ctx, "ep1", "u1", ConsolidateOptions{})
	require.NoError(t, err)
	assert.Equal(t, 0, result.PatternsIdentified)
	assert.Empty(t, listCategory(t, m, "u1", store.CategoryFailurePattern))
}

func TestConsolidateMinQualityOverride(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t, nil)

	recordDecision(t, m, "ep1", "u1", "director", score(0.6), map[string]any{"genre": "noir"})

	result, err := m.TriggerConsolidation(ctx, "ep1", "u1", ConsolidateOptions{MinQualityScore: 0.5})
	require.NoError(t, err)
	assert.Equal(t, 1, result.InsightsExtracted)

	_, err = m.TriggerConsolidation(ctx, "ep1", "u1", ConsolidateOptions{MinQualityScore: 1.5})
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = m.TriggerConsolidation(ctx, "", "u1", ConsolidateOptions{})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestConsolidateDisconfirmsAndPrunes(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t, nil)

	noir := map[string]any{"genre": "noir"}
	recordDecision(t, m, "ep1", "u1", "director", score(0.9), noir)
	_, err := m.TriggerConsolidation(ctx, "ep1", "u1", ConsolidateOptions{})
	require.NoError(t, err)

	wantConfidence := []float64{0.4, 0.2}
	for i, episode := range []string{"ep2", "ep3"} {
		recordDecision(t, m, episode, "u1", "director", score(0.2), noir)
		result, err := m.TriggerConsolidation(ctx, episode, "u1", ConsolidateOptions{})
		require.NoError(t, err)
		assert.Equal(t, 1, result.MemoriesUpdated)
		assert.Equal(t, 0, result.MemoriesPruned)

		patterns := listCategory(t, m, "u1", store.CategoryGenerationPattern)
		require.Len(t, patterns, 1)
		assert.InDelta(t, wantConfidence[i], patterns[0].ConfidenceScore, 1e-9)
	}

	// Re-running a failing episode does not decay twice.
	again, err := m.TriggerConsolidation(ctx, "ep3", "u1", ConsolidateOptions{})
	require.NoError(t, err)
	assert.Equal(t, 0, again.MemoriesUpdated)

	recordDecision(t, m, "ep4", "u1", "director", score(0.1), noir)
	result, err := m.TriggerConsolidation(ctx, "ep4", "u1", ConsolidateOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, result.MemoriesPruned)
	assert.Empty(t, listCategory(t, m, "u1", store.CategoryGenerationPattern))
}

func TestConsolidateRerunKeepsDisconfirmation(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t, nil)

	noir := map[string]any{"genre": "noir"}
	recordDecision(t, m, "ep1", "u1", "director", score(0.9), noir)
	recordDecision(t, m, "ep2", "u1", "director", score(0.2), noir)

	runs := []struct {
		episode    string
		confidence float64
	}{
		{"ep1", 0.6},
		{"ep2", 0.4},
		{"ep1", 0.4},
		{"ep2", 0.4},
	}
	for i, run := range runs {
		_, err := m.TriggerConsolidation(ctx, run.episode, "u1", ConsolidateOptions{})
		require.NoError(t, err)

		patterns := listCategory(t, m, "u1", store.CategoryGenerationPattern)
		require.Len(t, patterns, 1)
		assert.InDelta(t, run.confidence, patterns[0].ConfidenceScore, 1e-9, "run %d (%s)", i, run.episode)
	}

	// A later success still accumulates on top of the recorded decay.
	recordDecision(t, m, "ep3", "u1", "director", score(0.8), noir)
	_, err := m.TriggerConsolidation(ctx, "ep3", "u1", ConsolidateOptions{})
	require.NoError(t, err)
	patterns := listCategory(t, m, "u1", store.CategoryGenerationPattern)
	require.Len(t, patterns, 1)
	assert.InDelta(t, 0.5, patterns[0].ConfidenceScore, 1e-9)
}

func TestConsolidateMixedEvidenceDoesNotDisconfirm(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t, nil)

	noir := map[string]any{"genre": "noir"}
	recordDecision(t, m, "ep1", "u1", "director", score(0.9), noir)
	recordDecision(t, m, "ep1", "u1", "director", score(0.3), noir)

	_, err := m.TriggerConsolidation(ctx, "ep1", "u1", ConsolidateOptions{})
	require.NoError(t, err)
	second, err := m.TriggerConsolidation(ctx, "ep1", "u1", ConsolidateOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, second.MemoriesUpdated)

	patterns := listCategory(t, m, "u1", store.CategoryGenerationPattern)
	require.Len(t, patterns, 1)
	assert.InDelta(t, 0.6, patterns[0].ConfidenceScore, 1e-9)
}

func TestConsolidatePrunesDuplicateKeys(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t, nil)

	for _, key := range []string{"Director Warm-Look", "director_warm_look"} {
		_, err := m.Semantic.StoreKnowledge(ctx, StoreKnowledgeRequest{
			UserID:         "u1",
			Category:       store.CategoryGenerationPattern,
			KnowledgeKey:   key,
			KnowledgeValue: map[string]any{"tone": "warm"},
		})
		require.NoError(t, err)
	}
	recordDecision(t, m, "ep1", "u1", "director", score(0.9), map[string]any{"tone": "warm"})

	result, err := m.TriggerConsolidation(ctx, "ep1", "u1", ConsolidateOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, result.MemoriesPruned)
	assert.Len(t, listCategory(t, m, "u1", store.CategoryGenerationPattern), 2)
}

func TestConsolidateSkipsMalformedRows(t *testing.T) {
	ctx := context.Background()
	m, ts := newTestManager(t, nil)
	db := ts.GetDriver().GetDB()
	if db == nil {
		t.Skip("driver stores no raw rows")
	}

	recordDecision(t, m, "ep1", "u1", "director", score(0.9), map[string]any{"genre": "noir"})
	bad := recordDecision(t, m, "ep1", "u1", "director", score(0.9), map[string]any{"genre": "noir"})

	stmt := "UPDATE episodic_memory SET quality_score = 1.5 WHERE id = ?"
	if storetest.IsPostgres() {
		stmt = "UPDATE episodic_memory SET quality_score = 1.5 WHERE id = $1"
	}
	_, err := db.ExecContext(ctx, stmt, bad.ID)
	require.NoError(t, err)

	result, err := m.TriggerConsolidation(ctx, "ep1", "u1", ConsolidateOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, result.DecisionsSkipped)
	assert.Equal(t, 1, result.InsightsExtracted)

	var partial *ConsolidationPartialFailure
	require.ErrorAs(t, result.Err(), &partial)
	assert.True(t, partial.Partial())
	require.Len(t, partial.Skipped, 1)
	assert.Equal(t, bad.ID, partial.Skipped[0].MemoryID)
	assert.Contains(t, partial.Error(), "out of range")
}

func TestConsolidateConcurrentRuns(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t, nil)

	for _, q := range []float64{0.9, 0.95, 0.8} {
		recordDecision(t, m, "ep1", "u1", "composer", score(q), map[string]any{"mood": "uplifting"})
	}

	var wg sync.WaitGroup
	results := make([]*ConsolidationResult, 6)
	errs := make([]error, 6)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = m.TriggerConsolidation(ctx, "ep1", "u1", ConsolidateOptions{})
		}(i)
	}
	wg.Wait()

	for i := range results {
		require.NoError(t, errs[i])
		assert.Equal(t, 1, results[i].InsightsExtracted)
	}
	patterns := listCategory(t, m, "u1", store.CategoryGenerationPattern)
	require.Len(t, patterns, 1)
	assert.InDelta(t, 0.8, patterns[0].ConfidenceScore, 1e-9)
}

func TestConsolidationHistory(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t, nil)

	recordDecision(t, m, "ep1", "u1", "director", score(0.9), map[string]any{"genre": "noir"})
	for range 3 {
		_, err := m.TriggerConsolidation(ctx, "ep1", "u1", ConsolidateOptions{})
		require.NoError(t, err)
	}

	history, err := m.ConsolidationHistory(ctx, "ep1", 2)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Greater(t, history[0].ID, history[1].ID)
	assert.Equal(t, "u1", history[0].UserID)
	assert.Equal(t, 1, history[0].DecisionsTotal)

	empty, err := m.ConsolidationHistory(ctx, "unknown", 0)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestNormalizeKey(t *testing.T) {
	assert.Equal(t, "warm_look", normalizeKey(" Warm-Look "))
	assert.Equal(t, "warm_look", normalizeKey("warm__look"))
	assert.Equal(t, normalizeKey("a b-c"), normalizeKey("A_B_C"))
}
