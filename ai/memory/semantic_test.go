package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/storyreel/ai"
	"github.com/hrygo/storyreel/store"
)

func TestStoreKnowledgeUpsertIdempotence(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t, nil)

	first, err := m.Semantic.StoreKnowledge(ctx, StoreKnowledgeRequest{
		UserID:         "u1",
		Category:       store.CategoryUserPreference,
		KnowledgeKey:   "tone",
		KnowledgeValue: map[string]any{"tone": "dark", "pace": "slow"},
		Confidence:     score(0.6),
	})
	require.NoError(t, err)
	assert.InDelta(t, DefaultScore, first.ImportanceScore, 1e-9)

	second, err := m.Semantic.StoreKnowledge(ctx, StoreKnowledgeRequest{
		UserID:         "u1",
		Category:       store.CategoryUserPreference,
		KnowledgeKey:   "tone",
		KnowledgeValue: map[string]any{"tone": "whimsical"},
		Confidence:     score(0.4),
	})
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.InDelta(t, 0.6, second.ConfidenceScore, 1e-9)
	assert.Equal(t, "whimsical", second.KnowledgeValue["tone"])
	assert.Equal(t, "slow", second.KnowledgeValue["pace"])

	third, err := m.Semantic.StoreKnowledge(ctx, StoreKnowledgeRequest{
		UserID:       "u1",
		Category:     store.CategoryUserPreference,
		KnowledgeKey: "tone",
		Confidence:   score(0.9),
	})
	require.NoError(t, err)
	assert.InDelta(t, 0.9, third.ConfidenceScore, 1e-9)

	list, err := m.Semantic.GetByCategory(ctx, "u1", store.CategoryUserPreference)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestStoreKnowledgeRejectsUnknownCategory(t *testing.T) {
	m, _ := newTestManager(t, nil)
	_, err := m.Semantic.StoreKnowledge(context.Background(), StoreKnowledgeRequest{
		UserID:       "u1",
		Category:     "MOOD_BOARD",
		KnowledgeKey: "k",
	})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestStoreKnowledgeEmbeddingDegradation(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		embedder ai.EmbeddingService
		name     string
	}{
		{name: "failing provider", embedder: failingEmbedder{}},
		{name: "no provider", embedder: nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, ts := newTestManager(t, tt.embedder)

			memory, err := m.Semantic.StoreKnowledge(ctx, StoreKnowledgeRequest{
				UserID:            "u1",
				Category:          store.CategoryGenerationPattern,
				KnowledgeKey:      "screenwriter:noir",
				KnowledgeValue:    map[string]any{"style": "noir"},
				GenerateEmbedding: true,
			})
			require.NoError(t, err)
			require.NotNil(t, memory)
			assert.NotZero(t, memory.ID)

			userID := "u1"
			embeddings, err := ts.ListMemoryEmbeddings(ctx, &store.FindMemoryEmbedding{UserID: &userID})
			require.NoError(t, err)
			assert.Empty(t, embeddings)
		})
	}
}

func TestStoreKnowledgeGeneratesEmbedding(t *testing.T) {
	ctx := context.Background()
	m, ts := newTestManager(t, &bagOfWordsEmbedder{})

	memory, err := m.Semantic.StoreKnowledge(ctx, StoreKnowledgeRequest{
		UserID:            "u1",
		Category:          store.CategoryStylePattern,
		KnowledgeKey:      "palette",
		KnowledgeValue:    map[string]any{"colors": "teal and orange"},
		GenerateEmbedding: true,
	})
	require.NoError(t, err)

	embedding, err := ts.GetMemoryEmbedding(ctx, store.MemoryTypeSemantic, memory.ID, "bag-of-words")
	require.NoError(t, err)
	require.NotNil(t, embedding)
	assert.Len(t, embedding.Embedding, testDimensions)
}

func TestRetrieveIncrementsAccessCount(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t, nil)

	_, err := m.Semantic.StoreKnowledge(ctx, StoreKnowledgeRequest{
		UserID:       "u1",
		Category:     store.CategoryAgentInsight,
		KnowledgeKey: "pacing",
	})
	require.NoError(t, err)

	first, err := m.Semantic.Retrieve(ctx, "u1", "pacing")
	require.NoError(t, err)
	assert.EqualValues(t, 1, first.AccessCount)

	second, err := m.Semantic.Retrieve(ctx, "u1", "pacing")
	require.NoError(t, err)
	assert.EqualValues(t, 2, second.AccessCount)

	_, err = m.Semantic.Retrieve(ctx, "u1", "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = m.Semantic.Retrieve(ctx, "u2", "pacing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRetrievePrefersMostRecentlyUpdated(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t, nil)

	_, err := m.Semantic.StoreKnowledge(ctx, StoreKnowledgeRequest{
		UserID:       "u1",
		Category:     store.CategoryUserPreference,
		KnowledgeKey: "music",
	})
	require.NoError(t, err)
	newer, err := m.Semantic.StoreKnowledge(ctx, StoreKnowledgeRequest{
		UserID:       "u1",
		Category:     store.CategoryStylePattern,
		KnowledgeKey: "music",
	})
	require.NoError(t, err)

	got, err := m.Semantic.Retrieve(ctx, "u1", "music")
	require.NoError(t, err)
	assert.Equal(t, newer.ID, got.ID)
}

func TestGetByCategoryOrdering(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t, nil)

	for key, importance := range map[string]float64{"low": 0.2, "high": 0.9, "mid": 0.5} {
		_, err := m.Semantic.StoreKnowledge(ctx, StoreKnowledgeRequest{
			UserID:       "u1",
			Category:     store.CategoryGenerationPattern,
			KnowledgeKey: key,
			Importance:   score(importance),
		})
		require.NoError(t, err)
	}

	list, err := m.Semantic.GetByCategory(ctx, "u1", store.CategoryGenerationPattern)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, []string{"high", "mid", "low"}, []string{list[0].KnowledgeKey, list[1].KnowledgeKey, list[2].KnowledgeKey})

	page, err := m.Semantic.List(ctx, "u1", "", 1, 1)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "mid", page[0].KnowledgeKey)
}

func TestPrune(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t, &bagOfWordsEmbedder{})

	var candidates []PruneCandidate
	for _, key := range []string{"a", "b"} {
		memory, err := m.Semantic.StoreKnowledge(ctx, StoreKnowledgeRequest{
			UserID:            "u1",
			Category:          store.CategoryFailurePattern,
			KnowledgeKey:      key,
			GenerateEmbedding: true,
		})
		require.NoError(t, err)
		candidates = append(candidates, PruneCandidate{UserID: "u1", MemoryID: memory.ID, Reason: "test"})
	}
	kept, err := m.Semantic.StoreKnowledge(ctx, StoreKnowledgeRequest{
		UserID:       "u1",
		Category:     store.CategoryFailurePattern,
		KnowledgeKey: "c",
	})
	require.NoError(t, err)

	// Another user's id is never deleted through u2's candidate.
	n, err := m.Semantic.Prune(ctx, []PruneCandidate{{UserID: "u2", MemoryID: kept.ID}})
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = m.Semantic.Prune(ctx, candidates)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	list, err := m.Semantic.GetByCategory(ctx, "u1", store.CategoryFailurePattern)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, kept.ID, list[0].ID)
}
