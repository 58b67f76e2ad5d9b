package memory

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/storyreel/store"
	storetest "github.com/hrygo/storyreel/store/test"
)

func seedContext(t *testing.T, m *Manager) {
	t.Helper()
	ctx := context.Background()

	recordDecision(t, m, "ep1", "u1", "director", score(0.9), map[string]any{"genre": "noir"})
	recordDecision(t, m, "ep1", "u1", "director", score(0.5), map[string]any{"genre": "comedy"})
	recordDecision(t, m, "ep1", "u1", "director", nil, map[string]any{"genre": "western"})
	recordDecision(t, m, "ep1", "u1", "editor", score(0.95), map[string]any{"format": "vertical"})
	recordDecision(t, m, "ep1", "u2", "director", score(0.99), map[string]any{"genre": "horror"})

	_, err := m.Profiles.UpdatePreference(ctx, "u1", "genre", "noir")
	require.NoError(t, err)
	_, err = m.Profiles.UpdateStylePattern(ctx, "u1", "palette", "teal and orange")
	require.NoError(t, err)

	for _, p := range []struct {
		key        string
		fields     map[string]any
		importance float64
	}{
		{"director:success:rain", map[string]any{"mood": "wet"}, 0.8},
		{"director:success:noir", map[string]any{"genre": "noir"}, 0.8},
		{"director:success:bright", map[string]any{"tone": "bright"}, 0.9},
		{"editor:success:cuts", map[string]any{"format": "vertical"}, 1.0},
	} {
		_, err := m.Semantic.StoreKnowledge(ctx, StoreKnowledgeRequest{
			UserID:         "u1",
			Category:       store.CategoryGenerationPattern,
			KnowledgeKey:   p.key,
			KnowledgeValue: map[string]any{"fields": p.fields},
			Importance:     score(p.importance),
		})
		require.NoError(t, err)
	}
}

func sources(snippets []Snippet) []SnippetSource {
	out := make([]SnippetSource, 0, len(snippets))
	for _, s := range snippets {
		out = append(out, s.Source)
	}
	return out
}

func TestGetRelevantContextOrdering(t *testing.T) {
	m, _ := newTestManager(t, nil)
	seedContext(t, m)

	snippets, err := m.GetRelevantContext(context.Background(), ContextRequest{
		UserID:    "u1",
		AgentName: "director",
		Context:   map[string]any{"genre": "Noir"},
	})
	require.NoError(t, err)

	assert.Equal(t, []SnippetSource{
		SourceDecision,
		SourcePreference,
		SourceStyle,
		SourcePattern,
		SourcePattern,
		SourcePattern,
	}, sources(snippets))

	assert.Contains(t, snippets[0].Text, "[director]")
	assert.Contains(t, snippets[0].Text, "genre=noir")
	assert.InDelta(t, 0.9, snippets[0].Score, 1e-9)
	assert.Equal(t, "preference genre=noir", snippets[1].Text)
	assert.Equal(t, "style palette=teal and orange", snippets[2].Text)

	assert.Contains(t, snippets[3].Text, "director:success:bright")
	assert.Contains(t, snippets[4].Text, "director:success:noir")
	assert.Contains(t, snippets[5].Text, "director:success:rain")
}

func TestGetRelevantContextThresholdAndTruncation(t *testing.T) {
	m, _ := newTestManager(t, nil)
	seedContext(t, m)
	ctx := context.Background()

	loose, err := m.GetRelevantContext(ctx, ContextRequest{UserID: "u1", AgentName: "director", MinRelevance: score(0.4)})
	require.NoError(t, err)
	var decisions int
	for _, s := range loose {
		if s.Source == SourceDecision {
			decisions++
		}
	}
	assert.Equal(t, 2, decisions)

	everything, err := m.GetRelevantContext(ctx, ContextRequest{UserID: "u1", AgentName: "director", MinRelevance: score(0)})
	require.NoError(t, err)
	decisions = 0
	for _, s := range everything {
		if s.Source == SourceDecision {
			decisions++
		}
	}
	assert.Equal(t, 2, decisions, "a zero threshold keeps every scored decision")

	truncated, err := m.GetRelevantContext(ctx, ContextRequest{UserID: "u1", AgentName: "director", MaxItems: 2})
	require.NoError(t, err)
	assert.Equal(t, []SnippetSource{SourceDecision, SourcePreference}, sources(truncated))

	_, err = m.GetRelevantContext(ctx, ContextRequest{UserID: "u1"})
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = m.GetRelevantContext(ctx, ContextRequest{UserID: "u1", AgentName: "director", MinRelevance: score(1.5)})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestGetRelevantContextMatchesWholeAgentName(t *testing.T) {
	m, _ := newTestManager(t, nil)
	ctx := context.Background()

	for _, p := range []struct {
		key   string
		value map[string]any
	}{
		{"writer:success:dialogue", map[string]any{"fields": map[string]any{"tone": "dry"}}},
		{"screenwriter:success:acts", map[string]any{"fields": map[string]any{"structure": "three-act"}}},
		{"storyboard_artist:success:frames", map[string]any{"fields": map[string]any{"aspect": "2.39"}}},
		{"manual-note", map[string]any{"agent": "Writer", "fields": map[string]any{"voice": "first-person"}}},
	} {
		_, err := m.Semantic.StoreKnowledge(ctx, StoreKnowledgeRequest{
			UserID:         "u1",
			Category:       store.CategoryGenerationPattern,
			KnowledgeKey:   p.key,
			KnowledgeValue: p.value,
		})
		require.NoError(t, err)
	}

	writer, err := m.GetRelevantContext(ctx, ContextRequest{UserID: "u1", AgentName: "writer"})
	require.NoError(t, err)
	require.Len(t, writer, 2)
	for _, s := range writer {
		assert.NotContains(t, s.Text, "screenwriter")
		assert.NotContains(t, s.Text, "storyboard_artist")
	}

	screenwriter, err := m.GetRelevantContext(ctx, ContextRequest{UserID: "u1", AgentName: "screenwriter"})
	require.NoError(t, err)
	require.Len(t, screenwriter, 1)
	assert.Contains(t, screenwriter[0].Text, "screenwriter:success:acts")

	artist, err := m.GetRelevantContext(ctx, ContextRequest{UserID: "u1", AgentName: "artist"})
	require.NoError(t, err)
	assert.Empty(t, artist)
}

func TestAugment(t *testing.T) {
	m, _ := newTestManager(t, nil)
	seedContext(t, m)
	ctx := context.Background()

	prompt, err := m.Augment(ctx, "Write the opening shot.", "u1", "editor", nil)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(prompt, "Write the opening shot.\n\n"+ContextBlockStart+"\n"))
	assert.True(t, strings.HasSuffix(prompt, ContextBlockEnd))
	assert.Contains(t, prompt, "- [editor] decided format=vertical (quality 0.95)")
	assert.Contains(t, prompt, "editor:success:cuts")

	unchanged, err := m.Augment(ctx, "Write the opening shot.", "stranger", "editor", nil)
	require.NoError(t, err)
	assert.Equal(t, "Write the opening shot.", unchanged)
}

func TestAugmentDisabled(t *testing.T) {
	ts := storetest.NewTestingStore(context.Background(), t)
	cfg := defaultTestConfig()
	cfg.Enabled = false
	m, err := NewManager(ts, nil, cfg, nil, nil)
	require.NoError(t, err)
	t.Cleanup(m.Close)
	seedContext(t, m)

	assert.False(t, m.Enabled())
	prompt, err := m.Augment(context.Background(), "base", "u1", "director", nil)
	require.NoError(t, err)
	assert.Equal(t, "base", prompt)
}

func TestFormatContextBlock(t *testing.T) {
	assert.Equal(t, "p", FormatContextBlock("p", nil))
	got := FormatContextBlock("p", []Snippet{{Text: "one"}, {Text: "two"}})
	assert.Equal(t, "p\n\n"+ContextBlockStart+"\n- one\n- two\n"+ContextBlockEnd, got)
}

func TestOverview(t *testing.T) {
	m, _ := newTestManager(t, &bagOfWordsEmbedder{})
	seedContext(t, m)
	ctx := context.Background()

	_, err := m.Semantic.StoreKnowledge(ctx, StoreKnowledgeRequest{
		UserID:            "u1",
		Category:          store.CategoryUserPreference,
		KnowledgeKey:      "favourite_lens",
		KnowledgeValue:    map[string]any{"mm": 35},
		GenerateEmbedding: true,
	})
	require.NoError(t, err)

	overview, err := m.Overview(ctx, "u1")
	require.NoError(t, err)
	assert.EqualValues(t, 4, overview.EpisodicCount)
	assert.EqualValues(t, 5, overview.SemanticCount)
	assert.EqualValues(t, 4, overview.SemanticByCategory[store.CategoryGenerationPattern])
	assert.EqualValues(t, 1, overview.SemanticByCategory[store.CategoryUserPreference])
	assert.EqualValues(t, 1, overview.EmbeddingCount)
	assert.Equal(t, "bag-of-words", overview.EmbeddingModel)
	assert.True(t, overview.HasProfile)

	empty, err := m.Overview(ctx, "nobody")
	require.NoError(t, err)
	assert.Zero(t, empty.EpisodicCount)
	assert.False(t, empty.HasProfile)
}

func TestListMemories(t *testing.T) {
	m, _ := newTestManager(t, nil)
	seedContext(t, m)
	ctx := context.Background()

	page, err := m.ListEpisodicMemories(ctx, "u1", "ep1", 2, 0)
	require.NoError(t, err)
	assert.Len(t, page, 2)
	rest, err := m.ListEpisodicMemories(ctx, "u1", "", 10, 2)
	require.NoError(t, err)
	assert.Len(t, rest, 2)

	patterns, err := m.ListSemanticMemories(ctx, "u1", store.CategoryGenerationPattern, 0, 0)
	require.NoError(t, err)
	require.Len(t, patterns, 4)
	assert.Equal(t, "editor:success:cuts", patterns[0].KnowledgeKey)

	_, err = m.ListEpisodicMemories(ctx, "", "", 0, 0)
	assert.ErrorIs(t, err, ErrInvalidInput)
}
