package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEpisodicStoreOrdering(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t, nil)

	var ids []int64
	for i := 0; i < 5; i++ {
		d := recordDecision(t, m, "ep1", "u1", "screenwriter", nil, map[string]any{"step": i})
		ids = append(ids, d.ID)
	}
	recordDecision(t, m, "ep2", "u1", "screenwriter", nil, map[string]any{"step": 0})

	list, err := m.Episodic.GetEpisodeContext(ctx, "ep1")
	require.NoError(t, err)
	require.Len(t, list, 5)
	for i, d := range list {
		assert.Equal(t, ids[len(ids)-1-i], d.ID)
	}

	unknown, err := m.Episodic.GetEpisodeContext(ctx, "missing")
	require.NoError(t, err)
	assert.NotNil(t, unknown)
	assert.Empty(t, unknown)
}

func TestEpisodicStoreAgentHistory(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t, nil)

	for i := 0; i < 4; i++ {
		recordDecision(t, m, "ep1", "u1", "storyboard", nil, map[string]any{"shot": i})
	}
	recordDecision(t, m, "ep1", "u2", "storyboard", nil, map[string]any{"shot": 9})
	recordDecision(t, m, "ep1", "u1", "screenwriter", nil, map[string]any{})

	history, err := m.Episodic.GetAgentHistory(ctx, "storyboard", 3)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, "u2", history[0].UserID)

	scoped, err := m.Episodic.GetAgentHistoryForUser(ctx, "u1", "storyboard", 10)
	require.NoError(t, err)
	assert.Len(t, scoped, 4)

	_, err = m.Episodic.GetAgentHistory(ctx, "", 3)
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestEpisodicStoreSetQualityScore(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t, nil)

	d := recordDecision(t, m, "ep1", "u1", "screenwriter", nil, map[string]any{"action": "draft"})
	assert.Nil(t, d.QualityScore)

	updated, err := m.Episodic.SetQualityScore(ctx, d.ID, 0.8)
	require.NoError(t, err)
	require.NotNil(t, updated.QualityScore)
	assert.InDelta(t, 0.8, *updated.QualityScore, 1e-9)
	assert.Equal(t, d.DecisionContext["action"], updated.DecisionContext["action"])

	_, err = m.Episodic.SetQualityScore(ctx, d.ID+1000, 0.5)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = m.Episodic.SetQualityScore(ctx, d.ID, 1.5)
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestEpisodicStoreRecordValidation(t *testing.T) {
	m, _ := newTestManager(t, nil)

	_, err := m.Episodic.RecordDecision(context.Background(), RecordDecisionRequest{
		EpisodeID:    "ep1",
		UserID:       "u1",
		AgentName:    "screenwriter",
		QualityScore: score(2),
	})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = m.Episodic.RecordDecision(context.Background(), RecordDecisionRequest{UserID: "u1", AgentName: "x"})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestEpisodicStorePurge(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t, nil)

	recordDecision(t, m, "ep1", "u1", "screenwriter", nil, nil)
	recordDecision(t, m, "ep1", "u1", "storyboard", nil, nil)
	recordDecision(t, m, "ep2", "u1", "screenwriter", nil, nil)
	recordDecision(t, m, "ep3", "u2", "screenwriter", nil, nil)

	n, err := m.Episodic.PurgeEpisode(ctx, "ep1")
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	n, err = m.Episodic.PurgeUser(ctx, "u1")
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	remaining, err := m.Episodic.GetEpisodeContext(ctx, "ep3")
	require.NoError(t, err)
	assert.Len(t, remaining, 1)
}
