package memory

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/storyreel/store"
)

func TestProfileGetOrCreateIsSingleton(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t, nil)

	var wg sync.WaitGroup
	profiles := make([]*store.UserMemoryProfile, 8)
	errs := make([]error, 8)
	for i := range profiles {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			profiles[i], errs[i] = m.Profiles.GetOrCreate(ctx, "new-user")
		}(i)
	}
	wg.Wait()

	for i := range profiles {
		require.NoError(t, errs[i])
		assert.Equal(t, profiles[0].CreatedTs, profiles[i].CreatedTs)
	}

	overview, err := m.Overview(ctx, "new-user")
	require.NoError(t, err)
	assert.True(t, overview.HasProfile)
}

func TestProfileUpdatePreferenceCreatesProfile(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t, nil)

	missing, err := m.Profiles.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Nil(t, missing)

	_, err = m.Profiles.UpdatePreference(ctx, "u1", "genre", "sci-fi")
	require.NoError(t, err)
	updated, err := m.Profiles.UpdateStylePattern(ctx, "u1", "palette", "neon")
	require.NoError(t, err)

	assert.Equal(t, "sci-fi", updated.Preferences["genre"])
	assert.Equal(t, "neon", updated.StylePatterns["palette"])

	_, err = m.Profiles.UpdatePreference(ctx, "u1", "", "x")
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestProfileRecordFeedbackCapsHistory(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t, nil) // feedback cap 3

	var last *store.UserMemoryProfile
	for i := 1; i <= 5; i++ {
		var err error
		last, err = m.Profiles.RecordFeedback(ctx, "u1", "rating", store.FeedbackEvent{
			EpisodeID: fmt.Sprintf("ep%d", i),
			Rating:    score(0.2 * float64(i)),
		})
		require.NoError(t, err)
	}
	_, err := m.Profiles.RecordFeedback(ctx, "u1", "comment", store.FeedbackEvent{Comment: "more dragons"})
	require.NoError(t, err)

	history := last.FeedbackHistory["rating"]
	require.Len(t, history, 3)
	assert.Equal(t, "ep3", history[0].EpisodeID)
	assert.Equal(t, "ep5", history[2].EpisodeID)

	profile, err := m.Profiles.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, profile.FeedbackHistory["rating"], 3)
	assert.Len(t, profile.FeedbackHistory["comment"], 1)
}
