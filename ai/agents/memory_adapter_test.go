package agent

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/storyreel/ai/memory"
	"github.com/hrygo/storyreel/ai/metrics"
	"github.com/hrygo/storyreel/store"
	storetest "github.com/hrygo/storyreel/store/test"
)

func newTestAdapter(t *testing.T, enabled bool) (*MemoryAdapter, *memory.Manager, *store.Store, *metrics.PrometheusExporter) {
	t.Helper()
	ts := storetest.NewTestingStore(context.Background(), t)
	exporter := metrics.NewPrometheusExporter(metrics.DefaultConfig())
	manager, err := memory.NewManager(ts, nil, memory.Config{
		Enabled:      enabled,
		MinRelevance: 0.7,
	}, exporter, nil)
	require.NoError(t, err)
	t.Cleanup(manager.Close)
	return NewMemoryAdapter(manager, exporter, nil), manager, ts, exporter
}

func quality(v float64) *float64 {
	return &v
}

func TestMemoryAdapterRoundTrip(t *testing.T) {
	ctx := context.Background()
	adapter, manager, _, _ := newTestAdapter(t, true)

	recorded := adapter.RecordDecision(ctx, Decision{
		EpisodeID:    "ep1",
		UserID:       "u1",
		AgentName:    "screenwriter",
		Context:      map[string]any{"genre": "sci-fi"},
		Outcome:      map[string]any{"scenes": 4},
		QualityScore: quality(0.9),
	})
	require.NotNil(t, recorded)
	assert.Equal(t, "screenwriter", recorded.AgentName)

	assert.True(t, adapter.UpdatePreference(ctx, "u1", "genre", "sci-fi"))
	assert.True(t, adapter.RecordFeedback(ctx, "u1", "rating", store.FeedbackEvent{EpisodeID: "ep1", Rating: quality(1)}))

	snippets := adapter.RelevantContext(ctx, "u1", "screenwriter", nil)
	require.Len(t, snippets, 2)
	assert.Equal(t, memory.SourceDecision, snippets[0].Source)
	assert.Equal(t, memory.SourcePreference, snippets[1].Source)

	prompt := adapter.Augment(ctx, "Outline the pilot.", "u1", "screenwriter", nil)
	assert.Contains(t, prompt, memory.ContextBlockStart)
	assert.Contains(t, prompt, "preference genre=sci-fi")

	profile, err := manager.Profiles.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, profile.FeedbackHistory["rating"], 1)
}

func TestMemoryAdapterMissingIDsAreNoOps(t *testing.T) {
	ctx := context.Background()
	adapter, manager, _, _ := newTestAdapter(t, true)

	assert.Nil(t, adapter.RecordDecision(ctx, Decision{UserID: "u1", AgentName: "screenwriter"}))
	assert.Nil(t, adapter.RecordDecision(ctx, Decision{EpisodeID: "ep1", AgentName: "screenwriter"}))
	assert.Nil(t, adapter.RelevantContext(ctx, "", "screenwriter", nil))
	assert.Equal(t, "base", adapter.Augment(ctx, "base", "", "screenwriter", nil))
	assert.False(t, adapter.UpdatePreference(ctx, "", "genre", "noir"))
	assert.False(t, adapter.RecordFeedback(ctx, "u1", "rating", store.FeedbackEvent{}))

	overview, err := manager.Overview(ctx, "u1")
	require.NoError(t, err)
	assert.Zero(t, overview.EpisodicCount)
	assert.False(t, overview.HasProfile)
}

func TestMemoryAdapterDisabled(t *testing.T) {
	ctx := context.Background()
	adapter, _, _, _ := newTestAdapter(t, false)

	assert.Nil(t, adapter.RecordDecision(ctx, Decision{EpisodeID: "ep1", UserID: "u1", AgentName: "screenwriter"}))
	assert.Equal(t, "base", adapter.Augment(ctx, "base", "u1", "screenwriter", nil))

	var nilAdapter *MemoryAdapter
	assert.Nil(t, nilAdapter.RelevantContext(ctx, "u1", "screenwriter", nil))
	assert.False(t, NewMemoryAdapter(nil, nil, nil).UpdatePreference(ctx, "u1", "genre", "noir"))
}

func TestMemoryAdapterDegradesOnStorageFailure(t *testing.T) {
	ctx := context.Background()
	adapter, _, ts, exporter := newTestAdapter(t, true)
	if ts.GetDriver().GetDB() == nil {
		t.Skip("driver has no connection to lose")
	}
	require.NoError(t, ts.GetDriver().Close())

	assert.Nil(t, adapter.RecordDecision(ctx, Decision{EpisodeID: "ep1", UserID: "u1", AgentName: "screenwriter"}))
	assert.Nil(t, adapter.RelevantContext(ctx, "u1", "screenwriter", nil))
	assert.Equal(t, "base", adapter.Augment(ctx, "base", "u1", "screenwriter", nil))
	assert.False(t, adapter.UpdatePreference(ctx, "u1", "genre", "noir"))

	count, err := testutil.GatherAndCount(exporter.GetRegistry(), "storyreel_memory_degradations_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}
