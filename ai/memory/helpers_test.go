package memory

import (
	"context"
	"errors"
	"hash/fnv"
	"math"
	"strings"
	"sync/atomic"
	"testing"
	"unicode"

	"github.com/stretchr/testify/require"

	"github.com/hrygo/storyreel/ai"
	"github.com/hrygo/storyreel/store"
	storetest "github.com/hrygo/storyreel/store/test"
)

const testDimensions = 1024

// bagOfWordsEmbedder hashes each lower-cased word into one of 1024 buckets
// and unit-normalises the counts, so texts sharing words are close.
type bagOfWordsEmbedder struct {
	calls atomic.Int64
}

func (e *bagOfWordsEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (e *bagOfWordsEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	e.calls.Add(1)
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec := make([]float32, testDimensions)
		words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r)
		})
		for _, w := range words {
			h := fnv.New32a()
			h.Write([]byte(w))
			vec[h.Sum32()%testDimensions]++
		}
		var norm float64
		for _, v := range vec {
			norm += float64(v * v)
		}
		if norm > 0 {
			scale := float32(1 / math.Sqrt(norm))
			for j := range vec {
				vec[j] *= scale
			}
		}
		out[i] = vec
	}
	return out, nil
}

func (*bagOfWordsEmbedder) Dimensions() int { return testDimensions }
func (*bagOfWordsEmbedder) Model() string   { return "bag-of-words" }

var errProviderDown = errors.New("provider down: connection refused")

type failingEmbedder struct{}

func (failingEmbedder) Embed(context.Context, string) ([]float32, error) {
	return nil, errProviderDown
}

func (failingEmbedder) EmbedBatch(context.Context, []string) ([][]float32, error) {
	return nil, errProviderDown
}

func (failingEmbedder) Dimensions() int { return testDimensions }
func (failingEmbedder) Model() string   { return "failing" }

func defaultTestConfig() Config {
	return Config{
		Enabled:      true,
		MaxItems:     10,
		MinRelevance: 0.7,
		MinQuality:   DefaultMinQualityScore,
		FeedbackCap:  3,
		Floor:        DefaultConfidenceFloor,
	}
}

func newTestManager(t *testing.T, embedder ai.EmbeddingService) (*Manager, *store.Store) {
	t.Helper()
	ts := storetest.NewTestingStore(context.Background(), t)
	m, err := NewManager(ts, embedder, defaultTestConfig(), nil, nil)
	require.NoError(t, err)
	t.Cleanup(m.Close)
	return m, ts
}

func score(v float64) *float64 {
	return &v
}

func recordDecision(t *testing.T, m *Manager, episodeID, userID, agent string, quality *float64, decisionContext map[string]any) *store.EpisodicMemory {
	t.Helper()
	memory, err := m.Episodic.RecordDecision(context.Background(), RecordDecisionRequest{
		EpisodeID:       episodeID,
		UserID:          userID,
		AgentName:       agent,
		DecisionContext: decisionContext,
		QualityScore:    quality,
	})
	require.NoError(t, err)
	return memory
}
