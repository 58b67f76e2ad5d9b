package memory

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"

	"github.com/dgraph-io/ristretto"

	"github.com/hrygo/storyreel/ai"
	"github.com/hrygo/storyreel/ai/metrics"
	"github.com/hrygo/storyreel/ai/observability/logging"
	"github.com/hrygo/storyreel/store"
)

const queryCacheType = "query_embedding"

// IndexRequest stores one vector.
type IndexRequest struct {
	MemoryType store.MemoryType
	UserID     string
	Model      string // defaults to the embedder's model
	Vector     []float32
	MemoryID   int64
}

// SearchRequest is a semantic search over one user's knowledge.
type SearchRequest struct {
	Query         string
	UserID        string
	TopK          int
	MinSimilarity float64
}

// SearchResult is one ranked hit.
type SearchResult struct {
	Memory     *store.SemanticMemory
	Content    string
	MemoryID   int64
	Similarity float64
}

// EmbeddingIndex embeds text through the configured provider and searches
// the stored vectors. With no provider every call that needs a vector
// fails with ErrEmbeddingUnavailable.
type EmbeddingIndex struct {
	store    *store.Store
	embedder ai.EmbeddingService
	cache    *ristretto.Cache
	exporter *metrics.PrometheusExporter
	logger   *logging.Logger
}

// NewEmbeddingIndex creates an index. embedder and exporter may be nil.
func NewEmbeddingIndex(s *store.Store, embedder ai.EmbeddingService, exporter *metrics.PrometheusExporter, logger *logging.Logger) (*EmbeddingIndex, error) {
	if logger == nil {
		logger = logging.Default()
	}
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 1e5,      // ~10x the expected number of cached queries
		MaxCost:     32 << 20, // bytes of vector data
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("create query cache: %w", err)
	}
	return &EmbeddingIndex{
		store:    s,
		embedder: embedder,
		cache:    cache,
		exporter: exporter,
		logger:   logger.WithComponent("memory.embedding"),
	}, nil
}

// Enabled reports whether an embedding provider is configured.
func (x *EmbeddingIndex) Enabled() bool {
	return x.embedder != nil
}

// Model returns the embedding model name, or "" when disabled.
func (x *EmbeddingIndex) Model() string {
	if x.embedder == nil {
		return ""
	}
	return x.embedder.Model()
}

// Close releases the query cache.
func (x *EmbeddingIndex) Close() {
	x.cache.Close()
}

// Embed returns the vector for text, serving repeated texts from the cache.
func (x *EmbeddingIndex) Embed(ctx context.Context, text string) ([]float32, error) {
	if x.embedder == nil {
		return nil, ErrEmbeddingUnavailable
	}
	key := x.embedder.Model() + "\x00" + text
	if cached, ok := x.cache.Get(key); ok {
		x.exporter.RecordCacheHit(queryCacheType)
		return slices.Clone(cached.([]float32)), nil
	}
	x.exporter.RecordCacheMiss(queryCacheType)

	vector, err := x.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEmbeddingUnavailable, err)
	}
	// Callers own the returned slice; the cache keeps its own copy.
	x.cache.Set(key, slices.Clone(vector), int64(len(vector)*4))
	return vector, nil
}

// Index stores or overwrites the vector of one memory for a model.
func (x *EmbeddingIndex) Index(ctx context.Context, req IndexRequest) (*store.MemoryEmbedding, error) {
	if req.Model == "" {
		req.Model = x.Model()
	}
	embedding, err := x.store.UpsertMemoryEmbedding(ctx, &store.MemoryEmbedding{
		MemoryType: req.MemoryType,
		MemoryID:   req.MemoryID,
		UserID:     req.UserID,
		Model:      req.Model,
		Embedding:  req.Vector,
	})
	if err != nil {
		return nil, wrapStoreError("index embedding", err)
	}
	return embedding, nil
}

// IndexSemantic embeds a semantic memory's content and indexes it.
func (x *EmbeddingIndex) IndexSemantic(ctx context.Context, memory *store.SemanticMemory) error {
	vector, err := x.Embed(ctx, SemanticContent(memory))
	if err != nil {
		return err
	}
	_, err = x.Index(ctx, IndexRequest{
		MemoryType: store.MemoryTypeSemantic,
		MemoryID:   memory.ID,
		UserID:     memory.UserID,
		Vector:     vector,
	})
	return err
}

// Search embeds the query and returns the user's closest semantic memories,
// most similar first, ties broken by the more recent memory id.
func (x *EmbeddingIndex) Search(ctx context.Context, req SearchRequest) ([]SearchResult, error) {
	if req.UserID == "" {
		return nil, invalidInput("user_id is required")
	}
	if strings.TrimSpace(req.Query) == "" {
		return nil, invalidInput("query is required")
	}
	if req.TopK <= 0 {
		req.TopK = 10
	}

	vector, err := x.Embed(ctx, req.Query)
	if err != nil {
		return nil, err
	}

	hits, err := x.store.SemanticVectorSearch(ctx, &store.SemanticVectorSearchOptions{
		UserID: req.UserID,
		Model:  x.Model(),
		Vector: vector,
		Limit:  req.TopK,
	})
	if err != nil {
		return nil, wrapStoreError("semantic search", err)
	}

	results := make([]SearchResult, 0, len(hits))
	for _, hit := range hits {
		similarity := float64(hit.Score)
		if similarity < req.MinSimilarity {
			continue
		}
		results = append(results, SearchResult{
			Memory:     hit.SemanticMemory,
			Content:    SemanticContent(hit.SemanticMemory),
			MemoryID:   hit.SemanticMemory.ID,
			Similarity: similarity,
		})
	}
	return results, nil
}

// SemanticContent renders a semantic memory as the text that gets embedded:
// the knowledge key followed by the value's fields in key order.
func SemanticContent(m *store.SemanticMemory) string {
	var b strings.Builder
	b.WriteString(m.KnowledgeKey)
	if len(m.KnowledgeValue) > 0 {
		b.WriteString(": ")
		b.WriteString(formatFields(m.KnowledgeValue))
	}
	return b.String()
}

// formatFields renders a map as "k=v, k=v" sorted by key.
func formatFields(fields map[string]any) string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, fields[k]))
	}
	return strings.Join(parts, ", ")
}
