package memory

import (
	"context"
	"errors"

	"github.com/hrygo/storyreel/ai/metrics"
	"github.com/hrygo/storyreel/ai/observability/logging"
	"github.com/hrygo/storyreel/store"
)

// DefaultScore is the confidence and importance of knowledge stored without one.
const DefaultScore = 0.5

// StoreKnowledgeRequest describes one piece of knowledge. Nil scores default
// to DefaultScore.
type StoreKnowledgeRequest struct {
	KnowledgeValue    map[string]any
	SourceEpisode     *string
	Confidence        *float64
	Importance        *float64
	UserID            string
	Category          store.KnowledgeCategory
	KnowledgeKey      string
	GenerateEmbedding bool
}

// PruneCandidate names a semantic memory consolidation decided to remove.
type PruneCandidate struct {
	UserID   string
	Reason   string
	MemoryID int64
}

// SemanticStore is the per-user knowledge base with upsert-by-key semantics.
type SemanticStore struct {
	store    *store.Store
	index    *EmbeddingIndex
	exporter *metrics.PrometheusExporter
	logger   *logging.Logger
}

// NewSemanticStore creates a SemanticStore. index may be nil, in which case
// GenerateEmbedding requests are skipped.
func NewSemanticStore(s *store.Store, index *EmbeddingIndex, exporter *metrics.PrometheusExporter, logger *logging.Logger) *SemanticStore {
	if logger == nil {
		logger = logging.Default()
	}
	return &SemanticStore{
		store:    s,
		index:    index,
		exporter: exporter,
		logger:   logger.WithComponent("memory.semantic"),
	}
}

// StoreKnowledge inserts or merges knowledge. Embedding failures are logged
// and counted but never returned.
func (s *SemanticStore) StoreKnowledge(ctx context.Context, req StoreKnowledgeRequest) (*store.SemanticMemory, error) {
	memory, _, err := s.upsert(ctx, req)
	return memory, err
}

// upsert is StoreKnowledge that also reports whether the row was created.
func (s *SemanticStore) upsert(ctx context.Context, req StoreKnowledgeRequest) (*store.SemanticMemory, bool, error) {
	confidence, importance := DefaultScore, DefaultScore
	if req.Confidence != nil {
		confidence = *req.Confidence
	}
	if req.Importance != nil {
		importance = *req.Importance
	}

	memory, created, err := s.store.UpsertSemanticMemory(ctx, &store.UpsertSemanticMemory{
		UserID:          req.UserID,
		Category:        req.Category,
		KnowledgeKey:    req.KnowledgeKey,
		KnowledgeValue:  req.KnowledgeValue,
		SourceEpisode:   req.SourceEpisode,
		ConfidenceScore: confidence,
		ImportanceScore: importance,
	})
	if err != nil {
		return nil, false, wrapStoreError("store knowledge", err)
	}

	if req.GenerateEmbedding {
		s.embed(ctx, memory)
	}
	return memory, created, nil
}

// embed indexes memory on a best-effort basis.
func (s *SemanticStore) embed(ctx context.Context, memory *store.SemanticMemory) {
	if s.index == nil || !s.index.Enabled() {
		s.exporter.RecordDegradation("semantic_embedding", "unavailable")
		s.logger.Debug("embedding skipped, no provider", "memory_id", memory.ID)
		return
	}
	if err := s.index.IndexSemantic(ctx, memory); err != nil {
		class := "provider"
		if errors.Is(err, ErrStorage) {
			class = "storage"
		}
		s.exporter.RecordDegradation("semantic_embedding", class)
		s.logger.Warn("failed to embed knowledge",
			"memory_id", memory.ID,
			"key", memory.KnowledgeKey,
			"error", err,
		)
	}
}

// Retrieve returns the user's knowledge under key and increments its access
// count. When the key exists in several categories the most recently
// updated entry wins.
func (s *SemanticStore) Retrieve(ctx context.Context, userID, knowledgeKey string) (*store.SemanticMemory, error) {
	if userID == "" || knowledgeKey == "" {
		return nil, invalidInput("user_id and knowledge_key are required")
	}
	list, err := s.store.ListSemanticMemories(ctx, &store.FindSemanticMemory{
		UserID:       &userID,
		KnowledgeKey: &knowledgeKey,
	})
	if err != nil {
		return nil, wrapStoreError("retrieve knowledge", err)
	}
	if len(list) == 0 {
		return nil, ErrNotFound
	}

	latest := list[0]
	for _, m := range list[1:] {
		if m.UpdatedTs > latest.UpdatedTs || (m.UpdatedTs == latest.UpdatedTs && m.ID > latest.ID) {
			latest = m
		}
	}

	memory, err := s.store.IncrementSemanticMemoryAccess(ctx, latest.ID)
	if err != nil {
		return nil, wrapStoreError("retrieve knowledge", err)
	}
	return memory, nil
}

// GetByCategory returns the user's knowledge in a category, most important first.
func (s *SemanticStore) GetByCategory(ctx context.Context, userID string, category store.KnowledgeCategory) ([]*store.SemanticMemory, error) {
	return s.List(ctx, userID, category, 0, 0)
}

// List pages through the user's knowledge. An empty category lists all.
func (s *SemanticStore) List(ctx context.Context, userID string, category store.KnowledgeCategory, limit, offset int) ([]*store.SemanticMemory, error) {
	if userID == "" {
		return nil, invalidInput("user_id is required")
	}
	find := &store.FindSemanticMemory{
		UserID: &userID,
		Limit:  limit,
		Offset: offset,
	}
	if category != "" {
		if !category.Valid() {
			return nil, invalidInput("unknown category %q", category)
		}
		find.Category = &category
	}
	list, err := s.store.ListSemanticMemories(ctx, find)
	if err != nil {
		return nil, wrapStoreError("list knowledge", err)
	}
	return list, nil
}

// update applies an explicit update to one memory.
func (s *SemanticStore) update(ctx context.Context, update *store.UpdateSemanticMemory) (*store.SemanticMemory, error) {
	memory, err := s.store.UpdateSemanticMemory(ctx, update)
	if err != nil {
		return nil, wrapStoreError("update knowledge", err)
	}
	return memory, nil
}

// Prune removes the candidates and their embeddings, returning how many were deleted.
func (s *SemanticStore) Prune(ctx context.Context, candidates []PruneCandidate) (int, error) {
	byUser := map[string][]int64{}
	var users []string
	for _, c := range candidates {
		if _, ok := byUser[c.UserID]; !ok {
			users = append(users, c.UserID)
		}
		byUser[c.UserID] = append(byUser[c.UserID], c.MemoryID)
	}

	var pruned int64
	for _, userID := range users {
		if userID == "" {
			return int(pruned), invalidInput("prune candidate without user_id")
		}
		n, err := s.store.DeleteSemanticMemories(ctx, &store.DeleteSemanticMemory{
			UserID: &userID,
			IDs:    byUser[userID],
		})
		if err != nil {
			return int(pruned), wrapStoreError("prune knowledge", err)
		}
		pruned += n
	}

	for _, c := range candidates {
		s.logger.Debug("knowledge pruned", "memory_id", c.MemoryID, "reason", c.Reason)
	}
	return int(pruned), nil
}
