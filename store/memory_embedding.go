package store

import (
	"context"

	"github.com/pkg/errors"
)

// MemoryType names the table a MemoryEmbedding points at.
type MemoryType string

const (
	MemoryTypeSemantic MemoryType = "semantic"
	MemoryTypeEpisodic MemoryType = "episodic"
)

// MemoryEmbedding represents the vector embedding of a memory row.
// At most one exists per (memory_type, memory_id, model).
type MemoryEmbedding struct {
	Embedding  []float32
	MemoryType MemoryType
	UserID     string
	Model      string
	ID         int64
	MemoryID   int64
	CreatedTs  int64
	UpdatedTs  int64
}

// FindMemoryEmbedding is the find condition for memory embeddings.
type FindMemoryEmbedding struct {
	MemoryType *MemoryType
	MemoryID   *int64
	UserID     *string
	Model      *string
}

// DeleteMemoryEmbedding removes the embeddings of the given memories for every model.
type DeleteMemoryEmbedding struct {
	MemoryType MemoryType
	MemoryIDs  []int64
}

// FindSemanticMemoriesWithoutEmbedding is the find condition for semantic memories without embeddings.
type FindSemanticMemoriesWithoutEmbedding struct {
	Model string // Embedding model to check
	Limit int    // Maximum number of memories to return
}

// SemanticMemoryWithScore represents a vector search result with similarity score.
type SemanticMemoryWithScore struct {
	SemanticMemory *SemanticMemory
	Score          float32 // Cosine similarity, higher is more similar
}

// SemanticVectorSearchOptions represents the options for semantic memory vector search.
// Drivers order results by score descending, ties by memory id descending.
type SemanticVectorSearchOptions struct {
	Vector []float32
	UserID string
	Model  string
	Limit  int
}

// Validate validates the SemanticVectorSearchOptions.
func (o *SemanticVectorSearchOptions) Validate() error {
	if o.UserID == "" {
		return errors.Errorf("user id is required")
	}
	if o.Model == "" {
		return errors.Errorf("model is required")
	}
	if len(o.Vector) == 0 {
		return errors.Errorf("vector cannot be empty")
	}
	if o.Limit < 0 {
		return errors.Errorf("limit cannot be negative: %d", o.Limit)
	}
	if o.Limit == 0 {
		o.Limit = 10 // Default limit
	}
	if o.Limit > 1000 {
		return errors.Errorf("limit too large (max 1000): %d", o.Limit)
	}
	return nil
}

// UpsertMemoryEmbedding inserts or updates a memory embedding.
func (s *Store) UpsertMemoryEmbedding(ctx context.Context, embedding *MemoryEmbedding) (*MemoryEmbedding, error) {
	if embedding.MemoryType != MemoryTypeSemantic && embedding.MemoryType != MemoryTypeEpisodic {
		return nil, invalidf("unknown memory type: %q", embedding.MemoryType)
	}
	if embedding.MemoryID <= 0 || embedding.Model == "" || len(embedding.Embedding) == 0 {
		return nil, invalidf("memory id, model and a non-empty vector are required")
	}
	return s.driver.UpsertMemoryEmbedding(ctx, embedding)
}

// GetMemoryEmbedding gets the embedding of a specific memory for a model, or nil if none.
func (s *Store) GetMemoryEmbedding(ctx context.Context, memoryType MemoryType, memoryID int64, model string) (*MemoryEmbedding, error) {
	list, err := s.driver.ListMemoryEmbeddings(ctx, &FindMemoryEmbedding{
		MemoryType: &memoryType,
		MemoryID:   &memoryID,
		Model:      &model,
	})
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, nil
	}
	return list[0], nil
}

// ListMemoryEmbeddings lists memory embeddings.
func (s *Store) ListMemoryEmbeddings(ctx context.Context, find *FindMemoryEmbedding) ([]*MemoryEmbedding, error) {
	return s.driver.ListMemoryEmbeddings(ctx, find)
}

// FindSemanticMemoriesWithoutEmbedding finds semantic memories that don't have embeddings for the specified model.
func (s *Store) FindSemanticMemoriesWithoutEmbedding(ctx context.Context, find *FindSemanticMemoriesWithoutEmbedding) ([]*SemanticMemory, error) {
	return s.driver.FindSemanticMemoriesWithoutEmbedding(ctx, find)
}

// SemanticVectorSearch performs vector similarity search on semantic memories.
func (s *Store) SemanticVectorSearch(ctx context.Context, opts *SemanticVectorSearchOptions) ([]*SemanticMemoryWithScore, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return s.driver.SemanticVectorSearch(ctx, opts)
}
