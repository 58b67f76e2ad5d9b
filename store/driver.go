package store

import (
	"context"
	"database/sql"
)

// Driver is an interface for store driver.
// It contains all methods that store database driver should implement.
type Driver interface {
	// GetDB returns the underlying connection pool, or nil for drivers without one.
	GetDB() *sql.DB
	Close() error

	IsInitialized(ctx context.Context) (bool, error)
	GetSchemaVersion(ctx context.Context) (string, error)
	SetSchemaVersion(ctx context.Context, version string) error

	// EpisodicMemory model related methods.
	CreateEpisodicMemory(ctx context.Context, create *EpisodicMemory) (*EpisodicMemory, error)
	ListEpisodicMemories(ctx context.Context, find *FindEpisodicMemory) ([]*EpisodicMemory, error)
	CountEpisodicMemories(ctx context.Context, find *FindEpisodicMemory) (int64, error)
	UpdateEpisodicMemory(ctx context.Context, update *UpdateEpisodicMemory) (*EpisodicMemory, error)
	DeleteEpisodicMemories(ctx context.Context, delete *DeleteEpisodicMemory) (int64, error)

	// SemanticMemory model related methods.
	// UpsertSemanticMemory reports whether the row was newly created.
	UpsertSemanticMemory(ctx context.Context, upsert *UpsertSemanticMemory) (*SemanticMemory, bool, error)
	ListSemanticMemories(ctx context.Context, find *FindSemanticMemory) ([]*SemanticMemory, error)
	UpdateSemanticMemory(ctx context.Context, update *UpdateSemanticMemory) (*SemanticMemory, error)
	IncrementSemanticMemoryAccess(ctx context.Context, id int64) (*SemanticMemory, error)
	DeleteSemanticMemories(ctx context.Context, delete *DeleteSemanticMemory) (int64, error)
	CountSemanticMemoriesByCategory(ctx context.Context, userID string) (map[KnowledgeCategory]int64, error)

	// UserMemoryProfile model related methods.
	EnsureUserMemoryProfile(ctx context.Context, userID string) (*UserMemoryProfile, error)
	GetUserMemoryProfile(ctx context.Context, find *FindUserMemoryProfile) (*UserMemoryProfile, error)
	UpdateUserMemoryProfile(ctx context.Context, update *UpdateUserMemoryProfile) (*UserMemoryProfile, error)

	// MemoryEmbedding model related methods.
	UpsertMemoryEmbedding(ctx context.Context, embedding *MemoryEmbedding) (*MemoryEmbedding, error)
	ListMemoryEmbeddings(ctx context.Context, find *FindMemoryEmbedding) ([]*MemoryEmbedding, error)
	DeleteMemoryEmbeddings(ctx context.Context, delete *DeleteMemoryEmbedding) (int64, error)
	FindSemanticMemoriesWithoutEmbedding(ctx context.Context, find *FindSemanticMemoriesWithoutEmbedding) ([]*SemanticMemory, error)
	SemanticVectorSearch(ctx context.Context, opts *SemanticVectorSearchOptions) ([]*SemanticMemoryWithScore, error)

	// ConsolidationRecord model related methods.
	CreateConsolidationRecord(ctx context.Context, create *ConsolidationRecord) (*ConsolidationRecord, error)
	ListConsolidationRecords(ctx context.Context, find *FindConsolidationRecord) ([]*ConsolidationRecord, error)
}
