package store

import (
	"context"
	"maps"
	"slices"
)

// KnowledgeCategory classifies a semantic memory.
type KnowledgeCategory string

const (
	CategoryUserPreference    KnowledgeCategory = "USER_PREFERENCE"
	CategoryGenerationPattern KnowledgeCategory = "GENERATION_PATTERN"
	CategoryFailurePattern    KnowledgeCategory = "FAILURE_PATTERN"
	CategoryStylePattern      KnowledgeCategory = "STYLE_PATTERN"
	CategoryAgentInsight      KnowledgeCategory = "AGENT_INSIGHT"
)

// KnowledgeCategories lists every known category in display order.
var KnowledgeCategories = []KnowledgeCategory{
	CategoryUserPreference,
	CategoryGenerationPattern,
	CategoryFailurePattern,
	CategoryStylePattern,
	CategoryAgentInsight,
}

// Valid reports whether c is a known category.
func (c KnowledgeCategory) Valid() bool {
	for _, known := range KnowledgeCategories {
		if c == known {
			return true
		}
	}
	return false
}

func (c KnowledgeCategory) String() string {
	return string(c)
}

// SemanticMemory is consolidated, reusable knowledge keyed by
// (user_id, category, knowledge_key).
type SemanticMemory struct {
	KnowledgeValue  map[string]any
	SourceEpisode   *string
	UserID          string
	Category        KnowledgeCategory
	KnowledgeKey    string
	ID              int64
	ConfidenceScore float64
	ImportanceScore float64
	AccessCount     int64
	CreatedTs       int64
	UpdatedTs       int64
}

// FindSemanticMemory specifies the conditions for finding semantic memories.
// Results are ordered by importance descending, then most recently updated.
type FindSemanticMemory struct {
	ID           *int64
	UserID       *string
	Category     *KnowledgeCategory
	KnowledgeKey *string
	Limit        int
	Offset       int
}

// UpsertSemanticMemory inserts a semantic memory or merges into the existing
// row with the same (user_id, category, knowledge_key): the value is shallow
// merged, confidence becomes max(old, new), importance is overwritten.
type UpsertSemanticMemory struct {
	KnowledgeValue  map[string]any
	SourceEpisode   *string
	UserID          string
	Category        KnowledgeCategory
	KnowledgeKey    string
	ConfidenceScore float64
	ImportanceScore float64
}

// UpdateSemanticMemory lists the mutable fields of a semantic memory.
// KnowledgeValue replaces the stored value entirely.
type UpdateSemanticMemory struct {
	KnowledgeValue  map[string]any
	ConfidenceScore *float64
	ImportanceScore *float64
	ID              int64
}

// DeleteSemanticMemory specifies which semantic memories to remove.
type DeleteSemanticMemory struct {
	UserID *string
	IDs    []int64
}

// Validate validates the UpsertSemanticMemory.
func (u *UpsertSemanticMemory) Validate() error {
	if u.UserID == "" {
		return invalidf("user_id is required")
	}
	if !u.Category.Valid() {
		return invalidf("unknown category: %q", u.Category)
	}
	if u.KnowledgeKey == "" {
		return invalidf("knowledge_key is required")
	}
	if !ValidScore(u.ConfidenceScore) {
		return invalidf("confidence_score out of range: %v", u.ConfidenceScore)
	}
	if !ValidScore(u.ImportanceScore) {
		return invalidf("importance_score out of range: %v", u.ImportanceScore)
	}
	return nil
}

// Validate validates the UpdateSemanticMemory.
func (u *UpdateSemanticMemory) Validate() error {
	if u.ID <= 0 {
		return invalidf("invalid id: %d", u.ID)
	}
	if u.KnowledgeValue == nil && u.ConfidenceScore == nil && u.ImportanceScore == nil {
		return invalidf("no fields to update")
	}
	if u.ConfidenceScore != nil && !ValidScore(*u.ConfidenceScore) {
		return invalidf("confidence_score out of range: %v", *u.ConfidenceScore)
	}
	if u.ImportanceScore != nil && !ValidScore(*u.ImportanceScore) {
		return invalidf("importance_score out of range: %v", *u.ImportanceScore)
	}
	return nil
}

// MergeKnowledgeValue shallow-merges update over base into a new map.
func MergeKnowledgeValue(base, update map[string]any) map[string]any {
	merged := make(map[string]any, len(base)+len(update))
	maps.Copy(merged, base)
	maps.Copy(merged, update)
	return merged
}

// UpsertSemanticMemory reports whether the memory was created (true) or merged (false).
func (s *Store) UpsertSemanticMemory(ctx context.Context, upsert *UpsertSemanticMemory) (*SemanticMemory, bool, error) {
	if err := upsert.Validate(); err != nil {
		return nil, false, err
	}
	if upsert.KnowledgeValue == nil {
		upsert.KnowledgeValue = map[string]any{}
	}
	return s.driver.UpsertSemanticMemory(ctx, upsert)
}

func (s *Store) ListSemanticMemories(ctx context.Context, find *FindSemanticMemory) ([]*SemanticMemory, error) {
	return s.driver.ListSemanticMemories(ctx, find)
}

func (s *Store) UpdateSemanticMemory(ctx context.Context, update *UpdateSemanticMemory) (*SemanticMemory, error) {
	if err := update.Validate(); err != nil {
		return nil, err
	}
	return s.driver.UpdateSemanticMemory(ctx, update)
}

// IncrementSemanticMemoryAccess bumps access_count and returns the updated row.
func (s *Store) IncrementSemanticMemoryAccess(ctx context.Context, id int64) (*SemanticMemory, error) {
	return s.driver.IncrementSemanticMemoryAccess(ctx, id)
}

// DeleteSemanticMemories removes semantic memories and their embeddings.
func (s *Store) DeleteSemanticMemories(ctx context.Context, delete *DeleteSemanticMemory) (int64, error) {
	if len(delete.IDs) == 0 {
		return 0, nil
	}
	ids := delete.IDs
	if delete.UserID != nil {
		// Only drop embeddings of rows the user owns.
		owned, err := s.driver.ListSemanticMemories(ctx, &FindSemanticMemory{UserID: delete.UserID})
		if err != nil {
			return 0, err
		}
		ids = ids[:0:0]
		for _, m := range owned {
			if slices.Contains(delete.IDs, m.ID) {
				ids = append(ids, m.ID)
			}
		}
		if len(ids) == 0 {
			return 0, nil
		}
	}
	if _, err := s.driver.DeleteMemoryEmbeddings(ctx, &DeleteMemoryEmbedding{
		MemoryType: MemoryTypeSemantic,
		MemoryIDs:  ids,
	}); err != nil {
		return 0, err
	}
	return s.driver.DeleteSemanticMemories(ctx, delete)
}

func (s *Store) CountSemanticMemoriesByCategory(ctx context.Context, userID string) (map[KnowledgeCategory]int64, error) {
	return s.driver.CountSemanticMemoriesByCategory(ctx, userID)
}
