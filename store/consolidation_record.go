package store

import (
	"context"
	"time"
)

// ConsolidationRecord is the append-only audit row of one consolidation run.
type ConsolidationRecord struct {
	EpisodeID          string
	UserID             string
	ID                 int64
	InsightsExtracted  int
	PatternsIdentified int
	MemoriesCreated    int
	MemoriesUpdated    int
	MemoriesPruned     int
	DecisionsTotal     int
	DecisionsSkipped   int
	ProcessingTimeMs   int64
	CreatedTs          int64
}

// FindConsolidationRecord specifies the conditions for listing consolidation records.
// Results are ordered newest-first.
type FindConsolidationRecord struct {
	EpisodeID *string
	UserID    *string
	Limit     int
}

func (s *Store) CreateConsolidationRecord(ctx context.Context, create *ConsolidationRecord) (*ConsolidationRecord, error) {
	if create.EpisodeID == "" {
		return nil, invalidf("episode_id is required")
	}
	if create.CreatedTs == 0 {
		create.CreatedTs = time.Now().UnixMilli()
	}
	return s.driver.CreateConsolidationRecord(ctx, create)
}

func (s *Store) ListConsolidationRecords(ctx context.Context, find *FindConsolidationRecord) ([]*ConsolidationRecord, error) {
	return s.driver.ListConsolidationRecords(ctx, find)
}
