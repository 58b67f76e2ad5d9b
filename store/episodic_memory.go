package store

import (
	"context"
	"math"
	"time"

	"github.com/lithammer/shortuuid/v4"
)

// EpisodicMemory is one recorded agent decision within an episode.
// Rows are immutable except for QualityScore.
type EpisodicMemory struct {
	DecisionContext map[string]any
	Outcome         map[string]any
	QualityScore    *float64 // nil until scored
	UID             string
	EpisodeID       string
	UserID          string
	AgentName       string
	ID              int64
	CreatedTs       int64 // unix milliseconds
}

// FindEpisodicMemory specifies the conditions for finding episodic memories.
// Results are ordered newest-first.
type FindEpisodicMemory struct {
	ID         *int64
	UID        *string
	EpisodeID  *string
	UserID     *string
	AgentName  *string
	MinQuality *float64 // excludes unscored rows when set
	Limit      int
	Offset     int
}

// UpdateEpisodicMemory lists the fields of an episodic memory that may change.
type UpdateEpisodicMemory struct {
	QualityScore *float64
	ID           int64
}

// DeleteEpisodicMemory specifies which episodic memories to purge.
// At least one condition is required.
type DeleteEpisodicMemory struct {
	ID        *int64
	EpisodeID *string
	UserID    *string
}

// ValidScore reports whether v is a usable quality or confidence score.
func ValidScore(v float64) bool {
	return !math.IsNaN(v) && v >= 0 && v <= 1
}

func (c *EpisodicMemory) validate() error {
	if c.EpisodeID == "" {
		return invalidf("episode_id is required")
	}
	if c.UserID == "" {
		return invalidf("user_id is required")
	}
	if c.AgentName == "" {
		return invalidf("agent_name is required")
	}
	if c.QualityScore != nil && !ValidScore(*c.QualityScore) {
		return invalidf("quality_score out of range: %v", *c.QualityScore)
	}
	return nil
}

// Validate validates the UpdateEpisodicMemory.
func (u *UpdateEpisodicMemory) Validate() error {
	if u.ID <= 0 {
		return invalidf("invalid id: %d", u.ID)
	}
	if u.QualityScore == nil {
		return invalidf("no fields to update")
	}
	if !ValidScore(*u.QualityScore) {
		return invalidf("quality_score out of range: %v", *u.QualityScore)
	}
	return nil
}

// Validate validates the DeleteEpisodicMemory.
func (d *DeleteEpisodicMemory) Validate() error {
	if d.ID == nil && d.EpisodeID == nil && d.UserID == nil {
		return invalidf("delete requires id, episode_id or user_id")
	}
	return nil
}

func (s *Store) CreateEpisodicMemory(ctx context.Context, create *EpisodicMemory) (*EpisodicMemory, error) {
	if err := create.validate(); err != nil {
		return nil, err
	}
	if create.UID == "" {
		create.UID = shortuuid.New()
	}
	if create.CreatedTs == 0 {
		create.CreatedTs = time.Now().UnixMilli()
	}
	if create.DecisionContext == nil {
		create.DecisionContext = map[string]any{}
	}
	return s.driver.CreateEpisodicMemory(ctx, create)
}

func (s *Store) ListEpisodicMemories(ctx context.Context, find *FindEpisodicMemory) ([]*EpisodicMemory, error) {
	return s.driver.ListEpisodicMemories(ctx, find)
}

// GetEpisodicMemory returns the episodic memory with the given id, or nil if absent.
func (s *Store) GetEpisodicMemory(ctx context.Context, id int64) (*EpisodicMemory, error) {
	list, err := s.driver.ListEpisodicMemories(ctx, &FindEpisodicMemory{ID: &id})
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, nil
	}
	return list[0], nil
}

func (s *Store) CountEpisodicMemories(ctx context.Context, find *FindEpisodicMemory) (int64, error) {
	return s.driver.CountEpisodicMemories(ctx, find)
}

// UpdateEpisodicMemory applies an update and returns ErrNotFound if the row is absent.
func (s *Store) UpdateEpisodicMemory(ctx context.Context, update *UpdateEpisodicMemory) (*EpisodicMemory, error) {
	if err := update.Validate(); err != nil {
		return nil, err
	}
	return s.driver.UpdateEpisodicMemory(ctx, update)
}

// DeleteEpisodicMemories purges episodic memories together with their embeddings.
func (s *Store) DeleteEpisodicMemories(ctx context.Context, delete *DeleteEpisodicMemory) (int64, error) {
	if err := delete.Validate(); err != nil {
		return 0, err
	}
	list, err := s.driver.ListEpisodicMemories(ctx, &FindEpisodicMemory{
		ID:        delete.ID,
		EpisodeID: delete.EpisodeID,
		UserID:    delete.UserID,
	})
	if err != nil {
		return 0, err
	}
	if len(list) == 0 {
		return 0, nil
	}
	ids := make([]int64, 0, len(list))
	for _, m := range list {
		ids = append(ids, m.ID)
	}
	if _, err := s.driver.DeleteMemoryEmbeddings(ctx, &DeleteMemoryEmbedding{
		MemoryType: MemoryTypeEpisodic,
		MemoryIDs:  ids,
	}); err != nil {
		return 0, err
	}
	return s.driver.DeleteEpisodicMemories(ctx, delete)
}
