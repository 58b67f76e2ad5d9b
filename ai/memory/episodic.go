package memory

import (
	"context"

	"github.com/hrygo/storyreel/ai/observability/logging"
	"github.com/hrygo/storyreel/store"
)

// DefaultHistoryLimit caps agent history reads that do not set a limit.
const DefaultHistoryLimit = 20

// RecordDecisionRequest describes one agent decision.
type RecordDecisionRequest struct {
	DecisionContext map[string]any
	Outcome         map[string]any
	QualityScore    *float64
	EpisodeID       string
	UserID          string
	AgentName       string
}

// EpisodicStore is the append-only decision log.
type EpisodicStore struct {
	store  *store.Store
	logger *logging.Logger
}

func NewEpisodicStore(s *store.Store, logger *logging.Logger) *EpisodicStore {
	if logger == nil {
		logger = logging.Default()
	}
	return &EpisodicStore{
		store:  s,
		logger: logger.WithComponent("memory.episodic"),
	}
}

// RecordDecision persists a decision. It fails only on invalid input or
// when the store is unreachable.
func (e *EpisodicStore) RecordDecision(ctx context.Context, req RecordDecisionRequest) (*store.EpisodicMemory, error) {
	memory, err := e.store.CreateEpisodicMemory(ctx, &store.EpisodicMemory{
		EpisodeID:       req.EpisodeID,
		UserID:          req.UserID,
		AgentName:       req.AgentName,
		DecisionContext: req.DecisionContext,
		Outcome:         req.Outcome,
		QualityScore:    req.QualityScore,
	})
	if err != nil {
		return nil, wrapStoreError("record decision", err)
	}
	e.logger.Debug("decision recorded",
		"episode_id", memory.EpisodeID,
		"agent", memory.AgentName,
		"memory_id", memory.ID,
	)
	return memory, nil
}

// GetEpisodeContext returns every decision of the episode, newest-first.
// An unknown episode yields an empty slice.
func (e *EpisodicStore) GetEpisodeContext(ctx context.Context, episodeID string) ([]*store.EpisodicMemory, error) {
	if episodeID == "" {
		return nil, invalidInput("episode_id is required")
	}
	list, err := e.store.ListEpisodicMemories(ctx, &store.FindEpisodicMemory{EpisodeID: &episodeID})
	if err != nil {
		return nil, wrapStoreError("get episode context", err)
	}
	if list == nil {
		list = []*store.EpisodicMemory{}
	}
	return list, nil
}

// GetAgentHistory returns the agent's most recent decisions across users.
func (e *EpisodicStore) GetAgentHistory(ctx context.Context, agentName string, limit int) ([]*store.EpisodicMemory, error) {
	return e.agentHistory(ctx, &store.FindEpisodicMemory{AgentName: &agentName}, limit)
}

// GetAgentHistoryForUser is GetAgentHistory scoped to one user.
func (e *EpisodicStore) GetAgentHistoryForUser(ctx context.Context, userID, agentName string, limit int) ([]*store.EpisodicMemory, error) {
	if userID == "" {
		return nil, invalidInput("user_id is required")
	}
	return e.agentHistory(ctx, &store.FindEpisodicMemory{AgentName: &agentName, UserID: &userID}, limit)
}

func (e *EpisodicStore) agentHistory(ctx context.Context, find *store.FindEpisodicMemory, limit int) ([]*store.EpisodicMemory, error) {
	if *find.AgentName == "" {
		return nil, invalidInput("agent_name is required")
	}
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	find.Limit = limit
	list, err := e.store.ListEpisodicMemories(ctx, find)
	if err != nil {
		return nil, wrapStoreError("get agent history", err)
	}
	return list, nil
}

// listQualified returns the user's decisions by agent scoring at least minQuality.
func (e *EpisodicStore) listQualified(ctx context.Context, userID, agentName string, minQuality float64, limit int) ([]*store.EpisodicMemory, error) {
	list, err := e.store.ListEpisodicMemories(ctx, &store.FindEpisodicMemory{
		UserID:     &userID,
		AgentName:  &agentName,
		MinQuality: &minQuality,
		Limit:      limit,
	})
	if err != nil {
		return nil, wrapStoreError("list qualified decisions", err)
	}
	return list, nil
}

// SetQualityScore scores a decision after the fact.
func (e *EpisodicStore) SetQualityScore(ctx context.Context, memoryID int64, score float64) (*store.EpisodicMemory, error) {
	memory, err := e.store.UpdateEpisodicMemory(ctx, &store.UpdateEpisodicMemory{
		ID:           memoryID,
		QualityScore: &score,
	})
	if err != nil {
		return nil, wrapStoreError("set quality score", err)
	}
	return memory, nil
}

// PurgeEpisode deletes every decision of an episode and their embeddings.
func (e *EpisodicStore) PurgeEpisode(ctx context.Context, episodeID string) (int64, error) {
	if episodeID == "" {
		return 0, invalidInput("episode_id is required")
	}
	n, err := e.store.DeleteEpisodicMemories(ctx, &store.DeleteEpisodicMemory{EpisodeID: &episodeID})
	if err != nil {
		return 0, wrapStoreError("purge episode", err)
	}
	e.logger.Info("episode purged", "episode_id", episodeID, "deleted", n)
	return n, nil
}

// PurgeUser deletes every decision of a user and their embeddings.
func (e *EpisodicStore) PurgeUser(ctx context.Context, userID string) (int64, error) {
	if userID == "" {
		return 0, invalidInput("user_id is required")
	}
	n, err := e.store.DeleteEpisodicMemories(ctx, &store.DeleteEpisodicMemory{UserID: &userID})
	if err != nil {
		return 0, wrapStoreError("purge user", err)
	}
	e.logger.Info("user decisions purged", "user_id", userID, "deleted", n)
	return n, nil
}
