// Package agent gives generation agents a memory surface that never fails
// the primary task. Every call degrades to "memory disabled for this call"
// when ids are missing or the store misbehaves.
package agent

import (
	"context"

	"github.com/hrygo/storyreel/ai/memory"
	"github.com/hrygo/storyreel/ai/metrics"
	"github.com/hrygo/storyreel/ai/observability/logging"
	"github.com/hrygo/storyreel/ai/resilience"
	"github.com/hrygo/storyreel/store"
)

const degradationComponent = "agent_adapter"

// Decision is what an agent reports after completing one step.
type Decision struct {
	Context      map[string]any
	Outcome      map[string]any
	QualityScore *float64
	EpisodeID    string
	UserID       string
	AgentName    string
}

// MemoryAdapter is the agent-facing view of the memory manager.
// A nil adapter, or one built over a nil or disabled manager, does nothing.
type MemoryAdapter struct {
	manager  *memory.Manager
	exporter *metrics.PrometheusExporter
	logger   *logging.Logger
}

// NewMemoryAdapter creates an adapter. exporter and logger may be nil.
func NewMemoryAdapter(manager *memory.Manager, exporter *metrics.PrometheusExporter, logger *logging.Logger) *MemoryAdapter {
	if logger == nil {
		logger = logging.Default()
	}
	return &MemoryAdapter{
		manager:  manager,
		exporter: exporter,
		logger:   logger.WithComponent("agent.memory"),
	}
}

func (a *MemoryAdapter) active() bool {
	return a != nil && a.manager != nil && a.manager.Enabled()
}

// RecordDecision stores the decision, returning nil when memory is off,
// the episode or user is unknown, or the write fails.
func (a *MemoryAdapter) RecordDecision(ctx context.Context, d Decision) *store.EpisodicMemory {
	if !a.active() || d.EpisodeID == "" || d.UserID == "" {
		return nil
	}
	recorded, err := a.manager.Episodic.RecordDecision(ctx, memory.RecordDecisionRequest{
		EpisodeID:       d.EpisodeID,
		UserID:          d.UserID,
		AgentName:       d.AgentName,
		DecisionContext: d.Context,
		Outcome:         d.Outcome,
		QualityScore:    d.QualityScore,
	})
	if err != nil {
		a.degrade("record_decision", d.AgentName, err)
		return nil
	}
	return recorded
}

// RelevantContext returns the memory snippets for an agent call, or nil.
func (a *MemoryAdapter) RelevantContext(ctx context.Context, userID, agentName string, callContext map[string]any) []memory.Snippet {
	if !a.active() || userID == "" {
		return nil
	}
	snippets, err := a.manager.GetRelevantContext(ctx, memory.ContextRequest{
		UserID:    userID,
		AgentName: agentName,
		Context:   callContext,
	})
	if err != nil {
		a.degrade("relevant_context", agentName, err)
		return nil
	}
	return snippets
}

// Augment returns basePrompt with the relevant memory appended, or
// basePrompt unchanged.
func (a *MemoryAdapter) Augment(ctx context.Context, basePrompt, userID, agentName string, callContext map[string]any) string {
	if !a.active() || userID == "" {
		return basePrompt
	}
	prompt, err := a.manager.Augment(ctx, basePrompt, userID, agentName, callContext)
	if err != nil {
		a.degrade("augment", agentName, err)
		return basePrompt
	}
	return prompt
}

// UpdatePreference reports whether the preference was saved.
func (a *MemoryAdapter) UpdatePreference(ctx context.Context, userID, key string, value any) bool {
	if !a.active() || userID == "" {
		return false
	}
	if _, err := a.manager.Profiles.UpdatePreference(ctx, userID, key, value); err != nil {
		a.degrade("update_preference", "", err)
		return false
	}
	return true
}

// RecordFeedback reports whether the feedback was saved. The event's
// episode id is required.
func (a *MemoryAdapter) RecordFeedback(ctx context.Context, userID, feedbackType string, event store.FeedbackEvent) bool {
	if !a.active() || userID == "" || event.EpisodeID == "" {
		return false
	}
	if _, err := a.manager.Profiles.RecordFeedback(ctx, userID, feedbackType, event); err != nil {
		a.degrade("record_feedback", "", err)
		return false
	}
	return true
}

func (a *MemoryAdapter) degrade(op, agentName string, err error) {
	class := resilience.ClassifyError(err).Class.String()
	a.exporter.RecordDegradation(degradationComponent, class)
	a.logger.Warn("memory degraded for this call",
		"op", op,
		"agent", agentName,
		"error_class", class,
		"error", err,
	)
}
