package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hrygo/storyreel/ai"
	"github.com/hrygo/storyreel/ai/metrics"
	"github.com/hrygo/storyreel/ai/observability/logging"
	"github.com/hrygo/storyreel/internal/profile"
	"github.com/hrygo/storyreel/store"
)

// Delimiters of the block Augment appends to a prompt.
const (
	ContextBlockStart = "--- MEMORY CONTEXT ---"
	ContextBlockEnd   = "--- END MEMORY CONTEXT ---"
)

// SnippetSource tells where a context snippet came from.
type SnippetSource string

const (
	SourceDecision   SnippetSource = "decision"
	SourcePreference SnippetSource = "preference"
	SourceStyle      SnippetSource = "style"
	SourcePattern    SnippetSource = "pattern"
)

// Snippet is one line of memory context handed to an agent.
type Snippet struct {
	Source   SnippetSource
	Text     string
	MemoryID int64   // 0 for profile entries
	Score    float64 // quality for decisions, importance for patterns
}

// ContextRequest asks for the memory relevant to one agent call.
// Zero MaxItems and nil MinRelevance use the manager defaults.
type ContextRequest struct {
	Context      map[string]any
	MinRelevance *float64
	UserID       string
	AgentName    string
	MaxItems     int
}

// Config holds the manager defaults.
type Config struct {
	MaxItems     int
	MinRelevance float64
	MinQuality   float64
	FeedbackCap  int
	Floor        float64
	Enabled      bool
}

// ConfigFromProfile reads the memory tuning of a profile.
func ConfigFromProfile(p *profile.Profile) Config {
	return Config{
		Enabled:      p.MemoryEnabled,
		MaxItems:     p.MemoryContextMaxItems,
		MinRelevance: p.MemoryMinRelevance,
		MinQuality:   p.MemoryMinQuality,
		FeedbackCap:  p.MemoryFeedbackCap,
		Floor:        p.MemoryConfidenceFloor,
	}
}

// Overview summarises what is remembered about a user.
type Overview struct {
	SemanticByCategory map[store.KnowledgeCategory]int64
	UserID             string
	EmbeddingModel     string
	EpisodicCount      int64
	SemanticCount      int64
	EmbeddingCount     int64
	HasProfile         bool
}

// Manager is the single memory surface consumed by agents and admin tools.
// It composes the stores and holds no state of its own.
type Manager struct {
	Episodic      *EpisodicStore
	Semantic      *SemanticStore
	Profiles      *ProfileStore
	Index         *EmbeddingIndex
	Consolidation *ConsolidationEngine

	store    *store.Store
	exporter *metrics.PrometheusExporter
	logger   *logging.Logger
	cfg      Config
}

// NewManager wires the memory components over s. embedder, exporter and
// logger may be nil.
func NewManager(s *store.Store, embedder ai.EmbeddingService, cfg Config, exporter *metrics.PrometheusExporter, logger *logging.Logger) (*Manager, error) {
	if logger == nil {
		logger = logging.Default()
	}
	if cfg.MaxItems <= 0 {
		cfg.MaxItems = 10
	}

	index, err := NewEmbeddingIndex(s, embedder, exporter, logger)
	if err != nil {
		return nil, err
	}
	semantic := NewSemanticStore(s, index, exporter, logger)
	return &Manager{
		Episodic: NewEpisodicStore(s, logger),
		Semantic: semantic,
		Profiles: NewProfileStore(s, cfg.FeedbackCap),
		Index:    index,
		Consolidation: NewConsolidationEngine(s, semantic, ConsolidationConfig{
			MinQualityScore: cfg.MinQuality,
			ConfidenceFloor: cfg.Floor,
		}, exporter, logger),
		store:    s,
		exporter: exporter,
		logger:   logger.WithComponent("memory.manager"),
		cfg:      cfg,
	}, nil
}

// Enabled reports whether memory augmentation is switched on.
func (m *Manager) Enabled() bool {
	return m.cfg.Enabled
}

// Close releases the manager's caches. The store is owned by the caller.
func (m *Manager) Close() {
	m.Index.Close()
}

// GetRelevantContext returns, in this order, the agent's own decisions for
// the user scoring at least MinRelevance, the user's preferences and style
// patterns, and the GENERATION_PATTERN entries referencing the agent,
// truncated to MaxItems.
func (m *Manager) GetRelevantContext(ctx context.Context, req ContextRequest) (snippets []Snippet, err error) {
	defer func(start time.Time) { m.exporter.ObserveOperation("get_relevant_context", start, err) }(time.Now())

	if req.UserID == "" || req.AgentName == "" {
		return nil, invalidInput("user_id and agent_name are required")
	}
	maxItems := req.MaxItems
	if maxItems <= 0 {
		maxItems = m.cfg.MaxItems
	}
	minRelevance := m.cfg.MinRelevance
	if req.MinRelevance != nil {
		if !store.ValidScore(*req.MinRelevance) {
			return nil, invalidInput("min_relevance must be within [0, 1]")
		}
		minRelevance = *req.MinRelevance
	}

	var (
		decisions   []*store.EpisodicMemory
		userProfile *store.UserMemoryProfile
		patterns    []*store.SemanticMemory
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		decisions, err = m.Episodic.listQualified(gctx, req.UserID, req.AgentName, minRelevance, maxItems)
		return err
	})
	g.Go(func() error {
		var err error
		userProfile, err = m.Profiles.Get(gctx, req.UserID)
		return err
	})
	g.Go(func() error {
		var err error
		patterns, err = m.Semantic.GetByCategory(gctx, req.UserID, store.CategoryGenerationPattern)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for _, d := range decisions {
		// MinQuality already filtered in the store; unscored rows never match.
		if d.QualityScore == nil || *d.QualityScore < minRelevance {
			continue
		}
		snippets = append(snippets, Snippet{
			Source:   SourceDecision,
			Text:     decisionText(d),
			MemoryID: d.ID,
			Score:    *d.QualityScore,
		})
	}

	if userProfile != nil {
		snippets = append(snippets, profileSnippets(SourcePreference, "preference", userProfile.Preferences)...)
		snippets = append(snippets, profileSnippets(SourceStyle, "style", userProfile.StylePatterns)...)
	}

	var relevant []*store.SemanticMemory
	for _, p := range patterns {
		if patternAgentIs(p, req.AgentName) {
			relevant = append(relevant, p)
		}
	}
	// Importance first; among equals, patterns matching more of the current context.
	sort.SliceStable(relevant, func(i, j int) bool {
		if relevant[i].ImportanceScore != relevant[j].ImportanceScore {
			return relevant[i].ImportanceScore > relevant[j].ImportanceScore
		}
		return contextMatches(relevant[i], req.Context) > contextMatches(relevant[j], req.Context)
	})
	for _, p := range relevant {
		snippets = append(snippets, Snippet{
			Source:   SourcePattern,
			Text:     fmt.Sprintf("pattern %s (confidence %.2f)", SemanticContent(p), p.ConfidenceScore),
			MemoryID: p.ID,
			Score:    p.ImportanceScore,
		})
	}

	if len(snippets) > maxItems {
		snippets = snippets[:maxItems]
	}
	return snippets, nil
}

// patternAgentIs reports whether p belongs to agent, by its "agent" value
// or, failing that, by the "<agent>:" key prefix consolidation writes.
func patternAgentIs(p *store.SemanticMemory, agent string) bool {
	if owner, ok := p.KnowledgeValue["agent"].(string); ok && owner != "" {
		return strings.EqualFold(owner, agent)
	}
	prefix, _, found := strings.Cut(p.KnowledgeKey, ":")
	return found && strings.EqualFold(prefix, agent)
}

// Augment appends the relevant memory to basePrompt. The prompt is returned
// unchanged when memory is disabled or nothing is relevant, and on error.
func (m *Manager) Augment(ctx context.Context, basePrompt, userID, agentName string, callContext map[string]any) (string, error) {
	if !m.cfg.Enabled {
		return basePrompt, nil
	}
	snippets, err := m.GetRelevantContext(ctx, ContextRequest{
		UserID:    userID,
		AgentName: agentName,
		Context:   callContext,
	})
	if err != nil {
		return basePrompt, err
	}
	return FormatContextBlock(basePrompt, snippets), nil
}

// FormatContextBlock appends snippets to prompt inside the memory delimiters.
func FormatContextBlock(prompt string, snippets []Snippet) string {
	if len(snippets) == 0 {
		return prompt
	}
	var b strings.Builder
	b.WriteString(prompt)
	b.WriteString("\n\n")
	b.WriteString(ContextBlockStart)
	b.WriteString("\n")
	for _, s := range snippets {
		b.WriteString("- ")
		b.WriteString(s.Text)
		b.WriteString("\n")
	}
	b.WriteString(ContextBlockEnd)
	return b.String()
}

// ListEpisodicMemories pages through a user's decisions, optionally within one episode.
func (m *Manager) ListEpisodicMemories(ctx context.Context, userID, episodeID string, limit, offset int) ([]*store.EpisodicMemory, error) {
	if userID == "" {
		return nil, invalidInput("user_id is required")
	}
	find := &store.FindEpisodicMemory{UserID: &userID, Limit: limit, Offset: offset}
	if episodeID != "" {
		find.EpisodeID = &episodeID
	}
	list, err := m.store.ListEpisodicMemories(ctx, find)
	if err != nil {
		return nil, wrapStoreError("list episodic memories", err)
	}
	return list, nil
}

// ListSemanticMemories pages through a user's knowledge. An empty category lists all.
func (m *Manager) ListSemanticMemories(ctx context.Context, userID string, category store.KnowledgeCategory, limit, offset int) ([]*store.SemanticMemory, error) {
	return m.Semantic.List(ctx, userID, category, limit, offset)
}

// Overview counts what is stored for a user.
func (m *Manager) Overview(ctx context.Context, userID string) (*Overview, error) {
	if userID == "" {
		return nil, invalidInput("user_id is required")
	}
	overview := &Overview{UserID: userID, EmbeddingModel: m.Index.Model()}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		n, err := m.store.CountEpisodicMemories(gctx, &store.FindEpisodicMemory{UserID: &userID})
		overview.EpisodicCount = n
		return wrapStoreError("count episodic memories", err)
	})
	g.Go(func() error {
		counts, err := m.store.CountSemanticMemoriesByCategory(gctx, userID)
		if err != nil {
			return wrapStoreError("count semantic memories", err)
		}
		overview.SemanticByCategory = counts
		for _, n := range counts {
			overview.SemanticCount += n
		}
		return nil
	})
	g.Go(func() error {
		p, err := m.Profiles.Get(gctx, userID)
		overview.HasProfile = p != nil
		return err
	})
	g.Go(func() error {
		find := &store.FindMemoryEmbedding{UserID: &userID}
		if model := m.Index.Model(); model != "" {
			find.Model = &model
		}
		list, err := m.store.ListMemoryEmbeddings(gctx, find)
		overview.EmbeddingCount = int64(len(list))
		return wrapStoreError("list embeddings", err)
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return overview, nil
}

// TriggerConsolidation runs consolidation for one episode on demand.
func (m *Manager) TriggerConsolidation(ctx context.Context, episodeID, userID string, opts ConsolidateOptions) (result *ConsolidationResult, err error) {
	defer func(start time.Time) { m.exporter.ObserveOperation("consolidate", start, err) }(time.Now())
	return m.Consolidation.Consolidate(ctx, episodeID, userID, opts)
}

// ConsolidationHistory lists an episode's consolidation runs, newest first.
func (m *Manager) ConsolidationHistory(ctx context.Context, episodeID string, limit int) ([]*store.ConsolidationRecord, error) {
	if episodeID == "" {
		return nil, invalidInput("episode_id is required")
	}
	list, err := m.store.ListConsolidationRecords(ctx, &store.FindConsolidationRecord{EpisodeID: &episodeID, Limit: limit})
	if err != nil {
		return nil, wrapStoreError("list consolidation records", err)
	}
	return list, nil
}

// SearchKnowledge runs a semantic search over a user's knowledge.
func (m *Manager) SearchKnowledge(ctx context.Context, req SearchRequest) (results []SearchResult, err error) {
	defer func(start time.Time) { m.exporter.ObserveOperation("search", start, err) }(time.Now())
	return m.Index.Search(ctx, req)
}

func decisionText(d *store.EpisodicMemory) string {
	text := fmt.Sprintf("[%s] decided %s", d.AgentName, formatFields(d.DecisionContext))
	if len(d.Outcome) > 0 {
		text += fmt.Sprintf(" -> %s", formatFields(d.Outcome))
	}
	return fmt.Sprintf("%s (quality %.2f)", text, *d.QualityScore)
}

func profileSnippets(source SnippetSource, label string, values map[string]any) []Snippet {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	snippets := make([]Snippet, 0, len(keys))
	for _, k := range keys {
		snippets = append(snippets, Snippet{
			Source: source,
			Text:   fmt.Sprintf("%s %s=%v", label, k, values[k]),
		})
	}
	return snippets
}

// contextMatches counts the pattern's recorded fields that equal the current context.
func contextMatches(pattern *store.SemanticMemory, callContext map[string]any) int {
	fields, ok := pattern.KnowledgeValue["fields"].(map[string]any)
	if !ok || len(callContext) == 0 {
		return 0
	}
	n := 0
	for k, v := range fields {
		if s, ok := v.(string); ok && s == scalarString(callContext[k]) {
			n++
		}
	}
	return n
}
