package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"slices"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/hrygo/storyreel/ai/metrics"
	"github.com/hrygo/storyreel/ai/observability/logging"
	"github.com/hrygo/storyreel/store"
)

const (
	// DefaultMinQualityScore separates successes from failures.
	DefaultMinQualityScore = 0.7
	// FailurePatternMinSupport is how many failing decisions must share a
	// fingerprint before a FAILURE_PATTERN is written.
	FailurePatternMinSupport = 2
	// DefaultConfidenceFloor is the confidence below which a disconfirmed
	// pattern is pruned.
	DefaultConfidenceFloor = 0.2
	// DisconfirmationDecay is subtracted from a success pattern's confidence
	// each time a later episode fails with the same fingerprint.
	DisconfirmationDecay = 0.2
)

const (
	valueEpisodes       = "episodes"
	valueDisconfirmedBy = "disconfirmed_by"
)

// notableFields are the decision context fields that identify "what was
// done". Sorted, so fingerprints are canonical.
var notableFields = []string{
	"action",
	"aspect_ratio",
	"camera_movement",
	"format",
	"genre",
	"mood",
	"shot_type",
	"style",
	"tone",
}

// patternNamespace seeds the uuid v5 pattern keys. Changing it orphans every
// stored pattern.
var patternNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://storyreel.dev/memory/patterns"))

// ConsolidationConfig holds engine-wide defaults.
type ConsolidationConfig struct {
	MinQualityScore float64
	ConfidenceFloor float64
}

// ConsolidateOptions tunes one run. A zero MinQualityScore uses the engine default.
type ConsolidateOptions struct {
	MinQualityScore    float64
	GenerateEmbeddings bool
}

// ConsolidationResult is the persisted audit record plus the rows that were skipped.
type ConsolidationResult struct {
	*store.ConsolidationRecord
	Skipped []SkippedDecision
}

// Err returns a *ConsolidationPartialFailure when rows were skipped.
func (r *ConsolidationResult) Err() error {
	if len(r.Skipped) == 0 {
		return nil
	}
	return &ConsolidationPartialFailure{EpisodeID: r.EpisodeID, Skipped: r.Skipped}
}

// ConsolidationEngine turns an episode's decisions into semantic patterns.
type ConsolidationEngine struct {
	store    *store.Store
	semantic *SemanticStore
	exporter *metrics.PrometheusExporter
	logger   *logging.Logger
	group    singleflight.Group
	cfg      ConsolidationConfig
}

func NewConsolidationEngine(s *store.Store, semantic *SemanticStore, cfg ConsolidationConfig, exporter *metrics.PrometheusExporter, logger *logging.Logger) *ConsolidationEngine {
	if logger == nil {
		logger = logging.Default()
	}
	if cfg.MinQualityScore <= 0 {
		cfg.MinQualityScore = DefaultMinQualityScore
	}
	if cfg.ConfidenceFloor <= 0 {
		cfg.ConfidenceFloor = DefaultConfidenceFloor
	}
	return &ConsolidationEngine{
		store:    s,
		semantic: semantic,
		exporter: exporter,
		logger:   logger.WithComponent("memory.consolidation"),
		cfg:      cfg,
	}
}

// Consolidate extracts patterns from the user's decisions in an episode.
// Concurrent calls for the same episode and user share one run. Only
// storage errors are returned; skipped rows are reported by the result's Err.
func (c *ConsolidationEngine) Consolidate(ctx context.Context, episodeID, userID string, opts ConsolidateOptions) (*ConsolidationResult, error) {
	if episodeID == "" || userID == "" {
		return nil, invalidInput("episode_id and user_id are required")
	}
	minQuality := opts.MinQualityScore
	if minQuality == 0 {
		minQuality = c.cfg.MinQualityScore
	}
	if !store.ValidScore(minQuality) {
		return nil, invalidInput("min quality score out of range: %v", minQuality)
	}

	v, err, shared := c.group.Do(episodeID+"\x00"+userID, func() (any, error) {
		return c.run(ctx, episodeID, userID, minQuality, opts.GenerateEmbeddings)
	})
	if err != nil {
		return nil, err
	}
	if shared {
		c.logger.Debug("consolidation result shared", "episode_id", episodeID)
	}
	return v.(*ConsolidationResult), nil
}

// patternGroup collects the decisions sharing one fingerprint.
type patternGroup struct {
	fingerprint
	support    int
	qualitySum float64
}

type fingerprint struct {
	fields    map[string]string
	agent     string
	canonical string
}

func (c *ConsolidationEngine) run(ctx context.Context, episodeID, userID string, minQuality float64, embed bool) (*ConsolidationResult, error) {
	start := time.Now()
	result, err := c.consolidate(ctx, episodeID, userID, minQuality, embed)
	latency := time.Since(start)
	if err != nil {
		c.exporter.RecordConsolidation(latency, 0, 0, 0, err)
		c.logger.Error("consolidation failed", "episode_id", episodeID, "user_id", userID, "error", err)
		return nil, err
	}

	result.ProcessingTimeMs = latency.Milliseconds()
	record, err := c.store.CreateConsolidationRecord(ctx, result.ConsolidationRecord)
	if err != nil {
		err = wrapStoreError("save consolidation record", err)
		c.exporter.RecordConsolidation(latency, 0, 0, 0, err)
		return nil, err
	}
	result.ConsolidationRecord = record

	c.exporter.RecordConsolidation(latency, record.MemoriesCreated, record.MemoriesUpdated, record.MemoriesPruned, result.Err())
	c.logger.Info("episode consolidated",
		"episode_id", episodeID,
		"user_id", userID,
		"decisions", record.DecisionsTotal,
		"skipped", record.DecisionsSkipped,
		"insights", record.InsightsExtracted,
		"failure_patterns", record.PatternsIdentified,
		"created", record.MemoriesCreated,
		"updated", record.MemoriesUpdated,
		"pruned", record.MemoriesPruned,
		"duration_ms", record.ProcessingTimeMs,
	)
	return result, nil
}

func (c *ConsolidationEngine) consolidate(ctx context.Context, episodeID, userID string, minQuality float64, embed bool) (*ConsolidationResult, error) {
	rows, err := c.store.ListEpisodicMemories(ctx, &store.FindEpisodicMemory{
		EpisodeID: &episodeID,
		UserID:    &userID,
	})
	if err != nil {
		return nil, wrapStoreError("load episode", err)
	}
	// Oldest first so group order, and with it write order, is stable.
	sort.Slice(rows, func(i, j int) bool { return rows[i].ID < rows[j].ID })

	result := &ConsolidationResult{
		ConsolidationRecord: &store.ConsolidationRecord{
			EpisodeID:      episodeID,
			UserID:         userID,
			DecisionsTotal: len(rows),
		},
	}

	successes, successOrder := map[string]*patternGroup{}, []string{}
	failures, failureOrder := map[string]*patternGroup{}, []string{}
	for _, row := range rows {
		if reason := malformedReason(row); reason != "" {
			result.Skipped = append(result.Skipped, SkippedDecision{MemoryID: row.ID, Reason: reason})
			c.logger.Warn("skipping malformed decision", "memory_id", row.ID, "episode_id", episodeID, "reason", reason)
			continue
		}
		if row.QualityScore == nil {
			continue
		}
		fp := fingerprintOf(row)
		groups, order := successes, &successOrder
		if *row.QualityScore < minQuality {
			groups, order = failures, &failureOrder
		}
		g, ok := groups[fp.canonical]
		if !ok {
			g = &patternGroup{fingerprint: fp}
			groups[fp.canonical] = g
			*order = append(*order, fp.canonical)
		}
		g.support++
		g.qualitySum += *row.QualityScore
	}
	result.DecisionsSkipped = len(result.Skipped)

	existing, err := c.loadPatterns(ctx, userID)
	if err != nil {
		return nil, err
	}

	for _, canonical := range successOrder {
		g := successes[canonical]
		key := patternKey(g.agent, "success", canonical)
		prev := existing[patternRef(store.CategoryGenerationPattern, key)]
		value, total, qualitySum := mergeSupport(prev, episodeID, g)
		// Recorded disconfirmations hold across re-runs; the upsert keeps the
		// higher confidence and would otherwise restore the decayed score.
		confidence := math.Min(1, 0.6+0.1*float64(total-1)) - DisconfirmationDecay*float64(disconfirmations(prev))
		confidence = roundScore(math.Max(0, confidence))
		importance := roundScore(qualitySum / float64(total))
		created, err := c.write(ctx, store.CategoryGenerationPattern, userID, episodeID, key, value, confidence, importance, embed)
		if err != nil {
			return nil, err
		}
		result.count(created)
	}
	result.InsightsExtracted = len(successOrder)

	for _, canonical := range failureOrder {
		g := failures[canonical]
		key := patternKey(g.agent, "failure", canonical)
		prev := existing[patternRef(store.CategoryFailurePattern, key)]
		if prev == nil && g.support < FailurePatternMinSupport {
			continue
		}
		value, total, qualitySum := mergeSupport(prev, episodeID, g)
		if total < FailurePatternMinSupport {
			continue
		}
		confidence := roundScore(math.Min(1, 0.5+0.1*float64(total-FailurePatternMinSupport)))
		importance := roundScore(1 - qualitySum/float64(total))
		created, err := c.write(ctx, store.CategoryFailurePattern, userID, episodeID, key, value, confidence, importance, embed)
		if err != nil {
			return nil, err
		}
		result.count(created)
		result.PatternsIdentified++
	}

	for _, canonical := range failureOrder {
		// Mixed evidence within one episode does not disconfirm itself.
		if _, ok := successes[canonical]; ok {
			continue
		}
		g := failures[canonical]
		prev := existing[patternRef(store.CategoryGenerationPattern, patternKey(g.agent, "success", canonical))]
		updated, err := c.disconfirm(ctx, prev, episodeID)
		if err != nil {
			return nil, err
		}
		if updated {
			result.MemoriesUpdated++
		}
	}

	pruned, err := c.prune(ctx, userID)
	if err != nil {
		return nil, err
	}
	result.MemoriesPruned = pruned
	return result, nil
}

func (r *ConsolidationResult) count(created bool) {
	if created {
		r.MemoriesCreated++
	} else {
		r.MemoriesUpdated++
	}
}

func (c *ConsolidationEngine) write(ctx context.Context, category store.KnowledgeCategory, userID, episodeID, key string, value map[string]any, confidence, importance float64, embed bool) (bool, error) {
	_, created, err := c.semantic.upsert(ctx, StoreKnowledgeRequest{
		UserID:            userID,
		Category:          category,
		KnowledgeKey:      key,
		KnowledgeValue:    value,
		SourceEpisode:     &episodeID,
		Confidence:        &confidence,
		Importance:        &importance,
		GenerateEmbedding: embed,
	})
	return created, err
}

func disconfirmations(pattern *store.SemanticMemory) int {
	if pattern == nil {
		return 0
	}
	return len(stringList(pattern.KnowledgeValue[valueDisconfirmedBy]))
}

// disconfirm decays a success pattern once per failing episode.
func (c *ConsolidationEngine) disconfirm(ctx context.Context, pattern *store.SemanticMemory, episodeID string) (bool, error) {
	if pattern == nil {
		return false, nil
	}
	disconfirmedBy := stringList(pattern.KnowledgeValue[valueDisconfirmedBy])
	if slices.Contains(disconfirmedBy, episodeID) {
		return false, nil
	}

	confidence := roundScore(math.Max(0, pattern.ConfidenceScore-DisconfirmationDecay))
	ids := make([]any, 0, len(disconfirmedBy)+1)
	for _, id := range disconfirmedBy {
		ids = append(ids, id)
	}
	ids = append(ids, episodeID)

	_, err := c.semantic.update(ctx, &store.UpdateSemanticMemory{
		ID:              pattern.ID,
		KnowledgeValue:  store.MergeKnowledgeValue(pattern.KnowledgeValue, map[string]any{valueDisconfirmedBy: ids}),
		ConfidenceScore: &confidence,
	})
	if err != nil {
		return false, err
	}
	c.logger.Info("pattern disconfirmed",
		"memory_id", pattern.ID,
		"key", pattern.KnowledgeKey,
		"episode_id", episodeID,
		"confidence", confidence,
	)
	return true, nil
}

// prune removes patterns whose normalised key duplicates a newer entry in
// the same category, and disconfirmed patterns below the confidence floor.
func (c *ConsolidationEngine) prune(ctx context.Context, userID string) (int, error) {
	var candidates []PruneCandidate
	for _, category := range []store.KnowledgeCategory{store.CategoryGenerationPattern, store.CategoryFailurePattern} {
		list, err := c.semantic.GetByCategory(ctx, userID, category)
		if err != nil {
			return 0, err
		}
		// Newest first: the first entry per normalised key survives.
		sort.SliceStable(list, func(i, j int) bool {
			if list[i].UpdatedTs != list[j].UpdatedTs {
				return list[i].UpdatedTs > list[j].UpdatedTs
			}
			return list[i].ID > list[j].ID
		})
		kept := map[string]int64{}
		for _, m := range list {
			norm := normalizeKey(m.KnowledgeKey)
			if newer, ok := kept[norm]; ok {
				candidates = append(candidates, PruneCandidate{
					UserID:   userID,
					MemoryID: m.ID,
					Reason:   fmt.Sprintf("duplicate of newer #%d", newer),
				})
				continue
			}
			kept[norm] = m.ID
			if m.ConfidenceScore < c.cfg.ConfidenceFloor && len(stringList(m.KnowledgeValue[valueDisconfirmedBy])) > 0 {
				candidates = append(candidates, PruneCandidate{
					UserID:   userID,
					MemoryID: m.ID,
					Reason:   "confidence below floor",
				})
			}
		}
	}
	if len(candidates) == 0 {
		return 0, nil
	}
	return c.semantic.Prune(ctx, candidates)
}

// loadPatterns snapshots the user's pattern entries keyed by patternRef.
func (c *ConsolidationEngine) loadPatterns(ctx context.Context, userID string) (map[string]*store.SemanticMemory, error) {
	patterns := map[string]*store.SemanticMemory{}
	for _, category := range []store.KnowledgeCategory{store.CategoryGenerationPattern, store.CategoryFailurePattern} {
		list, err := c.semantic.GetByCategory(ctx, userID, category)
		if err != nil {
			return nil, err
		}
		for _, m := range list {
			patterns[patternRef(category, m.KnowledgeKey)] = m
		}
	}
	return patterns, nil
}

func patternRef(category store.KnowledgeCategory, key string) string {
	return string(category) + "/" + key
}

// patternKey is "<agent>:<kind>:<uuid v5 of the canonical fingerprint>".
func patternKey(agent, kind, canonical string) string {
	return fmt.Sprintf("%s:%s:%s", agent, kind, uuid.NewSHA1(patternNamespace, []byte(canonical)))
}

func malformedReason(row *store.EpisodicMemory) string {
	switch {
	case row.AgentName == "":
		return "missing agent name"
	case row.DecisionContext == nil:
		return "missing decision context"
	case row.QualityScore != nil && !store.ValidScore(*row.QualityScore):
		return fmt.Sprintf("quality score out of range: %v", *row.QualityScore)
	}
	return ""
}

func fingerprintOf(row *store.EpisodicMemory) fingerprint {
	fp := fingerprint{agent: row.AgentName, fields: map[string]string{}}
	parts := make([]string, 0, len(notableFields))
	for _, field := range notableFields {
		value := scalarString(row.DecisionContext[field])
		if value == "" {
			continue
		}
		fp.fields[field] = value
		parts = append(parts, field+"="+value)
	}
	fp.canonical = row.AgentName + "|" + strings.Join(parts, ";")
	return fp
}

// scalarString normalises a context value. Non-scalar values do not take
// part in fingerprints.
func scalarString(v any) string {
	switch x := v.(type) {
	case string:
		return strings.ToLower(strings.TrimSpace(x))
	case bool:
		return strconv.FormatBool(x)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32)
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case json.Number:
		return x.String()
	default:
		return ""
	}
}

// mergeSupport builds a pattern value whose per-episode support replaces
// this episode's previous contribution, so re-runs converge.
func mergeSupport(prev *store.SemanticMemory, episodeID string, g *patternGroup) (map[string]any, int, float64) {
	episodes := map[string]any{}
	total, qualitySum := 0, 0.0
	if prev != nil {
		if stored, ok := prev.KnowledgeValue[valueEpisodes].(map[string]any); ok {
			for id, raw := range stored {
				entry, ok := raw.(map[string]any)
				if id == episodeID || !ok {
					continue
				}
				support := int(toFloat(entry["support"]))
				if support <= 0 {
					continue
				}
				quality := toFloat(entry["quality_sum"])
				episodes[id] = map[string]any{"support": support, "quality_sum": quality}
				total += support
				qualitySum += quality
			}
		}
	}
	episodes[episodeID] = map[string]any{"support": g.support, "quality_sum": g.qualitySum}
	total += g.support
	qualitySum += g.qualitySum

	fields := make(map[string]any, len(g.fields))
	for k, v := range g.fields {
		fields[k] = v
	}
	return map[string]any{
		"agent":        g.agent,
		"fields":       fields,
		"support":      total,
		"mean_quality": roundScore(qualitySum / float64(total)),
		valueEpisodes:  episodes,
	}, total, qualitySum
}

func toFloat(v any) float64 {
	switch x := v.(type) {
	case float64:
		return x
	case float32:
		return float64(x)
	case int:
		return float64(x)
	case int64:
		return float64(x)
	case json.Number:
		f, _ := x.Float64()
		return f
	default:
		return 0
	}
}

func stringList(v any) []string {
	switch x := v.(type) {
	case []string:
		return x
	case []any:
		out := make([]string, 0, len(x))
		for _, item := range x {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

func roundScore(v float64) float64 {
	return math.Round(v*1e4) / 1e4
}

var keySeparators = regexp.MustCompile(`[\s_\-]+`)

// normalizeKey folds case and separator differences between knowledge keys.
func normalizeKey(key string) string {
	return keySeparators.ReplaceAllString(strings.ToLower(strings.TrimSpace(key)), "_")
}
