// Package embedding backfills vectors for semantic memories stored while the
// embedding provider was unavailable or before the model changed.
package embedding

import (
	"context"
	"fmt"
	"time"

	"github.com/hrygo/storyreel/ai"
	"github.com/hrygo/storyreel/ai/memory"
	"github.com/hrygo/storyreel/ai/metrics"
	"github.com/hrygo/storyreel/ai/observability/logging"
	"github.com/hrygo/storyreel/store"
)

const (
	DefaultInterval  = 2 * time.Minute
	DefaultBatchSize = 8
)

type Runner struct {
	store     *store.Store
	embedder  ai.EmbeddingService
	exporter  *metrics.PrometheusExporter
	logger    *logging.Logger
	interval  time.Duration
	batchSize int
}

// NewRunner creates a reindex runner. Zero interval or batch size use the defaults.
func NewRunner(s *store.Store, embedder ai.EmbeddingService, interval time.Duration, batchSize int, exporter *metrics.PrometheusExporter, logger *logging.Logger) *Runner {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Runner{
		store:     s,
		embedder:  embedder,
		exporter:  exporter,
		logger:    logger.WithComponent("runner.embedding"),
		interval:  interval,
		batchSize: batchSize,
	}
}

// Run processes pending memories on startup and then on every tick until ctx is done.
func (r *Runner) Run(ctx context.Context) {
	r.tick(ctx)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.tick(ctx)
		case <-ctx.Done():
			r.logger.Info("embedding runner stopped")
			return
		}
	}
}

func (r *Runner) tick(ctx context.Context) {
	if _, err := r.RunOnce(ctx); err != nil && ctx.Err() == nil {
		r.logger.Error("reindex failed", "error", err)
	}
}

// RunOnce embeds one fetch worth of semantic memories lacking a vector for
// the current model and returns how many were indexed. Failed batches are
// logged and left for the next run.
func (r *Runner) RunOnce(ctx context.Context) (int, error) {
	model := r.embedder.Model()
	pending, err := r.store.FindSemanticMemoriesWithoutEmbedding(ctx, &store.FindSemanticMemoriesWithoutEmbedding{
		Model: model,
		Limit: r.batchSize * 20,
	})
	if err != nil {
		return 0, fmt.Errorf("find memories without embedding: %w", err)
	}
	if len(pending) == 0 {
		return 0, nil
	}
	r.logger.Info("reindexing semantic memories", "count", len(pending), "model", model)

	indexed := 0
	for start := 0; start < len(pending); start += r.batchSize {
		if err := ctx.Err(); err != nil {
			r.logger.Info("reindex cancelled", "indexed", indexed, "total", len(pending))
			return indexed, err
		}
		batch := pending[start:min(start+r.batchSize, len(pending))]
		n, err := r.processBatch(ctx, model, batch)
		indexed += n
		r.exporter.RecordReindexed(n)
		if err != nil {
			r.logger.Warn("reindex batch failed", "size", len(batch), "error", err)
			continue
		}
		r.logger.Debug("batch reindexed", "progress", fmt.Sprintf("%d/%d", start+len(batch), len(pending)))
	}
	return indexed, nil
}

func (r *Runner) processBatch(ctx context.Context, model string, batch []*store.SemanticMemory) (int, error) {
	texts := make([]string, len(batch))
	for i, m := range batch {
		texts[i] = memory.SemanticContent(m)
	}
	vectors, err := r.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return 0, err
	}
	if len(vectors) != len(batch) {
		return 0, fmt.Errorf("provider returned %d vectors for %d texts", len(vectors), len(batch))
	}

	indexed := 0
	for i, m := range batch {
		_, err := r.store.UpsertMemoryEmbedding(ctx, &store.MemoryEmbedding{
			MemoryType: store.MemoryTypeSemantic,
			MemoryID:   m.ID,
			UserID:     m.UserID,
			Model:      model,
			Embedding:  vectors[i],
		})
		if err != nil {
			r.logger.Error("failed to upsert embedding", "memory_id", m.ID, "error", err)
			continue
		}
		indexed++
	}
	return indexed, nil
}
