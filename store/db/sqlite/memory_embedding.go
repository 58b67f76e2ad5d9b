package sqlite

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/hrygo/storyreel/store"
)

// UpsertMemoryEmbedding inserts or updates a memory embedding.
func (d *DB) UpsertMemoryEmbedding(ctx context.Context, embedding *store.MemoryEmbedding) (*store.MemoryEmbedding, error) {
	now := time.Now().UnixMilli()
	if embedding.CreatedTs == 0 {
		embedding.CreatedTs = now
	}
	embedding.UpdatedTs = now

	stmt := `INSERT INTO memory_embedding (memory_type, memory_id, user_id, model, embedding, created_ts, updated_ts)
		VALUES (` + placeholders(7) + `)
		ON CONFLICT (memory_type, memory_id, model) DO UPDATE SET
			embedding = excluded.embedding,
			user_id = excluded.user_id,
			updated_ts = excluded.updated_ts
		RETURNING id, created_ts, updated_ts`

	err := d.db.QueryRowContext(ctx, stmt,
		embedding.MemoryType,
		embedding.MemoryID,
		embedding.UserID,
		embedding.Model,
		float32ArrayToBLOB(embedding.Embedding),
		embedding.CreatedTs,
		embedding.UpdatedTs,
	).Scan(&embedding.ID, &embedding.CreatedTs, &embedding.UpdatedTs)
	if err != nil {
		return nil, errors.Wrap(err, "failed to upsert memory embedding")
	}
	return embedding, nil
}

// ListMemoryEmbeddings lists memory embeddings.
func (d *DB) ListMemoryEmbeddings(ctx context.Context, find *store.FindMemoryEmbedding) ([]*store.MemoryEmbedding, error) {
	where, args := []string{"1 = 1"}, []any{}
	if find.MemoryType != nil {
		where, args = append(where, "memory_type = ?"), append(args, *find.MemoryType)
	}
	if find.MemoryID != nil {
		where, args = append(where, "memory_id = ?"), append(args, *find.MemoryID)
	}
	if find.UserID != nil {
		where, args = append(where, "user_id = ?"), append(args, *find.UserID)
	}
	if find.Model != nil {
		where, args = append(where, "model = ?"), append(args, *find.Model)
	}

	query := `SELECT id, memory_type, memory_id, user_id, model, embedding, created_ts, updated_ts
		FROM memory_embedding
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY created_ts DESC, id DESC`

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list memory embeddings")
	}
	defer rows.Close()

	list := []*store.MemoryEmbedding{}
	for rows.Next() {
		var embedding store.MemoryEmbedding
		var vectorBLOB []byte
		if err := rows.Scan(
			&embedding.ID,
			&embedding.MemoryType,
			&embedding.MemoryID,
			&embedding.UserID,
			&embedding.Model,
			&vectorBLOB,
			&embedding.CreatedTs,
			&embedding.UpdatedTs,
		); err != nil {
			return nil, errors.Wrap(err, "failed to scan memory embedding")
		}
		if embedding.Embedding, err = blobToFloat32Array(vectorBLOB); err != nil {
			return nil, errors.Wrap(err, "failed to convert embedding BLOB to array")
		}
		list = append(list, &embedding)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return list, nil
}

// DeleteMemoryEmbeddings removes the embeddings of the given memories for every model.
func (d *DB) DeleteMemoryEmbeddings(ctx context.Context, delete *store.DeleteMemoryEmbedding) (int64, error) {
	if len(delete.MemoryIDs) == 0 {
		return 0, nil
	}
	args := append([]any{delete.MemoryType}, int64Args(delete.MemoryIDs)...)
	stmt := `DELETE FROM memory_embedding WHERE memory_type = ? AND memory_id IN (` + placeholders(len(delete.MemoryIDs)) + `)`
	result, err := d.db.ExecContext(ctx, stmt, args...)
	if err != nil {
		return 0, errors.Wrap(err, "failed to delete memory embeddings")
	}
	return result.RowsAffected()
}

// FindSemanticMemoriesWithoutEmbedding finds semantic memories that don't have embeddings for the specified model.
func (d *DB) FindSemanticMemoriesWithoutEmbedding(ctx context.Context, find *store.FindSemanticMemoriesWithoutEmbedding) ([]*store.SemanticMemory, error) {
	limit := find.Limit
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT sm.id, sm.user_id, sm.category, sm.knowledge_key, sm.knowledge_value, sm.confidence_score,
			sm.importance_score, sm.access_count, sm.source_episode, sm.created_ts, sm.updated_ts
		FROM semantic_memory sm
		LEFT JOIN memory_embedding e
			ON e.memory_type = ? AND e.memory_id = sm.id AND e.model = ?
		WHERE e.id IS NULL
		ORDER BY sm.updated_ts DESC, sm.id DESC
		LIMIT ?`

	rows, err := d.db.QueryContext(ctx, query, store.MemoryTypeSemantic, find.Model, limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to find semantic memories without embedding")
	}
	defer rows.Close()

	list := []*store.SemanticMemory{}
	for rows.Next() {
		memory, err := scanSemanticMemory(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, memory)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return list, nil
}

// SemanticVectorSearch performs vector similarity search on semantic memories.
// Uses Go-based cosine similarity computation (application-layer).
func (d *DB) SemanticVectorSearch(ctx context.Context, opts *store.SemanticVectorSearchOptions) ([]*store.SemanticMemoryWithScore, error) {
	query := `
		SELECT sm.id, sm.user_id, sm.category, sm.knowledge_key, sm.knowledge_value, sm.confidence_score,
			sm.importance_score, sm.access_count, sm.source_episode, sm.created_ts, sm.updated_ts,
			e.embedding
		FROM semantic_memory sm
		INNER JOIN memory_embedding e
			ON e.memory_type = ? AND e.memory_id = sm.id
		WHERE sm.user_id = ? AND e.model = ?`

	rows, err := d.db.QueryContext(ctx, query, store.MemoryTypeSemantic, opts.UserID, opts.Model)
	if err != nil {
		return nil, errors.Wrap(err, "failed to semantic vector search")
	}
	defer rows.Close()

	results := []*store.SemanticMemoryWithScore{}
	for rows.Next() {
		var vectorBLOB []byte
		memory, err := scanSemanticMemory(scanWithTrailing(rows, &vectorBLOB))
		if err != nil {
			return nil, err
		}
		embedding, err := blobToFloat32Array(vectorBLOB)
		if err != nil {
			slog.Warn("failed to convert embedding BLOB to array", "memory_id", memory.ID, "error", err)
			continue
		}
		results = append(results, &store.SemanticMemoryWithScore{
			SemanticMemory: memory,
			Score:          cosineSimilarity(opts.Vector, embedding),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].SemanticMemory.ID > results[j].SemanticMemory.ID
	})
	if len(results) > opts.Limit {
		results = results[:opts.Limit]
	}
	return results, nil
}

// trailingScanner appends extra destinations after the ones a scan helper asks for.
type trailingScanner struct {
	row   rowScanner
	extra []any
}

func scanWithTrailing(row rowScanner, extra ...any) rowScanner {
	return &trailingScanner{row: row, extra: extra}
}

func (s *trailingScanner) Scan(dest ...any) error {
	return s.row.Scan(append(dest, s.extra...)...)
}
