package postgres

import (
	"context"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"
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

	stmt := `
		INSERT INTO memory_embedding (memory_type, memory_id, user_id, model, embedding, created_ts, updated_ts)
		VALUES (` + placeholders(7) + `)
		ON CONFLICT (memory_type, memory_id, model)
		DO UPDATE SET
			embedding = EXCLUDED.embedding,
			user_id = EXCLUDED.user_id,
			updated_ts = EXCLUDED.updated_ts
		RETURNING id, created_ts, updated_ts
	`

	err := d.db.QueryRowContext(ctx, stmt,
		embedding.MemoryType,
		embedding.MemoryID,
		embedding.UserID,
		embedding.Model,
		pgvector.NewVector(embedding.Embedding),
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
		where, args = append(where, "memory_type = "+placeholder(len(args)+1)), append(args, *find.MemoryType)
	}
	if find.MemoryID != nil {
		where, args = append(where, "memory_id = "+placeholder(len(args)+1)), append(args, *find.MemoryID)
	}
	if find.UserID != nil {
		where, args = append(where, "user_id = "+placeholder(len(args)+1)), append(args, *find.UserID)
	}
	if find.Model != nil {
		where, args = append(where, "model = "+placeholder(len(args)+1)), append(args, *find.Model)
	}

	query := `
		SELECT id, memory_type, memory_id, user_id, model, embedding, created_ts, updated_ts
		FROM memory_embedding
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY created_ts DESC, id DESC
	`

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list memory embeddings")
	}
	defer rows.Close()

	list := []*store.MemoryEmbedding{}
	for rows.Next() {
		var embedding store.MemoryEmbedding
		var vector pgvector.Vector
		if err := rows.Scan(
			&embedding.ID,
			&embedding.MemoryType,
			&embedding.MemoryID,
			&embedding.UserID,
			&embedding.Model,
			&vector,
			&embedding.CreatedTs,
			&embedding.UpdatedTs,
		); err != nil {
			return nil, errors.Wrap(err, "failed to scan memory embedding")
		}
		embedding.Embedding = vector.Slice()
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
	stmt := `DELETE FROM memory_embedding WHERE memory_type = $1 AND memory_id = ANY($2)`
	result, err := d.db.ExecContext(ctx, stmt, delete.MemoryType, pq.Array(delete.MemoryIDs))
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
			ON e.memory_type = $1 AND e.memory_id = sm.id AND e.model = $2
		WHERE e.id IS NULL
		ORDER BY sm.updated_ts DESC, sm.id DESC
		LIMIT $3`

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

// SemanticVectorSearch performs vector similarity search using pgvector.
func (d *DB) SemanticVectorSearch(ctx context.Context, opts *store.SemanticVectorSearchOptions) ([]*store.SemanticMemoryWithScore, error) {
	// The <=> operator computes cosine distance (1 - cosine_similarity),
	// so ascending distance yields the most similar first.
	query := `
		SELECT sm.id, sm.user_id, sm.category, sm.knowledge_key, sm.knowledge_value, sm.confidence_score,
			sm.importance_score, sm.access_count, sm.source_episode, sm.created_ts, sm.updated_ts,
			1 - (e.embedding <=> $1) AS score
		FROM semantic_memory sm
		INNER JOIN memory_embedding e
			ON e.memory_type = $2 AND e.memory_id = sm.id
		WHERE sm.user_id = $3 AND e.model = $4
		ORDER BY e.embedding <=> $1, sm.id DESC
		LIMIT $5`

	rows, err := d.db.QueryContext(ctx, query,
		pgvector.NewVector(opts.Vector), store.MemoryTypeSemantic, opts.UserID, opts.Model, opts.Limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to semantic vector search")
	}
	defer rows.Close()

	results := []*store.SemanticMemoryWithScore{}
	for rows.Next() {
		var score float64
		memory, err := scanSemanticMemory(scanWithTrailing(rows, &score))
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan semantic vector search result")
		}
		results = append(results, &store.SemanticMemoryWithScore{
			SemanticMemory: memory,
			Score:          float32(score),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return results, nil
}
