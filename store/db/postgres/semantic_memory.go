package postgres

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/hrygo/storyreel/store"
)

const semanticMemoryColumns = "id, user_id, category, knowledge_key, knowledge_value, confidence_score, importance_score, access_count, source_episode, created_ts, updated_ts"

// UpsertSemanticMemory merges JSONB values server-side; xmax = 0 identifies a fresh insert.
func (d *DB) UpsertSemanticMemory(ctx context.Context, upsert *store.UpsertSemanticMemory) (*store.SemanticMemory, bool, error) {
	value, err := marshalJSON(upsert.KnowledgeValue)
	if err != nil {
		return nil, false, err
	}
	now := time.Now().UnixMilli()
	stmt := `INSERT INTO semantic_memory (user_id, category, knowledge_key, knowledge_value, confidence_score, importance_score, source_episode, created_ts, updated_ts)
		VALUES (` + placeholders(9) + `)
		ON CONFLICT (user_id, category, knowledge_key) DO UPDATE SET
			knowledge_value = semantic_memory.knowledge_value || EXCLUDED.knowledge_value,
			confidence_score = GREATEST(semantic_memory.confidence_score, EXCLUDED.confidence_score),
			importance_score = EXCLUDED.importance_score,
			source_episode = COALESCE(EXCLUDED.source_episode, semantic_memory.source_episode),
			updated_ts = EXCLUDED.updated_ts
		RETURNING ` + semanticMemoryColumns + `, (xmax = 0)`

	var created bool
	memory, err := scanSemanticMemory(scanWithTrailing(d.db.QueryRowContext(ctx, stmt,
		upsert.UserID,
		upsert.Category,
		upsert.KnowledgeKey,
		value,
		upsert.ConfidenceScore,
		upsert.ImportanceScore,
		upsert.SourceEpisode,
		now,
		now,
	), &created))
	if err != nil {
		return nil, false, errors.Wrap(err, "failed to upsert semantic memory")
	}
	return memory, created, nil
}

func (d *DB) ListSemanticMemories(ctx context.Context, find *store.FindSemanticMemory) ([]*store.SemanticMemory, error) {
	where, args := []string{"1 = 1"}, []any{}
	if find.ID != nil {
		where, args = append(where, "id = "+placeholder(len(args)+1)), append(args, *find.ID)
	}
	if find.UserID != nil {
		where, args = append(where, "user_id = "+placeholder(len(args)+1)), append(args, *find.UserID)
	}
	if find.Category != nil {
		where, args = append(where, "category = "+placeholder(len(args)+1)), append(args, *find.Category)
	}
	if find.KnowledgeKey != nil {
		where, args = append(where, "knowledge_key = "+placeholder(len(args)+1)), append(args, *find.KnowledgeKey)
	}

	query := `SELECT ` + semanticMemoryColumns + `
		FROM semantic_memory
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY importance_score DESC, updated_ts DESC, id DESC` + limitOffset(find.Limit, find.Offset)

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list semantic memories")
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
		return nil, errors.Wrap(err, "failed to iterate semantic memories")
	}
	return list, nil
}

func (d *DB) UpdateSemanticMemory(ctx context.Context, update *store.UpdateSemanticMemory) (*store.SemanticMemory, error) {
	set, args := []string{"updated_ts = $1"}, []any{time.Now().UnixMilli()}
	if update.KnowledgeValue != nil {
		value, err := marshalJSON(update.KnowledgeValue)
		if err != nil {
			return nil, err
		}
		set, args = append(set, "knowledge_value = "+placeholder(len(args)+1)), append(args, value)
	}
	if update.ConfidenceScore != nil {
		set, args = append(set, "confidence_score = "+placeholder(len(args)+1)), append(args, *update.ConfidenceScore)
	}
	if update.ImportanceScore != nil {
		set, args = append(set, "importance_score = "+placeholder(len(args)+1)), append(args, *update.ImportanceScore)
	}
	args = append(args, update.ID)

	stmt := `UPDATE semantic_memory SET ` + strings.Join(set, ", ") + ` WHERE id = ` + placeholder(len(args)) + ` RETURNING ` + semanticMemoryColumns
	memory, err := scanSemanticMemory(d.db.QueryRowContext(ctx, stmt, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	return memory, err
}

func (d *DB) IncrementSemanticMemoryAccess(ctx context.Context, id int64) (*store.SemanticMemory, error) {
	stmt := `UPDATE semantic_memory SET access_count = access_count + 1 WHERE id = $1 RETURNING ` + semanticMemoryColumns
	memory, err := scanSemanticMemory(d.db.QueryRowContext(ctx, stmt, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	return memory, err
}

func (d *DB) DeleteSemanticMemories(ctx context.Context, delete *store.DeleteSemanticMemory) (int64, error) {
	if len(delete.IDs) == 0 {
		return 0, nil
	}
	where, args := []string{"id = ANY($1)"}, []any{pq.Array(delete.IDs)}
	if delete.UserID != nil {
		where, args = append(where, "user_id = "+placeholder(len(args)+1)), append(args, *delete.UserID)
	}
	result, err := d.db.ExecContext(ctx, `DELETE FROM semantic_memory WHERE `+strings.Join(where, " AND "), args...)
	if err != nil {
		return 0, errors.Wrap(err, "failed to delete semantic memories")
	}
	return result.RowsAffected()
}

func (d *DB) CountSemanticMemoriesByCategory(ctx context.Context, userID string) (map[store.KnowledgeCategory]int64, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT category, COUNT(*) FROM semantic_memory WHERE user_id = $1 GROUP BY category`, userID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to count semantic memories")
	}
	defer rows.Close()

	counts := map[store.KnowledgeCategory]int64{}
	for rows.Next() {
		var (
			category store.KnowledgeCategory
			count    int64
		)
		if err := rows.Scan(&category, &count); err != nil {
			return nil, errors.Wrap(err, "failed to scan category count")
		}
		counts[category] = count
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate category counts")
	}
	return counts, nil
}

func scanSemanticMemory(row rowScanner) (*store.SemanticMemory, error) {
	var (
		memory        store.SemanticMemory
		value         []byte
		sourceEpisode sql.NullString
	)
	if err := row.Scan(
		&memory.ID,
		&memory.UserID,
		&memory.Category,
		&memory.KnowledgeKey,
		&value,
		&memory.ConfidenceScore,
		&memory.ImportanceScore,
		&memory.AccessCount,
		&sourceEpisode,
		&memory.CreatedTs,
		&memory.UpdatedTs,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, errors.Wrap(err, "failed to scan semantic memory")
	}

	var err error
	if memory.KnowledgeValue, err = unmarshalObject(value); err != nil {
		return nil, err
	}
	if sourceEpisode.Valid {
		episode := sourceEpisode.String
		memory.SourceEpisode = &episode
	}
	return &memory, nil
}
