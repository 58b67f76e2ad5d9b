package sqlite

import (
	"context"
	"database/sql"
	"math"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/hrygo/storyreel/store"
)

const semanticMemoryColumns = "id, user_id, category, knowledge_key, knowledge_value, confidence_score, importance_score, access_count, source_episode, created_ts, updated_ts"

// UpsertSemanticMemory merges into an existing (user_id, category, knowledge_key)
// row inside one transaction. The single connection keeps concurrent upserts serialized.
func (d *DB) UpsertSemanticMemory(ctx context.Context, upsert *store.UpsertSemanticMemory) (*store.SemanticMemory, bool, error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	existing, err := scanSemanticMemory(tx.QueryRowContext(ctx,
		`SELECT `+semanticMemoryColumns+` FROM semantic_memory WHERE user_id = ? AND category = ? AND knowledge_key = ?`,
		upsert.UserID, upsert.Category, upsert.KnowledgeKey))
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, false, err
	}

	now := time.Now().UnixMilli()
	var (
		memory  *store.SemanticMemory
		created bool
	)
	if existing == nil {
		value, err := marshalJSON(upsert.KnowledgeValue)
		if err != nil {
			return nil, false, err
		}
		stmt := `INSERT INTO semantic_memory (user_id, category, knowledge_key, knowledge_value, confidence_score, importance_score, access_count, source_episode, created_ts, updated_ts)
			VALUES (` + placeholders(10) + `)
			RETURNING ` + semanticMemoryColumns
		memory, err = scanSemanticMemory(tx.QueryRowContext(ctx, stmt,
			upsert.UserID, upsert.Category, upsert.KnowledgeKey, value,
			upsert.ConfidenceScore, upsert.ImportanceScore, 0, upsert.SourceEpisode, now, now))
		if err != nil {
			return nil, false, errors.Wrap(err, "failed to insert semantic memory")
		}
		created = true
	} else {
		merged := store.MergeKnowledgeValue(existing.KnowledgeValue, upsert.KnowledgeValue)
		value, err := marshalJSON(merged)
		if err != nil {
			return nil, false, err
		}
		sourceEpisode := existing.SourceEpisode
		if upsert.SourceEpisode != nil {
			sourceEpisode = upsert.SourceEpisode
		}
		stmt := `UPDATE semantic_memory
			SET knowledge_value = ?, confidence_score = ?, importance_score = ?, source_episode = ?, updated_ts = ?
			WHERE id = ?
			RETURNING ` + semanticMemoryColumns
		memory, err = scanSemanticMemory(tx.QueryRowContext(ctx, stmt,
			value, math.Max(existing.ConfidenceScore, upsert.ConfidenceScore), upsert.ImportanceScore,
			sourceEpisode, now, existing.ID))
		if err != nil {
			return nil, false, errors.Wrap(err, "failed to merge semantic memory")
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, false, errors.Wrap(err, "failed to commit semantic memory upsert")
	}
	return memory, created, nil
}

func (d *DB) ListSemanticMemories(ctx context.Context, find *store.FindSemanticMemory) ([]*store.SemanticMemory, error) {
	where, args := []string{"1 = 1"}, []any{}
	if find.ID != nil {
		where, args = append(where, "id = ?"), append(args, *find.ID)
	}
	if find.UserID != nil {
		where, args = append(where, "user_id = ?"), append(args, *find.UserID)
	}
	if find.Category != nil {
		where, args = append(where, "category = ?"), append(args, *find.Category)
	}
	if find.KnowledgeKey != nil {
		where, args = append(where, "knowledge_key = ?"), append(args, *find.KnowledgeKey)
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
	set, args := []string{"updated_ts = ?"}, []any{time.Now().UnixMilli()}
	if update.KnowledgeValue != nil {
		value, err := marshalJSON(update.KnowledgeValue)
		if err != nil {
			return nil, err
		}
		set, args = append(set, "knowledge_value = ?"), append(args, value)
	}
	if update.ConfidenceScore != nil {
		set, args = append(set, "confidence_score = ?"), append(args, *update.ConfidenceScore)
	}
	if update.ImportanceScore != nil {
		set, args = append(set, "importance_score = ?"), append(args, *update.ImportanceScore)
	}
	args = append(args, update.ID)

	stmt := `UPDATE semantic_memory SET ` + strings.Join(set, ", ") + ` WHERE id = ? RETURNING ` + semanticMemoryColumns
	memory, err := scanSemanticMemory(d.db.QueryRowContext(ctx, stmt, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	return memory, err
}

func (d *DB) IncrementSemanticMemoryAccess(ctx context.Context, id int64) (*store.SemanticMemory, error) {
	stmt := `UPDATE semantic_memory SET access_count = access_count + 1 WHERE id = ? RETURNING ` + semanticMemoryColumns
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
	where, args := []string{"id IN (" + placeholders(len(delete.IDs)) + ")"}, int64Args(delete.IDs)
	if delete.UserID != nil {
		where, args = append(where, "user_id = ?"), append(args, *delete.UserID)
	}
	result, err := d.db.ExecContext(ctx, `DELETE FROM semantic_memory WHERE `+strings.Join(where, " AND "), args...)
	if err != nil {
		return 0, errors.Wrap(err, "failed to delete semantic memories")
	}
	return result.RowsAffected()
}

func (d *DB) CountSemanticMemoriesByCategory(ctx context.Context, userID string) (map[store.KnowledgeCategory]int64, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT category, COUNT(*) FROM semantic_memory WHERE user_id = ? GROUP BY category`, userID)
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
		value         string
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
