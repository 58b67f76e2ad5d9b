package sqlite

import (
	"context"
	"database/sql"
	"strings"

	"github.com/pkg/errors"

	"github.com/hrygo/storyreel/store"
)

const episodicMemoryColumns = "id, uid, episode_id, user_id, agent_name, decision_context, outcome, quality_score, created_ts"

func (d *DB) CreateEpisodicMemory(ctx context.Context, create *store.EpisodicMemory) (*store.EpisodicMemory, error) {
	decisionContext, err := marshalJSON(create.DecisionContext)
	if err != nil {
		return nil, err
	}
	var outcome sql.NullString
	if create.Outcome != nil {
		raw, err := marshalJSON(create.Outcome)
		if err != nil {
			return nil, err
		}
		outcome = sql.NullString{String: raw, Valid: true}
	}

	stmt := `INSERT INTO episodic_memory (uid, episode_id, user_id, agent_name, decision_context, outcome, quality_score, created_ts)
		VALUES (` + placeholders(8) + `)
		RETURNING id`
	if err := d.db.QueryRowContext(ctx, stmt,
		create.UID,
		create.EpisodeID,
		create.UserID,
		create.AgentName,
		decisionContext,
		outcome,
		create.QualityScore,
		create.CreatedTs,
	).Scan(&create.ID); err != nil {
		return nil, errors.Wrap(err, "failed to create episodic memory")
	}
	return create, nil
}

func buildEpisodicWhere(find *store.FindEpisodicMemory) ([]string, []any) {
	where, args := []string{"1 = 1"}, []any{}
	if find.ID != nil {
		where, args = append(where, "id = ?"), append(args, *find.ID)
	}
	if find.UID != nil {
		where, args = append(where, "uid = ?"), append(args, *find.UID)
	}
	if find.EpisodeID != nil {
		where, args = append(where, "episode_id = ?"), append(args, *find.EpisodeID)
	}
	if find.UserID != nil {
		where, args = append(where, "user_id = ?"), append(args, *find.UserID)
	}
	if find.AgentName != nil {
		where, args = append(where, "agent_name = ?"), append(args, *find.AgentName)
	}
	if find.MinQuality != nil {
		where, args = append(where, "quality_score IS NOT NULL AND quality_score >= ?"), append(args, *find.MinQuality)
	}
	return where, args
}

func (d *DB) ListEpisodicMemories(ctx context.Context, find *store.FindEpisodicMemory) ([]*store.EpisodicMemory, error) {
	where, args := buildEpisodicWhere(find)
	query := `SELECT ` + episodicMemoryColumns + `
		FROM episodic_memory
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY created_ts DESC, id DESC` + limitOffset(find.Limit, find.Offset)

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list episodic memories")
	}
	defer rows.Close()

	list := []*store.EpisodicMemory{}
	for rows.Next() {
		memory, err := scanEpisodicMemory(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, memory)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate episodic memories")
	}
	return list, nil
}

func (d *DB) CountEpisodicMemories(ctx context.Context, find *store.FindEpisodicMemory) (int64, error) {
	where, args := buildEpisodicWhere(find)
	var count int64
	query := `SELECT COUNT(*) FROM episodic_memory WHERE ` + strings.Join(where, " AND ")
	if err := d.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, errors.Wrap(err, "failed to count episodic memories")
	}
	return count, nil
}

func (d *DB) UpdateEpisodicMemory(ctx context.Context, update *store.UpdateEpisodicMemory) (*store.EpisodicMemory, error) {
	stmt := `UPDATE episodic_memory SET quality_score = ? WHERE id = ?
		RETURNING ` + episodicMemoryColumns
	memory, err := scanEpisodicMemory(d.db.QueryRowContext(ctx, stmt, *update.QualityScore, update.ID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	return memory, err
}

func (d *DB) DeleteEpisodicMemories(ctx context.Context, delete *store.DeleteEpisodicMemory) (int64, error) {
	where, args := buildEpisodicWhere(&store.FindEpisodicMemory{
		ID:        delete.ID,
		EpisodeID: delete.EpisodeID,
		UserID:    delete.UserID,
	})
	result, err := d.db.ExecContext(ctx, `DELETE FROM episodic_memory WHERE `+strings.Join(where, " AND "), args...)
	if err != nil {
		return 0, errors.Wrap(err, "failed to delete episodic memories")
	}
	return result.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEpisodicMemory(row rowScanner) (*store.EpisodicMemory, error) {
	var (
		memory          store.EpisodicMemory
		decisionContext string
		outcome         sql.NullString
		quality         sql.NullFloat64
	)
	if err := row.Scan(
		&memory.ID,
		&memory.UID,
		&memory.EpisodeID,
		&memory.UserID,
		&memory.AgentName,
		&decisionContext,
		&outcome,
		&quality,
		&memory.CreatedTs,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, errors.Wrap(err, "failed to scan episodic memory")
	}

	var err error
	if memory.DecisionContext, err = unmarshalObject(decisionContext); err != nil {
		return nil, err
	}
	if outcome.Valid {
		if memory.Outcome, err = unmarshalObject(outcome.String); err != nil {
			return nil, err
		}
	}
	if quality.Valid {
		score := quality.Float64
		memory.QualityScore = &score
	}
	return &memory, nil
}
