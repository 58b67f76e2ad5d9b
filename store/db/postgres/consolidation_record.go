package postgres

import (
	"context"
	"strings"

	"github.com/pkg/errors"

	"github.com/hrygo/storyreel/store"
)

func (d *DB) CreateConsolidationRecord(ctx context.Context, create *store.ConsolidationRecord) (*store.ConsolidationRecord, error) {
	stmt := `INSERT INTO consolidation_record (episode_id, user_id, insights_extracted, patterns_identified, memories_created, memories_updated, memories_pruned, decisions_total, decisions_skipped, processing_time_ms, created_ts)
		VALUES (` + placeholders(11) + `)
		RETURNING id`
	if err := d.db.QueryRowContext(ctx, stmt,
		create.EpisodeID,
		create.UserID,
		create.InsightsExtracted,
		create.PatternsIdentified,
		create.MemoriesCreated,
		create.MemoriesUpdated,
		create.MemoriesPruned,
		create.DecisionsTotal,
		create.DecisionsSkipped,
		create.ProcessingTimeMs,
		create.CreatedTs,
	).Scan(&create.ID); err != nil {
		return nil, errors.Wrap(err, "failed to create consolidation record")
	}
	return create, nil
}

func (d *DB) ListConsolidationRecords(ctx context.Context, find *store.FindConsolidationRecord) ([]*store.ConsolidationRecord, error) {
	where, args := []string{"1 = 1"}, []any{}
	if find.EpisodeID != nil {
		where, args = append(where, "episode_id = "+placeholder(len(args)+1)), append(args, *find.EpisodeID)
	}
	if find.UserID != nil {
		where, args = append(where, "user_id = "+placeholder(len(args)+1)), append(args, *find.UserID)
	}

	query := `SELECT id, episode_id, user_id, insights_extracted, patterns_identified, memories_created, memories_updated, memories_pruned, decisions_total, decisions_skipped, processing_time_ms, created_ts
		FROM consolidation_record
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY created_ts DESC, id DESC` + limitOffset(find.Limit, 0)

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list consolidation records")
	}
	defer rows.Close()

	list := []*store.ConsolidationRecord{}
	for rows.Next() {
		var record store.ConsolidationRecord
		if err := rows.Scan(
			&record.ID,
			&record.EpisodeID,
			&record.UserID,
			&record.InsightsExtracted,
			&record.PatternsIdentified,
			&record.MemoriesCreated,
			&record.MemoriesUpdated,
			&record.MemoriesPruned,
			&record.DecisionsTotal,
			&record.DecisionsSkipped,
			&record.ProcessingTimeMs,
			&record.CreatedTs,
		); err != nil {
			return nil, errors.Wrap(err, "failed to scan consolidation record")
		}
		list = append(list, &record)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate consolidation records")
	}
	return list, nil
}
