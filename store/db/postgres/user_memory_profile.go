package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/pkg/errors"

	"github.com/hrygo/storyreel/store"
)

const userMemoryProfileColumns = "user_id, preferences, style_patterns, feedback_history, created_ts, updated_ts"

const ensureUserMemoryProfileStmt = `INSERT INTO user_memory_profile (user_id, preferences, style_patterns, feedback_history, created_ts, updated_ts)
	VALUES ($1, '{}', '{}', '{}', $2, $2)
	ON CONFLICT (user_id) DO NOTHING`

func (d *DB) EnsureUserMemoryProfile(ctx context.Context, userID string) (*store.UserMemoryProfile, error) {
	if _, err := d.db.ExecContext(ctx, ensureUserMemoryProfileStmt, userID, time.Now().UnixMilli()); err != nil {
		return nil, errors.Wrap(err, "failed to ensure user memory profile")
	}
	return d.GetUserMemoryProfile(ctx, &store.FindUserMemoryProfile{UserID: userID})
}

func (d *DB) GetUserMemoryProfile(ctx context.Context, find *store.FindUserMemoryProfile) (*store.UserMemoryProfile, error) {
	profile, err := scanUserMemoryProfile(d.db.QueryRowContext(ctx,
		`SELECT `+userMemoryProfileColumns+` FROM user_memory_profile WHERE user_id = $1`, find.UserID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return profile, err
}

// UpdateUserMemoryProfile locks the profile row for the read-modify-write so
// concurrent feedback appends are never lost.
func (d *DB) UpdateUserMemoryProfile(ctx context.Context, update *store.UpdateUserMemoryProfile) (*store.UserMemoryProfile, error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, ensureUserMemoryProfileStmt, update.UserID, time.Now().UnixMilli()); err != nil {
		return nil, errors.Wrap(err, "failed to ensure user memory profile")
	}
	profile, err := scanUserMemoryProfile(tx.QueryRowContext(ctx,
		`SELECT `+userMemoryProfileColumns+` FROM user_memory_profile WHERE user_id = $1 FOR UPDATE`, update.UserID))
	if err != nil {
		return nil, errors.Wrap(err, "failed to lock user memory profile")
	}

	update.ApplyTo(profile)

	preferences, err := marshalJSON(profile.Preferences)
	if err != nil {
		return nil, err
	}
	stylePatterns, err := marshalJSON(profile.StylePatterns)
	if err != nil {
		return nil, err
	}
	feedbackHistory, err := marshalJSON(profile.FeedbackHistory)
	if err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE user_memory_profile SET preferences = $1, style_patterns = $2, feedback_history = $3, updated_ts = $4 WHERE user_id = $5`,
		preferences, stylePatterns, feedbackHistory, profile.UpdatedTs, profile.UserID); err != nil {
		return nil, errors.Wrap(err, "failed to update user memory profile")
	}
	if err := tx.Commit(); err != nil {
		return nil, errors.Wrap(err, "failed to commit user memory profile update")
	}
	return profile, nil
}

func scanUserMemoryProfile(row rowScanner) (*store.UserMemoryProfile, error) {
	var (
		profile         store.UserMemoryProfile
		preferences     []byte
		stylePatterns   []byte
		feedbackHistory []byte
	)
	if err := row.Scan(
		&profile.UserID,
		&preferences,
		&stylePatterns,
		&feedbackHistory,
		&profile.CreatedTs,
		&profile.UpdatedTs,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, errors.Wrap(err, "failed to scan user memory profile")
	}

	var err error
	if profile.Preferences, err = unmarshalObject(preferences); err != nil {
		return nil, err
	}
	if profile.StylePatterns, err = unmarshalObject(stylePatterns); err != nil {
		return nil, err
	}
	profile.FeedbackHistory = map[string][]store.FeedbackEvent{}
	if len(feedbackHistory) > 0 {
		if err := json.Unmarshal(feedbackHistory, &profile.FeedbackHistory); err != nil {
			return nil, errors.Wrap(err, "failed to unmarshal feedback history")
		}
	}
	return &profile, nil
}
