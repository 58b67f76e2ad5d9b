package memory

import (
	"context"

	"github.com/hrygo/storyreel/store"
)

// ProfileStore manages the per-user preference and feedback singleton.
type ProfileStore struct {
	store      *store.Store
	maxHistory int
}

// NewProfileStore creates a ProfileStore keeping at most maxHistory feedback
// events per type (store.DefaultFeedbackHistoryCap when <= 0).
func NewProfileStore(s *store.Store, maxHistory int) *ProfileStore {
	if maxHistory <= 0 {
		maxHistory = store.DefaultFeedbackHistoryCap
	}
	return &ProfileStore{store: s, maxHistory: maxHistory}
}

// GetOrCreate returns the user's profile, creating an empty one on first access.
func (p *ProfileStore) GetOrCreate(ctx context.Context, userID string) (*store.UserMemoryProfile, error) {
	profile, err := p.store.EnsureUserMemoryProfile(ctx, userID)
	if err != nil {
		return nil, wrapStoreError("get or create profile", err)
	}
	return profile, nil
}

// Get returns the profile without creating it, or nil if the user has none.
func (p *ProfileStore) Get(ctx context.Context, userID string) (*store.UserMemoryProfile, error) {
	profile, err := p.store.GetUserMemoryProfile(ctx, &store.FindUserMemoryProfile{UserID: userID})
	if err != nil {
		return nil, wrapStoreError("get profile", err)
	}
	return profile, nil
}

func (p *ProfileStore) UpdatePreference(ctx context.Context, userID, key string, value any) (*store.UserMemoryProfile, error) {
	return p.update(ctx, &store.UpdateUserMemoryProfile{
		UserID:         userID,
		SetPreferences: map[string]any{key: value},
	})
}

func (p *ProfileStore) UpdateStylePattern(ctx context.Context, userID, key string, value any) (*store.UserMemoryProfile, error) {
	return p.update(ctx, &store.UpdateUserMemoryProfile{
		UserID:           userID,
		SetStylePatterns: map[string]any{key: value},
	})
}

// RecordFeedback appends event to feedback_history[feedbackType], dropping
// the oldest events beyond the cap.
func (p *ProfileStore) RecordFeedback(ctx context.Context, userID, feedbackType string, event store.FeedbackEvent) (*store.UserMemoryProfile, error) {
	return p.update(ctx, &store.UpdateUserMemoryProfile{
		UserID: userID,
		AppendFeedback: &store.AppendFeedback{
			Type:       feedbackType,
			Event:      event,
			MaxHistory: p.maxHistory,
		},
	})
}

// update creates the profile first so no mutation is lost on a missing row.
func (p *ProfileStore) update(ctx context.Context, update *store.UpdateUserMemoryProfile) (*store.UserMemoryProfile, error) {
	if err := update.Validate(); err != nil {
		return nil, wrapStoreError("update profile", err)
	}
	if _, err := p.GetOrCreate(ctx, update.UserID); err != nil {
		return nil, err
	}
	profile, err := p.store.UpdateUserMemoryProfile(ctx, update)
	if err != nil {
		return nil, wrapStoreError("update profile", err)
	}
	return profile, nil
}
