package memory

import (
	"context"
	"maps"
	"slices"
	"time"

	"github.com/hrygo/storyreel/store"
)

func (d *DB) EnsureUserMemoryProfile(_ context.Context, userID string) (*store.UserMemoryProfile, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return cloneUserMemoryProfile(d.ensureProfile(userID)), nil
}

func (d *DB) GetUserMemoryProfile(_ context.Context, find *store.FindUserMemoryProfile) (*store.UserMemoryProfile, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	profile, ok := d.profiles[find.UserID]
	if !ok {
		return nil, nil
	}
	return cloneUserMemoryProfile(profile), nil
}

func (d *DB) UpdateUserMemoryProfile(_ context.Context, update *store.UpdateUserMemoryProfile) (*store.UserMemoryProfile, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	profile := d.ensureProfile(update.UserID)
	update.ApplyTo(profile)
	return cloneUserMemoryProfile(profile), nil
}

// ensureProfile returns the stored profile, creating it when absent. Callers hold d.mu.
func (d *DB) ensureProfile(userID string) *store.UserMemoryProfile {
	if profile, ok := d.profiles[userID]; ok {
		return profile
	}
	now := time.Now().UnixMilli()
	profile := &store.UserMemoryProfile{
		UserID:          userID,
		Preferences:     map[string]any{},
		StylePatterns:   map[string]any{},
		FeedbackHistory: map[string][]store.FeedbackEvent{},
		CreatedTs:       now,
		UpdatedTs:       now,
	}
	d.profiles[userID] = profile
	return profile
}

func cloneUserMemoryProfile(p *store.UserMemoryProfile) *store.UserMemoryProfile {
	c := *p
	c.Preferences = maps.Clone(p.Preferences)
	c.StylePatterns = maps.Clone(p.StylePatterns)
	c.FeedbackHistory = make(map[string][]store.FeedbackEvent, len(p.FeedbackHistory))
	for feedbackType, events := range p.FeedbackHistory {
		c.FeedbackHistory[feedbackType] = slices.Clone(events)
	}
	return &c
}
