package store

import (
	"context"
	"maps"
	"time"
)

// DefaultFeedbackHistoryCap bounds feedback_history per feedback type when
// an update does not set its own cap.
const DefaultFeedbackHistoryCap = 100

// FeedbackEvent is one entry of a user's feedback history.
type FeedbackEvent struct {
	Data      map[string]any `json:"data,omitempty"`
	Rating    *float64       `json:"rating,omitempty"`
	EpisodeID string         `json:"episode_id,omitempty"`
	Comment   string         `json:"comment,omitempty"`
	Timestamp int64          `json:"timestamp"`
}

// UserMemoryProfile is the per-user preference and feedback singleton.
type UserMemoryProfile struct {
	Preferences     map[string]any
	StylePatterns   map[string]any
	FeedbackHistory map[string][]FeedbackEvent
	UserID          string
	CreatedTs       int64
	UpdatedTs       int64
}

// FindUserMemoryProfile specifies the profile to load.
type FindUserMemoryProfile struct {
	UserID string
}

// AppendFeedback appends one event to feedback_history[Type].
type AppendFeedback struct {
	Type       string
	Event      FeedbackEvent
	MaxHistory int
}

// UpdateUserMemoryProfile enumerates every permitted profile mutation.
// Drivers apply it atomically with ApplyTo.
type UpdateUserMemoryProfile struct {
	SetPreferences   map[string]any
	SetStylePatterns map[string]any
	AppendFeedback   *AppendFeedback
	UserID           string
}

// Validate validates the UpdateUserMemoryProfile.
func (u *UpdateUserMemoryProfile) Validate() error {
	if u.UserID == "" {
		return invalidf("user_id is required")
	}
	if len(u.SetPreferences) == 0 && len(u.SetStylePatterns) == 0 && u.AppendFeedback == nil {
		return invalidf("no fields to update")
	}
	for key := range u.SetPreferences {
		if key == "" {
			return invalidf("preference key cannot be empty")
		}
	}
	for key := range u.SetStylePatterns {
		if key == "" {
			return invalidf("style pattern key cannot be empty")
		}
	}
	if u.AppendFeedback != nil {
		if u.AppendFeedback.Type == "" {
			return invalidf("feedback_type is required")
		}
		if r := u.AppendFeedback.Event.Rating; r != nil && !ValidScore(*r) {
			return invalidf("feedback rating out of range: %v", *r)
		}
	}
	return nil
}

// ApplyTo mutates profile in place according to the update.
func (u *UpdateUserMemoryProfile) ApplyTo(profile *UserMemoryProfile) {
	if profile.Preferences == nil {
		profile.Preferences = map[string]any{}
	}
	if profile.StylePatterns == nil {
		profile.StylePatterns = map[string]any{}
	}
	if profile.FeedbackHistory == nil {
		profile.FeedbackHistory = map[string][]FeedbackEvent{}
	}
	maps.Copy(profile.Preferences, u.SetPreferences)
	maps.Copy(profile.StylePatterns, u.SetStylePatterns)

	if fb := u.AppendFeedback; fb != nil {
		event := fb.Event
		if event.Timestamp == 0 {
			event.Timestamp = time.Now().UnixMilli()
		}
		limit := fb.MaxHistory
		if limit <= 0 {
			limit = DefaultFeedbackHistoryCap
		}
		history := append(profile.FeedbackHistory[fb.Type], event)
		if len(history) > limit {
			history = append([]FeedbackEvent(nil), history[len(history)-limit:]...)
		}
		profile.FeedbackHistory[fb.Type] = history
	}
	profile.UpdatedTs = time.Now().UnixMilli()
}

// EnsureUserMemoryProfile returns the user's profile, creating an empty one
// if none exists. Concurrent callers observe the same single row.
func (s *Store) EnsureUserMemoryProfile(ctx context.Context, userID string) (*UserMemoryProfile, error) {
	if userID == "" {
		return nil, invalidf("user_id is required")
	}
	return s.driver.EnsureUserMemoryProfile(ctx, userID)
}

// GetUserMemoryProfile returns the profile or nil if it was never created.
func (s *Store) GetUserMemoryProfile(ctx context.Context, find *FindUserMemoryProfile) (*UserMemoryProfile, error) {
	return s.driver.GetUserMemoryProfile(ctx, find)
}

func (s *Store) UpdateUserMemoryProfile(ctx context.Context, update *UpdateUserMemoryProfile) (*UserMemoryProfile, error) {
	if err := update.Validate(); err != nil {
		return nil, err
	}
	return s.driver.UpdateUserMemoryProfile(ctx, update)
}
