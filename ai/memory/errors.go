package memory

import (
	"errors"
	"fmt"
	"strings"

	"github.com/hrygo/storyreel/store"
)

var (
	// ErrStorage means the backing store is unreachable or a write failed.
	ErrStorage = errors.New("memory storage error")
	// ErrNotFound means a referenced memory id or key does not exist.
	ErrNotFound = errors.New("memory not found")
	// ErrEmbeddingUnavailable is a soft failure: callers skip embedding and carry on.
	ErrEmbeddingUnavailable = errors.New("embedding unavailable")
	// ErrInvalidInput means the request was rejected before reaching the store.
	ErrInvalidInput = errors.New("invalid memory input")
)

// wrapStoreError maps a store error onto the package sentinels, keeping the
// original error in the chain.
func wrapStoreError(op string, err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, store.ErrNotFound):
		return fmt.Errorf("%s: %w: %w", op, ErrNotFound, err)
	case errors.Is(err, store.ErrInvalidInput):
		return fmt.Errorf("%s: %w: %w", op, ErrInvalidInput, err)
	default:
		return fmt.Errorf("%s: %w: %w", op, ErrStorage, err)
	}
}

func invalidInput(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

// SkippedDecision describes an episodic row consolidation could not classify.
type SkippedDecision struct {
	Reason   string
	MemoryID int64
}

// ConsolidationPartialFailure reports rows skipped during an otherwise
// successful consolidation run.
type ConsolidationPartialFailure struct {
	EpisodeID string
	Skipped   []SkippedDecision
}

func (e *ConsolidationPartialFailure) Error() string {
	reasons := make([]string, 0, len(e.Skipped))
	for _, s := range e.Skipped {
		reasons = append(reasons, fmt.Sprintf("#%d %s", s.MemoryID, s.Reason))
	}
	return fmt.Sprintf("consolidation of episode %s skipped %d decision(s): %s",
		e.EpisodeID, len(e.Skipped), strings.Join(reasons, "; "))
}

// Partial reports that the run still produced a summary.
func (*ConsolidationPartialFailure) Partial() bool {
	return true
}
