package store

import (
	"context"

	"github.com/hrygo/storyreel/internal/profile"
)

// Store provides database access to all memory rows.
type Store struct {
	profile *profile.Profile
	driver  Driver
}

// New creates a new instance of Store.
func New(driver Driver, profile *profile.Profile) *Store {
	return &Store{
		driver:  driver,
		profile: profile,
	}
}

func (s *Store) GetDriver() Driver {
	return s.driver
}

func (s *Store) Close() error {
	return s.driver.Close()
}

// Ping reports whether the backing store is reachable.
func (s *Store) Ping(ctx context.Context) error {
	_, err := s.driver.IsInitialized(ctx)
	return err
}
