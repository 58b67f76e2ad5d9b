package db

import (
	"github.com/pkg/errors"

	"github.com/hrygo/storyreel/internal/profile"
	"github.com/hrygo/storyreel/store"
	"github.com/hrygo/storyreel/store/db/memory"
	"github.com/hrygo/storyreel/store/db/postgres"
	"github.com/hrygo/storyreel/store/db/sqlite"
)

// ============================================================================
// DATABASE SUPPORT POLICY
// ============================================================================
// PostgreSQL: production backend. Vector search runs in pgvector.
// SQLite: single-node and test backend. Vector search runs in Go.
// Memory: process-local backend for tests and ephemeral demos. Vector
// search runs in chromem-go. Nothing survives a restart.
// ============================================================================

// NewDBDriver creates new db driver based on profile.
func NewDBDriver(profile *profile.Profile) (store.Driver, error) {
	var driver store.Driver
	var err error

	switch profile.Driver {
	case "sqlite":
		driver, err = sqlite.NewDB(profile)
	case "postgres":
		driver, err = postgres.NewDB(profile)
	case "memory":
		driver, err = memory.NewDB(profile)
	default:
		return nil, errors.Errorf("unknown db driver %q: supported drivers are postgres, sqlite and memory", profile.Driver)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to create db driver")
	}
	return driver, nil
}
