package test

import (
	"context"
	"os"
	"testing"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/hrygo/storyreel/internal/profile"
	"github.com/hrygo/storyreel/store"
	"github.com/hrygo/storyreel/store/db"
)

const (
	testUser     = "testuser"
	testPassword = "testpassword"
	// pgvectorImage ships PostgreSQL with the vector extension preinstalled.
	pgvectorImage = "pgvector/pgvector:pg16"
)

// NewTestingStore returns a migrated store for the driver named by
// STORYREEL_TEST_DRIVER (sqlite by default). SQLite runs in memory, so each
// call gets an isolated database.
func NewTestingStore(ctx context.Context, t *testing.T) *store.Store {
	t.Helper()
	profile := getTestingProfile(t)
	dbDriver, err := db.NewDBDriver(profile)
	if err != nil {
		t.Fatalf("failed to create db driver: %v", err)
	}
	t.Cleanup(func() {
		_ = dbDriver.Close()
	})

	ts := store.New(dbDriver, profile)
	if err := ts.Migrate(ctx); err != nil {
		t.Fatalf("failed to migrate db: %v", err)
	}
	return ts
}

// NewTestingProfile returns the profile NewTestingStore would use.
func NewTestingProfile(t *testing.T) *profile.Profile {
	t.Helper()
	return getTestingProfile(t)
}

func getTestingProfile(t *testing.T) *profile.Profile {
	driver := getDriverFromEnv()
	p := &profile.Profile{
		Mode:   "dev",
		Driver: driver,
		Data:   t.TempDir(),
	}

	switch driver {
	case "sqlite":
		p.DSN = ":memory:"
	case "postgres":
		p.DSN = GetPostgresDSN(t)
	case "memory":
		p.DSN = ""
	}
	return p
}

func getDriverFromEnv() string {
	driver := os.Getenv("STORYREEL_TEST_DRIVER")
	if driver == "" {
		driver = "sqlite"
	}
	return driver
}

// IsPostgres reports whether the tests run against PostgreSQL.
func IsPostgres() bool {
	return getDriverFromEnv() == "postgres"
}

// GetPostgresDSN returns a DSN for PostgreSQL testing.
// It uses testcontainers to create a fresh pgvector instance for each test
// unless POSTGRES_TEST_DSN points at an existing database.
func GetPostgresDSN(t *testing.T) string {
	if dsn := os.Getenv("POSTGRES_TEST_DSN"); dsn != "" {
		return dsn
	}

	pgContainer, err := postgres.Run(t.Context(),
		pgvectorImage,
		postgres.WithDatabase("storyreel_test"),
		postgres.WithUsername(testUser),
		postgres.WithPassword(testPassword),
		postgres.BasicWaitStrategies(),
	)
	if err != nil {
		t.Fatalf("failed to start postgres container: %v", err)
	}

	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(pgContainer); err != nil {
			t.Logf("failed to terminate postgres container: %v", err)
		}
	})

	connStr, err := pgContainer.ConnectionString(t.Context(), "sslmode=disable")
	if err != nil {
		t.Fatalf("failed to get connection string: %v", err)
	}
	return connStr
}
