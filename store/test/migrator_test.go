package test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrateIsIdempotent(t *testing.T) {
	ctx := context.Background()
	ts := NewTestingStore(ctx, t)

	target, err := ts.GetCurrentSchemaVersion()
	require.NoError(t, err)

	require.NoError(t, ts.Migrate(ctx))

	if ts.GetDriver().GetDB() == nil {
		t.Skip("driver has no schema")
	}
	current, err := ts.GetDriver().GetSchemaVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, target, current)
}

func TestMigrateRefusesDowngrade(t *testing.T) {
	ctx := context.Background()
	ts := NewTestingStore(ctx, t)
	if ts.GetDriver().GetDB() == nil {
		t.Skip("driver has no schema")
	}

	require.NoError(t, ts.GetDriver().SetSchemaVersion(ctx, "99.0.0"))
	err := ts.Migrate(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot downgrade")
}
