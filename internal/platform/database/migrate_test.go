package database_test

import (
	"context"
	"testing"

	"github.com/matiastonello92/pecora/internal/platform/database"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrate(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	connStr, cleanup := setupPostgres(t)
	defer cleanup()

	require.NoError(t, database.Migrate(connStr))
	// A second run is a no-op.
	require.NoError(t, database.Migrate(connStr))

	ctx := context.Background()
	pool, err := database.Connect(ctx, connStr, 5)
	require.NoError(t, err)
	defer pool.Close()

	for _, table := range []string{"orgs", "locations", "users", "permissions", "roles", "role_permissions", "user_roles", "user_permission_overrides"} {
		var name string
		err = pool.QueryRow(ctx,
			"SELECT table_name FROM information_schema.tables WHERE table_name = $1", table).
			Scan(&name)
		require.NoError(t, err, table)
	}

	var rlsEnabled bool
	err = pool.QueryRow(ctx,
		"SELECT relrowsecurity FROM pg_class WHERE relname = 'user_roles'").
		Scan(&rlsEnabled)
	require.NoError(t, err)
	assert.True(t, rlsEnabled)

	var seeded bool
	err = pool.QueryRow(ctx,
		"SELECT EXISTS (SELECT 1 FROM permissions WHERE code = 'inventory:view')").
		Scan(&seeded)
	require.NoError(t, err)
	assert.True(t, seeded)
}

func TestMigrate_RejectsMalformedCodes(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	connStr, cleanup := setupPostgres(t)
	defer cleanup()
	require.NoError(t, database.Migrate(connStr))

	ctx := context.Background()
	pool, err := database.Connect(ctx, connStr, 2)
	require.NoError(t, err)
	defer pool.Close()

	for _, code := range []string{"inventory", "inventory.view", "*:view", "Inventory:view"} {
		_, err := pool.Exec(ctx, "INSERT INTO permissions (code) VALUES ($1)", code)
		assert.Error(t, err, code)
	}
}
