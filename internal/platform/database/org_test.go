package database_test

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/matiastonello92/pecora/internal/platform/database"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithOrgConnection_SetsAndResetsVariable(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	connStr, cleanup := setupPostgres(t)
	defer cleanup()

	ctx := context.Background()
	// One connection so the second call reuses the first one's session.
	pool, err := database.Connect(ctx, connStr, 1)
	require.NoError(t, err)
	defer pool.Close()

	err = database.WithOrgConnection(ctx, pool, "org-123", func(ctx context.Context, q database.Querier) error {
		var orgID string
		if err := q.QueryRow(ctx, "SELECT current_setting('app.current_org_id')").Scan(&orgID); err != nil {
			return err
		}
		assert.Equal(t, "org-123", orgID)
		return nil
	})
	require.NoError(t, err)

	var leaked string
	err = pool.QueryRow(ctx, "SELECT current_setting('app.current_org_id', true)").Scan(&leaked)
	require.NoError(t, err)
	assert.Empty(t, leaked)
}

func TestWithOrgTx_RollsBackOnError(t *testing.T) {
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

	errBoom := errors.New("boom")
	err = database.WithOrgTx(ctx, pool, "", func(ctx context.Context, q database.Querier) error {
		if _, err := q.Exec(ctx, "INSERT INTO orgs (name) VALUES ('rolled back')"); err != nil {
			return err
		}
		return errBoom
	})
	require.ErrorIs(t, err, errBoom)

	var count int
	require.NoError(t, pool.QueryRow(ctx, "SELECT COUNT(*) FROM orgs").Scan(&count))
	assert.Zero(t, count)
}

// Verify the Querier interface is satisfied by pgx types.
var (
	_ database.Querier = (*pgx.Conn)(nil)
	_ database.Querier = (pgx.Tx)(nil)
)
