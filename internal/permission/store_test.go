package permission_test

import (
	"context"
	"testing"

	"github.com/matiastonello92/pecora/internal/permission"
	"github.com/matiastonello92/pecora/internal/platform/database"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

func setupTestDB(t *testing.T) (*database.Pool, func()) {
	t.Helper()
	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("pecora_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2),
		),
	)
	require.NoError(t, err)

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	require.NoError(t, database.Migrate(connStr))

	pool, err := database.Connect(ctx, connStr, 5)
	require.NoError(t, err)

	cleanup := func() {
		pool.Close()
		_ = container.Terminate(ctx)
	}
	return pool, cleanup
}

type seeder struct {
	t    *testing.T
	pool *database.Pool
}

func (s seeder) id(sql string, args ...any) string {
	s.t.Helper()
	var id string
	require.NoError(s.t, s.pool.QueryRow(context.Background(), sql, args...).Scan(&id))
	return id
}

func (s seeder) exec(sql string, args ...any) {
	s.t.Helper()
	_, err := s.pool.Exec(context.Background(), sql, args...)
	require.NoError(s.t, err)
}

func (s seeder) role(orgID, code string, perms ...string) string {
	s.t.Helper()
	roleID := s.id("INSERT INTO roles (org_id, code, name) VALUES ($1, $2, $2) RETURNING id", orgID, code)
	for _, p := range perms {
		s.exec(`INSERT INTO role_permissions (role_id, permission_id)
			SELECT $1::uuid, id FROM permissions WHERE code = $2`, roleID, p)
	}
	return roleID
}

func (s seeder) override(userID, orgID, code string, allow bool) {
	s.t.Helper()
	s.exec(`INSERT INTO user_permission_overrides (user_id, org_id, permission_id, allow)
		SELECT $1::uuid, $2::uuid, id, $4::boolean FROM permissions WHERE code = $3`, userID, orgID, code, allow)
}

func TestPGStore(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	pool, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()
	s := seeder{t: t, pool: pool}

	orgA := s.id("INSERT INTO orgs (name) VALUES ('Trattoria') RETURNING id")
	orgB := s.id("INSERT INTO orgs (name) VALUES ('Osteria') RETURNING id")
	locA := s.id("INSERT INTO locations (org_id, name) VALUES ($1, 'Centro') RETURNING id", orgA)
	user := s.id("INSERT INTO users (email) VALUES ('chef@example.test') RETURNING id")

	manager := s.role(orgA, "manager", "orders:*", "tasks:create")
	empty := s.role(orgA, "trainee")
	foreign := s.role(orgB, "owner", "*")

	s.exec("INSERT INTO user_roles (user_id, org_id, role_id, location_id) VALUES ($1, $2, $3, $4)", user, orgA, manager, locA)
	s.exec("INSERT INTO user_roles (user_id, org_id, role_id) VALUES ($1, $2, $3)", user, orgA, empty)
	s.exec("INSERT INTO user_roles (user_id, org_id, role_id) VALUES ($1, $2, $3)", user, orgB, foreign)
	s.override(user, orgA, "tasks:create", false)
	s.override(user, orgA, "flags:view", true)
	s.override(user, orgB, "users:manage", true)

	store := permission.NewPGStore(pool)
	scope := permission.Scope{OrgID: orgA}

	t.Run("role grants", func(t *testing.T) {
		grants, err := store.RoleGrants(ctx, user, scope)
		require.NoError(t, err)
		require.Len(t, grants, 2)

		byCode := map[string]permission.RoleGrant{}
		for _, g := range grants {
			byCode[g.RoleCode] = g
		}
		assert.ElementsMatch(t, []string{"orders:*", "tasks:create"}, byCode["manager"].Permissions)
		assert.Empty(t, byCode["trainee"].Permissions)
	})

	t.Run("overrides", func(t *testing.T) {
		overrides, err := store.Overrides(ctx, user, scope)
		require.NoError(t, err)
		assert.ElementsMatch(t, []permission.Override{
			{Code: "tasks:create", Allow: false},
			{Code: "flags:view", Allow: true},
		}, overrides)
	})

	t.Run("resolution is location-blind", func(t *testing.T) {
		r := permission.NewResolver(store)

		global, err := r.Resolve(ctx, user, scope)
		require.NoError(t, err)
		atLocation, err := r.Resolve(ctx, user, permission.Scope{OrgID: orgA, LocationID: locA})
		require.NoError(t, err)

		assert.Equal(t, []string{"flags:view", "orders:*"}, global.Codes())
		assert.Equal(t, global.Codes(), atLocation.Codes())
		assert.True(t, global.Allows("orders:approve"))
		assert.False(t, global.Allows("tasks:create"))
		assert.False(t, global.Allows("users:manage"))
	})

	t.Run("unknown user", func(t *testing.T) {
		grants, err := store.RoleGrants(ctx, "00000000-0000-0000-0000-000000000000", scope)
		require.NoError(t, err)
		assert.Empty(t, grants)
	})
}
