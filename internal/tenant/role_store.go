package tenant

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/matiastonello92/pecora/internal/permission"
	"github.com/matiastonello92/pecora/internal/platform/database"
)

// RoleStore handles role database operations within an organization. Every
// query runs under the organization's RLS context.
type RoleStore struct{}

// NewRoleStore creates a new role store.
func NewRoleStore() *RoleStore {
	return &RoleStore{}
}

const roleSelect = `SELECT r.id, r.org_id, r.code, r.name, r.created_at,
		COALESCE(array_agg(p.code ORDER BY p.code) FILTER (WHERE p.code IS NOT NULL), '{}')
	 FROM roles r
	 LEFT JOIN role_permissions rp ON rp.role_id = r.id
	 LEFT JOIN permissions p ON p.id = rp.permission_id`

func scanRole(row pgx.Row) (*Role, error) {
	var role Role
	if err := row.Scan(&role.ID, &role.OrgID, &role.Code, &role.Name, &role.CreatedAt, &role.Permissions); err != nil {
		return nil, err
	}
	return &role, nil
}

// List returns the organization's roles ordered by code.
func (s *RoleStore) List(ctx context.Context, q database.Querier) ([]Role, error) {
	rows, err := q.Query(ctx, roleSelect+` GROUP BY r.id ORDER BY r.code`)
	if err != nil {
		return nil, fmt.Errorf("listing roles: %w", err)
	}
	defer rows.Close()

	var roles []Role
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning role: %w", err)
		}
		roles = append(roles, *role)
	}
	return roles, rows.Err()
}

// GetByID retrieves a role by ID. Roles of other organizations are not found.
func (s *RoleStore) GetByID(ctx context.Context, q database.Querier, id string) (*Role, error) {
	role, err := scanRole(q.QueryRow(ctx, roleSelect+` WHERE r.id = $1 GROUP BY r.id`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRoleNotFound
		}
		return nil, fmt.Errorf("getting role: %w", err)
	}
	return role, nil
}

// ReplacePermissions sets the role's permissions to exactly codes, which
// must be canonical and deduplicated. An unknown code fails the call with
// permission.ErrUnknownPermission; run it inside a transaction so the
// previous permissions survive that failure.
func (s *RoleStore) ReplacePermissions(ctx context.Context, q database.Querier, roleID string, codes []string) (*Role, error) {
	var id string
	err := q.QueryRow(ctx, `SELECT id FROM roles WHERE id = $1 FOR UPDATE`, roleID).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRoleNotFound
		}
		return nil, fmt.Errorf("locking role: %w", err)
	}

	if _, err := q.Exec(ctx, `DELETE FROM role_permissions WHERE role_id = $1`, roleID); err != nil {
		return nil, fmt.Errorf("clearing role permissions: %w", err)
	}

	if len(codes) > 0 {
		tag, err := q.Exec(ctx,
			`INSERT INTO role_permissions (role_id, permission_id)
			 SELECT $1::uuid, id FROM permissions WHERE code = ANY($2::text[])`,
			roleID, codes,
		)
		if err != nil {
			return nil, fmt.Errorf("inserting role permissions: %w", err)
		}
		if tag.RowsAffected() != int64(len(codes)) {
			return nil, fmt.Errorf("%w: not in the permission catalog", permission.ErrUnknownPermission)
		}
	}

	return s.GetByID(ctx, q, roleID)
}
