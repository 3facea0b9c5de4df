package permission

import (
	"context"
	"fmt"

	"github.com/matiastonello92/pecora/internal/platform/database"
)

// PGStore reads role grants and overrides from PostgreSQL. Every query runs
// on an org-scoped connection so row-level security applies.
//
// Resolution is location-blind: user_roles.location_id is stored but not
// filtered on, so a role assigned at one location applies organization-wide.
// Filtering by scope.LocationID here is the extension point for
// location-specific grants; Cache keys already carry the location.
type PGStore struct {
	pool *database.Pool
}

func NewPGStore(pool *database.Pool) *PGStore {
	return &PGStore{pool: pool}
}

// RoleGrants returns each role the user holds in the organization with its
// permission codes. A role without permissions is returned with none.
func (s *PGStore) RoleGrants(ctx context.Context, userID string, scope Scope) ([]RoleGrant, error) {
	var grants []RoleGrant
	err := database.WithOrgConnection(ctx, s.pool, scope.OrgID, func(ctx context.Context, q database.Querier) error {
		rows, err := q.Query(ctx,
			`SELECT r.id, r.code, p.code
			 FROM user_roles ur
			 JOIN roles r ON r.id = ur.role_id
			 LEFT JOIN role_permissions rp ON rp.role_id = r.id
			 LEFT JOIN permissions p ON p.id = rp.permission_id
			 WHERE ur.user_id = $1 AND ur.org_id = $2
			 ORDER BY r.id`,
			userID, scope.OrgID,
		)
		if err != nil {
			return fmt.Errorf("querying role grants: %w", err)
		}
		defer rows.Close()

		byRole := make(map[string]int)
		for rows.Next() {
			var (
				roleID, roleCode string
				code             *string
			)
			if err := rows.Scan(&roleID, &roleCode, &code); err != nil {
				return fmt.Errorf("scanning role grant: %w", err)
			}
			i, ok := byRole[roleID]
			if !ok {
				i = len(grants)
				byRole[roleID] = i
				grants = append(grants, RoleGrant{RoleID: roleID, RoleCode: roleCode})
			}
			if code != nil {
				grants[i].Permissions = append(grants[i].Permissions, *code)
			}
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return grants, nil
}

// Overrides returns the user's allow and deny overrides in the organization.
func (s *PGStore) Overrides(ctx context.Context, userID string, scope Scope) ([]Override, error) {
	var overrides []Override
	err := database.WithOrgConnection(ctx, s.pool, scope.OrgID, func(ctx context.Context, q database.Querier) error {
		rows, err := q.Query(ctx,
			`SELECT p.code, o.allow
			 FROM user_permission_overrides o
			 JOIN permissions p ON p.id = o.permission_id
			 WHERE o.user_id = $1 AND o.org_id = $2`,
			userID, scope.OrgID,
		)
		if err != nil {
			return fmt.Errorf("querying overrides: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			var o Override
			if err := rows.Scan(&o.Code, &o.Allow); err != nil {
				return fmt.Errorf("scanning override: %w", err)
			}
			overrides = append(overrides, o)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return overrides, nil
}
