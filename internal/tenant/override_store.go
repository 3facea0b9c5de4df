package tenant

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/matiastonello92/pecora/internal/permission"
	"github.com/matiastonello92/pecora/internal/platform/database"
)

// OverrideStore manages per-user permission overrides within an
// organization.
type OverrideStore struct{}

func NewOverrideStore() *OverrideStore {
	return &OverrideStore{}
}

// ListForUser returns the user's overrides ordered by code.
func (s *OverrideStore) ListForUser(ctx context.Context, q database.Querier, userID string) ([]Override, error) {
	rows, err := q.Query(ctx,
		`SELECT p.code, o.allow, o.created_at
		 FROM user_permission_overrides o
		 JOIN permissions p ON p.id = o.permission_id
		 WHERE o.user_id = $1
		 ORDER BY p.code`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing overrides: %w", err)
	}
	defer rows.Close()

	var out []Override
	for rows.Next() {
		var o Override
		if err := rows.Scan(&o.Code, &o.Allow, &o.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning override: %w", err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// Set creates or replaces the user's override for code. The organization is
// read from the RLS session variable.
func (s *OverrideStore) Set(ctx context.Context, q database.Querier, userID, code string, allow bool) (*Override, error) {
	o := Override{Code: code, Allow: allow}
	err := q.QueryRow(ctx,
		`INSERT INTO user_permission_overrides (user_id, org_id, permission_id, allow)
		 SELECT $1::uuid, NULLIF(current_setting('app.current_org_id', true), '')::uuid, p.id, $3::boolean
		 FROM permissions p WHERE p.code = $2
		 ON CONFLICT (user_id, org_id, permission_id) DO UPDATE SET allow = EXCLUDED.allow
		 RETURNING created_at`,
		userID, code, allow,
	).Scan(&o.CreatedAt)
	if err != nil {
		switch {
		case errors.Is(err, pgx.ErrNoRows):
			return nil, fmt.Errorf("%w: %s", permission.ErrUnknownPermission, code)
		case isForeignKeyViolation(err, "user_permission_overrides_user_id_fkey"):
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("setting override: %w", err)
	}
	return &o, nil
}

// Remove deletes the user's override for code.
func (s *OverrideStore) Remove(ctx context.Context, q database.Querier, userID, code string) error {
	tag, err := q.Exec(ctx,
		`DELETE FROM user_permission_overrides o
		 USING permissions p
		 WHERE o.permission_id = p.id AND o.user_id = $1 AND p.code = $2`,
		userID, code,
	)
	if err != nil {
		return fmt.Errorf("removing override: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrOverrideNotFound
	}
	return nil
}
