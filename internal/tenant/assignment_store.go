package tenant

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/matiastonello92/pecora/internal/platform/database"
)

const pgForeignKeyViolation = "23503"

func isForeignKeyViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgForeignKeyViolation && pgErr.ConstraintName == constraint
}

// AssignmentStore manages user role assignments within an organization.
type AssignmentStore struct{}

func NewAssignmentStore() *AssignmentStore {
	return &AssignmentStore{}
}

const userRoleSelect = `SELECT ur.id, ur.user_id, ur.role_id, r.code, r.name, ur.location_id, ur.created_at
	 FROM user_roles ur
	 JOIN roles r ON r.id = ur.role_id`

func scanUserRole(row pgx.Row) (*UserRole, error) {
	var ur UserRole
	err := row.Scan(&ur.ID, &ur.UserID, &ur.RoleID, &ur.RoleCode, &ur.RoleName, &ur.LocationID, &ur.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &ur, nil
}

// ListForUser returns the user's role assignments ordered by role code.
func (s *AssignmentStore) ListForUser(ctx context.Context, q database.Querier, userID string) ([]UserRole, error) {
	rows, err := q.Query(ctx, userRoleSelect+` WHERE ur.user_id = $1 ORDER BY r.code`, userID)
	if err != nil {
		return nil, fmt.Errorf("listing user roles: %w", err)
	}
	defer rows.Close()

	var out []UserRole
	for rows.Next() {
		ur, err := scanUserRole(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning user role: %w", err)
		}
		out = append(out, *ur)
	}
	return out, rows.Err()
}

// Assign gives the user a role. Assigning a role the user already holds
// moves it to locationID.
func (s *AssignmentStore) Assign(ctx context.Context, q database.Querier, userID, roleID string, locationID *string) (*UserRole, error) {
	if locationID != nil {
		var exists bool
		err := q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM locations WHERE id = $1)`, *locationID).Scan(&exists)
		if err != nil {
			return nil, fmt.Errorf("checking location: %w", err)
		}
		if !exists {
			return nil, ErrLocationNotFound
		}
	}

	var id string
	err := q.QueryRow(ctx,
		`INSERT INTO user_roles (user_id, org_id, role_id, location_id)
		 SELECT $1::uuid, r.org_id, r.id, $3::uuid FROM roles r WHERE r.id = $2::uuid
		 ON CONFLICT (user_id, org_id, role_id) DO UPDATE SET location_id = EXCLUDED.location_id
		 RETURNING id`,
		userID, roleID, locationID,
	).Scan(&id)
	if err != nil {
		switch {
		case errors.Is(err, pgx.ErrNoRows):
			return nil, ErrRoleNotFound
		case isForeignKeyViolation(err, "user_roles_user_id_fkey"):
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("assigning role: %w", err)
	}

	ur, err := scanUserRole(q.QueryRow(ctx, userRoleSelect+` WHERE ur.id = $1`, id))
	if err != nil {
		return nil, fmt.Errorf("reading assignment: %w", err)
	}
	return ur, nil
}

// Revoke removes a role from the user.
func (s *AssignmentStore) Revoke(ctx context.Context, q database.Querier, userID, roleID string) error {
	tag, err := q.Exec(ctx,
		`DELETE FROM user_roles WHERE user_id = $1 AND role_id = $2`,
		userID, roleID,
	)
	if err != nil {
		return fmt.Errorf("revoking role: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAssignmentNotFound
	}
	return nil
}
