// Package tenant implements the administrative write side of an
// organization's access model: role permissions, role assignments and
// per-user overrides. Every mutation invalidates the affected cached
// permissions before the response is written.
package tenant

import (
	"context"
	"errors"
	"time"

	"github.com/matiastonello92/pecora/internal/permission"
)

var (
	ErrRoleNotFound       = errors.New("role not found")
	ErrUserNotFound       = errors.New("user not found")
	ErrLocationNotFound   = errors.New("location not found")
	ErrAssignmentNotFound = errors.New("role assignment not found")
	ErrOverrideNotFound   = errors.New("override not found")
)

// Invalidator drops cached effective permissions. *permission.Cache
// implements it.
type Invalidator interface {
	Invalidate(ctx context.Context, userID string, scope permission.Scope)
	InvalidateOrg(ctx context.Context, orgID string)
}

// Role is an organization role with the permission codes it grants.
type Role struct {
	ID          string    `json:"id"`
	OrgID       string    `json:"org_id"`
	Code        string    `json:"code"`
	Name        string    `json:"name"`
	Permissions []string  `json:"permissions"`
	CreatedAt   time.Time `json:"created_at"`
}

// UserRole is a role assigned to a user, optionally at one location.
type UserRole struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id"`
	RoleID     string    `json:"role_id"`
	RoleCode   string    `json:"role_code"`
	RoleName   string    `json:"role_name"`
	LocationID *string   `json:"location_id"`
	CreatedAt  time.Time `json:"created_at"`
}

// Override explicitly allows or denies one permission for a user.
type Override struct {
	Code      string    `json:"code"`
	Allow     bool      `json:"allow"`
	CreatedAt time.Time `json:"created_at"`
}
