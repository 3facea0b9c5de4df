// Package audit records changes to roles, assignments and overrides, and
// denied permission checks, in the audit_log table.
package audit

import (
	"context"

	"github.com/google/uuid"
	"github.com/matiastonello92/pecora/internal/auth"
)

// Event represents a single auditable action.
type Event struct {
	OrgID    uuid.UUID
	ActorID  *uuid.UUID // nil for system events
	Action   string
	Entity   string // e.g. "role", "user_role", "override"
	EntityID *uuid.UUID
	Diff     map[string]any
}

const (
	ActionRolePermissionsReplaced = "role.permissions_replaced"
	ActionUserRoleAssigned        = "user_role.assigned"
	ActionUserRoleRevoked         = "user_role.revoked"
	ActionOverrideSet             = "override.set"
	ActionOverrideRemoved         = "override.removed"
	ActionAccessDenied            = "access.denied"
)

// Logger is the audit logging interface. Log is fire-and-forget.
type Logger interface {
	Log(ctx context.Context, event Event)
	Close() error
}

// NopLogger is a no-op audit logger for testing and when audit is disabled.
type NopLogger struct{}

func (NopLogger) Log(context.Context, Event) {}
func (NopLogger) Close() error               { return nil }

// ActorIDFromContext extracts the authenticated user's UUID from the
// request context, returning nil if no identity is present or the
// user ID is not a valid UUID.
func ActorIDFromContext(ctx context.Context) *uuid.UUID {
	identity := auth.GetIdentity(ctx)
	if identity == nil {
		return nil
	}
	uid, err := uuid.Parse(identity.UserID)
	if err != nil {
		return nil
	}
	return &uid
}

// ParseID returns a pointer to the parsed UUID, or nil when s is not one.
func ParseID(s string) *uuid.UUID {
	id, err := uuid.Parse(s)
	if err != nil {
		return nil
	}
	return &id
}
