package tenant

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/matiastonello92/pecora/internal/audit"
	"github.com/matiastonello92/pecora/internal/permission"
	"github.com/matiastonello92/pecora/internal/platform/database"
)

// AssignmentHandler serves a user's role assignments.
type AssignmentHandler struct {
	pool        *database.Pool
	store       *AssignmentStore
	invalidator Invalidator
	auditLog    audit.Logger
}

func NewAssignmentHandler(pool *database.Pool, store *AssignmentStore, invalidator Invalidator, auditLog audit.Logger) *AssignmentHandler {
	return &AssignmentHandler{pool: pool, store: store, invalidator: invalidator, auditLog: auditLog}
}

// HandleList returns the user's roles in the organization.
// GET /api/v1/orgs/{orgID}/users/{userID}/roles
func (h *AssignmentHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	ids, ok := pathIDs(w, r, "orgID", "userID")
	if !ok {
		return
	}

	var roles []UserRole
	err := database.WithOrgConnection(r.Context(), h.pool, ids["orgID"].String(), func(ctx context.Context, q database.Querier) error {
		var listErr error
		roles, listErr = h.store.ListForUser(ctx, q, ids["userID"].String())
		return listErr
	})
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "listing user roles failed"})
		return
	}

	if roles == nil {
		roles = []UserRole{}
	}

	writeJSON(w, http.StatusOK, roles)
}

// HandleAssign assigns a role to the user.
// POST /api/v1/orgs/{orgID}/users/{userID}/roles
// {"role_id": "...", "location_id": "..."}
func (h *AssignmentHandler) HandleAssign(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBody)

	ids, ok := pathIDs(w, r, "orgID", "userID")
	if !ok {
		return
	}
	orgID, userID := ids["orgID"], ids["userID"]

	var req struct {
		RoleID     string  `json:"role_id"`
		LocationID *string `json:"location_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	roleID, err := uuid.Parse(req.RoleID)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid role_id"})
		return
	}
	if req.LocationID != nil {
		if _, err := uuid.Parse(*req.LocationID); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid location_id"})
			return
		}
	}

	var assigned *UserRole
	err = database.WithOrgTx(r.Context(), h.pool, orgID.String(), func(ctx context.Context, q database.Querier) error {
		var txErr error
		assigned, txErr = h.store.Assign(ctx, q, userID.String(), roleID.String(), req.LocationID)
		return txErr
	})
	if err != nil {
		if _, known := errorStatus(err); !known {
			slog.ErrorContext(r.Context(), "assigning role", "user_id", userID, "role_id", roleID, "error", err)
		}
		writeStoreError(w, err, "role assignment failed")
		return
	}

	h.invalidate(r, orgID, userID)
	logAudit(h.auditLog, r, orgID, audit.ActionUserRoleAssigned, "user_role", &userID, map[string]any{
		"role_id":     roleID.String(),
		"location_id": req.LocationID,
	})

	writeJSON(w, http.StatusCreated, assigned)
}

// HandleRevoke removes a role from the user.
// DELETE /api/v1/orgs/{orgID}/users/{userID}/roles/{roleID}
func (h *AssignmentHandler) HandleRevoke(w http.ResponseWriter, r *http.Request) {
	ids, ok := pathIDs(w, r, "orgID", "userID", "roleID")
	if !ok {
		return
	}
	orgID, userID, roleID := ids["orgID"], ids["userID"], ids["roleID"]

	err := database.WithOrgConnection(r.Context(), h.pool, orgID.String(), func(ctx context.Context, q database.Querier) error {
		return h.store.Revoke(ctx, q, userID.String(), roleID.String())
	})
	if err != nil {
		writeStoreError(w, err, "role revocation failed")
		return
	}

	h.invalidate(r, orgID, userID)
	logAudit(h.auditLog, r, orgID, audit.ActionUserRoleRevoked, "user_role", &userID, map[string]any{
		"role_id": roleID.String(),
	})

	w.WriteHeader(http.StatusNoContent)
}

func (h *AssignmentHandler) invalidate(r *http.Request, orgID, userID uuid.UUID) {
	if h.invalidator == nil {
		return
	}
	h.invalidator.Invalidate(r.Context(), userID.String(), permission.Scope{OrgID: orgID.String()})
}
