package tenant

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/matiastonello92/pecora/internal/audit"
	"github.com/matiastonello92/pecora/internal/platform/database"
)

// RoleHandler handles role HTTP endpoints within an organization.
type RoleHandler struct {
	pool        *database.Pool
	store       *RoleStore
	invalidator Invalidator
	auditLog    audit.Logger
}

// NewRoleHandler creates a new role handler.
func NewRoleHandler(pool *database.Pool, store *RoleStore, invalidator Invalidator, auditLog audit.Logger) *RoleHandler {
	return &RoleHandler{pool: pool, store: store, invalidator: invalidator, auditLog: auditLog}
}

// HandleList returns the organization's roles with their permissions.
// GET /api/v1/orgs/{orgID}/roles
func (h *RoleHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	ids, ok := pathIDs(w, r, "orgID")
	if !ok {
		return
	}

	var roles []Role
	err := database.WithOrgConnection(r.Context(), h.pool, ids["orgID"].String(), func(ctx context.Context, q database.Querier) error {
		var listErr error
		roles, listErr = h.store.List(ctx, q)
		return listErr
	})
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "listing roles failed"})
		return
	}

	if roles == nil {
		roles = []Role{}
	}

	writeJSON(w, http.StatusOK, roles)
}

// HandleReplacePermissions replaces the permissions a role grants. Every
// holder of the role is affected, so the organization's cached permissions
// are dropped.
// PUT /api/v1/orgs/{orgID}/roles/{roleID}/permissions
func (h *RoleHandler) HandleReplacePermissions(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBody)

	ids, ok := pathIDs(w, r, "orgID", "roleID")
	if !ok {
		return
	}
	orgID, roleID := ids["orgID"], ids["roleID"]

	var req struct {
		Permissions []string `json:"permissions"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	codes, err := canonicalCodes(req.Permissions)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	var before, after *Role
	err = database.WithOrgTx(r.Context(), h.pool, orgID.String(), func(ctx context.Context, q database.Querier) error {
		var txErr error
		if before, txErr = h.store.GetByID(ctx, q, roleID.String()); txErr != nil {
			return txErr
		}
		after, txErr = h.store.ReplacePermissions(ctx, q, roleID.String(), codes)
		return txErr
	})
	if err != nil {
		if _, known := errorStatus(err); !known {
			slog.ErrorContext(r.Context(), "replacing role permissions", "role_id", roleID, "error", err)
		}
		writeStoreError(w, err, "updating role permissions failed")
		return
	}

	if h.invalidator != nil {
		h.invalidator.InvalidateOrg(r.Context(), orgID.String())
	}
	logAudit(h.auditLog, r, orgID, audit.ActionRolePermissionsReplaced, "role", &roleID, map[string]any{
		"before": before.Permissions,
		"after":  after.Permissions,
	})

	writeJSON(w, http.StatusOK, after)
}
