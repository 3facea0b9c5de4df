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

// OverrideHandler serves a user's permission overrides.
type OverrideHandler struct {
	pool        *database.Pool
	store       *OverrideStore
	invalidator Invalidator
	auditLog    audit.Logger
}

func NewOverrideHandler(pool *database.Pool, store *OverrideStore, invalidator Invalidator, auditLog audit.Logger) *OverrideHandler {
	return &OverrideHandler{pool: pool, store: store, invalidator: invalidator, auditLog: auditLog}
}

// HandleList returns the user's overrides in the organization.
// GET /api/v1/orgs/{orgID}/users/{userID}/overrides
func (h *OverrideHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	ids, ok := pathIDs(w, r, "orgID", "userID")
	if !ok {
		return
	}

	var overrides []Override
	err := database.WithOrgConnection(r.Context(), h.pool, ids["orgID"].String(), func(ctx context.Context, q database.Querier) error {
		var listErr error
		overrides, listErr = h.store.ListForUser(ctx, q, ids["userID"].String())
		return listErr
	})
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "listing overrides failed"})
		return
	}

	if overrides == nil {
		overrides = []Override{}
	}

	writeJSON(w, http.StatusOK, overrides)
}

// HandleSet creates or replaces one override.
// PUT /api/v1/orgs/{orgID}/users/{userID}/overrides
// {"code": "orders:approve", "allow": false}
func (h *OverrideHandler) HandleSet(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBody)

	ids, ok := pathIDs(w, r, "orgID", "userID")
	if !ok {
		return
	}
	orgID, userID := ids["orgID"], ids["userID"]

	var req struct {
		Code  string `json:"code"`
		Allow *bool  `json:"allow"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Allow == nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	codes, err := canonicalCodes([]string{req.Code})
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	code := codes[0]

	var set *Override
	err = database.WithOrgConnection(r.Context(), h.pool, orgID.String(), func(ctx context.Context, q database.Querier) error {
		var setErr error
		set, setErr = h.store.Set(ctx, q, userID.String(), code, *req.Allow)
		return setErr
	})
	if err != nil {
		if _, known := errorStatus(err); !known {
			slog.ErrorContext(r.Context(), "setting override", "user_id", userID, "code", code, "error", err)
		}
		writeStoreError(w, err, "setting override failed")
		return
	}

	h.invalidate(r, orgID, userID)
	logAudit(h.auditLog, r, orgID, audit.ActionOverrideSet, "override", &userID, map[string]any{
		"code":  code,
		"allow": *req.Allow,
	})

	writeJSON(w, http.StatusOK, set)
}

// HandleRemove deletes the user's override for the {code} path value.
// DELETE /api/v1/orgs/{orgID}/users/{userID}/overrides/{code}
func (h *OverrideHandler) HandleRemove(w http.ResponseWriter, r *http.Request) {
	ids, ok := pathIDs(w, r, "orgID", "userID")
	if !ok {
		return
	}
	orgID, userID := ids["orgID"], ids["userID"]

	code, err := permission.ParseCode(r.PathValue("code"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	err = database.WithOrgConnection(r.Context(), h.pool, orgID.String(), func(ctx context.Context, q database.Querier) error {
		return h.store.Remove(ctx, q, userID.String(), code)
	})
	if err != nil {
		writeStoreError(w, err, "removing override failed")
		return
	}

	h.invalidate(r, orgID, userID)
	logAudit(h.auditLog, r, orgID, audit.ActionOverrideRemoved, "override", &userID, map[string]any{
		"code": code,
	})

	w.WriteHeader(http.StatusNoContent)
}

func (h *OverrideHandler) invalidate(r *http.Request, orgID, userID uuid.UUID) {
	if h.invalidator == nil {
		return
	}
	h.invalidator.Invalidate(r.Context(), userID.String(), permission.Scope{OrgID: orgID.String()})
}
