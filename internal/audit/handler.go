package audit

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/matiastonello92/pecora/internal/platform/database"
)

// Handler serves the audit trail of an organization.
type Handler struct {
	pool  *database.Pool
	store *Store
}

func NewHandler(pool *database.Pool, store *Store) *Handler {
	return &Handler{pool: pool, store: store}
}

// HandleList returns audit entries of the organization in the path.
// GET /api/v1/orgs/{orgID}/audit?limit=50&after=<RFC3339>&action=<action>
func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	orgID, err := uuid.Parse(r.PathValue("orgID"))
	if err != nil {
		writeAuditJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid org id"})
		return
	}

	params := ListParams{OrgID: orgID, Limit: 50}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 200 {
			params.Limit = n
		}
	}
	if raw := r.URL.Query().Get("after"); raw != "" {
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			params.After = &t
		}
	}
	if raw := r.URL.Query().Get("action"); raw != "" {
		params.Action = &raw
	}

	var entries []Entry
	err = database.WithOrgConnection(r.Context(), h.pool, orgID.String(), func(ctx context.Context, q database.Querier) error {
		var err error
		entries, err = h.store.List(ctx, q, params)
		return err
	})
	if err != nil {
		writeAuditJSON(w, http.StatusInternalServerError, map[string]string{"error": "query failed"})
		return
	}

	writeAuditJSON(w, http.StatusOK, map[string]any{"entries": entries, "count": len(entries)})
}

func writeAuditJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
