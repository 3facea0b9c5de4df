package permission

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/matiastonello92/pecora/internal/auth"
)

const (
	maxCheckBody  = 64 << 10
	maxCheckCodes = 256
)

// Handler serves the effective permissions of the authenticated user.
type Handler struct {
	checker Checker
	logger  *slog.Logger
}

func NewHandler(checker Checker, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{checker: checker, logger: logger}
}

type listResponse struct {
	Permissions []string `json:"permissions"`
}

// HandleList returns the caller's effective permission codes.
// GET /api/v1/me/permissions?orgId=<uuid>&locationId=<uuid>
//
// Unauthenticated callers get 401 with an empty body. A missing or malformed
// orgId yields an empty list without touching the store, and so does any
// failure to resolve.
func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	identity := auth.GetIdentity(r.Context())
	if identity == nil {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	scope, ok := scopeFromStrings(r.URL.Query().Get("orgId"), r.URL.Query().Get("locationId"))
	if !ok {
		writeJSON(w, http.StatusOK, listResponse{Permissions: []string{}})
		return
	}

	eff := h.checker.Permissions(r.Context(), identity.UserID, scope)
	writeJSON(w, http.StatusOK, listResponse{Permissions: eff.Codes()})
}

type catalogResponse struct {
	Modules     []string `json:"modules"`
	Permissions []string `json:"permissions"`
}

// HandleCatalog lists every assignable permission code.
// GET /api/v1/permissions/catalog
func (h *Handler) HandleCatalog(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, catalogResponse{Modules: Modules(), Permissions: Catalog()})
}

type checkRequest struct {
	OrgID      string   `json:"orgId"`
	LocationID string   `json:"locationId"`
	Codes      []string `json:"codes"`
}

type checkResponse struct {
	Results map[string]bool `json:"results"`
}

// HandleCheck answers a batch of permission checks for the caller. Codes may
// use either separator; results are keyed by the code as sent.
// POST /api/v1/me/permissions/check
func (h *Handler) HandleCheck(w http.ResponseWriter, r *http.Request) {
	identity := auth.GetIdentity(r.Context())
	if identity == nil {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	var req checkRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxCheckBody)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if len(req.Codes) > maxCheckCodes {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "too many codes"})
		return
	}

	canonical := make([]string, 0, len(req.Codes))
	for _, raw := range req.Codes {
		code, err := ParseCode(raw)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
		canonical = append(canonical, code)
	}

	results := make(map[string]bool, len(req.Codes))
	scope, ok := scopeFromStrings(req.OrgID, req.LocationID)
	if !ok {
		for _, raw := range req.Codes {
			results[raw] = false
		}
		writeJSON(w, http.StatusOK, checkResponse{Results: results})
		return
	}

	checked, err := h.checker.CheckMany(r.Context(), identity.UserID, canonical, scope)
	if err != nil {
		if errors.Is(err, ErrInvalidCode) {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
		h.logger.ErrorContext(r.Context(), "checking permissions", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "permission check failed"})
		return
	}
	for i, raw := range req.Codes {
		results[raw] = checked[canonical[i]]
	}
	writeJSON(w, http.StatusOK, checkResponse{Results: results})
}

// scopeFromStrings builds a scope from request parameters. A missing or
// malformed organization id reports false. A malformed location id is
// dropped, leaving an organization-wide scope.
// Ids are canonicalized so cache keys match the ones invalidations use.
func scopeFromStrings(orgID, locationID string) (Scope, bool) {
	org, err := uuid.Parse(orgID)
	if err != nil {
		return Scope{}, false
	}
	scope := Scope{OrgID: org.String()}
	if loc, err := uuid.Parse(locationID); err == nil {
		scope.LocationID = loc.String()
	}
	return scope, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
