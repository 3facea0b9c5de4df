package tenant

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/matiastonello92/pecora/internal/audit"
	"github.com/matiastonello92/pecora/internal/permission"
)

const maxBody = 16 << 10

// errorStatus maps store and validation errors to HTTP status codes.
func errorStatus(err error) (int, bool) {
	switch {
	case errors.Is(err, ErrRoleNotFound),
		errors.Is(err, ErrUserNotFound),
		errors.Is(err, ErrLocationNotFound),
		errors.Is(err, ErrAssignmentNotFound),
		errors.Is(err, ErrOverrideNotFound):
		return http.StatusNotFound, true
	case errors.Is(err, permission.ErrInvalidCode),
		errors.Is(err, permission.ErrUnknownPermission):
		return http.StatusBadRequest, true
	}
	return 0, false
}

func writeStoreError(w http.ResponseWriter, err error, fallback string) {
	if status, ok := errorStatus(err); ok {
		writeJSON(w, status, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusInternalServerError, map[string]string{"error": fallback})
}

// pathIDs parses the named path values as UUIDs and writes 400 on the first
// one that is not.
func pathIDs(w http.ResponseWriter, r *http.Request, names ...string) (map[string]uuid.UUID, bool) {
	ids := make(map[string]uuid.UUID, len(names))
	for _, name := range names {
		id, err := uuid.Parse(r.PathValue(name))
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid " + name})
			return nil, false
		}
		ids[name] = id
	}
	return ids, true
}

// canonicalCodes normalizes codes, checks them against the catalog and
// returns them sorted without duplicates.
func canonicalCodes(raw []string) ([]string, error) {
	set := permission.NewSet()
	for _, c := range raw {
		code, err := permission.ParseCode(c)
		if err != nil {
			return nil, err
		}
		if !permission.IsKnown(code) {
			return nil, fmt.Errorf("%w: %s", permission.ErrUnknownPermission, code)
		}
		set.Add(code)
	}
	return set.Codes(), nil
}

func logAudit(logger audit.Logger, r *http.Request, orgID uuid.UUID, action, entity string, entityID *uuid.UUID, diff map[string]any) {
	if logger == nil {
		return
	}
	logger.Log(r.Context(), audit.Event{
		OrgID:    orgID,
		ActorID:  audit.ActorIDFromContext(r.Context()),
		Action:   action,
		Entity:   entity,
		EntityID: entityID,
		Diff:     diff,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
