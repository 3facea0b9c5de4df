package permission

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/matiastonello92/pecora/internal/audit"
	"github.com/matiastonello92/pecora/internal/auth"
)

// MiddlewareOption configures RequirePermission.
type MiddlewareOption func(*middlewareConfig)

type middlewareConfig struct {
	audit audit.Logger
}

// WithAuditLogger records denied requests.
func WithAuditLogger(logger audit.Logger) MiddlewareOption {
	return func(c *middlewareConfig) {
		c.audit = logger
	}
}

// RequirePermission returns middleware that lets a request through only when
// the authenticated user holds code in the organization named by the
// {orgID} path value. An optional locationId query parameter narrows the
// scope.
func RequirePermission(checker Checker, code string, opts ...MiddlewareOption) func(http.Handler) http.Handler {
	var mc middlewareConfig
	for _, opt := range opts {
		opt(&mc)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity := auth.GetIdentity(r.Context())
			if identity == nil {
				writeJSON(w, http.StatusUnauthorized, map[string]string{
					"error": "authentication required",
				})
				return
			}

			orgID, err := uuid.Parse(r.PathValue("orgID"))
			if err != nil {
				writeJSON(w, http.StatusBadRequest, map[string]string{
					"error": "invalid org id",
				})
				return
			}

			scope, _ := scopeFromStrings(orgID.String(), r.URL.Query().Get("locationId"))
			if !checker.Check(r.Context(), identity.UserID, code, scope) {
				if mc.audit != nil {
					mc.audit.Log(r.Context(), audit.Event{
						OrgID:   orgID,
						ActorID: audit.ActorIDFromContext(r.Context()),
						Action:  audit.ActionAccessDenied,
						Entity:  "permission",
						Diff: map[string]any{
							"permission": code,
							"method":     r.Method,
							"path":       r.URL.Path,
						},
					})
				}
				writeJSON(w, http.StatusForbidden, map[string]string{
					"error":      "forbidden",
					"permission": code,
				})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
