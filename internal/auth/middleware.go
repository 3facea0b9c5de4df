package auth

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// Middleware returns HTTP middleware that rejects requests without a valid
// access token.
func Middleware(tokenSvc *TokenService) func(http.Handler) http.Handler {
	return MiddlewareWithDevMode(tokenSvc, nil)
}

// MiddlewareWithDevMode is Middleware that also accepts "Bearer dev" as
// devIdentity. A nil devIdentity disables the shortcut.
func MiddlewareWithDevMode(tokenSvc *TokenService, devIdentity *Identity) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, err := authenticate(r, tokenSvc, devIdentity)
			if err != nil {
				writeAuthError(w, http.StatusUnauthorized, err.Error())
				return
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), identity)))
		})
	}
}

// Optional attaches the identity of a valid access token and otherwise
// passes the request through unauthenticated. Handlers decide how to answer
// anonymous callers.
func Optional(tokenSvc *TokenService, devIdentity *Identity) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if identity, err := authenticate(r, tokenSvc, devIdentity); err == nil {
				r = r.WithContext(WithIdentity(r.Context(), identity))
			}
			next.ServeHTTP(w, r)
		})
	}
}

func authenticate(r *http.Request, tokenSvc *TokenService, devIdentity *Identity) (*Identity, error) {
	token, err := extractBearerToken(r)
	if err != nil {
		return nil, err
	}

	if token == "dev" && devIdentity != nil {
		return devIdentity, nil
	}

	identity, err := tokenSvc.ValidateToken(r.Context(), token)
	if err != nil {
		return nil, fmt.Errorf("invalid token")
	}

	// Refresh tokens only work on the provider's refresh endpoint.
	if identity.TokenType != TokenTypeAccess {
		return nil, fmt.Errorf("access token required")
	}
	return identity, nil
}

func extractBearerToken(r *http.Request) (string, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", fmt.Errorf("missing authorization header")
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
		return "", fmt.Errorf("invalid authorization header format")
	}

	return parts[1], nil
}

func writeAuthError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
