// Package auth authenticates requests with bearer JWTs issued by the identity
// provider and carries the resulting Identity in the request context.
package auth

import (
	"context"
	"errors"
)

var (
	ErrTokenExpired = errors.New("token expired")
	ErrTokenInvalid = errors.New("token invalid")
	ErrUnauthorized = errors.New("unauthorized")
)

const (
	TokenTypeAccess  = "access"
	TokenTypeRefresh = "refresh"
)

// Identity represents an authenticated user's claims.
type Identity struct {
	UserID      string `json:"user_id"`
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
	TokenType   string `json:"token_type"`
}

type identityContextKey struct{}

// IdentityContextKey returns the context key used to store the identity.
// Exported so other packages can set identity in context for testing.
func IdentityContextKey() identityContextKey {
	return identityContextKey{}
}

// WithIdentity returns a copy of ctx carrying identity.
func WithIdentity(ctx context.Context, identity *Identity) context.Context {
	return context.WithValue(ctx, identityContextKey{}, identity)
}

// GetIdentity retrieves the authenticated identity from the context, or nil.
func GetIdentity(ctx context.Context) *Identity {
	identity, _ := ctx.Value(identityContextKey{}).(*Identity)
	return identity
}
