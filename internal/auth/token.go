package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"
)

type pecoraClaims struct {
	jwt.RegisteredClaims
	Email       string `json:"email,omitempty"`
	DisplayName string `json:"name,omitempty"`
	TokenType   string `json:"type,omitempty"`
}

// TokenOption configures a TokenService.
type TokenOption func(*TokenService)

// WithAudience requires tokens to carry aud.
func WithAudience(aud string) TokenOption {
	return func(s *TokenService) {
		s.audience = aud
	}
}

// WithKeyfunc verifies tokens against provider keys (RS256) instead of the
// shared HS256 secret.
func WithKeyfunc(kf keyfunc.Keyfunc) TokenOption {
	return func(s *TokenService) {
		s.jwks = kf
	}
}

// WithLeeway tolerates clock skew when checking exp and nbf.
func WithLeeway(d time.Duration) TokenOption {
	return func(s *TokenService) {
		s.leeway = d
	}
}

// TokenService validates the identity provider's JWTs. It signs HS256 tokens
// too, for development and tests.
type TokenService struct {
	signingKey []byte
	issuer     string
	audience   string
	expiry     time.Duration
	leeway     time.Duration
	jwks       keyfunc.Keyfunc
}

func NewTokenService(signingKey, issuer string, expiry time.Duration, opts ...TokenOption) *TokenService {
	s := &TokenService{
		signingKey: []byte(signingKey),
		issuer:     issuer,
		expiry:     expiry,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateAccessToken signs an HS256 access token for identity.
func (s *TokenService) CreateAccessToken(identity *Identity) (string, error) {
	if len(s.signingKey) == 0 {
		return "", fmt.Errorf("%w: no signing key configured", ErrTokenInvalid)
	}
	now := time.Now()

	claims := pecoraClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   identity.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.expiry)),
		},
		Email:       identity.Email,
		DisplayName: identity.DisplayName,
		TokenType:   TokenTypeAccess,
	}
	if s.audience != "" {
		claims.Audience = jwt.ClaimStrings{s.audience}
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.signingKey)
}

// ValidateToken verifies tokenString and returns the identity it carries.
// The user id is the subject claim. Tokens without a type claim are access
// tokens.
func (s *TokenService) ValidateToken(ctx context.Context, tokenString string) (*Identity, error) {
	opts := []jwt.ParserOption{
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(s.leeway),
	}
	if s.issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.issuer))
	}
	if s.audience != "" {
		opts = append(opts, jwt.WithAudience(s.audience))
	}

	var kf jwt.Keyfunc
	if s.jwks != nil {
		kf = s.jwks.KeyfuncCtx(ctx)
		opts = append(opts, jwt.WithValidMethods([]string{"RS256"}))
	} else {
		kf = func(token *jwt.Token) (any, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return s.signingKey, nil
		}
		opts = append(opts, jwt.WithValidMethods([]string{"HS256"}))
	}

	token, err := jwt.ParseWithClaims(tokenString, &pecoraClaims{}, kf, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("%w: %v", ErrTokenExpired, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}

	claims, ok := token.Claims.(*pecoraClaims)
	if !ok || !token.Valid {
		return nil, ErrTokenInvalid
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrTokenInvalid)
	}

	tokenType := claims.TokenType
	if tokenType == "" {
		tokenType = TokenTypeAccess
	}

	return &Identity{
		UserID:      claims.Subject,
		Email:       claims.Email,
		DisplayName: claims.DisplayName,
		TokenType:   TokenTypeAccess,
	}, nil
}
