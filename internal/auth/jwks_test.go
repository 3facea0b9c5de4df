package auth_test

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"
	"github.com/matiastonello92/pecora/internal/auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKeyID = "test-key-1"

func buildJWKS(t *testing.T, kid string, pub *rsa.PublicKey) []byte {
	t.Helper()
	jwks := map[string]any{
		"keys": []map[string]any{
			{
				"kty": "RSA",
				"kid": kid,
				"use": "sig",
				"alg": "RS256",
				"n":   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
				"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
			},
		},
	}
	b, err := json.Marshal(jwks)
	require.NoError(t, err)
	return b
}

func signRS256(t *testing.T, key *rsa.PrivateKey, kid string, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = kid
	signed, err := token.SignedString(key)
	require.NoError(t, err)
	return signed
}

func providerClaims(sub string) jwt.MapClaims {
	return jwt.MapClaims{
		"sub":   sub,
		"iss":   "https://auth.example.test",
		"aud":   "authenticated",
		"email": "staff@example.test",
		"exp":   time.Now().Add(time.Hour).Unix(),
		"iat":   time.Now().Unix(),
	}
}

func TestTokenService_JWKS(t *testing.T) {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	kf, err := keyfunc.NewJWKSetJSON(buildJWKS(t, testKeyID, &priv.PublicKey))
	require.NoError(t, err)

	svc := auth.NewTokenService("", "https://auth.example.test", time.Hour,
		auth.WithKeyfunc(kf),
		auth.WithAudience("authenticated"),
	)

	t.Run("valid provider token", func(t *testing.T) {
		got, err := svc.ValidateToken(context.Background(), signRS256(t, priv, testKeyID, providerClaims("user-1")))
		require.NoError(t, err)
		assert.Equal(t, "user-1", got.UserID)
		assert.Equal(t, "staff@example.test", got.Email)
	})

	t.Run("unknown kid", func(t *testing.T) {
		_, err := svc.ValidateToken(context.Background(), signRS256(t, priv, "other-kid", providerClaims("user-1")))
		assert.ErrorIs(t, err, auth.ErrTokenInvalid)
	})

	t.Run("signed by another key", func(t *testing.T) {
		other, err := rsa.GenerateKey(rand.Reader, 2048)
		require.NoError(t, err)
		_, err = svc.ValidateToken(context.Background(), signRS256(t, other, testKeyID, providerClaims("user-1")))
		assert.ErrorIs(t, err, auth.ErrTokenInvalid)
	})

	t.Run("HS256 rejected", func(t *testing.T) {
		hs := jwt.NewWithClaims(jwt.SigningMethodHS256, providerClaims("user-1"))
		hs.Header["kid"] = testKeyID
		signed, err := hs.SignedString([]byte(testSigningKey))
		require.NoError(t, err)
		_, err = svc.ValidateToken(context.Background(), signed)
		assert.ErrorIs(t, err, auth.ErrTokenInvalid)
	})
}

func TestNewJWKSKeyfunc_FetchesFromEndpoint(t *testing.T) {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(buildJWKS(t, testKeyID, &priv.PublicKey))
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	kf, err := auth.NewJWKSKeyfunc(ctx, srv.URL, time.Hour, slog.Default())
	require.NoError(t, err)

	svc := auth.NewTokenService("", "https://auth.example.test", time.Hour, auth.WithKeyfunc(kf))
	got, err := svc.ValidateToken(ctx, signRS256(t, priv, testKeyID, providerClaims("user-2")))
	require.NoError(t, err)
	assert.Equal(t, "user-2", got.UserID)
}
