package auth

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/MicahParks/jwkset"
	"github.com/MicahParks/keyfunc/v3"
)

// NewJWKSKeyfunc returns a keyfunc backed by the provider's JWKS endpoint.
// Keys are refreshed in the background until ctx ends. Startup does not fail
// when the endpoint is briefly unreachable; refresh errors are logged.
func NewJWKSKeyfunc(ctx context.Context, url string, refresh time.Duration, logger *slog.Logger) (keyfunc.Keyfunc, error) {
	storage, err := jwkset.NewStorageFromHTTP(url, jwkset.HTTPClientStorageOptions{
		Client:                    &http.Client{Timeout: 10 * time.Second},
		Ctx:                       ctx,
		NoErrorReturnFirstHTTPReq: true,
		RefreshInterval:           refresh,
		RefreshErrorHandler: func(ctx context.Context, err error) {
			logger.ErrorContext(ctx, "refreshing JWKS", "url", url, "error", err)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("creating JWKS storage: %w", err)
	}

	kf, err := keyfunc.New(keyfunc.Options{
		Ctx:     ctx,
		Storage: storage,
	})
	if err != nil {
		return nil, fmt.Errorf("creating keyfunc: %w", err)
	}
	return kf, nil
}
