package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/matiastonello92/pecora/internal/audit"
	"github.com/matiastonello92/pecora/internal/auth"
	"github.com/matiastonello92/pecora/internal/permission"
	"github.com/matiastonello92/pecora/internal/platform/middleware"
	"github.com/matiastonello92/pecora/internal/tenant"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const defaultShutdownTimeout = 10 * time.Second

// Dependencies holds all injected dependencies for the server.
type Dependencies struct {
	Pool              *pgxpool.Pool
	Auth              *auth.TokenService
	Permissions       permission.Checker
	PermissionHandler *permission.Handler
	RoleHandler       *tenant.RoleHandler
	AssignmentHandler *tenant.AssignmentHandler
	OverrideHandler   *tenant.OverrideHandler
	AuditHandler      *audit.Handler
	AuditLogger       audit.Logger
	// Registry serves /metrics and receives the HTTP metrics. Nil disables
	// both.
	Registry           *prometheus.Registry
	DevIdentity        *auth.Identity
	Logger             *slog.Logger
	CORSAllowedOrigins []string
	ShutdownTimeout    time.Duration
}

type Server struct {
	httpServer      *http.Server
	pool            *pgxpool.Pool
	handler         http.Handler
	logger          *slog.Logger
	shutdownTimeout time.Duration
}

func New(addr string, deps Dependencies) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	// Protected routes mux, wrapped with auth middleware
	protectedMux := http.NewServeMux()

	var protectedHandler http.Handler = protectedMux
	if deps.Auth != nil {
		protectedHandler = auth.MiddlewareWithDevMode(deps.Auth, deps.DevIdentity)(protectedHandler)
	}

	// Top-level mux: public routes + protected catch-all
	topMux := http.NewServeMux()

	s := &Server{
		httpServer: &http.Server{
			Addr:              addr,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		pool:            deps.Pool,
		logger:          logger,
		shutdownTimeout: deps.ShutdownTimeout,
	}
	if s.shutdownTimeout <= 0 {
		s.shutdownTimeout = defaultShutdownTimeout
	}

	// Public routes (no auth required)
	topMux.HandleFunc("GET /healthz", s.handleHealth)
	topMux.HandleFunc("GET /readyz", s.handleReadiness)
	if deps.Registry != nil {
		topMux.Handle("GET /metrics", promhttp.HandlerFor(deps.Registry, promhttp.HandlerOpts{Registry: deps.Registry}))
	}

	// Effective permissions of the caller. Authentication is optional here:
	// the handlers answer anonymous callers with a bare 401.
	if deps.Auth != nil && deps.PermissionHandler != nil {
		optional := auth.Optional(deps.Auth, deps.DevIdentity)
		topMux.Handle("GET /permissions", optional(http.HandlerFunc(deps.PermissionHandler.HandleList)))
		topMux.Handle("GET /api/v1/me/permissions", optional(http.HandlerFunc(deps.PermissionHandler.HandleList)))
		topMux.Handle("POST /api/v1/me/permissions/check", optional(http.HandlerFunc(deps.PermissionHandler.HandleCheck)))
	}

	var permOpts []permission.MiddlewareOption
	if deps.AuditLogger != nil {
		permOpts = append(permOpts, permission.WithAuditLogger(deps.AuditLogger))
	}
	guard := func(code string, h http.HandlerFunc) http.Handler {
		return permission.RequirePermission(deps.Permissions, code, permOpts...)(h)
	}

	if deps.PermissionHandler != nil {
		protectedMux.HandleFunc("GET /api/v1/permissions/catalog", deps.PermissionHandler.HandleCatalog)
	}

	// Role routes (org-scoped, permission-protected)
	if deps.RoleHandler != nil && deps.Permissions != nil {
		protectedMux.Handle("GET /api/v1/orgs/{orgID}/roles",
			guard("users:view", deps.RoleHandler.HandleList))
		protectedMux.Handle("PUT /api/v1/orgs/{orgID}/roles/{roleID}/permissions",
			guard("users:manage", deps.RoleHandler.HandleReplacePermissions))
	}

	// Role assignment routes
	if deps.AssignmentHandler != nil && deps.Permissions != nil {
		protectedMux.Handle("GET /api/v1/orgs/{orgID}/users/{userID}/roles",
			guard("users:view", deps.AssignmentHandler.HandleList))
		protectedMux.Handle("POST /api/v1/orgs/{orgID}/users/{userID}/roles",
			guard("users:manage", deps.AssignmentHandler.HandleAssign))
		protectedMux.Handle("DELETE /api/v1/orgs/{orgID}/users/{userID}/roles/{roleID}",
			guard("users:manage", deps.AssignmentHandler.HandleRevoke))
	}

	// Override routes
	if deps.OverrideHandler != nil && deps.Permissions != nil {
		protectedMux.Handle("GET /api/v1/orgs/{orgID}/users/{userID}/overrides",
			guard("users:view", deps.OverrideHandler.HandleList))
		protectedMux.Handle("PUT /api/v1/orgs/{orgID}/users/{userID}/overrides",
			guard("locations:manage_permissions", deps.OverrideHandler.HandleSet))
		protectedMux.Handle("DELETE /api/v1/orgs/{orgID}/users/{userID}/overrides/{code}",
			guard("locations:manage_permissions", deps.OverrideHandler.HandleRemove))
	}

	// Audit routes
	if deps.AuditHandler != nil && deps.Permissions != nil {
		protectedMux.Handle("GET /api/v1/orgs/{orgID}/audit",
			guard("users:manage", deps.AuditHandler.HandleList))
	}

	// All other routes go through auth middleware
	topMux.Handle("/", protectedHandler)

	// Wrap top-level mux with observability middleware
	var handler http.Handler = otelhttp.NewHandler(topMux, "pecora",
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + middleware.NormalizePath(r.URL.Path)
		}),
	)
	if len(deps.CORSAllowedOrigins) > 0 {
		handler = middleware.CORS(deps.CORSAllowedOrigins)(handler)
	}
	if deps.Registry != nil {
		handler = middleware.NewHTTPMetrics(deps.Registry).Middleware(handler)
	}
	handler = middleware.Logging(logger)(handler)
	handler = middleware.RequestID(handler)

	s.handler = handler
	s.httpServer.Handler = handler
	return s
}

// Handler returns the full middleware-wrapped handler chain (for testing).
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start serves until ctx is done, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	lc := net.ListenConfig{}
	listener, err := lc.Listen(ctx, "tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.httpServer.Addr, err)
	}

	s.logger.Info("server starting", "addr", listener.Addr().String())

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		s.logger.Info("server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	if s.pool == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "not ready",
			"reason": "database not connected",
		})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.pool.Ping(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "not ready",
			"reason": "database ping failed",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
