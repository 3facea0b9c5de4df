package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strconv"

	"github.com/matiastonello92/pecora/internal/audit"
	"github.com/matiastonello92/pecora/internal/auth"
	"github.com/matiastonello92/pecora/internal/invalidation"
	"github.com/matiastonello92/pecora/internal/permission"
	"github.com/matiastonello92/pecora/internal/platform/config"
	"github.com/matiastonello92/pecora/internal/platform/database"
	"github.com/matiastonello92/pecora/internal/platform/server"
	"github.com/matiastonello92/pecora/internal/platform/telemetry"
	"github.com/matiastonello92/pecora/internal/tenant"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func newServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), *configPath)
		},
	}
}

func runServe(ctx context.Context, configPath string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logger := telemetry.NewLogger(cfg.Log.Level, cfg.Log.Format)
	telemetry.SetDefault(logger)

	shutdownTracing, err := telemetry.InitTracing(ctx, telemetry.TracingConfig{
		ServiceName: cfg.Telemetry.ServiceName,
		Endpoint:    cfg.Telemetry.OTLPEndpoint,
		Insecure:    cfg.Telemetry.Insecure,
	})
	if err != nil {
		return fmt.Errorf("initializing tracing: %w", err)
	}
	defer func() {
		if err := shutdownTracing(context.WithoutCancel(ctx)); err != nil {
			logger.Warn("tracing shutdown failed", "error", err)
		}
	}()

	if cfg.Database.Migrate {
		if err := database.Migrate(cfg.Database.URL); err != nil {
			return fmt.Errorf("running migrations: %w", err)
		}
		logger.Info("migrations complete")
	}

	pool, err := database.Connect(ctx, cfg.Database.URL, cfg.Database.MaxConns)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer pool.Close()

	tokenSvc, err := newTokenService(ctx, cfg, logger)
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := permission.NewMetrics(registry)

	resolver := permission.NewResolver(permission.NewPGStore(pool),
		permission.WithResolverLogger(telemetry.Component(logger, "resolver")),
		permission.WithResolverMetrics(metrics),
		permission.WithFetchTimeout(cfg.Permission.FetchTimeout),
	)
	cacheOpts := []permission.CacheOption{
		permission.WithTTL(cfg.Permission.CacheTTL),
		permission.WithFailureTTL(cfg.Permission.FailureTTL),
		permission.WithMaxEntries(cfg.Permission.MaxEntries),
		permission.WithCacheLogger(telemetry.Component(logger, "cache")),
		permission.WithCacheMetrics(metrics),
	}

	var bus *invalidation.RedisBus
	if cfg.Redis.URL != "" {
		client, err := invalidation.Connect(ctx, cfg.Redis.URL)
		if err != nil {
			return fmt.Errorf("connecting to redis: %w", err)
		}
		defer client.Close()
		bus = invalidation.NewRedisBus(client,
			invalidation.WithChannel(cfg.Redis.Channel),
			invalidation.WithLogger(telemetry.Component(logger, "invalidation")),
		)
		cacheOpts = append(cacheOpts, permission.WithBroadcaster(bus))
		logger.Info("cross-instance invalidation enabled", "channel", cfg.Redis.Channel)
	}
	cache := permission.NewCache(resolver, cacheOpts...)

	var auditLog audit.Logger = audit.NopLogger{}
	auditStore := audit.NewStore()
	if cfg.Audit.Enabled {
		auditLog = audit.NewAsyncLogger(pool, auditStore, audit.LoggerConfig{
			BufferSize:    cfg.Audit.BufferSize,
			BatchSize:     cfg.Audit.BatchSize,
			FlushInterval: cfg.Audit.FlushInterval,
			Registerer:    registry,
		}, telemetry.Component(logger, "audit"))
	}
	defer auditLog.Close()

	var devIdentity *auth.Identity
	if cfg.Auth.DevMode {
		devIdentity = &auth.Identity{
			UserID:      cfg.Auth.DevUserID,
			DisplayName: "Developer",
			TokenType:   auth.TokenTypeAccess,
		}
		logger.Warn("dev mode enabled, 'Bearer dev' authenticates as the dev user", "user_id", cfg.Auth.DevUserID)
	}

	addr := net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port))
	srv := server.New(addr, server.Dependencies{
		Pool:               pool,
		Auth:               tokenSvc,
		Permissions:        cache,
		PermissionHandler:  permission.NewHandler(cache, telemetry.Component(logger, "permissions")),
		RoleHandler:        tenant.NewRoleHandler(pool, tenant.NewRoleStore(), cache, auditLog),
		AssignmentHandler:  tenant.NewAssignmentHandler(pool, tenant.NewAssignmentStore(), cache, auditLog),
		OverrideHandler:    tenant.NewOverrideHandler(pool, tenant.NewOverrideStore(), cache, auditLog),
		AuditHandler:       audit.NewHandler(pool, auditStore),
		AuditLogger:        auditLog,
		Registry:           registry,
		DevIdentity:        devIdentity,
		Logger:             logger,
		CORSAllowedOrigins: cfg.CORS.Origins,
		ShutdownTimeout:    cfg.Server.ShutdownTimeout,
	})

	logger.Info("pecora starting",
		"addr", addr,
		"cache_ttl", cfg.Permission.CacheTTL,
		"audit", cfg.Audit.Enabled,
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Start(gctx)
	})
	if bus != nil {
		g.Go(func() error {
			return bus.Run(gctx, cache)
		})
	}
	return g.Wait()
}

func newTokenService(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*auth.TokenService, error) {
	opts := []auth.TokenOption{auth.WithLeeway(cfg.Auth.Leeway)}
	if cfg.Auth.Audience != "" {
		opts = append(opts, auth.WithAudience(cfg.Auth.Audience))
	}
	if cfg.Auth.JWKSURL != "" {
		kf, err := auth.NewJWKSKeyfunc(ctx, cfg.Auth.JWKSURL, cfg.Auth.JWKSRefresh, telemetry.Component(logger, "jwks"))
		if err != nil {
			return nil, fmt.Errorf("loading jwks: %w", err)
		}
		opts = append(opts, auth.WithKeyfunc(kf))
	}
	return auth.NewTokenService(cfg.Auth.SigningKey, cfg.Auth.Issuer, cfg.Auth.TokenExpiry, opts...), nil
}
