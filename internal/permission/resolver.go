package permission

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

// DefaultFetchTimeout bounds a single store fetch.
const DefaultFetchTimeout = 3 * time.Second

const tracerName = "github.com/matiastonello92/pecora/internal/permission"

// Store is the data-store collaborator the resolver reads from.
type Store interface {
	// RoleGrants returns the roles assigned to the user in the scope's
	// organization, each with the permission codes it grants.
	RoleGrants(ctx context.Context, userID string, scope Scope) ([]RoleGrant, error)
	// Overrides returns the user's override rows in the scope's organization.
	Overrides(ctx context.Context, userID string, scope Scope) ([]Override, error)
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithResolverLogger sets the logger that receives data-access failures.
func WithResolverLogger(logger *slog.Logger) ResolverOption {
	return func(r *Resolver) {
		r.logger = logger
	}
}

// WithResolverMetrics records resolution outcomes.
func WithResolverMetrics(m *Metrics) ResolverOption {
	return func(r *Resolver) {
		r.metrics = m
	}
}

// WithFetchTimeout bounds each store fetch. Values not above zero keep
// DefaultFetchTimeout.
func WithFetchTimeout(d time.Duration) ResolverOption {
	return func(r *Resolver) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// Resolver computes effective permissions from the store.
type Resolver struct {
	store   Store
	logger  *slog.Logger
	metrics *Metrics
	timeout time.Duration
	tracer  trace.Tracer
}

func NewResolver(store Store, opts ...ResolverOption) *Resolver {
	r := &Resolver{
		store:   store,
		logger:  slog.Default(),
		timeout: DefaultFetchTimeout,
		tracer:  otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve returns the effective permissions of userID in scope.
//
// A user without roles or overrides gets an empty result and a nil error.
// When the store fails the result is empty as well; the error is logged and
// returned only so callers can decide how long to remember the failure. It
// must never be treated as a grant.
func (r *Resolver) Resolve(ctx context.Context, userID string, scope Scope) (Effective, error) {
	if userID == "" || scope.OrgID == "" {
		return Effective{}, nil
	}

	ctx, span := r.tracer.Start(ctx, "permission.resolve", trace.WithAttributes(
		attribute.String("pecora.org_id", scope.OrgID),
		attribute.String("pecora.location_id", scope.LocationID),
	))
	defer span.End()

	start := time.Now()
	eff, err := r.fetch(ctx, userID, scope)
	r.metrics.resolved(start, err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "resolve failed")
		r.logger.ErrorContext(ctx, "resolving effective permissions",
			"user_id", userID,
			"org_id", scope.OrgID,
			"location_id", scope.LocationID,
			"error", err,
		)
		return Effective{}, err
	}
	return eff, nil
}

func (r *Resolver) fetch(ctx context.Context, userID string, scope Scope) (Effective, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var (
		grants    []RoleGrant
		overrides []Override
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		grants, err = r.store.RoleGrants(gctx, userID, scope)
		if err != nil {
			return fmt.Errorf("loading role grants: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		overrides, err = r.store.Overrides(gctx, userID, scope)
		if err != nil {
			return fmt.Errorf("loading overrides: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return Effective{}, err
	}

	return Combine(grants, overrides), nil
}
