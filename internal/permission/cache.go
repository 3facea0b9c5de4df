package permission

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultTTL        = 30 * time.Second
	DefaultFailureTTL = 2 * time.Second
	DefaultMaxEntries = 10000
)

// Source computes effective permissions on a cache miss. *Resolver is the
// production implementation.
type Source interface {
	Resolve(ctx context.Context, userID string, scope Scope) (Effective, error)
}

// Checker answers permission questions. *Cache implements it.
type Checker interface {
	Check(ctx context.Context, userID, code string, scope Scope) bool
	CheckMany(ctx context.Context, userID string, codes []string, scope Scope) (map[string]bool, error)
	Permissions(ctx context.Context, userID string, scope Scope) Effective
}

// InvalidationKind selects which entries an Invalidation removes.
type InvalidationKind string

const (
	InvalidateUser InvalidationKind = "user"
	InvalidateOrg  InvalidationKind = "org"
	InvalidateAll  InvalidationKind = "all"
)

// Invalidation describes entries to drop from the cache.
type Invalidation struct {
	Kind       InvalidationKind `json:"kind"`
	UserID     string           `json:"user_id,omitempty"`
	OrgID      string           `json:"org_id,omitempty"`
	LocationID string           `json:"location_id,omitempty"`
}

// Broadcaster forwards local invalidations to other instances.
type Broadcaster interface {
	Publish(ctx context.Context, inv Invalidation) error
}

// CacheOption configures a Cache.
type CacheOption func(*Cache)

// WithTTL sets how long a successful resolution is served.
func WithTTL(d time.Duration) CacheOption {
	return func(c *Cache) {
		if d > 0 {
			c.ttl = d
		}
	}
}

// WithFailureTTL sets how long a failed resolution (an empty result) is
// served. Zero disables caching failures entirely.
func WithFailureTTL(d time.Duration) CacheOption {
	return func(c *Cache) {
		if d >= 0 {
			c.failureTTL = d
		}
	}
}

// WithMaxEntries bounds the number of cached keys.
func WithMaxEntries(n int) CacheOption {
	return func(c *Cache) {
		if n > 0 {
			c.maxEntries = n
		}
	}
}

// WithClock replaces time.Now for expiry decisions.
func WithClock(now func() time.Time) CacheOption {
	return func(c *Cache) {
		c.now = now
	}
}

func WithCacheLogger(logger *slog.Logger) CacheOption {
	return func(c *Cache) {
		c.logger = logger
	}
}

func WithCacheMetrics(m *Metrics) CacheOption {
	return func(c *Cache) {
		c.metrics = m
	}
}

// WithBroadcaster publishes every local invalidation through b.
func WithBroadcaster(b Broadcaster) CacheOption {
	return func(c *Cache) {
		c.broadcaster = b
	}
}

type entry struct {
	eff       Effective
	expiresAt time.Time
	failed    bool
}

// Cache memoizes effective permissions per (user, org, location) for a short
// TTL. It is safe for concurrent use.
//
// Concurrent misses for the same key share one resolution. A caller whose
// context ends while waiting gets an empty result; the shared resolution keeps
// running and is cached once it completes. A resolution that started before
// an invalidation covering its organization is returned to its waiters but
// never cached.
type Cache struct {
	source      Source
	ttl         time.Duration
	failureTTL  time.Duration
	maxEntries  int
	now         func() time.Time
	logger      *slog.Logger
	metrics     *Metrics
	broadcaster Broadcaster

	entries *expirable.LRU[string, entry]
	group   singleflight.Group

	// mu orders invalidations against inserts. Hits do not take it.
	mu        sync.Mutex
	epoch     uint64
	orgEpochs map[string]uint64
}

// generation identifies the invalidations a resolution started after.
type generation struct {
	all uint64
	org uint64
}

func NewCache(source Source, opts ...CacheOption) *Cache {
	c := &Cache{
		source:     source,
		ttl:        DefaultTTL,
		failureTTL: DefaultFailureTTL,
		maxEntries: DefaultMaxEntries,
		now:        time.Now,
		logger:     slog.Default(),
		orgEpochs:  make(map[string]uint64),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.entries = expirable.NewLRU[string, entry](c.maxEntries, nil, c.ttl)
	return c
}

// Check reports whether the user holds code in scope. A malformed code is
// never satisfied.
func (c *Cache) Check(ctx context.Context, userID, code string, scope Scope) bool {
	if err := ValidateCode(code); err != nil {
		c.logger.DebugContext(ctx, "rejecting malformed permission code", "code", code, "error", err)
		return false
	}
	return c.lookup(ctx, userID, scope).Allows(code)
}

// CheckMany evaluates every code against one lookup. The result holds an
// entry for each distinct requested code. A malformed code is a caller bug
// and fails the whole call with ErrInvalidCode.
func (c *Cache) CheckMany(ctx context.Context, userID string, codes []string, scope Scope) (map[string]bool, error) {
	for _, code := range codes {
		if err := ValidateCode(code); err != nil {
			return nil, err
		}
	}

	eff := c.lookup(ctx, userID, scope)
	results := make(map[string]bool, len(codes))
	for _, code := range codes {
		results[code] = eff.Allows(code)
	}
	return results, nil
}

// Permissions returns the user's effective permissions in scope.
func (c *Cache) Permissions(ctx context.Context, userID string, scope Scope) Effective {
	return c.lookup(ctx, userID, scope)
}

// Invalidate drops the cached permissions of a user. With a location only
// that location's entry goes; without one every entry of the user in the
// organization goes, since resolution does not vary by location.
func (c *Cache) Invalidate(ctx context.Context, userID string, scope Scope) {
	if userID == "" || scope.OrgID == "" {
		return
	}
	c.invalidate(ctx, Invalidation{
		Kind:       InvalidateUser,
		UserID:     userID,
		OrgID:      scope.OrgID,
		LocationID: scope.LocationID,
	})
}

// InvalidateOrg drops every entry of an organization. Role permission edits
// affect all holders of the role, so they invalidate the whole organization.
func (c *Cache) InvalidateOrg(ctx context.Context, orgID string) {
	if orgID == "" {
		return
	}
	c.invalidate(ctx, Invalidation{Kind: InvalidateOrg, OrgID: orgID})
}

// InvalidateAll drops every entry.
func (c *Cache) InvalidateAll(ctx context.Context) {
	c.invalidate(ctx, Invalidation{Kind: InvalidateAll})
}

// Apply performs an invalidation received from another instance. It is not
// broadcast again.
func (c *Cache) Apply(inv Invalidation) {
	c.apply(inv)
}

// Len returns the number of cached keys, expired ones included until swept.
func (c *Cache) Len() int {
	return c.entries.Len()
}

func (c *Cache) lookup(ctx context.Context, userID string, scope Scope) Effective {
	if userID == "" || scope.OrgID == "" {
		return Effective{}
	}

	key := cacheKey(userID, scope)
	if e, ok := c.entries.Get(key); ok {
		if c.now().Before(e.expiresAt) {
			if e.failed {
				c.metrics.lookup("failed_hit")
			} else {
				c.metrics.lookup("hit")
			}
			return e.eff
		}
		c.entries.Remove(key)
	}
	c.metrics.lookup("miss")

	gen := c.generation(scope.OrgID)
	flight := key + "#" + strconv.FormatUint(gen.all, 10) + "." + strconv.FormatUint(gen.org, 10)
	ch := c.group.DoChan(flight, func() (any, error) {
		// Detached from the first caller's cancellation: other waiters may
		// still want the result. The resolver bounds the fetch.
		eff, err := c.source.Resolve(context.WithoutCancel(ctx), userID, scope)
		c.store(key, scope.OrgID, gen, eff, err)
		return eff, nil
	})

	select {
	case res := <-ch:
		eff, _ := res.Val.(Effective)
		return eff
	case <-ctx.Done():
		c.logger.DebugContext(ctx, "permission lookup abandoned",
			"user_id", userID,
			"org_id", scope.OrgID,
			"error", ctx.Err(),
		)
		return Effective{}
	}
}

func (c *Cache) generation(orgID string) generation {
	c.mu.Lock()
	defer c.mu.Unlock()
	return generation{all: c.epoch, org: c.orgEpochs[orgID]}
}

func (c *Cache) store(key, orgID string, gen generation, eff Effective, err error) {
	ttl := c.ttl
	if err != nil {
		if c.failureTTL <= 0 {
			return
		}
		ttl = c.failureTTL
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.epoch != gen.all || c.orgEpochs[orgID] != gen.org {
		return
	}
	c.entries.Add(key, entry{
		eff:       eff,
		expiresAt: c.now().Add(ttl),
		failed:    err != nil,
	})
}

func (c *Cache) invalidate(ctx context.Context, inv Invalidation) {
	c.apply(inv)
	if c.broadcaster == nil {
		return
	}
	if err := c.broadcaster.Publish(ctx, inv); err != nil {
		c.logger.WarnContext(ctx, "broadcasting permission invalidation",
			"kind", inv.Kind,
			"org_id", inv.OrgID,
			"error", err,
		)
	}
}

func (c *Cache) apply(inv Invalidation) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch inv.Kind {
	case InvalidateUser:
		c.orgEpochs[inv.OrgID]++
		if inv.LocationID != "" {
			c.entries.Remove(cacheKey(inv.UserID, Scope{OrgID: inv.OrgID, LocationID: inv.LocationID}))
			break
		}
		prefix := keyPrefix(inv.UserID, inv.OrgID)
		for _, key := range c.entries.Keys() {
			if strings.HasPrefix(key, prefix) {
				c.entries.Remove(key)
			}
		}
	case InvalidateOrg:
		c.orgEpochs[inv.OrgID]++
		for _, key := range c.entries.Keys() {
			if keyOrg(key) == inv.OrgID {
				c.entries.Remove(key)
			}
		}
	case InvalidateAll:
		c.epoch++
		clear(c.orgEpochs)
		c.entries.Purge()
	default:
		c.logger.Warn("ignoring unknown invalidation kind", "kind", inv.Kind)
		return
	}
	c.metrics.invalidated(string(inv.Kind))
}
