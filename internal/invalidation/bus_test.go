package invalidation_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/matiastonello92/pecora/internal/invalidation"
	"github.com/matiastonello92/pecora/internal/permission"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingApplier struct {
	mu  sync.Mutex
	got []permission.Invalidation
}

func (a *recordingApplier) Apply(inv permission.Invalidation) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.got = append(a.got, inv)
}

func (a *recordingApplier) applied() []permission.Invalidation {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]permission.Invalidation(nil), a.got...)
}

func setupRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client, err := invalidation.Connect(context.Background(), "redis://"+mr.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return mr, client
}

// runBus starts b in the background and waits until it is subscribed.
func runBus(t *testing.T, mr *miniredis.Miniredis, b *invalidation.RedisBus, applier invalidation.Applier) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.Run(ctx, applier) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Error("bus did not stop")
		}
	})

	require.Eventually(t, func() bool {
		return mr.PubSubNumSub(invalidation.DefaultChannel)[invalidation.DefaultChannel] > 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestRedisBus_AppliesRemoteInvalidations(t *testing.T) {
	mr, client := setupRedis(t)

	local := invalidation.NewRedisBus(client)
	remote := invalidation.NewRedisBus(client)
	require.NotEqual(t, local.Origin(), remote.Origin())

	applier := &recordingApplier{}
	runBus(t, mr, local, applier)

	inv := permission.Invalidation{
		Kind:   permission.InvalidateUser,
		UserID: "user-1",
		OrgID:  "org-1",
	}
	require.NoError(t, remote.Publish(context.Background(), inv))

	require.Eventually(t, func() bool { return len(applier.applied()) == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, inv, applier.applied()[0])
}

func TestRedisBus_SkipsOwnAndMalformedMessages(t *testing.T) {
	mr, client := setupRedis(t)

	local := invalidation.NewRedisBus(client)
	remote := invalidation.NewRedisBus(client)
	applier := &recordingApplier{}
	runBus(t, mr, local, applier)

	ctx := context.Background()
	require.NoError(t, local.Publish(ctx, permission.Invalidation{Kind: permission.InvalidateAll}))
	require.NoError(t, client.Publish(ctx, invalidation.DefaultChannel, "{not json").Err())
	// Messages are delivered in order, so once this one lands the two
	// before it have been handled.
	require.NoError(t, remote.Publish(ctx, permission.Invalidation{Kind: permission.InvalidateOrg, OrgID: "org-2"}))

	require.Eventually(t, func() bool { return len(applier.applied()) == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, permission.InvalidateOrg, applier.applied()[0].Kind)
}

func TestRedisBus_MessageFormat(t *testing.T) {
	mr, client := setupRedis(t)
	bus := invalidation.NewRedisBus(client)

	sub := client.Subscribe(context.Background(), invalidation.DefaultChannel)
	defer sub.Close()
	_, err := sub.Receive(context.Background())
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return mr.PubSubNumSub(invalidation.DefaultChannel)[invalidation.DefaultChannel] > 0
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, bus.Publish(context.Background(), permission.Invalidation{
		Kind:       permission.InvalidateUser,
		UserID:     "user-1",
		OrgID:      "org-1",
		LocationID: "loc-1",
	}))

	select {
	case msg := <-sub.Channel():
		var got map[string]string
		require.NoError(t, json.Unmarshal([]byte(msg.Payload), &got))
		assert.Equal(t, map[string]string{
			"origin":      bus.Origin(),
			"kind":        "user",
			"user_id":     "user-1",
			"org_id":      "org-1",
			"location_id": "loc-1",
		}, got)
	case <-time.After(2 * time.Second):
		t.Fatal("no message received")
	}
}

func TestRedisBus_CacheRoundTrip(t *testing.T) {
	mr, client := setupRedis(t)

	store := &staticStore{}
	cacheA := permission.NewCache(permission.NewResolver(store))
	cacheB := permission.NewCache(permission.NewResolver(store), permission.WithBroadcaster(invalidation.NewRedisBus(client)))
	runBus(t, mr, invalidation.NewRedisBus(client), cacheA)

	ctx := context.Background()
	scope := permission.Scope{OrgID: "org-1"}
	cacheA.Check(ctx, "user-1", "tasks:view", scope)
	require.Equal(t, 1, cacheA.Len())

	cacheB.InvalidateOrg(ctx, "org-1")

	require.Eventually(t, func() bool { return cacheA.Len() == 0 }, 2*time.Second, 10*time.Millisecond)
}

type staticStore struct{}

func (staticStore) RoleGrants(context.Context, string, permission.Scope) ([]permission.RoleGrant, error) {
	return []permission.RoleGrant{{RoleID: "r1", Permissions: []string{"tasks:view"}}}, nil
}

func (staticStore) Overrides(context.Context, string, permission.Scope) ([]permission.Override, error) {
	return nil, nil
}
