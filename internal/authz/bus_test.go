package authz

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func TestInvalidationBusFansOutToLocalCache(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	local := NewMemoryCache(8)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	bus := NewInvalidationBus(client, nil)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = bus.Listen(ctx, local)
	}()

	key := CacheKey{PrincipalID: "u1", Action: "student:read"}
	_, gen, _ := local.Get(ctx, key)
	local.Set(ctx, key, Result{Granted: true}, time.Minute, gen)

	// Give the subscription a moment to establish before publishing.
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, bus.Publish(ctx, "u1"))

	require.Eventually(t, func() bool {
		_, _, ok := local.Get(ctx, key)
		return !ok
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("listener did not stop on context cancellation")
	}
}
