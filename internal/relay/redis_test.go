package relay_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"trustline/internal/domain"
	"trustline/internal/relay"
	"trustline/internal/testkit"
)

// Set TRUSTLINE_TEST_REDIS to a host:port to run against a live server.
func TestRedisBackend(t *testing.T) {
	addr := os.Getenv("TRUSTLINE_TEST_REDIS")
	if addr == "" {
		t.Skip("TRUSTLINE_TEST_REDIS not set")
	}
	ctx := context.Background()
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = rdb.Close() })
	prefix := "trustline-test-" + t.Name()
	t.Cleanup(func() {
		keys, _ := rdb.Keys(ctx, prefix+":*").Result()
		if len(keys) > 0 {
			rdb.Del(ctx, keys...)
		}
	})
	b := relay.NewRedisBackend(rdb, prefix, time.Hour)
	a := testkit.Account(t, 1)

	require.NoError(t, b.AddDevice(ctx, a.ID(), a.Device))
	devs, err := b.Devices(ctx, a.ID())
	require.NoError(t, err)
	require.Equal(t, []domain.UID{a.Device}, devs)

	for _, id := range []string{"1", "2"} {
		require.NoError(t, b.Enqueue(ctx, domain.Envelope{ID: id, ToIdentity: a.ID(), ToDevice: a.Device, Body: []byte(id)}))
	}
	envs, err := b.Fetch(ctx, a.ID(), a.Device, 10)
	require.NoError(t, err)
	require.Len(t, envs, 2)
	require.Equal(t, "1", envs[0].ID)

	require.NoError(t, b.Ack(ctx, a.ID(), a.Device, []string{"1"}))
	envs, err = b.Fetch(ctx, a.ID(), a.Device, 10)
	require.NoError(t, err)
	require.Len(t, envs, 1)
	require.Equal(t, "2", envs[0].ID)

	_, ok, err := b.Photo(ctx, "none")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, b.Revoke(ctx, a.ID()))
	revoked, err := b.IsRevoked(ctx, a.ID())
	require.NoError(t, err)
	require.True(t, revoked)
}
