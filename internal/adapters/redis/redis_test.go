package redis_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	redisadapter "github.com/robertarktes/salon-booking-settlement/internal/adapters/redis"
	"github.com/robertarktes/salon-booking-settlement/internal/domain"
)

func newClient(t *testing.T) *goredis.Client {
	t.Helper()
	if testing.Short() {
		t.Skip("needs docker")
	}
	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForExec([]string{"redis-cli", "ping"}),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	endpoint, err := container.Endpoint(ctx, "")
	require.NoError(t, err)
	client := goredis.NewClient(&goredis.Options{Addr: endpoint})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestCacheAndIdempotency(t *testing.T) {
	client := newClient(t)
	ctx := context.Background()

	t.Run("cache round trips merchant profiles", func(t *testing.T) {
		cache := redisadapter.NewCache(client)
		require.NoError(t, cache.Ping(ctx))

		var m domain.MerchantProfile
		ok, err := cache.GetJSON(ctx, "merchant:missing", &m)
		require.NoError(t, err)
		assert.False(t, ok)

		want := domain.DefaultMerchantProfile(uuid.New())
		want.Services = []domain.Service{{Name: "Facial", Duration: 45, Price: 2500}}
		require.NoError(t, cache.SetJSON(ctx, "merchant:x", want, time.Minute))

		ok, err = cache.GetJSON(ctx, "merchant:x", &m)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, want, m)

		require.NoError(t, cache.Del(ctx, "merchant:x"))
		ok, err = cache.GetJSON(ctx, "merchant:x", &m)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("idempotency lock is exclusive", func(t *testing.T) {
		idemp := redisadapter.NewIdempotency(client)

		ok, err := idemp.Lock(ctx, "k1", time.Minute)
		require.NoError(t, err)
		assert.True(t, ok)
		ok, err = idemp.Lock(ctx, "k1", time.Minute)
		require.NoError(t, err)
		assert.False(t, ok)

		require.NoError(t, idemp.Unlock(ctx, "k1"))
		ok, err = idemp.Lock(ctx, "k1", time.Minute)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("idempotency stores responses", func(t *testing.T) {
		idemp := redisadapter.NewIdempotency(client)

		got, err := idemp.Get(ctx, "k2")
		require.NoError(t, err)
		assert.Nil(t, got)

		resp := redisadapter.IdempResponse{Status: 201, ContentType: "application/json", Result: []byte(`{"success":true}`)}
		require.NoError(t, idemp.Set(ctx, "k2", resp, time.Minute))
		got, err = idemp.Get(ctx, "k2")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, resp, *got)
	})
}
