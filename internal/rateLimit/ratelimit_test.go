package rateLimit_test

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/robertarktes/salon-booking-settlement/internal/rateLimit"
)

func newRedis(t *testing.T) *redis.Client {
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

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "6379")
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{Addr: host + ":" + port.Port()})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestAllow(t *testing.T) {
	client := newRedis(t)
	rl := rateLimit.NewRateLimiter(client)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ok, err := rl.Allow(ctx, "user:a", 3, time.Minute)
		require.NoError(t, err)
		assert.True(t, ok, "hit %d", i+1)
	}
	ok, err := rl.Allow(ctx, "user:a", 3, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = rl.Allow(ctx, "user:b", 3, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok, "keys are independent")

	ttl, err := client.TTL(ctx, "rl:user:a").Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, 50*time.Second)
}

func TestAllow_WindowResets(t *testing.T) {
	client := newRedis(t)
	rl := rateLimit.NewRateLimiter(client)
	ctx := context.Background()

	ok, err := rl.Allow(ctx, "ip:1", 1, time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, _ = rl.Allow(ctx, "ip:1", 1, time.Second)
	assert.False(t, ok)

	require.Eventually(t, func() bool {
		ok, err := rl.Allow(ctx, "ip:1", 1, time.Second)
		return err == nil && ok
	}, 5*time.Second, 200*time.Millisecond)
}
