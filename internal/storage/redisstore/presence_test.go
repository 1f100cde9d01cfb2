package redisstore_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cory-johannsen/duel/internal/config"
	"github.com/cory-johannsen/duel/internal/storage/redisstore"
	"github.com/cory-johannsen/duel/internal/testutil"
)

func newPresence(t *testing.T) *redisstore.Presence {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}
	cfg := testutil.NewRedisContainer(t)
	client, err := redisstore.NewClient(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return redisstore.NewPresence(client, cfg.PresenceKey)
}

func TestPresenceJoinLeave(t *testing.T) {
	p := newPresence(t)
	ctx := context.Background()

	require.NoError(t, p.Join(ctx, "u1"))
	require.NoError(t, p.Join(ctx, "u2"))
	require.NoError(t, p.Join(ctx, "u1"))

	n, err := p.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	online, err := p.IsOnline(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, online)

	require.NoError(t, p.Leave(ctx, "u1"))
	online, err = p.IsOnline(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, online)

	require.NoError(t, p.Leave(ctx, "missing"))

	require.NoError(t, p.Reset(ctx))
	n, err = p.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestPresenceConcurrentJoins(t *testing.T) {
	p := newPresence(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, p.Join(ctx, fmt.Sprintf("user-%d", i%10)))
		}(i)
	}
	wg.Wait()

	n, err := p.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(10), n)
}

func TestNewClientUnreachable(t *testing.T) {
	_, err := redisstore.NewClient(context.Background(), config.RedisConfig{
		Addr:        "127.0.0.1:1",
		DialTimeout: 200 * time.Millisecond,
	})
	assert.Error(t, err)
}
