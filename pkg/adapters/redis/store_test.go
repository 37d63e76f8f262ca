package redis_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/aretw0/threadline/pkg/adapters/redis"
	"github.com/aretw0/threadline/pkg/domain"
	"github.com/aretw0/threadline/pkg/ports"
	backend "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newClient(t *testing.T) (*miniredis.Miniredis, *backend.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := backend.NewClient(&backend.Options{
		Addr: mr.Addr(),
	})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestRedisStore_Contract(t *testing.T) {
	_, client := newClient(t)
	ports.RunStateStoreContract(t, redis.NewFromClient(client))
}

func TestRedisStore_TTL_Expiration(t *testing.T) {
	mr, client := newClient(t)

	store := redis.NewFromClient(client, redis.WithTTL(1*time.Second))
	ctx := context.Background()
	threadID := "thread-ttl"

	err := store.Save(ctx, threadID, domain.NewConversation(threadID))
	assert.NoError(t, err)

	threads, err := store.List(ctx)
	assert.NoError(t, err)
	assert.Contains(t, threads, threadID)

	// expire the value key inside miniredis
	mr.FastForward(2 * time.Second)

	_, err = store.Load(ctx, threadID)
	assert.ErrorIs(t, err, domain.ErrThreadNotFound)

	// the index is pruned against the wall clock
	time.Sleep(1200 * time.Millisecond)

	threads, err = store.List(ctx)
	assert.NoError(t, err)
	assert.Empty(t, threads)
}

func TestRedisStore_Prefix(t *testing.T) {
	mr, client := newClient(t)

	store := redis.NewFromClient(client, redis.WithPrefix("custom:app:"))
	ctx := context.Background()
	threadID := "my-thread"

	err := store.Save(ctx, threadID, domain.NewConversation(threadID))
	assert.NoError(t, err)

	assert.True(t, mr.Exists("custom:app:thread:my-thread"), "Expected key with custom prefix to exist")
	assert.True(t, mr.Exists("custom:app:threads"), "Expected index with custom prefix to exist")

	list, err := store.List(ctx)
	assert.NoError(t, err)
	assert.Contains(t, list, threadID)
	assert.NoError(t, store.Ping(ctx))
}

func TestRedisStore_Unavailable(t *testing.T) {
	mr, client := newClient(t)
	store := redis.NewFromClient(client)
	mr.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err := store.Save(ctx, "t-1", domain.NewConversation("t-1"))
	assert.Error(t, err)

	_, err = store.Load(ctx, "t-1")
	require.Error(t, err)
	assert.NotErrorIs(t, err, domain.ErrThreadNotFound)
}
