package redis

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func offlineClient(t *testing.T) *Client {
	t.Helper()
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", MaxRetries: -1, DialTimeout: 50 * time.Millisecond})
	t.Cleanup(func() { _ = rdb.Close() })
	return &Client{rdb: rdb}
}

func TestKeys(t *testing.T) {
	assert.Equal(t, "wager:market:42", marketKey(42))
	assert.Equal(t, "wager:ratelimit:1.2.3.4", rateLimitKey("1.2.3.4"))
	assert.Equal(t, "wager:lock:market:7", NewLockManager(offlineClient(t)).key("market:7"))
	assert.Equal(t, "wager:nonce:0xabc:n1", NewNonceStore(offlineClient(t)).key("0xabc:n1"))
}

func TestHasPattern(t *testing.T) {
	assert.True(t, hasPattern("ledger:*"))
	assert.False(t, hasPattern("ledger"))
}

func TestSlidingWindowScriptEmbedded(t *testing.T) {
	assert.Contains(t, slidingWindowLua, "ZREMRANGEBYSCORE")
}

func TestRateLimiterNoLimit(t *testing.T) {
	rl := NewRateLimiter(offlineClient(t))
	ok, err := rl.Allow(context.Background(), "k", 0, time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMarketCacheDefaultTTL(t *testing.T) {
	assert.Equal(t, DefaultMarketTTL, NewMarketCache(offlineClient(t), 0).ttl)
	assert.Equal(t, time.Minute, NewMarketCache(offlineClient(t), time.Minute).ttl)
}

func TestOfflineErrorsAreWrapped(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := NewLockManager(offlineClient(t)).Acquire(ctx, "market:1", time.Second)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis: acquire lock market:1")

	ok, err := NewNonceStore(offlineClient(t)).Claim(ctx, "0xabc:n1", time.Second)
	require.Error(t, err)
	assert.False(t, ok)
	assert.Contains(t, err.Error(), "redis: claim nonce")
}
