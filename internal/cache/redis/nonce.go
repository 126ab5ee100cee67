package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/polywager/internal/domain"
)

// NonceStore implements domain.NonceStore with SET NX PX, so a nonce is
// accepted once across every API instance sharing the Redis.
type NonceStore struct {
	rdb    *redis.Client
	prefix string
}

var _ domain.NonceStore = (*NonceStore)(nil)

// NewNonceStore creates a NonceStore backed by c.
func NewNonceStore(c *Client) *NonceStore {
	return &NonceStore{rdb: c.Underlying(), prefix: "wager:nonce:"}
}

func (s *NonceStore) key(name string) string {
	return s.prefix + name
}

// Claim records key for ttl and reports whether it was unused.
func (s *NonceStore) Claim(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := s.rdb.SetNX(ctx, s.key(key), 1, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis: claim nonce: %w", err)
	}
	return ok, nil
}
