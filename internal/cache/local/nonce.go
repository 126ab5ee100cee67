package local

import (
	"context"
	"sync"
	"time"

	"github.com/alanyoungcy/polywager/internal/domain"
)

// NonceStore implements domain.NonceStore with an in-memory set of expiring
// keys. Expired keys are swept on every sweepEvery-th claim.
type NonceStore struct {
	mu     sync.Mutex
	seen   map[string]time.Time
	claims int
	now    func() time.Time
}

const sweepEvery = 256

var _ domain.NonceStore = (*NonceStore)(nil)

// NewNonceStore creates an empty NonceStore.
func NewNonceStore() *NonceStore {
	return &NonceStore{seen: make(map[string]time.Time), now: time.Now}
}

// Claim records key for ttl and reports whether it was unused.
func (s *NonceStore) Claim(_ context.Context, key string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.claims++
	if s.claims%sweepEvery == 0 {
		for k, exp := range s.seen {
			if !now.Before(exp) {
				delete(s.seen, k)
			}
		}
	}
	if exp, ok := s.seen[key]; ok && now.Before(exp) {
		return false, nil
	}
	s.seen[key] = now.Add(ttl)
	return true, nil
}
