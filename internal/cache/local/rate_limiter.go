package local

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/alanyoungcy/polywager/internal/domain"
)

// RateLimiter implements domain.RateLimiter with one token bucket per key:
// limit tokens of burst, refilled evenly over window.
type RateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

var _ domain.RateLimiter = (*RateLimiter)(nil)

// NewRateLimiter creates an empty RateLimiter.
func NewRateLimiter() *RateLimiter {
	return &RateLimiter{limiters: make(map[string]*rate.Limiter)}
}

// Allow reports whether one more request for key fits the budget.
func (rl *RateLimiter) Allow(_ context.Context, key string, limit int, window time.Duration) (bool, error) {
	if limit <= 0 {
		return true, nil
	}
	every := rate.Every(window / time.Duration(limit))

	rl.mu.Lock()
	l, ok := rl.limiters[key]
	if !ok || l.Burst() != limit || l.Limit() != every {
		l = rate.NewLimiter(every, limit)
		rl.limiters[key] = l
	}
	rl.mu.Unlock()
	return l.Allow(), nil
}
