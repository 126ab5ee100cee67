package notify

import (
	"context"
	"errors"
	"time"

	"golang.org/x/time/rate"
)

// ErrThrottled is returned when a sender has used up its message budget.
var ErrThrottled = errors.New("notify: throttled")

// Throttled wraps a Sender with a token bucket of perMinute messages and a
// burst of the same size. Messages over budget are dropped, not queued.
type Throttled struct {
	Sender
	limiter *rate.Limiter
}

// Throttle returns s limited to perMinute messages. A non-positive
// perMinute returns s unchanged.
func Throttle(s Sender, perMinute int) Sender {
	if perMinute <= 0 {
		return s
	}
	return &Throttled{
		Sender:  s,
		limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), perMinute),
	}
}

// Send forwards to the wrapped sender when the budget allows.
func (t *Throttled) Send(ctx context.Context, title, message string) error {
	if !t.limiter.Allow() {
		return ErrThrottled
	}
	return t.Sender.Send(ctx, title, message)
}
