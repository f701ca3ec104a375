package notify

import (
	"context"

	"golang.org/x/time/rate"
)

// RateLimited throttles outbound sends and DMs through a token bucket.
// Fetches are reads and are not limited.
type RateLimited struct {
	next    Notifier
	limiter *rate.Limiter
}

func NewRateLimited(next Notifier, perSec int) *RateLimited {
	if perSec <= 0 {
		perSec = 3
	}
	// A full second's allowance may be spent at once.
	return &RateLimited{next: next, limiter: rate.NewLimiter(rate.Limit(perSec), perSec)}
}

func (r *RateLimited) SendMessage(ctx context.Context, channel uint64, text string) error {
	if err := r.limiter.Wait(ctx); err != nil {
		return err
	}
	return r.next.SendMessage(ctx, channel, text)
}

func (r *RateLimited) DirectMessage(ctx context.Context, user uint64, text string) error {
	if err := r.limiter.Wait(ctx); err != nil {
		return err
	}
	return r.next.DirectMessage(ctx, user, text)
}

func (r *RateLimited) FetchMessage(ctx context.Context, channel, message uint64) (MessageView, error) {
	return r.next.FetchMessage(ctx, channel, message)
}
