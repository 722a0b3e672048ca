package zhihu

import (
	"context"
	"math/rand/v2"
	"time"

	"golang.org/x/time/rate"
)

// Pacer spaces requests out so the request cadence does not look automated:
// a random delay before every request plus a hard cap on the request rate.
type Pacer struct {
	minDelay time.Duration
	maxDelay time.Duration
	limiter  *rate.Limiter
}

// NewPacer creates a pacer, rps <= 0 means no rate cap.
func NewPacer(minDelay, maxDelay time.Duration, rps float64, burst int) *Pacer {
	if maxDelay < minDelay {
		maxDelay = minDelay
	}
	if burst < 1 {
		burst = 1
	}
	limit := rate.Inf
	if rps > 0 {
		limit = rate.Limit(rps)
	}
	return &Pacer{
		minDelay: minDelay,
		maxDelay: maxDelay,
		limiter:  rate.NewLimiter(limit, burst),
	}
}

// Wait blocks for the random delay and a rate limiter token, it returns early
// with the context's error when ctx is done. A nil pacer never waits.
func (p *Pacer) Wait(ctx context.Context) error {
	if p == nil {
		return nil
	}

	delay := p.minDelay
	if spread := p.maxDelay - p.minDelay; spread > 0 {
		delay += rand.N(spread)
	}
	if delay > 0 {
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	return p.limiter.Wait(ctx)
}
