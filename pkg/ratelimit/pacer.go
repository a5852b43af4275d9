package ratelimit

import (
	"context"

	"golang.org/x/time/rate"
)

// Pacer spaces outgoing requests to a steady rate.
type Pacer struct {
	limiter *rate.Limiter
}

// NewPacer allows rps requests per second with the given burst.
// rps <= 0 disables pacing.
func NewPacer(rps float64, burst int) *Pacer {
	if rps <= 0 {
		return &Pacer{}
	}
	if burst < 1 {
		burst = 1
	}
	return &Pacer{limiter: rate.NewLimiter(rate.Limit(rps), burst)}
}

// Wait blocks until the next request may be sent or ctx is done.
func (p *Pacer) Wait(ctx context.Context) error {
	if p == nil || p.limiter == nil {
		return nil
	}
	return p.limiter.Wait(ctx)
}
