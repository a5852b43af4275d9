package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Prometheus metrics for rate limit tracking.
var (
	rateLimitThrottlesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "catalog_rate_limit_throttles_total",
		Help: "Total number of 429 responses recorded in the shared tracker",
	})

	rateLimitCooldownSeconds = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "catalog_rate_limit_cooldown_seconds",
		Help: "Most recently recorded shared cooldown window in seconds",
	})
)

// Tracker records 429 responses in Redis so that every caller of the same
// partner application backs off together.
type Tracker struct {
	redis     *redis.Client
	partnerID int64
	logger    zerolog.Logger
}

// NewTracker creates a new rate limit tracker.
func NewTracker(redisClient *redis.Client, partnerID int64, logger zerolog.Logger) *Tracker {
	return &Tracker{
		redis:     redisClient,
		partnerID: partnerID,
		logger:    logger,
	}
}

// RecordThrottle opens (or extends) the shared cooldown window to wait.
// An existing longer window is left in place.
func (t *Tracker) RecordThrottle(ctx context.Context, wait time.Duration) error {
	if wait > MaxCooldown {
		wait = MaxCooldown
	}

	key := cooldownKey(t.partnerID)
	remaining, err := t.redis.PTTL(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("get cooldown ttl: %w", err)
	}

	pipe := t.redis.Pipeline()
	if wait > 0 && remaining < wait {
		pipe.Set(ctx, key, time.Now().Add(wait).UnixMilli(), wait)
	}
	pipe.Incr(ctx, throttlesKey(t.partnerID))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store rate limit state in redis: %w", err)
	}

	rateLimitThrottlesTotal.Inc()
	rateLimitCooldownSeconds.Set(wait.Seconds())

	t.logger.Warn().
		Int64("partner_id", t.partnerID).
		Dur("wait", wait).
		Msg("Marketplace rate limit hit - shared cooldown opened")

	return nil
}

// Cooldown returns how long callers should wait before the next request.
func (t *Tracker) Cooldown(ctx context.Context) (time.Duration, error) {
	remaining, err := t.redis.PTTL(ctx, cooldownKey(t.partnerID)).Result()
	if err != nil {
		return 0, fmt.Errorf("get cooldown ttl: %w", err)
	}
	// PTTL reports -2 for a missing key and -1 for a key without expiry.
	if remaining < 0 {
		return 0, nil
	}
	return remaining, nil
}

// GetState retrieves the current shared rate limit state.
func (t *Tracker) GetState(ctx context.Context) (*State, error) {
	cooldown, err := t.Cooldown(ctx)
	if err != nil {
		return nil, err
	}

	throttles, err := t.redis.Get(ctx, throttlesKey(t.partnerID)).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("get throttles: %w", err)
	}

	return &State{CooldownRemaining: cooldown, Throttles: throttles}, nil
}
