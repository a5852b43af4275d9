package client

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Retry budgets. Both apply per logical call.
const (
	// MaxAuthRefreshTries bounds token refreshes triggered by 401/403.
	MaxAuthRefreshTries = 3

	// RateLimitBudget bounds the cumulative 429 wait.
	RateLimitBudget = 600_000 * time.Millisecond
)

// Prometheus metrics for retry operations.
var (
	apiRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "catalog_api_retries_total",
		Help: "Total number of retry attempts by reason",
	}, []string{"reason"})

	apiRetryWaitSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "catalog_api_rate_limit_wait_seconds",
		Help:    "Wait applied before retrying a rate limited request",
		Buckets: []float64{1, 2, 5, 10, 30, 60, 120},
	})

	apiRetryExhaustedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "catalog_api_retry_exhausted_total",
		Help: "Total number of calls that exhausted a retry budget by reason",
	}, []string{"reason"})
)

// RetryState tracks the retry budgets of one logical call. It is never shared.
type RetryState struct {
	AuthRefreshTries int
	RateLimitTries   int
	RateLimitWaited  time.Duration
}

// nextRateLimitWait registers a 429 and returns the wait before the next
// attempt, or ok=false when the wait would overrun RateLimitBudget.
func (s *RetryState) nextRateLimitWait(hint time.Duration) (time.Duration, bool) {
	s.RateLimitTries++
	wait := RateLimitWait(hint, s.RateLimitTries)
	if s.RateLimitWaited+wait > RateLimitBudget {
		return wait, false
	}
	s.RateLimitWaited += wait
	return wait, true
}

// RateLimitWait returns max(hint, tries seconds): the server hint when
// present, a linearly escalating wait otherwise, never less than the hint.
func RateLimitWait(hint time.Duration, tries int) time.Duration {
	fallback := time.Duration(tries) * time.Second
	if hint > fallback {
		return hint
	}
	return fallback
}

// parseRetryAfter reads a Retry-After header given in seconds or as an HTTP date.
func parseRetryAfter(h http.Header, now time.Time) time.Duration {
	v := strings.TrimSpace(h.Get("Retry-After"))
	if v == "" {
		return 0
	}
	if secs, err := strconv.ParseFloat(v, 64); err == nil {
		if secs <= 0 {
			return 0
		}
		return time.Duration(secs * float64(time.Second))
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := at.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}

// sleepContext waits for d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
