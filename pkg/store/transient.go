package store

import (
	"context"
	"errors"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

var storeTransientRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "catalog_store_transient_retries_total",
	Help: "Total number of storage statements retried after a transient error",
}, []string{"op"})

// transientPatterns are lowercase message fragments of connection-level
// failures that are worth one more try.
var transientPatterns = []string{
	"connection reset",
	"terminating connection",
	"broken pipe",
	"connection refused",
	"unexpected eof",
	"conn closed",
	"server closed the connection",
}

// IsTransient reports whether err looks like a dropped or refused connection.
func IsTransient(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, p := range transientPatterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

// retryOnce runs fn and runs it exactly once more if the first error is transient.
func retryOnce(logger zerolog.Logger, op string, fn func() error) error {
	err := fn()
	if !IsTransient(err) {
		return err
	}

	storeTransientRetriesTotal.WithLabelValues(op).Inc()
	logger.Warn().
		Err(err).
		Str("op", op).
		Msg("Transient storage error - retrying once")

	return fn()
}
