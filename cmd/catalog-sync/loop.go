package main

import (
	"context"
	"errors"
	"time"

	"github.com/Sternrassler/catalog-sync/pkg/syncer"
	"github.com/rs/zerolog"
)

// syncLoop runs a pass immediately, then on every tick and every trigger
// until ctx is done. Failed passes are already logged and journaled by the
// service; the loop keeps going.
func syncLoop(ctx context.Context, runner syncRunner, interval time.Duration, trigger <-chan struct{}, logger zerolog.Logger) {
	pass := func(reason string) {
		summary, err := runner.Run(ctx)
		switch {
		case errors.Is(err, syncer.ErrAlreadyRunning):
			logger.Debug().Str("reason", reason).Msg("Sync skipped, pass in progress")
		case err != nil:
			logger.Warn().Str("reason", reason).Err(err).Msg("Sync pass failed")
		default:
			logger.Debug().Str("reason", reason).Str("run_id", summary.RunID.String()).Msg("Sync pass done")
		}
	}

	pass("startup")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pass("interval")
		case <-trigger:
			pass("manual")
		}
	}
}
