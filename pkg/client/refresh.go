package client

import (
	"context"
	"fmt"

	"github.com/Sternrassler/catalog-sync/pkg/credentials"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

var tokenRefreshesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "catalog_token_refreshes_total",
	Help: "Total number of token refresh operations by result",
}, []string{"result"})

// Refresher obtains a new access token.
type Refresher interface {
	Refresh(ctx context.Context) (string, error)
}

// RefresherFunc adapts a function to Refresher.
type RefresherFunc func(ctx context.Context) (string, error)

// Refresh implements Refresher.
func (f RefresherFunc) Refresh(ctx context.Context) (string, error) { return f(ctx) }

// Coordinator runs at most one token refresh at a time. Callers arriving
// while a refresh is in flight wait for that refresh and share its result;
// once it settles the next call starts a new one.
type Coordinator struct {
	group     singleflight.Group
	refresher Refresher
	cell      *credentials.TokenCell
	logger    zerolog.Logger
}

// NewCoordinator creates a coordinator that stores refreshed tokens in cell.
func NewCoordinator(refresher Refresher, cell *credentials.TokenCell, logger zerolog.Logger) *Coordinator {
	return &Coordinator{refresher: refresher, cell: cell, logger: logger}
}

// Refresh runs or joins the in-flight refresh and returns the new token.
func (c *Coordinator) Refresh(ctx context.Context) (string, error) {
	ch := c.group.DoChan("token", func() (any, error) {
		// Detached: a waiter giving up must not fail the refresh for the others.
		token, err := c.refresher.Refresh(context.WithoutCancel(ctx))
		if err != nil {
			tokenRefreshesTotal.WithLabelValues("failure").Inc()
			c.logger.Error().Err(err).Msg("Token refresh failed")
			return "", err
		}
		c.cell.Store(token)
		tokenRefreshesTotal.WithLabelValues("success").Inc()
		c.logger.Info().Msg("Token refreshed")
		return token, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return "", fmt.Errorf("refresh access token: %w", res.Err)
		}
		if res.Shared {
			c.logger.Debug().Msg("Joined in-flight token refresh")
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}
