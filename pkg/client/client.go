// Package client provides the marketplace partner API client with request
// signing, single-flight token refresh and rate-limit backoff.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/Sternrassler/catalog-sync/pkg/credentials"
	"github.com/Sternrassler/catalog-sync/pkg/signer"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Prometheus metrics for marketplace API calls.
var (
	apiRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "catalog_api_requests_total",
		Help: "Total marketplace API attempts by endpoint and status",
	}, []string{"endpoint", "status"})

	apiRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "catalog_api_request_duration_seconds",
		Help:    "Marketplace API logical call duration in seconds by endpoint",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 120},
	}, []string{"endpoint"})

	apiFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "catalog_api_failures_total",
		Help: "Total terminal marketplace API failures by class",
	}, []string{"class"})
)

// Pacer gates outgoing attempts to a steady rate.
type Pacer interface {
	Wait(ctx context.Context) error
}

// CooldownTracker shares rate-limit backpressure across calls.
type CooldownTracker interface {
	Cooldown(ctx context.Context) (time.Duration, error)
	RecordThrottle(ctx context.Context, wait time.Duration) error
}

// Config holds the client configuration.
type Config struct {
	// Credentials are required. The token cell is read on every signed attempt.
	Credentials *credentials.Credentials

	// Signer defaults to HMAC over Credentials.PartnerKey.
	Signer signer.Signer

	// Refresher is required; it is wrapped in a Coordinator.
	Refresher Refresher

	// Pacer and Cooldown are optional.
	Pacer    Pacer
	Cooldown CooldownTracker

	// Timeout per HTTP attempt.
	Timeout time.Duration
}

// DefaultConfig returns a configuration with default timeout and signer.
func DefaultConfig(creds *credentials.Credentials, refresher Refresher) Config {
	return Config{
		Credentials: creds,
		Refresher:   refresher,
		Timeout:     30 * time.Second,
	}
}

// Client is the resilient marketplace API client.
type Client struct {
	httpClient  *http.Client
	creds       *credentials.Credentials
	signer      signer.Signer
	coordinator *Coordinator
	pacer       Pacer
	cooldown    CooldownTracker
	logger      zerolog.Logger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a new client.
func New(cfg Config) (*Client, error) {
	if cfg.Credentials == nil {
		return nil, fmt.Errorf("credentials are required")
	}
	if cfg.Credentials.Host == "" {
		return nil, fmt.Errorf("host is required")
	}
	if cfg.Credentials.Token == nil {
		return nil, fmt.Errorf("token cell is required")
	}
	if cfg.Refresher == nil {
		return nil, fmt.Errorf("refresher is required")
	}
	if cfg.Signer == nil {
		cfg.Signer = signer.NewHMAC(cfg.Credentials.PartnerKey)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	logger := log.With().Str("component", "marketplace-client").Logger()

	return &Client{
		httpClient:  &http.Client{Timeout: cfg.Timeout},
		creds:       cfg.Credentials,
		signer:      cfg.Signer,
		coordinator: NewCoordinator(cfg.Refresher, cfg.Credentials.Token, logger),
		pacer:       cfg.Pacer,
		cooldown:    cfg.Cooldown,
		logger:      logger,
		now:         time.Now,
		sleep:       sleepContext,
	}, nil
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}

// Coordinator returns the token refresh coordinator.
func (c *Client) Coordinator() *Coordinator {
	return c.coordinator
}

// attemptResult is the raw result of one HTTP attempt.
type attemptResult struct {
	status int
	header http.Header
	body   []byte
}

// Do performs a logical call. Retries are sequential: auth failures refresh
// the token and retry, 429s back off and retry, anything else is terminal.
// Business errors in a 2xx envelope are returned as Ok for the caller to assert.
func (c *Client) Do(ctx context.Context, req Request) (out Outcome) {
	endpoint := req.Path
	startTime := time.Now()
	defer func() {
		apiRequestDuration.WithLabelValues(endpoint).Observe(time.Since(startTime).Seconds())
	}()

	defer func() {
		if r := recover(); r != nil {
			c.logger.Error().
				Str("endpoint", endpoint).
				Interface("panic", r).
				Msg("Unexpected panic during marketplace call")
			out = c.fail(endpoint, &Failure{Class: FailureUnknown, Message: "unknown error", Err: fmt.Errorf("panic: %v", r)})
		}
	}()

	var body []byte
	if req.Body != nil && req.method() != http.MethodGet {
		var err error
		if body, err = json.Marshal(req.Body); err != nil {
			return c.fail(endpoint, &Failure{Class: FailureUnknown, Message: "encode request body", Err: err})
		}
	}

	if req.Auth.needsToken() && c.creds.Token.Load() == "" {
		c.logger.Warn().Str("endpoint", endpoint).Msg("No access token loaded - refreshing before first attempt")
		if _, err := c.coordinator.Refresh(ctx); err != nil {
			return c.fail(endpoint, &Failure{Class: FailureAuthRefresh, Message: "no access token", Err: err})
		}
		if c.creds.Token.Load() == "" {
			return c.fail(endpoint, &Failure{Class: FailureAuthRefresh, Message: "no access token", Err: credentials.ErrNoToken})
		}
	}

	var state RetryState
	for attempt := 1; ; attempt++ {
		if err := c.holdBack(ctx, &state); err != nil {
			return c.fail(endpoint, &Failure{Class: FailureTransport, Message: "waiting to send", Err: err})
		}

		res, err := c.attempt(ctx, req, body)
		if err != nil {
			c.logger.Error().Err(err).Str("endpoint", endpoint).Int("attempt", attempt).Msg("HTTP request failed")
			apiRequestsTotal.WithLabelValues(endpoint, "network_error").Inc()
			return c.fail(endpoint, &Failure{Class: FailureTransport, Err: err})
		}
		apiRequestsTotal.WithLabelValues(endpoint, strconv.Itoa(res.status)).Inc()

		switch {
		case res.status >= 200 && res.status < 300:
			var env Envelope
			if err := json.Unmarshal(res.body, &env); err != nil {
				return c.fail(endpoint, &Failure{
					Class:      FailureDecode,
					StatusCode: res.status,
					Message:    "decode envelope",
					RawBody:    res.body,
					Err:        err,
				})
			}
			if attempt > 1 {
				c.logger.Info().
					Str("endpoint", endpoint).
					Int("attempt", attempt).
					Msg("Request succeeded after retry")
			}
			return Outcome{Envelope: &env}

		case res.status == http.StatusUnauthorized || res.status == http.StatusForbidden:
			state.AuthRefreshTries++
			if state.AuthRefreshTries > MaxAuthRefreshTries {
				apiRetryExhaustedTotal.WithLabelValues("auth").Inc()
				c.logger.Warn().
					Str("endpoint", endpoint).
					Int("refresh_tries", MaxAuthRefreshTries).
					Msg("Auth refresh attempts exhausted")
				return c.fail(endpoint, httpFailure(FailureAuthExhausted, res, ErrRefreshExhausted))
			}

			apiRetriesTotal.WithLabelValues("auth").Inc()
			c.logger.Warn().
				Str("endpoint", endpoint).
				Int("status", res.status).
				Int("refresh_try", state.AuthRefreshTries).
				Msg("Auth rejected - refreshing token")

			if _, err := c.coordinator.Refresh(ctx); err != nil {
				return c.fail(endpoint, httpFailure(FailureAuthRefresh, res, err))
			}

		case res.status == http.StatusTooManyRequests:
			state.AuthRefreshTries = 0

			hint := parseRetryAfter(res.header, c.now())
			wait, ok := state.nextRateLimitWait(hint)
			if !ok {
				apiRetryExhaustedTotal.WithLabelValues("rate_limit").Inc()
				c.logger.Warn().
					Str("endpoint", endpoint).
					Int("rate_limit_tries", state.RateLimitTries).
					Dur("waited", state.RateLimitWaited).
					Msg("Rate-limit wait budget exhausted")
				return c.fail(endpoint, httpFailure(FailureRateLimitExhausted, res, ErrRateLimitBudgetExhausted))
			}

			apiRetriesTotal.WithLabelValues("rate_limit").Inc()
			apiRetryWaitSeconds.Observe(wait.Seconds())
			c.logger.Warn().
				Str("endpoint", endpoint).
				Int("attempt", attempt).
				Dur("retry_after", hint).
				Dur("wait", wait).
				Msg("Rate limited - backing off")

			if c.cooldown != nil {
				if err := c.cooldown.RecordThrottle(ctx, wait); err != nil {
					c.logger.Warn().Err(err).Msg("Failed to record shared cooldown")
				}
			}
			if err := c.sleep(ctx, wait); err != nil {
				return c.fail(endpoint, &Failure{Class: FailureTransport, Message: "rate-limit backoff interrupted", Err: err})
			}

		default:
			return c.fail(endpoint, httpFailure(FailureHTTP, res, nil))
		}
	}
}

// holdBack applies pacing and any shared cooldown before an attempt. Cooldown
// sleeps count toward the call's rate-limit budget and never exceed what is
// left of it.
func (c *Client) holdBack(ctx context.Context, state *RetryState) error {
	if c.cooldown != nil {
		wait, err := c.cooldown.Cooldown(ctx)
		if err != nil {
			c.logger.Warn().Err(err).Msg("Shared cooldown check failed")
		} else if wait > 0 {
			if remaining := RateLimitBudget - state.RateLimitWaited; wait > remaining {
				wait = remaining
			}
			if wait > 0 {
				state.RateLimitWaited += wait
				c.logger.Debug().Dur("wait", wait).Msg("Waiting for shared cooldown")
				if err := c.sleep(ctx, wait); err != nil {
					return err
				}
			}
		}
	}
	if c.pacer != nil {
		return c.pacer.Wait(ctx)
	}
	return nil
}

// attempt signs and executes a single HTTP request.
func (c *Client) attempt(ctx context.Context, req Request, body []byte) (*attemptResult, error) {
	ts := c.now().Unix()
	in := signer.Input{PartnerID: c.creds.PartnerID, Path: req.Path, Timestamp: ts}

	q, err := encodeParams(req.Params)
	if err != nil {
		return nil, err
	}
	q.Set("partner_id", strconv.FormatInt(c.creds.PartnerID, 10))
	q.Set("timestamp", strconv.FormatInt(ts, 10))
	if req.Auth.needsToken() {
		in.WithToken = true
		in.AccessToken = c.creds.Token.Load()
		q.Set("access_token", in.AccessToken)
	}
	if req.Auth.needsShop() {
		in.WithShop = true
		in.ShopID = c.creds.ShopID
		q.Set("shop_id", strconv.FormatInt(c.creds.ShopID, 10))
	}
	q.Set("sign", c.signer.Sign(in))

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.method(), c.creds.Host+req.Path+"?"+q.Encode(), reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	c.logger.Debug().
		Str("endpoint", req.Path).
		Str("method", httpReq.Method).
		Str("auth", req.Auth.String()).
		Msg("Executing marketplace request")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	return &attemptResult{status: resp.StatusCode, header: resp.Header, body: data}, nil
}

// fail records a terminal failure and wraps it in an Outcome.
func (c *Client) fail(endpoint string, f *Failure) Outcome {
	apiFailuresTotal.WithLabelValues(string(f.Class)).Inc()
	c.logger.Debug().
		Str("endpoint", endpoint).
		Str("error_class", string(f.Class)).
		Int("status", f.StatusCode).
		Msg("Marketplace call failed")
	return Outcome{Failure: f}
}

// httpFailure builds a failure from a non-2xx response, lifting the envelope
// error code and message when the body carries one.
func httpFailure(class FailureClass, res *attemptResult, err error) *Failure {
	f := &Failure{
		Class:      class,
		StatusCode: res.status,
		Message:    http.StatusText(res.status),
		RawBody:    res.body,
		Err:        err,
	}
	var env Envelope
	if json.Unmarshal(res.body, &env) == nil {
		f.Code = env.Error
		if env.Message != "" {
			f.Message = env.Message
		}
	}
	return f
}
