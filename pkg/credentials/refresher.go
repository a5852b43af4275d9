package credentials

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/Sternrassler/catalog-sync/pkg/signer"
	"github.com/rs/zerolog"
)

// RefreshPath is the marketplace endpoint that exchanges a refresh token.
const RefreshPath = "/api/v2/auth/access_token/get"

// EndpointRefresher obtains a new access token from the marketplace using
// the stored refresh token and persists the returned pair.
type EndpointRefresher struct {
	creds      *Credentials
	durable    TokenStore
	signer     signer.Signer
	httpClient *http.Client
	logger     zerolog.Logger
	now        func() time.Time
}

// NewEndpointRefresher creates a refresher that calls RefreshPath on creds.Host.
func NewEndpointRefresher(creds *Credentials, durable TokenStore, s signer.Signer, logger zerolog.Logger) *EndpointRefresher {
	return &EndpointRefresher{
		creds:      creds,
		durable:    durable,
		signer:     s,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     logger,
		now:        time.Now,
	}
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (r *EndpointRefresher) SetHTTPClient(client *http.Client) {
	r.httpClient = client
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
	PartnerID    int64  `json:"partner_id"`
	ShopID       int64  `json:"shop_id"`
}

type refreshResponse struct {
	Error        string `json:"error"`
	Message      string `json:"message"`
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpireIn     int64  `json:"expire_in"`
}

// Refresh exchanges the stored refresh token for a new token pair.
func (r *EndpointRefresher) Refresh(ctx context.Context) (string, error) {
	current, err := r.durable.Get(ctx, r.creds.ShopID)
	if err != nil {
		return "", fmt.Errorf("load refresh token: %w", err)
	}
	if current.RefreshToken == "" {
		return "", fmt.Errorf("shop %d has no refresh token", r.creds.ShopID)
	}

	now := r.now()
	ts := now.Unix()
	sign := r.signer.Sign(signer.Input{PartnerID: r.creds.PartnerID, Path: RefreshPath, Timestamp: ts})

	q := url.Values{}
	q.Set("partner_id", strconv.FormatInt(r.creds.PartnerID, 10))
	q.Set("timestamp", strconv.FormatInt(ts, 10))
	q.Set("sign", sign)

	body, err := json.Marshal(refreshRequest{
		RefreshToken: current.RefreshToken,
		PartnerID:    r.creds.PartnerID,
		ShopID:       r.creds.ShopID,
	})
	if err != nil {
		return "", fmt.Errorf("encode refresh request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.creds.Host+RefreshPath+"?"+q.Encode(), bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create refresh request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("refresh request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read refresh response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("refresh failed (status %d): %s", resp.StatusCode, raw)
	}

	var out refreshResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("decode refresh response: %w", err)
	}
	if out.Error != "" {
		return "", fmt.Errorf("refresh rejected: %s: %s", out.Error, out.Message)
	}
	if out.AccessToken == "" {
		return "", fmt.Errorf("refresh response carried no access token")
	}

	next := Token{
		AccessToken:  out.AccessToken,
		RefreshToken: out.RefreshToken,
	}
	if next.RefreshToken == "" {
		next.RefreshToken = current.RefreshToken
	}
	if out.ExpireIn > 0 {
		next.ExpiresAt = now.Add(time.Duration(out.ExpireIn) * time.Second)
	}

	if err := r.durable.Put(ctx, r.creds.ShopID, next); err != nil {
		return "", fmt.Errorf("persist refreshed token: %w", err)
	}

	r.logger.Info().
		Int64("shop_id", r.creds.ShopID).
		Time("expires_at", next.ExpiresAt).
		Msg("Access token refreshed")

	return next.AccessToken, nil
}
