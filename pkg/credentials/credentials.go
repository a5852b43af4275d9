// Package credentials holds the partner identity and the shared access token
// used to sign marketplace API calls.
package credentials

import (
	"errors"
	"sync/atomic"
	"time"
)

// ErrNoToken is returned when durable storage holds no token for the shop.
var ErrNoToken = errors.New("no access token stored")

// Credentials is the process-lifetime partner identity. Token is the only
// mutable part and is replaced wholesale on refresh.
type Credentials struct {
	PartnerID  int64
	PartnerKey string
	Host       string
	ShopID     int64
	Token      *TokenCell
}

// New returns credentials with an empty token cell.
func New(partnerID int64, partnerKey, host string, shopID int64) *Credentials {
	return &Credentials{
		PartnerID:  partnerID,
		PartnerKey: partnerKey,
		Host:       host,
		ShopID:     shopID,
		Token:      &TokenCell{},
	}
}

// TokenCell holds the current access token with atomic replace semantics.
type TokenCell struct {
	v atomic.Pointer[string]
}

// Load returns the current token, or "" if none was stored yet.
func (c *TokenCell) Load() string {
	if p := c.v.Load(); p != nil {
		return *p
	}
	return ""
}

// Store replaces the current token.
func (c *TokenCell) Store(token string) {
	c.v.Store(&token)
}

// Token is the durable token record.
type Token struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// Expired reports whether the access token is past its expiry.
// A zero expiry never expires.
func (t Token) Expired(now time.Time) bool {
	return !t.ExpiresAt.IsZero() && now.After(t.ExpiresAt)
}
