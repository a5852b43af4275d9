// Package ratelimit shares marketplace rate-limit backpressure between calls
// and processes, and paces outgoing requests.
package ratelimit

import (
	"strconv"
	"time"
)

// Redis key prefixes for shared rate limit state. Keys are suffixed with the
// partner id because the marketplace limits per partner application.
const (
	RedisKeyCooldownPrefix  = "catalog:rate_limit:cooldown:"
	RedisKeyThrottlesPrefix = "catalog:rate_limit:throttles:"
)

// MaxCooldown caps a single shared cooldown window.
const MaxCooldown = 5 * time.Minute

// State is a snapshot of the shared rate limit state for a partner.
type State struct {
	// CooldownRemaining is how long callers should hold off before the next request.
	CooldownRemaining time.Duration `json:"cooldown_remaining"`

	// Throttles is the number of 429 responses recorded for the partner.
	Throttles int64 `json:"throttles"`
}

// CoolingDown reports whether requests should currently be held back.
func (s *State) CoolingDown() bool {
	return s.CooldownRemaining > 0
}

func cooldownKey(partnerID int64) string {
	return RedisKeyCooldownPrefix + strconv.FormatInt(partnerID, 10)
}

func throttlesKey(partnerID int64) string {
	return RedisKeyThrottlesPrefix + strconv.FormatInt(partnerID, 10)
}
