package client

import (
	"errors"
	"fmt"
)

// Sentinel errors carried by terminal failures.
var (
	// ErrRefreshExhausted is returned when auth refresh attempts are exhausted.
	ErrRefreshExhausted = errors.New("refresh exhausted")

	// ErrRateLimitBudgetExhausted is returned when the cumulative rate-limit wait budget is spent.
	ErrRateLimitBudgetExhausted = errors.New("rate-limit budget exhausted")
)

// FailureClass classifies a terminal failure.
type FailureClass string

const (
	// FailureAuthExhausted means the call kept failing auth after MaxAuthRefreshTries refreshes.
	FailureAuthExhausted FailureClass = "auth_exhausted"

	// FailureAuthRefresh means the token refresh itself failed.
	FailureAuthRefresh FailureClass = "auth_refresh"

	// FailureRateLimitExhausted means the call would exceed RateLimitBudget.
	FailureRateLimitExhausted FailureClass = "rate_limit_exhausted"

	// FailureHTTP is any other non-2xx status.
	FailureHTTP FailureClass = "http"

	// FailureTransport represents DNS, timeout, connection and context errors.
	FailureTransport FailureClass = "transport"

	// FailureDecode means a 2xx body was not a valid envelope.
	FailureDecode FailureClass = "decode"

	// FailureUnknown is anything unexpected, recovered inside the client.
	FailureUnknown FailureClass = "unknown"
)

// Failure is a terminal, non-retried outcome of a call.
type Failure struct {
	Class      FailureClass
	StatusCode int
	// Code is the envelope "error" field of the failed response, if any.
	Code    string
	Message string
	RawBody []byte
	Err     error
}

// Error implements the error interface.
func (f *Failure) Error() string {
	msg := fmt.Sprintf("marketplace %s failure", f.Class)
	if f.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", f.StatusCode)
	}
	if f.Code != "" {
		msg += ": " + f.Code
	}
	if f.Message != "" {
		msg += ": " + f.Message
	}
	if f.Err != nil {
		msg += ": " + f.Err.Error()
	}
	return msg
}

// Unwrap implements error unwrapping for errors.Is/As.
func (f *Failure) Unwrap() error {
	return f.Err
}

// Retryable reports whether a higher-level caller may reasonably retry the
// whole logical operation later.
func (f *Failure) Retryable() bool {
	switch f.Class {
	case FailureTransport, FailureRateLimitExhausted:
		return true
	case FailureHTTP:
		return f.StatusCode >= 500
	default:
		return false
	}
}
