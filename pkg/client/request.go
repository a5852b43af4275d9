package client

import (
	"encoding/json"
	"net/http"
)

// AuthRequirement declares which identity a call carries.
type AuthRequirement int

const (
	// AuthNone signs with partner identity only.
	AuthNone AuthRequirement = iota

	// AuthToken adds the access token.
	AuthToken

	// AuthTokenAndShop adds the access token and the shop id.
	AuthTokenAndShop
)

func (a AuthRequirement) needsToken() bool { return a >= AuthToken }

func (a AuthRequirement) needsShop() bool { return a == AuthTokenAndShop }

// String returns the requirement name.
func (a AuthRequirement) String() string {
	switch a {
	case AuthNone:
		return "none"
	case AuthToken:
		return "token"
	case AuthTokenAndShop:
		return "token_and_shop"
	default:
		return "unknown"
	}
}

// Request describes one logical marketplace call.
type Request struct {
	// Method defaults to GET.
	Method string

	// Path is the API path, e.g. /api/v2/product/get_item_list. It is also the signed path.
	Path string

	Auth AuthRequirement

	// Params are call-specific query parameters. Nil values are omitted.
	Params map[string]any

	// Body is JSON-encoded for non-GET requests when set.
	Body any
}

func (r Request) method() string {
	if r.Method == "" {
		return http.MethodGet
	}
	return r.Method
}

// Envelope is the uniform shape of every marketplace response.
// Response must be treated as unusable when Error is non-empty.
type Envelope struct {
	Error     string          `json:"error"`
	Message   string          `json:"message"`
	Warning   string          `json:"warning,omitempty"`
	RequestID string          `json:"request_id"`
	Response  json.RawMessage `json:"response"`
}

// Failed reports whether the envelope carries a business error.
func (e *Envelope) Failed() bool {
	return e.Error != ""
}

// Outcome is the result of Client.Do. Exactly one of Envelope and Failure is set.
type Outcome struct {
	Envelope *Envelope
	Failure  *Failure
}

// OK reports whether the call reached a 2xx response.
func (o Outcome) OK() bool {
	return o.Failure == nil && o.Envelope != nil
}

// Err returns the failure as an error, or nil.
func (o Outcome) Err() error {
	if o.Failure == nil {
		return nil
	}
	return o.Failure
}
