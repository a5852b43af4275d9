package catalog

import (
	"fmt"

	"github.com/Sternrassler/catalog-sync/pkg/client"
)

// BusinessError is a failure reported inside a 2xx envelope.
type BusinessError struct {
	Code      string
	Message   string
	RequestID string
}

// Error implements the error interface.
func (e *BusinessError) Error() string {
	msg := "marketplace business error: " + e.Code
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.RequestID != "" {
		msg += fmt.Sprintf(" (request %s)", e.RequestID)
	}
	return msg
}

// RequireOK asserts that out is a 2xx envelope without a business error.
// Transport-level failures are returned as *client.Failure.
func RequireOK(out client.Outcome) (*client.Envelope, error) {
	if out.Failure != nil {
		return nil, out.Failure
	}
	if out.Envelope == nil {
		return nil, &client.Failure{Class: client.FailureUnknown, Message: "unknown error"}
	}
	if out.Envelope.Failed() {
		return nil, &BusinessError{
			Code:      out.Envelope.Error,
			Message:   out.Envelope.Message,
			RequestID: out.Envelope.RequestID,
		}
	}
	return out.Envelope, nil
}
