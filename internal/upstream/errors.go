package upstream

import (
	"errors"
	"fmt"
)

// Failure kinds. Every error returned by Client.Fetch wraps exactly one of
// these and can be matched with errors.Is.
var (
	ErrTimeout     = errors.New("upstream request timed out")
	ErrNetwork     = errors.New("upstream request failed")
	ErrStatus      = errors.New("upstream returned an unexpected status")
	ErrFormat      = errors.New("unexpected payload format from upstream")
	ErrRateLimited = errors.New("upstream rate limit exceeded")
	ErrCircuitOpen = errors.New("upstream circuit breaker is open")
	ErrCanceled    = errors.New("upstream request canceled by caller")
)

// Messages the upstream puts in the body of a 400 response.
const (
	messageTooManyRequests = "TOO_MANY_REQUEST"
	messageNoReferees      = "REFEREES_NOT_FOUND"
)

// Error describes a failed upstream call.
type Error struct {
	// Kind is one of the Err* sentinels above.
	Kind error
	// StatusCode is the HTTP status of the upstream response, 0 when no
	// response was received.
	StatusCode int
	// Message is the upstream `message` field, when the body carried one.
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Kind.Error()
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.StatusCode)
	}
	if e.Message != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Message)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	return e.Kind == target
}

// outcome is the metric/trace label for an error returned by Fetch.
func outcome(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrFormat):
		return "format"
	case errors.Is(err, ErrStatus):
		return "status"
	case errors.Is(err, ErrCircuitOpen):
		return "circuit_open"
	case errors.Is(err, ErrCanceled):
		return "canceled"
	default:
		return "network"
	}
}
