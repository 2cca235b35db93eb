// Package providers implements the external completion collaborator.
package providers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// Message is one turn of a completion prompt.
type Message struct {
	Role    string `json:"role"` // "system", "user", "assistant"
	Content string `json:"content"`
}

// Request is the input for a single completion call.
type Request struct {
	Messages    []Message
	Model       string // overrides the provider default when set
	MaxTokens   int
	Temperature float64
}

// Completer is the completion collaborator. Implementations perform exactly
// one call per invocation; retry policy belongs to the caller.
type Completer interface {
	// Complete returns the model's text for the request.
	Complete(ctx context.Context, req Request) (string, error)

	// Name returns the provider identifier.
	Name() string
}

// HTTPError is a non-2xx response from a collaborator API.
type HTTPError struct {
	Status     int
	Body       string
	RetryAfter time.Duration // from the Retry-After header, 0 if absent
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("http %d: %s", e.Status, e.Body)
}

// Transient reports whether the failure is worth retrying.
func (e *HTTPError) Transient() bool {
	switch {
	case e.Status == http.StatusRequestTimeout, e.Status == http.StatusTooManyRequests:
		return true
	case e.Status >= 500:
		return true
	default:
		return false
	}
}

// IsTransient classifies an external-call failure. HTTP 4xx responses (other
// than 408/429) are permanent; timeouts, 5xx, and network-level failures are
// transient. A timeout counts as one failed attempt, not a special case.
func IsTransient(err error) bool {
	var he *HTTPError
	if errors.As(err, &he) {
		return he.Transient()
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	return true
}

// ParseRetryAfter interprets a Retry-After header value in seconds.
func ParseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}
