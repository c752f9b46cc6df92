package fetch

import (
	"fmt"
	"net/http"
)

// Kind classifies the final outcome of a failed fetch.
type Kind int

const (
	// KindExhausted means every attempt in the budget failed transiently.
	KindExhausted Kind = iota
	// KindTimeout means the total wall-clock budget ran out first.
	KindTimeout
	// KindNonRetryable means a response short-circuited the retry loop.
	KindNonRetryable
)

func (k Kind) String() string {
	switch k {
	case KindTimeout:
		return "timeout"
	case KindNonRetryable:
		return "non-retryable"
	default:
		return "exhausted"
	}
}

// Error is the terminal error of a fetch after the retry budget is spent.
type Error struct {
	Kind Kind
	URL  string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("fetch %s (%s): %v", e.URL, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// StatusError is a non-2xx HTTP response.
type StatusError struct {
	Code int
	URL  string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("http %d %s for %s", e.Code, http.StatusText(e.Code), e.URL)
}

// Retryable reports whether the status is worth another attempt. Client
// errors are final except 408 and 429; everything in 5xx is transient.
func (e *StatusError) Retryable() bool {
	if e.Code == http.StatusRequestTimeout || e.Code == http.StatusTooManyRequests {
		return true
	}
	return e.Code >= 500
}
