// Package fetch is the engine's retrying HTTP layer. A single Client with one
// Budget serves playlist and segment requests alike; it knows nothing about
// the content it retrieves.
package fetch

import (
	"context"
	"crypto/tls"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"

	"github.com/whisper-darkly/hls-grabber/logger"
)

const userAgent = "hls-grabber/1.0"

// Budget bounds a single Fetch invocation: at most MaxAttempts tries, Delay
// apart, all inside a TotalTimeout wall-clock deadline. Stateless; a fresh
// attempt counter is created per call.
type Budget struct {
	TotalTimeout time.Duration
	MaxAttempts  int
	Delay        time.Duration
}

// Client wraps http.Client with the retry budget and a stable User-Agent.
type Client struct {
	http   *http.Client
	budget Budget
	log    zerolog.Logger
}

// NewClient creates a Client. With insecure set, TLS certificate
// verification is disabled.
func NewClient(budget Budget, insecure bool) *Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if insecure {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} // #nosec G402
	}
	if budget.MaxAttempts < 1 {
		budget.MaxAttempts = 1
	}

	return &Client{
		http:   &http.Client{Transport: transport},
		budget: budget,
		log:    logger.WithComponent("fetch"),
	}
}

// Fetch GETs url and returns the body, retrying per the budget. Transient
// failures (transport errors, retryable statuses) are retried; non-retryable
// statuses short-circuit. The final failure is reported as *Error unless the
// parent context was canceled.
func (c *Client) Fetch(ctx context.Context, url string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.budget.TotalTimeout)
	defer cancel()

	attempt := 0
	op := func() ([]byte, error) {
		attempt++
		data, err := c.get(ctx, url)
		if err == nil {
			return data, nil
		}
		var se *StatusError
		if errors.As(err, &se) && !se.Retryable() {
			return nil, backoff.Permanent(err)
		}
		c.log.Debug().Str("url", url).Int("attempt", attempt).Err(err).Msg("fetch attempt failed")
		return nil, err
	}

	data, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(backoff.NewConstantBackOff(c.budget.Delay)),
		backoff.WithMaxTries(uint(c.budget.MaxAttempts)),
		backoff.WithMaxElapsedTime(c.budget.TotalTimeout),
	)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, &Error{Kind: classify(err), URL: url, Err: err}
	}
	return data, nil
}

func classify(err error) Kind {
	var se *StatusError
	if errors.As(err, &se) && !se.Retryable() {
		return KindNonRetryable
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	return KindExhausted
}

func (c *Client) get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, &StatusError{Code: resp.StatusCode, URL: url}
	}

	return io.ReadAll(resp.Body)
}
