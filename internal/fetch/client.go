// Package fetch provides the resilient HTTP client shared by all upstream
// fetchers. Every request goes through a circuit breaker and a bounded
// retry loop with exponential backoff; 429 and 5xx responses count as
// retryable failures, other 4xx responses fail immediately.
package fetch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/sony/gobreaker"

	"github.com/europanel/panel-etl/internal/config"
	"github.com/europanel/panel-etl/internal/observability"
)

// ErrUpstream marks failures caused by the upstream service: non-2xx
// responses and transport errors. Callers use it to decide whether a
// source can be skipped for the run.
var ErrUpstream = errors.New("upstream error")

// retryableError marks a failure worth retrying (timeouts, 429, 5xx).
type retryableError struct {
	err error
}

func (e *retryableError) Error() string { return e.err.Error() }
func (e *retryableError) Unwrap() error { return e.err }

// Client is a named upstream HTTP client. The name labels metrics and log
// lines and scopes the circuit breaker, so each upstream trips
// independently.
type Client struct {
	source     string
	hc         *http.Client
	breaker    *gobreaker.CircuitBreaker
	maxRetries int
	backoffMin time.Duration
	backoffMax time.Duration
	metrics    *observability.Metrics
	logger     *slog.Logger
}

// NewClient builds a client for one upstream source. timeout bounds each
// individual attempt, not the whole retry loop.
func NewClient(source string, timeout time.Duration, cfg *config.Config, m *observability.Metrics, logger *slog.Logger) *Client {
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    source,
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})
	return &Client{
		source:     source,
		hc:         &http.Client{Timeout: timeout},
		breaker:    breaker,
		maxRetries: cfg.FetchMaxRetries,
		backoffMin: cfg.FetchBackoffMin,
		backoffMax: cfg.FetchBackoffMax,
		metrics:    m,
		logger:     logger.With("source", source),
	}
}

// Get fetches url and returns the response body.
func (c *Client) Get(ctx context.Context, url string) ([]byte, error) {
	return c.do(ctx, func() (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	})
}

// Post sends body to url and returns the response body.
func (c *Client) Post(ctx context.Context, url, contentType string, body []byte) ([]byte, error) {
	return c.do(ctx, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", contentType)
		return req, nil
	})
}

// do runs the retry loop. newReq is called per attempt so the request body
// is fresh each time.
func (c *Client) do(ctx context.Context, newReq func() (*http.Request, error)) ([]byte, error) {
	backoff := c.backoffMin
	var lastErr error

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			c.metrics.FetchRetries.WithLabelValues(c.source).Inc()
			c.logger.Warn("retrying request", "attempt", attempt, "backoff", backoff, "err", lastErr)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > c.backoffMax {
				backoff = c.backoffMax
			}
		}

		body, err := c.attempt(newReq)
		if err == nil {
			c.metrics.FetchRequests.WithLabelValues(c.source, "success").Inc()
			return body, nil
		}
		c.metrics.FetchRequests.WithLabelValues(c.source, "error").Inc()
		lastErr = err

		var retryable *retryableError
		if !errors.As(err, &retryable) {
			return nil, err
		}
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("%s: exhausted %d retries: %w", c.source, c.maxRetries, lastErr)
}

func (c *Client) attempt(newReq func() (*http.Request, error)) ([]byte, error) {
	start := time.Now()
	result, err := c.breaker.Execute(func() (interface{}, error) {
		req, err := newReq()
		if err != nil {
			return nil, err
		}
		resp, err := c.hc.Do(req)
		if err != nil {
			return nil, &retryableError{err: fmt.Errorf("%w: %v", ErrUpstream, err)}
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			body, err := io.ReadAll(resp.Body)
			if err != nil {
				return nil, &retryableError{err: err}
			}
			return body, nil
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			return nil, &retryableError{err: fmt.Errorf("%w: %s returned %d", ErrUpstream, req.URL.Host, resp.StatusCode)}
		default:
			return nil, fmt.Errorf("%w: %s returned %d", ErrUpstream, req.URL.Host, resp.StatusCode)
		}
	})
	c.metrics.FetchDuration.WithLabelValues(c.source).Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, err
	}
	return result.([]byte), nil
}
