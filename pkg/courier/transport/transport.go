// Package transport wraps outbound courier HTTP calls with timeouts,
// bounded retries, exponential backoff, and error classification.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"time"

	"github.com/shipbridge/courier-gateway/pkg/courier"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
)

// Config holds retry and timeout parameters for the transport.
type Config struct {
	// MaxAttempts is the total number of attempts per logical request.
	MaxAttempts int
	// BaseDelay is the backoff base: delay = BaseDelay * 2^(attempt-1).
	BaseDelay time.Duration
	// Timeout is the hard per-request timeout.
	Timeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = time.Second
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	return c
}

// StatusError is a non-2xx response from the courier. 4xx responses are
// terminal and surface this error directly; 5xx responses are retried and
// end up as the cause of a courier.TransportError once attempts run out.
type StatusError struct {
	URL        string
	StatusCode int
	Body       []byte
}

// Error implements the error interface.
func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d from %s", e.StatusCode, e.URL)
}

// Observer receives the outcome of every individual attempt, successful or
// not. statusCode is 0 for connection-level failures.
type Observer interface {
	ObserveAttempt(method, url string, statusCode, attempt int, err error)
}

// Client sends logical requests to courier APIs with retries.
type Client struct {
	httpClient *http.Client
	cfg        Config
	logger     *otelzap.Logger
	observer   Observer
	sleep      func(ctx context.Context, d time.Duration) error
}

// New creates a transport client.
func New(cfg Config, logger *otelzap.Logger) *Client {
	cfg = cfg.withDefaults()
	return &Client{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		cfg:        cfg,
		logger:     logger,
		sleep:      sleepCtx,
	}
}

// WithObserver attaches an attempt observer (e.g., metrics).
func (c *Client) WithObserver(o Observer) *Client {
	c.observer = o
	return c
}

// PostJSON sends a JSON POST and decodes a 2xx response body into out.
func (c *Client) PostJSON(ctx context.Context, url string, payload any, headers http.Header, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshaling request body: %w", err)
	}
	return c.doJSON(ctx, http.MethodPost, url, body, headers, out)
}

// GetJSON sends a GET and decodes a 2xx response body into out.
func (c *Client) GetJSON(ctx context.Context, url string, headers http.Header, out any) error {
	return c.doJSON(ctx, http.MethodGet, url, nil, headers, out)
}

func (c *Client) doJSON(ctx context.Context, method, url string, body []byte, headers http.Header, out any) error {
	respBody, err := c.do(ctx, method, url, body, headers)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("decoding response from %s: %w", url, err)
	}
	return nil
}

// do performs one logical request. 2xx returns the body. 4xx fails
// immediately with a StatusError. 5xx and connection-level failures are
// retried with exponential backoff until attempts are exhausted.
func (c *Client) do(ctx context.Context, method, url string, body []byte, headers http.Header) ([]byte, error) {
	var lastErr error

	for attempt := 1; attempt <= c.cfg.MaxAttempts; attempt++ {
		if attempt > 1 {
			if err := c.sleep(ctx, c.backoff(attempt-1)); err != nil {
				return nil, err
			}
		}

		respBody, status, err := c.attempt(ctx, method, url, body, headers)
		if c.observer != nil {
			c.observer.ObserveAttempt(method, url, status, attempt, err)
		}

		if err == nil && status < 300 {
			return respBody, nil
		}

		if err == nil && status >= 400 && status < 500 {
			// Client error: retrying cannot help.
			c.logger.Ctx(ctx).Error("Courier request rejected",
				zap.String("url", url),
				zap.Int("status", status),
				zap.Int("attempt", attempt),
			)
			return nil, &StatusError{URL: url, StatusCode: status, Body: respBody}
		}

		if err != nil {
			lastErr = err
		} else {
			lastErr = &StatusError{URL: url, StatusCode: status, Body: respBody}
		}

		c.logger.Ctx(ctx).Warn("Courier request attempt failed",
			zap.String("url", url),
			zap.Int("status", status),
			zap.Int("attempt", attempt),
			zap.Error(lastErr),
		)
	}

	c.logger.Ctx(ctx).Error("Courier request failed after retries",
		zap.String("url", url),
		zap.Int("attempts", c.cfg.MaxAttempts),
		zap.Error(lastErr),
	)
	return nil, &courier.TransportError{URL: url, Attempts: c.cfg.MaxAttempts, Cause: lastErr}
}

func (c *Client) attempt(ctx context.Context, method, url string, body []byte, headers http.Header) ([]byte, int, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, 0, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	for k, vals := range headers {
		for _, v := range vals {
			req.Header.Add(k, v)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("reading response body: %w", err)
	}
	return respBody, resp.StatusCode, nil
}

// backoff returns the delay before the given retry with a small additive
// jitter, keeping delays strictly increasing between attempts.
func (c *Client) backoff(retry int) time.Duration {
	delay := c.cfg.BaseDelay * time.Duration(1<<(retry-1))
	jitter := time.Duration(rand.Int63n(int64(delay)/4 + 1))
	return delay + jitter
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
