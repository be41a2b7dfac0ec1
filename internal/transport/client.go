// Package transport performs single JSON calls against the host
// application's API with a per-attempt timeout and bounded exponential
// backoff.
//
// Classification:
//   - timeout, network failure, non-2xx status: retryable
//   - unparseable 2xx body: ErrProtocol, returned immediately
//   - retries exhausted: ErrExhausted wrapping the last failure
//
// Callers see one call that resolves after all internal attempts.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/roach88/remsync/internal/errors"
	"github.com/roach88/remsync/internal/logger"
)

// Header names and fixed values sent on every call.
const (
	HeaderToken         = "requestverificationantiforgerytoken"
	HeaderClientVersion = "clientapiversion"
	contentType         = "application/json;charset=UTF-8"
	accept              = "application/json, text/plain, */*"
)

// Defaults for Client.
const (
	DefaultTimeout     = 15 * time.Second
	DefaultMaxAttempts = 3
	DefaultBaseDelay   = 500 * time.Millisecond
	DefaultAPIVersion  = "69"
)

// maxErrorBody caps how much of a failed response is kept for diagnostics.
const maxErrorBody = 512

var (
	// ErrExhausted is returned when every attempt failed with a retryable error.
	ErrExhausted = errors.New("transport exhausted")
	// ErrProtocol is returned when a successful response cannot be parsed.
	ErrProtocol = errors.New("protocol error")
)

// StatusError is a non-2xx response.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Body)
}

// Attempt describes one try of a call, reported to the OnAttempt hook.
type Attempt struct {
	Endpoint string
	Number   int
	Err      error
	Duration time.Duration
}

// Sleeper waits d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// Client calls the remote API.
type Client struct {
	baseURL     string
	apiVersion  string
	http        *http.Client
	timeout     time.Duration
	maxAttempts int
	baseDelay   time.Duration
	limiter     *rate.Limiter
	sleep       Sleeper
	onAttempt   func(Attempt)
	logger      *zap.SugaredLogger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// WithTimeout sets the per-attempt timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithRetry sets the attempt budget and the first backoff delay.
func WithRetry(maxAttempts int, baseDelay time.Duration) Option {
	return func(c *Client) {
		c.maxAttempts = maxAttempts
		c.baseDelay = baseDelay
	}
}

// WithAPIVersion sets the clientapiversion header value.
func WithAPIVersion(v string) Option {
	return func(c *Client) { c.apiVersion = v }
}

// WithRateLimit spaces outbound attempts. perSecond <= 0 disables it.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(c *Client) {
		if perSecond <= 0 {
			c.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

// WithSleeper replaces the backoff wait, for tests.
func WithSleeper(s Sleeper) Option {
	return func(c *Client) { c.sleep = s }
}

// WithAttemptHook registers a callback invoked after every attempt.
func WithAttemptHook(fn func(Attempt)) Option {
	return func(c *Client) { c.onAttempt = fn }
}

// WithLogger sets the logger.
func WithLogger(l *zap.SugaredLogger) Option {
	return func(c *Client) { c.logger = l }
}

// New creates a Client for the API rooted at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		apiVersion:  DefaultAPIVersion,
		http:        &http.Client{},
		timeout:     DefaultTimeout,
		maxAttempts: DefaultMaxAttempts,
		baseDelay:   DefaultBaseDelay,
		sleep:       sleepContext,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.maxAttempts < 1 {
		c.maxAttempts = 1
	}
	if c.logger == nil {
		c.logger = logger.Named(nil, "transport")
	}
	return c
}

// Backoff returns the wait before attempt n+1, given n failed attempts.
func (c *Client) Backoff(n int) time.Duration {
	if n < 1 {
		return 0
	}
	return c.baseDelay << (n - 1)
}

// Call sends body as JSON to endpoint and decodes a 2xx response into out.
// out may be nil, in which case the body is only checked to be valid JSON.
func (c *Client) Call(ctx context.Context, endpoint, method string, body any, token string, out any) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return errors.Wrapf(err, "encode %s request", endpoint)
		}
	}

	var lastErr error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		if attempt > 1 {
			wait := c.Backoff(attempt - 1)
			c.logger.Debugw("retrying call", "endpoint", endpoint, "attempt", attempt, "backoff", wait, "error", lastErr)
			if err := c.sleep(ctx, wait); err != nil {
				return errors.Wrapf(err, "%s: cancelled during backoff", endpoint)
			}
		}

		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return errors.Wrapf(err, "%s: rate limit wait", endpoint)
			}
		}

		started := time.Now()
		respBody, err := c.attempt(ctx, endpoint, method, payload, token)
		if c.onAttempt != nil {
			c.onAttempt(Attempt{Endpoint: endpoint, Number: attempt, Err: err, Duration: time.Since(started)})
		}
		if err == nil {
			return decode(endpoint, respBody, out)
		}
		if ctx.Err() != nil {
			return errors.Wrapf(ctx.Err(), "%s: attempt %d", endpoint, attempt)
		}

		lastErr = err
		c.logger.Warnw("call attempt failed", "endpoint", endpoint, "attempt", attempt, "max_attempts", c.maxAttempts, "error", err)
	}

	return errors.Mark(
		errors.Wrapf(lastErr, "%s failed after %d attempts", endpoint, c.maxAttempts),
		ErrExhausted,
	)
}

// attempt performs one request. Every returned error is retryable.
func (c *Client) attempt(ctx context.Context, endpoint, method string, payload []byte, token string) ([]byte, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(attemptCtx, method, c.baseURL+endpoint, reader)
	if err != nil {
		return nil, errors.Wrap(err, "build request")
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", accept)
	req.Header.Set(HeaderClientVersion, c.apiVersion)
	if token != "" {
		req.Header.Set(HeaderToken, token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "network error")
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "read response")
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: truncate(string(data), maxErrorBody)}
	}
	return data, nil
}

func decode(endpoint string, data []byte, out any) error {
	if out == nil {
		if len(bytes.TrimSpace(data)) == 0 || json.Valid(data) {
			return nil
		}
		return errors.Wrapf(ErrProtocol, "%s: response is not JSON", endpoint)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return errors.Mark(errors.Wrapf(err, "%s: decode response", endpoint), ErrProtocol)
	}
	return nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
