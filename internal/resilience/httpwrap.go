package resilience

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// ErrUpstreamStatus marks attempts that ended with a retryable status.
var ErrUpstreamStatus = errors.New("resilience: upstream error status")

// HTTPClient wraps an http.Client with per-attempt timeouts, retries with
// backoff and a circuit breaker. 5xx and 429 responses are retried and count
// as breaker failures; other statuses are returned to the caller.
type HTTPClient struct {
	Client      *http.Client
	Breaker     *Breaker
	BaseBackoff time.Duration
	// MaxBackoff caps both computed delays and Retry-After hints.
	MaxBackoff  time.Duration
	MaxAttempts int
	Jitter      float64
	Timeout     time.Duration
	Fallback    func(context.Context, *http.Request, error) (*http.Response, error)
}

// Do executes req. Its body is buffered so every attempt sends the same
// payload. When the breaker is open ErrOpenCircuit is returned unless a
// fallback is configured.
func (cl HTTPClient) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	if cl.Client == nil {
		return nil, errors.New("resilience: http client not configured")
	}
	attempts := cl.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	breaker := cl.Breaker
	if breaker == nil {
		// needs more samples than attempts, so it never trips on its own
		breaker = NewBreaker(BreakerSettings{Target: req.URL.Host, MinRequests: attempts + 1, FailureRatio: 1})
	}

	body, err := bufferBody(req)
	if err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if !breaker.Allow(ctx) {
			lastErr = ErrOpenCircuit
			break
		}
		resp, err := cl.attempt(ctx, req, body)
		result := classify(resp, err)
		UpstreamAttempts.WithLabelValues(breaker.Target(), result).Inc()

		if result == "ok" || result == "client_error" {
			breaker.Report(ctx, true)
			return resp, nil
		}
		breaker.Report(ctx, false)

		wait := Backoff(cl.baseBackoff(), attempt, cl.Jitter)
		if err != nil {
			lastErr = err
		} else {
			lastErr = fmt.Errorf("%w: %s", ErrUpstreamStatus, resp.Status)
			if hint, ok := retryAfter(resp); ok {
				wait = hint
			}
			_, _ = io.Copy(io.Discard, resp.Body)
			_ = resp.Body.Close()
		}
		if attempt == attempts {
			break
		}
		if err := sleep(ctx, cl.capBackoff(wait)); err != nil {
			return nil, err
		}
	}

	if cl.Fallback != nil {
		return cl.Fallback(ctx, req, lastErr)
	}
	return nil, lastErr
}

func (cl HTTPClient) attempt(ctx context.Context, req *http.Request, body []byte) (*http.Response, error) {
	timeout := cl.Timeout
	if timeout <= 0 {
		timeout = cl.Client.Timeout
	}
	var (
		callCtx context.Context
		cancel  context.CancelFunc
	)
	if timeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, timeout)
	} else {
		callCtx, cancel = context.WithCancel(ctx)
	}
	clone := req.Clone(callCtx)
	if body != nil {
		clone.Body = io.NopCloser(bytes.NewReader(body))
	}
	resp, err := cl.Client.Do(clone)
	if err != nil {
		cancel()
		return nil, err
	}
	resp.Body = &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}
	return resp, nil
}

func (cl HTTPClient) baseBackoff() time.Duration {
	if cl.BaseBackoff <= 0 {
		return 100 * time.Millisecond
	}
	return cl.BaseBackoff
}

func (cl HTTPClient) capBackoff(d time.Duration) time.Duration {
	limit := cl.MaxBackoff
	if limit <= 0 {
		limit = 5 * time.Second
	}
	if d > limit {
		return limit
	}
	if d < 0 {
		return 0
	}
	return d
}

// cancelOnClose releases the per-attempt context once the caller is done
// reading the body.
type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}

func classify(resp *http.Response, err error) string {
	switch {
	case err != nil:
		return "transport_error"
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return "server_error"
	case resp.StatusCode >= 400:
		return "client_error"
	default:
		return "ok"
	}
}

// retryAfter reads a delay-seconds Retry-After header.
func retryAfter(resp *http.Response) (time.Duration, bool) {
	raw := strings.TrimSpace(resp.Header.Get("Retry-After"))
	if raw == "" {
		return 0, false
	}
	secs, err := strconv.Atoi(raw)
	if err != nil || secs < 0 {
		return 0, false
	}
	return time.Duration(secs) * time.Second, true
}

func bufferBody(req *http.Request) ([]byte, error) {
	if req.Body == nil || req.Body == http.NoBody {
		return nil, nil
	}
	src := req.Body
	if req.GetBody != nil {
		fresh, err := req.GetBody()
		if err != nil {
			return nil, err
		}
		src = fresh
	}
	defer func() { _ = src.Close() }()
	data, err := io.ReadAll(src)
	if err != nil {
		return nil, err
	}
	req.Body = io.NopCloser(bytes.NewReader(data))
	req.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(data)), nil
	}
	return data, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
