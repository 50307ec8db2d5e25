// Package httpclient wraps the engine's HTTP client port with the request
// shape every provider adapter needs: a bounded per-call timeout, a token
// bucket so a burst of syncs doesn't trip a provider's rate limiter, status
// code translation into vaulterr kinds, and the bounded exponential
// back-off used for transient failures.
package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/vaultsync/enginecore/internal/ports"
	"github.com/vaultsync/enginecore/internal/vaulterr"
)

// DefaultTimeout is the per-call HTTP timeout.
const DefaultTimeout = 30 * time.Second

// RetryAttempts and the base/jitter it uses implement a "3
// attempts, 1s then 2s + jitter" back-off for ProviderTransient and
// ProviderRateLimited failures.
const RetryAttempts = 3

// Client adapts a ports.HTTPDoer into the shape provider adapters want:
// Do and the JSON-aware DecodeJSON, which rate-limit, time out, and
// classify failures uniformly.
type Client struct {
	doer    ports.HTTPDoer
	limiter *rate.Limiter
}

// New wraps doer with a token bucket allowing ratePerSecond sustained
// requests and burst concurrent ones. A nil doer is not valid; callers
// must supply the host's configured HTTP client.
func New(doer ports.HTTPDoer, ratePerSecond float64, burst int) *Client {
	return &Client{doer: doer, limiter: rate.NewLimiter(rate.Limit(ratePerSecond), burst)}
}

// Request is a single HTTP call description.
type Request struct {
	Method  string
	URL     string
	Headers map[string]string
	Body    []byte
}

// Do executes req, honoring the rate limiter and a DefaultTimeout deadline
// derived from ctx, and classifies a non-2xx response into a *vaulterr.Error.
func (c *Client) Do(ctx context.Context, req Request) (status int, body []byte, err error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return 0, nil, vaulterr.Wrap(vaulterr.CancelledByCaller, "waiting for rate limiter", err)
	}

	ctx, cancel := context.WithTimeout(ctx, DefaultTimeout)
	defer cancel()

	var bodyReader io.Reader
	if req.Body != nil {
		bodyReader = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, bodyReader)
	if err != nil {
		return 0, nil, fmt.Errorf("httpclient: building request: %w", err)
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := c.doer.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return 0, nil, vaulterr.Wrap(vaulterr.Timeout, "request timed out", err)
		}
		return 0, nil, vaulterr.Wrap(vaulterr.ProviderTransient, "request failed", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, vaulterr.Wrap(vaulterr.ProviderTransient, "reading response body", err)
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp.StatusCode, respBody, nil
	}
	return resp.StatusCode, respBody, ClassifyStatus(resp.StatusCode, respBody)
}

// DecodeJSON executes req and unmarshals a 2xx response body into out.
func (c *Client) DecodeJSON(ctx context.Context, req Request, out any) error {
	_, body, err := c.Do(ctx, req)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return vaulterr.Wrap(vaulterr.MalformedFile, "decoding provider response", err)
	}
	return nil
}

// ClassifyStatus maps an HTTP status code to the engine's closed error-kind
// set.
func ClassifyStatus(status int, body []byte) error {
	detail := string(body)
	switch {
	case status == http.StatusNotFound:
		return vaulterr.New(vaulterr.NotFound, "resource not found")
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return &vaulterr.Error{Kind: vaulterr.ReauthRequired, Reason: "provider rejected credentials", Detail: detail}
	case status == http.StatusTooManyRequests:
		return &vaulterr.Error{Kind: vaulterr.ProviderRateLimited, Reason: "provider rate limit exceeded", Detail: detail}
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		return &vaulterr.Error{Kind: vaulterr.ProviderBadRequest, Reason: "provider rejected request", Detail: detail}
	case status >= 500:
		return &vaulterr.Error{Kind: vaulterr.ProviderTransient, Reason: fmt.Sprintf("provider returned %d", status), Detail: detail}
	default:
		return &vaulterr.Error{Kind: vaulterr.ProviderBadRequest, Reason: fmt.Sprintf("unexpected status %d", status), Detail: detail}
	}
}

// WithRetry runs fn up to RetryAttempts times, backing off 1s and then 2s
// plus up to 250ms of jitter between attempts, but only when fn's error is
// ProviderTransient or ProviderRateLimited (the propagation policy).
// Any other error, including a successful nil, returns immediately.
func WithRetry(ctx context.Context, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt < RetryAttempts; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !vaulterr.Of(lastErr, vaulterr.ProviderTransient) && !vaulterr.Of(lastErr, vaulterr.ProviderRateLimited) {
			return lastErr
		}
		if attempt == RetryAttempts-1 {
			break
		}
		backoff := time.Duration(1<<attempt) * time.Second
		jitter := time.Duration(rand.Intn(250)) * time.Millisecond
		select {
		case <-ctx.Done():
			return vaulterr.Wrap(vaulterr.CancelledByCaller, "cancelled during retry backoff", ctx.Err())
		case <-time.After(backoff + jitter):
		}
	}
	return lastErr
}
