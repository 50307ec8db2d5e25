package httpclient

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/vaultsync/enginecore/internal/vaulterr"
)

func TestDoSuccessReturnsBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	c := New(server.Client(), 100, 10)
	status, body, err := c.Do(context.Background(), Request{Method: http.MethodGet, URL: server.URL})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if status != http.StatusOK {
		t.Fatalf("expected 200, got %d", status)
	}
	if !strings.Contains(string(body), "ok") {
		t.Fatalf("unexpected body: %s", body)
	}
}

func TestDoMapsNotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	c := New(server.Client(), 100, 10)
	_, _, err := c.Do(context.Background(), Request{Method: http.MethodGet, URL: server.URL})
	if !vaulterr.Of(err, vaulterr.NotFound) {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

func TestDoMapsUnauthorizedToReauthRequired(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	c := New(server.Client(), 100, 10)
	_, _, err := c.Do(context.Background(), Request{Method: http.MethodGet, URL: server.URL})
	if !vaulterr.Of(err, vaulterr.ReauthRequired) {
		t.Fatalf("expected ReauthRequired, got %v", err)
	}
}

func TestDoMapsTooManyRequests(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	c := New(server.Client(), 100, 10)
	_, _, err := c.Do(context.Background(), Request{Method: http.MethodGet, URL: server.URL})
	if !vaulterr.Of(err, vaulterr.ProviderRateLimited) {
		t.Fatalf("expected ProviderRateLimited, got %v", err)
	}
}

func TestDoMapsServerErrorToTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	c := New(server.Client(), 100, 10)
	_, _, err := c.Do(context.Background(), Request{Method: http.MethodGet, URL: server.URL})
	if !vaulterr.Of(err, vaulterr.ProviderTransient) {
		t.Fatalf("expected ProviderTransient, got %v", err)
	}
}

func TestDoMapsBadRequest(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	c := New(server.Client(), 100, 10)
	_, _, err := c.Do(context.Background(), Request{Method: http.MethodGet, URL: server.URL})
	if !vaulterr.Of(err, vaulterr.ProviderBadRequest) {
		t.Fatalf("expected ProviderBadRequest, got %v", err)
	}
}

func TestDecodeJSONUnmarshalsBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"name":"vault"}`))
	}))
	defer server.Close()

	c := New(server.Client(), 100, 10)
	var out struct {
		Name string `json:"name"`
	}
	if err := c.DecodeJSON(context.Background(), Request{Method: http.MethodGet, URL: server.URL}, &out); err != nil {
		t.Fatal(err)
	}
	if out.Name != "vault" {
		t.Fatalf("expected name=vault, got %q", out.Name)
	}
}

func TestWithRetrySucceedsAfterTransientFailures(t *testing.T) {
	attempts := 0
	err := WithRetry(context.Background(), func() error {
		attempts++
		if attempts < 3 {
			return vaulterr.New(vaulterr.ProviderTransient, "flaky")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected eventual success, got %v", err)
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
}

func TestWithRetryGivesUpAfterMaxAttempts(t *testing.T) {
	attempts := 0
	err := WithRetry(context.Background(), func() error {
		attempts++
		return vaulterr.New(vaulterr.ProviderRateLimited, "still limited")
	})
	if !vaulterr.Of(err, vaulterr.ProviderRateLimited) {
		t.Fatalf("expected ProviderRateLimited after exhausting retries, got %v", err)
	}
	if attempts != RetryAttempts {
		t.Fatalf("expected %d attempts, got %d", RetryAttempts, attempts)
	}
}

func TestWithRetryDoesNotRetryNonTransientErrors(t *testing.T) {
	attempts := 0
	err := WithRetry(context.Background(), func() error {
		attempts++
		return vaulterr.New(vaulterr.ReauthRequired, "expired")
	})
	if !vaulterr.Of(err, vaulterr.ReauthRequired) {
		t.Fatalf("expected ReauthRequired, got %v", err)
	}
	if attempts != 1 {
		t.Fatalf("expected exactly 1 attempt for a non-retryable error, got %d", attempts)
	}
}

type erroringDoer struct{}

func (erroringDoer) Do(*http.Request) (*http.Response, error) {
	return nil, errors.New("connection refused")
}

func TestDoMapsTransportErrorToProviderTransient(t *testing.T) {
	c := New(erroringDoer{}, 100, 10)
	_, _, err := c.Do(context.Background(), Request{Method: http.MethodGet, URL: "http://example.invalid"})
	if !vaulterr.Of(err, vaulterr.ProviderTransient) {
		t.Fatalf("expected ProviderTransient, got %v", err)
	}
}
