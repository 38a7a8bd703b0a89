package zotero

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// noopSleep is a sleep function that returns immediately, for fast tests.
func noopSleep(_ context.Context, _ time.Duration) error {
	return nil
}

// newTestClient creates a Client pointing at the given httptest server
// with instant retry sleeps for fast tests.
func newTestClient(t *testing.T, url string) *Client {
	t.Helper()

	c := NewClient(url, http.DefaultClient, slog.Default(), "test-agent")
	c.sleepFunc = noopSleep

	return c
}

func TestNewClient_AddsTrailingSlash(t *testing.T) {
	c := NewClient("https://api.example.org", nil, nil, "")

	assert.Equal(t, "https://api.example.org/users/1/items", c.URL("users/1/items"))
	assert.Equal(t, "https://api.example.org/users/1/items", c.URL("/users/1/items"))
	assert.Equal(t, "https://s3.example.org/upload", c.URL("https://s3.example.org/upload"))
}

func TestDo_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-agent", r.Header.Get("User-Agent"))
		assert.Equal(t, "secret", r.Header.Get(HeaderAPIKey))
		assert.Equal(t, APIVersion, r.Header.Get(HeaderAPIVersion))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"value":"ok"}`))
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	resp, err := client.Do(context.Background(), &Request{
		Method: http.MethodGet,
		URL:    "users/1/keys/current",
		Header: AuthHeader("secret"),
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"value":"ok"}`, string(resp.Body))
}

func TestDo_ErrorClassification(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		sentinel error
	}{
		{"bad request", http.StatusBadRequest, ErrBadRequest},
		{"forbidden", http.StatusForbidden, ErrForbidden},
		{"not found", http.StatusNotFound, ErrNotFound},
		{"precondition failed", http.StatusPreconditionFailed, ErrPreconditionFailed},
		{"too large", http.StatusRequestEntityTooLarge, ErrTooLarge},
		{"server error", http.StatusInternalServerError, ErrServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(`nope`))
			}))
			defer srv.Close()

			client := newTestClient(t, srv.URL)
			_, err := client.Do(context.Background(), &Request{Method: http.MethodPost, URL: "x"})
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.sentinel)

			var apiErr *APIError
			require.ErrorAs(t, err, &apiErr)
			assert.Equal(t, tt.status, apiErr.StatusCode)
			assert.Equal(t, "nope", apiErr.Message)
			assert.Equal(t, tt.status, StatusCode(err))
		})
	}
}

func TestDo_RetriesThrottlingWithBody(t *testing.T) {
	var calls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		assert.Equal(t, "payload", string(body))

		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "2")
			w.WriteHeader(http.StatusTooManyRequests)

			return
		}

		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)

	var slept []time.Duration
	client.sleepFunc = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}

	_, err := client.Do(context.Background(), &Request{
		Method: http.MethodPost,
		URL:    "items",
		Body:   strings.NewReader("payload"),
	})
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, []time.Duration{2 * time.Second}, slept)
}

func TestDo_ThrottlingExhaustsRetries(t *testing.T) {
	var calls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	_, err := client.Do(context.Background(), &Request{Method: http.MethodGet, URL: "x"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrServerError)
	assert.Equal(t, int32(maxRetries+1), calls.Load())
}

func TestDo_DoesNotRetryPlainServerError(t *testing.T) {
	var calls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	_, err := client.Do(context.Background(), &Request{Method: http.MethodPost, URL: "x"})
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestDo_AcceptAnyStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusPreconditionFailed)
		_, _ = w.Write([]byte("exists"))
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	resp, err := client.Do(context.Background(), &Request{
		Method:          http.MethodPost,
		URL:             "x",
		AcceptAnyStatus: true,
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusPreconditionFailed, resp.StatusCode)
	assert.Equal(t, "exists", string(resp.Body))
}

func TestDo_ContextCanceled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	client := newTestClient(t, srv.URL)
	_, err := client.Do(ctx, &Request{Method: http.MethodGet, URL: "x"})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDo_RateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	client.LimitRate(1000)
	require.NotNil(t, client.limiter)

	for range 3 {
		_, err := client.Do(context.Background(), &Request{Method: http.MethodGet, URL: "x"})
		require.NoError(t, err)
	}

	client.LimitRate(0)
	assert.Nil(t, client.limiter)
}

func TestRedact(t *testing.T) {
	assert.Equal(t, "key [API_KEY_HIDDEN] and [API_KEY_HIDDEN]", Redact("key abc and abc", "abc"))
	assert.Equal(t, "unchanged", Redact("unchanged", ""))
}

func TestCalcBackoff_Bounds(t *testing.T) {
	c := NewClient("http://x", nil, nil, "")

	for attempt := range 10 {
		d := c.calcBackoff(attempt)
		assert.Positive(t, d)
		assert.LessOrEqual(t, d, time.Duration(float64(maxBackoff)*(1+jitterFraction)))
	}
}
