package zotero

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand/v2"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// DefaultBaseURL is the Zotero Web API root.
const DefaultBaseURL = "https://api.zotero.org/"

// APIVersion is sent as Zotero-API-Version on every authenticated request.
const APIVersion = "3"

// Header names used by the Zotero API.
const (
	HeaderAPIKey       = "Zotero-API-Key"
	HeaderAPIVersion   = "Zotero-API-Version"
	HeaderWriteToken   = "Zotero-Write-Token"
	HeaderTotalResults = "Total-Results"
	headerBackoff      = "Backoff"
	headerRetryAfter   = "Retry-After"
)

// Retry and backoff constants.
const (
	maxRetries     = 3
	baseBackoff    = 1 * time.Second
	maxBackoff     = 60 * time.Second
	backoffFactor  = 2.0
	jitterFraction = 0.25
	defaultAgent   = "zotero-go/0.1"
)

// redactedKey replaces secrets in anything that reaches a log line.
const redactedKey = "[API_KEY_HIDDEN]"

// Request describes one HTTP exchange. URL is either absolute or a path
// relative to the client's base URL.
type Request struct {
	Method string
	URL    string
	Header http.Header
	Body   io.Reader

	// AcceptAnyStatus returns non-2xx responses as-is instead of as *APIError.
	AcceptAnyStatus bool
}

// Response is a fully read HTTP response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Client is an HTTP client for the Zotero Web API.
// It handles URL resolution, request pacing, retry on throttling, and
// error classification. Callers supply authentication headers per request.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
	userAgent  string
	limiter    *rate.Limiter

	// sleepFunc is called to wait between retries. Defaults to timeSleep.
	// Tests override this to avoid real delays.
	sleepFunc func(ctx context.Context, d time.Duration) error
}

// NewClient creates a Zotero API client.
// baseURL is typically DefaultBaseURL; a trailing slash is added if missing.
func NewClient(baseURL string, httpClient *http.Client, logger *slog.Logger, userAgent string) *Client {
	if logger == nil {
		logger = slog.Default()
	}

	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	if userAgent == "" {
		userAgent = defaultAgent
	}

	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}

	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
		logger:     logger,
		userAgent:  userAgent,
		sleepFunc:  timeSleep,
	}
}

// LimitRate paces outgoing requests to perSecond. Zero or negative disables
// pacing.
func (c *Client) LimitRate(perSecond float64) {
	if perSecond <= 0 {
		c.limiter = nil
		return
	}

	burst := int(math.Ceil(perSecond))
	c.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
}

// URL resolves a path against the base URL. Absolute URLs pass through.
func (c *Client) URL(path string) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}

	return c.baseURL + strings.TrimPrefix(path, "/")
}

// AuthHeader returns the headers every authenticated request carries.
func AuthHeader(apiKey string) http.Header {
	h := make(http.Header)
	h.Set(HeaderAPIKey, apiKey)
	h.Set(HeaderAPIVersion, APIVersion)

	return h
}

// Redact replaces every occurrence of each non-empty secret in s.
func Redact(s string, secrets ...string) string {
	for _, secret := range secrets {
		if secret != "" {
			s = strings.ReplaceAll(s, secret, redactedKey)
		}
	}

	return s
}

// Do executes a request. Throttling responses (429, 503) are retried with
// backoff; network errors are retried for GET only, since a POST may have
// reached the server. Non-2xx responses become *APIError unless
// AcceptAnyStatus is set.
func (c *Client) Do(ctx context.Context, req *Request) (*Response, error) {
	target := c.URL(req.URL)

	body, err := bufferBody(req.Body)
	if err != nil {
		return nil, fmt.Errorf("zotero: reading request body: %w", err)
	}

	var attempt int
	for {
		if err := c.wait(ctx); err != nil {
			return nil, fmt.Errorf("zotero: request canceled: %w", err)
		}

		resp, err := c.doOnce(ctx, req, target, body)
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("zotero: request canceled: %w", ctx.Err())
			}

			if req.Method == http.MethodGet && attempt < maxRetries {
				backoff := c.calcBackoff(attempt)
				c.logger.Warn("retrying after network error",
					slog.String("method", req.Method),
					slog.String("url", target),
					slog.Int("attempt", attempt+1),
					slog.Duration("backoff", backoff),
					slog.String("error", err.Error()),
				)

				if sleepErr := c.sleepFunc(ctx, backoff); sleepErr != nil {
					return nil, fmt.Errorf("zotero: request canceled: %w", sleepErr)
				}

				attempt++

				continue
			}

			return nil, fmt.Errorf("zotero: %s %s: %w", req.Method, target, err)
		}

		if isSuccess(resp.StatusCode) || req.AcceptAnyStatus {
			c.logger.Debug("request completed",
				slog.String("method", req.Method),
				slog.String("url", target),
				slog.Int("status", resp.StatusCode),
			)

			return resp, nil
		}

		if isRetryable(resp.StatusCode) && attempt < maxRetries {
			backoff := c.retryBackoff(resp, attempt)
			c.logger.Warn("retrying after HTTP error",
				slog.String("method", req.Method),
				slog.String("url", target),
				slog.Int("status", resp.StatusCode),
				slog.Int("attempt", attempt+1),
				slog.Duration("backoff", backoff),
			)

			if err := c.sleepFunc(ctx, backoff); err != nil {
				return nil, fmt.Errorf("zotero: request canceled: %w", err)
			}

			attempt++

			continue
		}

		return nil, &APIError{
			StatusCode: resp.StatusCode,
			Message:    string(resp.Body),
			Err:        classifyStatus(resp.StatusCode),
		}
	}
}

// doOnce executes a single HTTP request (no retry) and reads the full body.
func (c *Client) doOnce(ctx context.Context, req *Request, target string, body []byte) (*Response, error) {
	var rd io.Reader = http.NoBody
	if body != nil {
		rd = bytes.NewReader(body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, target, rd)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	for k, vs := range req.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}

	httpReq.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       respBody,
	}, nil
}

// doStream sends a request whose body is streamed once and never retried.
// Used for binary uploads where the reader may be rate limited.
func (c *Client) doStream(ctx context.Context, req *Request, size int64) (*Response, error) {
	target := c.URL(req.URL)

	if err := c.wait(ctx); err != nil {
		return nil, fmt.Errorf("zotero: request canceled: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, target, req.Body)
	if err != nil {
		return nil, fmt.Errorf("zotero: creating upload request: %w", err)
	}

	for k, vs := range req.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}

	httpReq.Header.Set("User-Agent", c.userAgent)
	httpReq.ContentLength = size

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		c.logger.Error("upload request failed",
			slog.String("url", target),
			slog.String("error", err.Error()),
		)

		return nil, fmt.Errorf("zotero: upload request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body) //nolint:errcheck // best-effort read for error message

	if !isSuccess(resp.StatusCode) {
		return nil, &APIError{
			StatusCode: resp.StatusCode,
			Message:    string(respBody),
			Err:        classifyStatus(resp.StatusCode),
		}
	}

	return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: respBody}, nil
}

// wait blocks until the request limiter admits one more request.
func (c *Client) wait(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}

	return c.limiter.Wait(ctx)
}

// retryBackoff returns the backoff duration for a retryable response.
// Retry-After (429) and Backoff (503) headers take precedence.
func (c *Client) retryBackoff(resp *Response, attempt int) time.Duration {
	for _, name := range []string{headerRetryAfter, headerBackoff} {
		if v := resp.Header.Get(name); v != "" {
			if seconds, err := strconv.Atoi(v); err == nil && seconds > 0 {
				return time.Duration(seconds) * time.Second
			}
		}
	}

	return c.calcBackoff(attempt)
}

// calcBackoff computes exponential backoff with ±25% jitter.
func (c *Client) calcBackoff(attempt int) time.Duration {
	backoff := float64(baseBackoff) * math.Pow(backoffFactor, float64(attempt))
	if backoff > float64(maxBackoff) {
		backoff = float64(maxBackoff)
	}

	jitter := backoff * jitterFraction * (rand.Float64()*2 - 1) //nolint:gosec // jitter does not need crypto rand
	backoff += jitter

	return time.Duration(backoff)
}

func isSuccess(code int) bool {
	return code >= http.StatusOK && code < http.StatusMultipleChoices
}

// bufferBody reads a request body fully so it can be replayed on retry.
func bufferBody(r io.Reader) ([]byte, error) {
	if r == nil {
		return nil, nil
	}

	return io.ReadAll(r)
}

// timeSleep waits for the given duration or until the context is canceled.
// It is the default sleepFunc for Client.
func timeSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
