package zotero

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
)

// PageSize is the limit sent on every listing request.
const PageSize = 100

// Listing is the result of walking a paged endpoint. Items holds everything
// fetched before pagination ended. Stopped records why a walk ended early
// (transport failure or unparseable page); it is informational only.
type Listing struct {
	Items    []json.RawMessage
	Requests int
	Stopped  error
}

// FetchAll walks a listing endpoint page by page and returns the
// concatenation of all pages. A transport or parse failure ends the walk
// and keeps what was accumulated: partial results beat none for a single
// resource type.
func (c *Client) FetchAll(ctx context.Context, rawURL, apiKey string) Listing {
	var out Listing

	start := 0
	for {
		pageURL := pageURL(rawURL, start)
		out.Requests++

		resp, err := c.Do(ctx, &Request{
			Method: http.MethodGet,
			URL:    pageURL,
			Header: AuthHeader(apiKey),
		})
		if err != nil {
			c.logger.Warn("pagination stopped by transport failure",
				slog.String("url", pageURL),
				slog.String("error", Redact(err.Error(), apiKey)),
			)

			out.Stopped = err

			break
		}

		var page []json.RawMessage
		if err := json.Unmarshal(resp.Body, &page); err != nil {
			c.logger.Warn("pagination stopped by unparseable page",
				slog.String("url", pageURL),
				slog.String("error", err.Error()),
			)

			out.Stopped = fmt.Errorf("%w: %s: %w", ErrMalformedResponse, pageURL, err)

			break
		}

		if len(page) == 0 {
			break
		}

		out.Items = append(out.Items, page...)
		start += len(page)

		c.logger.Debug("fetched page",
			slog.String("url", pageURL),
			slog.Int("count", len(page)),
			slog.Int("start", start),
		)

		if len(page) < PageSize {
			break
		}

		if total, ok := totalResults(resp.Header); ok && start >= total {
			break
		}
	}

	return out
}

// pageURL appends limit and start, respecting an existing query string.
func pageURL(rawURL string, start int) string {
	sep := "?"
	if strings.Contains(rawURL, "?") {
		sep = "&"
	}

	return fmt.Sprintf("%s%slimit=%d&start=%d", rawURL, sep, PageSize, start)
}

// totalResults parses the Total-Results header when present.
func totalResults(h http.Header) (int, bool) {
	raw := h.Get(HeaderTotalResults)
	if raw == "" {
		return 0, false
	}

	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, false
	}

	return n, true
}
