package zotero

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
)

// VerifyKey fetches the permissions of apiKey. It returns the raw body
// alongside the decoded info so callers can log it (redacted) when the
// decoded access is unusable. A body that does not parse yields an empty
// KeyInfo, not an error: the caller decides what missing access means.
func (c *Client) VerifyKey(ctx context.Context, userID, apiKey string) (*KeyInfo, []byte, error) {
	c.logger.Info("verifying API key", slog.String("user_id", userID))

	resp, err := c.Do(ctx, &Request{
		Method: http.MethodGet,
		URL:    fmt.Sprintf("users/%s/keys/current", url.PathEscape(userID)),
		Header: AuthHeader(apiKey),
	})
	if err != nil {
		return nil, nil, err
	}

	var info KeyInfo
	if err := json.Unmarshal(resp.Body, &info); err != nil {
		c.logger.Warn("key verification response is not JSON",
			slog.String("error", err.Error()),
		)

		return &KeyInfo{}, resp.Body, nil
	}

	return &info, resp.Body, nil
}

// CreateItems posts an item array to <libraryPath>/items and returns the
// raw response body. writeToken, when non-empty, is sent as
// Zotero-Write-Token so a throttling retry cannot create duplicates.
func (c *Client) CreateItems(ctx context.Context, apiKey, libraryPath string, items json.RawMessage, writeToken string) ([]byte, error) {
	c.logger.Info("creating items", slog.String("library", libraryPath))

	h := AuthHeader(apiKey)
	h.Set("Content-Type", "application/json")

	if writeToken != "" {
		h.Set(HeaderWriteToken, writeToken)
	}

	resp, err := c.Do(ctx, &Request{
		Method: http.MethodPost,
		URL:    libraryPath + "/items",
		Header: h,
		Body:   bytes.NewReader(items),
	})
	if err != nil {
		return nil, err
	}

	return resp.Body, nil
}
