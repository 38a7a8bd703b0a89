package zotero

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
)

const formContentType = "application/x-www-form-urlencoded"

// FilePath returns the file endpoint of an attachment item.
func FilePath(libraryPath, itemKey string) string {
	return libraryPath + "/items/" + url.PathEscape(itemKey) + "/file"
}

// AuthorizeUpload asks the server how to upload an attachment's content.
// The request carries If-None-Match: * so an existing file is never
// replaced. A body that is not valid JSON yields ErrMalformedResponse;
// transport failures come back as *APIError.
func (c *Client) AuthorizeUpload(ctx context.Context, apiKey, filePath string, form url.Values) (*UploadAuthorization, error) {
	c.logger.Info("requesting upload authorization", slog.String("path", filePath))

	h := AuthHeader(apiKey)
	h.Set("Content-Type", formContentType)
	h.Set("If-None-Match", "*")

	resp, err := c.Do(ctx, &Request{
		Method: http.MethodPost,
		URL:    filePath,
		Header: h,
		Body:   strings.NewReader(form.Encode()),
	})
	if err != nil {
		return nil, err
	}

	var auth UploadAuthorization
	if err := json.Unmarshal(resp.Body, &auth); err != nil {
		return nil, fmt.Errorf("%w: upload authorization: %w", ErrMalformedResponse, err)
	}

	return &auth, nil
}

// UploadFile sends the framed attachment body to the authorization's
// target URL. The URL is pre-authenticated, so no API key is sent. The
// body is streamed once and not retried; limiter may be nil.
func (c *Client) UploadFile(ctx context.Context, auth *UploadAuthorization, body []byte, limiter *BandwidthLimiter) error {
	c.logger.Info("uploading file content",
		slog.Int("size", len(body)),
		slog.String("content_type", auth.ContentType),
	)

	h := make(http.Header)
	h.Set("Content-Type", auth.ContentType)

	var rd io.Reader = bytes.NewReader(body)
	rd = limiter.WrapReader(ctx, rd)

	_, err := c.doStream(ctx, &Request{
		Method: http.MethodPost,
		URL:    auth.URL,
		Header: h,
		Body:   rd,
	}, int64(len(body)))

	return err
}

// RegisterUpload finalizes an upload. Any status is accepted: the caller
// decides how to treat a non-2xx registration reply.
func (c *Client) RegisterUpload(ctx context.Context, apiKey, filePath, uploadKey string) (*Response, error) {
	c.logger.Info("registering upload", slog.String("path", filePath))

	h := AuthHeader(apiKey)
	h.Set("Content-Type", formContentType)
	h.Set("If-None-Match", "*")

	form := url.Values{"upload": {uploadKey}}

	return c.Do(ctx, &Request{
		Method:          http.MethodPost,
		URL:             filePath,
		Header:          h,
		Body:            strings.NewReader(form.Encode()),
		AcceptAnyStatus: true,
	})
}
