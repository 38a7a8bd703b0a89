// Package save writes items and file attachments to a library. Item
// creation re-authorizes once when the stored key is rejected; attachment
// upload follows the authorize, upload, register sequence.
package save

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/tonimelisma/zotero-go/internal/auth"
	"github.com/tonimelisma/zotero-go/internal/credential"
	"github.com/tonimelisma/zotero-go/internal/library"
	"github.com/tonimelisma/zotero-go/internal/targets"
	"github.com/tonimelisma/zotero-go/internal/zotero"
)

// Authorizer obtains a fresh credential. *auth.Flow implements it.
type Authorizer interface {
	Authorize(ctx context.Context) (auth.UserInfo, error)
}

// ItemSaver creates items in a library.
type ItemSaver struct {
	api        *zotero.Client
	creds      *credential.Store
	authorizer Authorizer
	logger     *slog.Logger

	// tokenFunc generates Zotero-Write-Token values. Tests override it.
	tokenFunc func() string
}

// NewItemSaver creates an ItemSaver.
func NewItemSaver(api *zotero.Client, creds *credential.Store, authorizer Authorizer, logger *slog.Logger) *ItemSaver {
	if logger == nil {
		logger = slog.Default()
	}

	return &ItemSaver{
		api:        api,
		creds:      creds,
		authorizer: authorizer,
		logger:     logger,
		tokenFunc:  func() string { return uuid.New().String() },
	}
}

// CreateItem posts payload (an item array, or one item object) to lib and
// returns the server's response body.
//
// Without a credential it fails with zotero.ErrNotAuthorized unless
// askForAuth is set, in which case it authorizes once and proceeds. When
// askForAuth is set and the server rejects the key with 403, the stale
// credential is cleared and the call re-authorizes and retries once. Every
// other failure is returned as is.
func (s *ItemSaver) CreateItem(ctx context.Context, payload json.RawMessage, askForAuth bool, lib library.Descriptor) ([]byte, error) {
	items, err := normalizePayload(payload)
	if err != nil {
		return nil, err
	}

	retried := false

	for {
		cred, err := s.creds.Load(ctx)
		if err != nil {
			return nil, err
		}

		if cred == nil {
			if !askForAuth {
				return nil, zotero.ErrNotAuthorized
			}

			s.logger.Info("not authorized, starting authorization")

			if _, err := s.authorizer.Authorize(ctx); err != nil {
				return nil, fmt.Errorf("authentication failed: %w", err)
			}

			askForAuth = false

			continue
		}

		body, err := s.api.CreateItems(ctx, cred.APIKey(), lib.Path(cred.UserID), items, s.tokenFunc())
		if err == nil {
			return body, nil
		}

		if askForAuth && !retried && errors.Is(err, zotero.ErrForbidden) {
			s.logger.Warn("API key rejected, clearing credential and re-authorizing",
				slog.String("user_id", cred.UserID),
			)

			retried = true

			if err := s.creds.Clear(ctx); err != nil {
				return nil, err
			}

			continue
		}

		s.logger.Error("item creation failed",
			slog.Int("status", zotero.StatusCode(err)),
			slog.String("error", zotero.Redact(err.Error(), cred.APIKey())),
		)

		return nil, err
	}
}

// SaveToTarget saves items into row. When row is a collection each item
// is filed into it. The parsed write result is returned; items the server
// refused are reported by WriteResult.Err, not as an error here.
func (s *ItemSaver) SaveToTarget(ctx context.Context, items []map[string]any, row targets.Row, askForAuth bool) (*WriteResult, error) {
	if len(items) == 0 {
		return nil, fmt.Errorf("%w: no items to save", zotero.ErrValidation)
	}

	if row.IsCollection() {
		for _, item := range items {
			item["collections"] = []string{row.CollectionKey}
		}
	}

	payload, err := json.Marshal(items)
	if err != nil {
		return nil, fmt.Errorf("save: encoding items: %w", err)
	}

	body, err := s.CreateItem(ctx, payload, askForAuth, row.Library)
	if err != nil {
		return nil, err
	}

	return ParseWriteResponse(body)
}

// normalizePayload accepts a JSON array, or a single object which is
// wrapped into a one-element array.
func normalizePayload(payload json.RawMessage) (json.RawMessage, error) {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("%w: empty item payload", zotero.ErrValidation)
	}

	switch trimmed[0] {
	case '[':
		return trimmed, nil
	case '{':
		wrapped := make([]byte, 0, len(trimmed)+2)
		wrapped = append(wrapped, '[')
		wrapped = append(wrapped, trimmed...)
		wrapped = append(wrapped, ']')

		return wrapped, nil
	default:
		return nil, fmt.Errorf("%w: item payload must be a JSON array or object", zotero.ErrValidation)
	}
}
