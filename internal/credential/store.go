// Package credential persists the API key obtained by authorization. The
// four values are stored and cleared together: a partially saved
// credential is never observable.
package credential

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/tonimelisma/zotero-go/internal/prefs"
)

// Preference keys holding the credential.
const (
	KeyToken       = "auth-token"
	KeyTokenSecret = "auth-token_secret"
	KeyUserID      = "auth-userID"
	KeyUsername    = "auth-username"
)

var allKeys = []string{KeyToken, KeyTokenSecret, KeyUserID, KeyUsername}

// Credential is an authorized API key. TokenSecret is the key sent in the
// Zotero-API-Key header.
type Credential struct {
	Token       string
	TokenSecret string
	UserID      string
	Username    string
}

// APIKey returns the value sent as Zotero-API-Key.
func (c *Credential) APIKey() string {
	return c.TokenSecret
}

// Store reads and writes the credential in a prefs.Store.
type Store struct {
	prefs  prefs.Store
	logger *slog.Logger
}

// NewStore wraps p.
func NewStore(p prefs.Store, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}

	return &Store{prefs: p, logger: logger}
}

// Load returns the stored credential, or (nil, nil) when none is stored.
// A credential missing its secret or user id counts as absent.
func (s *Store) Load(ctx context.Context) (*Credential, error) {
	values, err := s.prefs.GetMany(ctx, allKeys...)
	if err != nil {
		return nil, fmt.Errorf("credential: loading: %w", err)
	}

	cred := &Credential{
		Token:       values[KeyToken],
		TokenSecret: values[KeyTokenSecret],
		UserID:      values[KeyUserID],
		Username:    values[KeyUsername],
	}

	if cred.TokenSecret == "" || cred.UserID == "" {
		return nil, nil //nolint:nilnil // sentinel for "not authorized"
	}

	return cred, nil
}

// Save persists all four values atomically.
func (s *Store) Save(ctx context.Context, cred *Credential) error {
	err := s.prefs.SetMany(ctx, map[string]string{
		KeyToken:       cred.Token,
		KeyTokenSecret: cred.TokenSecret,
		KeyUserID:      cred.UserID,
		KeyUsername:    cred.Username,
	})
	if err != nil {
		return fmt.Errorf("credential: saving: %w", err)
	}

	s.logger.Info("credential saved", slog.String("user_id", cred.UserID))

	return nil
}

// Clear removes the credential.
func (s *Store) Clear(ctx context.Context) error {
	if err := s.prefs.Clear(ctx, allKeys...); err != nil {
		return fmt.Errorf("credential: clearing: %w", err)
	}

	s.logger.Info("credential cleared")

	return nil
}
