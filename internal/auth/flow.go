// Package auth implements the three-legged OAuth 1.0a handshake that
// obtains an API key. Concurrent callers share a single handshake.
package auth

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/tonimelisma/zotero-go/internal/credential"
	"github.com/tonimelisma/zotero-go/internal/zotero"
)

// Default OAuth endpoints.
const (
	DefaultRequestURL   = "https://www.zotero.org/oauth/request"
	DefaultAuthorizeURL = "https://www.zotero.org/oauth/authorize"
	DefaultAccessURL    = "https://www.zotero.org/oauth/access"
)

// flightKey is the single singleflight key: there is only ever one
// handshake.
const flightKey = "authorize"

// errInvalidResponse reports an unparseable or incomplete token reply. It
// satisfies errors.Is(err, zotero.ErrAuthorizationRejected).
var errInvalidResponse = fmt.Errorf("%w: an invalid response was received from the Zotero server",
	zotero.ErrAuthorizationRejected)

// Config holds the OAuth client registration and endpoints.
type Config struct {
	ClientKey    string
	ClientSecret string
	RequestURL   string
	AuthorizeURL string
	AccessURL    string
	// AppName is shown on the authorize page as the key's name.
	AppName string
}

// UserInfo identifies the account that approved access.
type UserInfo struct {
	Username string `json:"username"`
	UserID   string `json:"userID"`
}

// Flow runs the authorization handshake.
type Flow struct {
	cfg     Config
	api     *zotero.Client
	creds   *credential.Store
	signer  Signer
	surface Surface
	logger  *slog.Logger

	group singleflight.Group

	mu     sync.Mutex
	window Window
}

// NewFlow creates a Flow. Endpoint fields left empty in cfg take the
// defaults. api performs every HTTP request, including the absolute OAuth
// endpoint URLs.
func NewFlow(cfg Config, api *zotero.Client, creds *credential.Store, signer Signer, surface Surface, logger *slog.Logger) *Flow {
	if logger == nil {
		logger = slog.Default()
	}

	if signer == nil {
		signer = NewPlaintextSigner()
	}

	if cfg.RequestURL == "" {
		cfg.RequestURL = DefaultRequestURL
	}

	if cfg.AuthorizeURL == "" {
		cfg.AuthorizeURL = DefaultAuthorizeURL
	}

	if cfg.AccessURL == "" {
		cfg.AccessURL = DefaultAccessURL
	}

	return &Flow{
		cfg:     cfg,
		api:     api,
		creds:   creds,
		signer:  signer,
		surface: surface,
		logger:  logger,
	}
}

// Authorize obtains and stores a new API key. Callers arriving while a
// handshake is pending join it (and bring its window to the front)
// instead of starting another. Canceling ctx stops this caller waiting
// but leaves the shared handshake running for the others.
func (f *Flow) Authorize(ctx context.Context) (UserInfo, error) {
	f.mu.Lock()
	pending := f.window
	f.mu.Unlock()

	ch := f.group.DoChan(flightKey, func() (any, error) {
		return f.run(context.WithoutCancel(ctx))
	})

	if pending != nil {
		pending.Focus()
	}

	select {
	case <-ctx.Done():
		return UserInfo{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return UserInfo{}, res.Err
		}

		info, ok := res.Val.(UserInfo)
		if !ok {
			return UserInfo{}, fmt.Errorf("auth: unexpected result type %T", res.Val)
		}

		return info, nil
	}
}

// Cancel closes the pending authorization window, if any. The handshake
// then fails with zotero.ErrAuthorizationCancelled.
func (f *Flow) Cancel() {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.window != nil {
		f.window.Close()
	}
}

func (f *Flow) setWindow(w Window) {
	f.mu.Lock()
	f.window = w
	f.mu.Unlock()
}

func (f *Flow) run(ctx context.Context) (UserInfo, error) {
	f.logger.Info("starting authorization")

	window, err := f.surface.Open(ctx)
	if err != nil {
		return UserInfo{}, fmt.Errorf("auth: opening authorization window: %w", err)
	}

	f.setWindow(window)

	defer func() {
		f.setWindow(nil)
		window.Close()
	}()

	tmp, err := f.requestToken(ctx, window.CallbackURL())
	if err != nil {
		return UserInfo{}, err
	}

	if err := window.Navigate(f.authorizeURL(tmp.Get("oauth_token"))); err != nil {
		return UserInfo{}, fmt.Errorf("auth: showing authorize page: %w", err)
	}

	callback, err := window.Wait(ctx)
	if err != nil {
		f.logger.Info("authorization not completed", slog.String("error", err.Error()))
		return UserInfo{}, err
	}

	return f.complete(ctx, tmp, callback)
}

// requestToken performs leg one and returns the temporary token form.
func (f *Flow) requestToken(ctx context.Context, callbackURL string) (url.Values, error) {
	form, err := f.signedPost(ctx, f.cfg.RequestURL,
		map[string]string{"oauth_callback": callbackURL},
		Secrets{ConsumerKey: f.cfg.ClientKey, ConsumerSecret: f.cfg.ClientSecret},
	)
	if err != nil {
		return nil, err
	}

	if form.Get("oauth_token") == "" || form.Get("oauth_token_secret") == "" {
		f.logger.Error("request token response missing fields")
		return nil, errInvalidResponse
	}

	return form, nil
}

// authorizeURL builds the page the user approves access on.
func (f *Flow) authorizeURL(token string) string {
	q := url.Values{
		"oauth_token":    {token},
		"library_access": {"1"},
		"notes_access":   {"0"},
		"write_access":   {"1"},
		"name":           {f.cfg.AppName},
	}

	sep := "?"
	if strings.Contains(f.cfg.AuthorizeURL, "?") {
		sep = "&"
	}

	return f.cfg.AuthorizeURL + sep + q.Encode()
}

// complete exchanges the verifier for an API key, checks the key's
// permissions and persists it.
func (f *Flow) complete(ctx context.Context, tmp, callback url.Values) (UserInfo, error) {
	if tok := callback.Get("oauth_token"); tok != "" && tok != tmp.Get("oauth_token") {
		return UserInfo{}, fmt.Errorf("%w: callback token does not match request", errInvalidResponse)
	}

	access, err := f.signedPost(ctx, f.cfg.AccessURL,
		map[string]string{"oauth_verifier": callback.Get("oauth_verifier")},
		Secrets{
			ConsumerKey:    f.cfg.ClientKey,
			ConsumerSecret: f.cfg.ClientSecret,
			Token:          tmp.Get("oauth_token"),
			TokenSecret:    tmp.Get("oauth_token_secret"),
		},
	)
	if err != nil {
		return UserInfo{}, err
	}

	cred := &credential.Credential{
		Token:       access.Get("oauth_token"),
		TokenSecret: access.Get("oauth_token_secret"),
		UserID:      access.Get("userID"),
		Username:    access.Get("username"),
	}

	if cred.TokenSecret == "" || cred.UserID == "" {
		f.logger.Error("access token response missing fields")
		return UserInfo{}, errInvalidResponse
	}

	if err := f.verify(ctx, cred); err != nil {
		return UserInfo{}, err
	}

	if err := f.creds.Save(ctx, cred); err != nil {
		return UserInfo{}, err
	}

	f.logger.Info("authorization complete", slog.String("user_id", cred.UserID))

	return UserInfo{Username: cred.Username, UserID: cred.UserID}, nil
}

// verify rejects keys that cannot read and write the user's library.
func (f *Flow) verify(ctx context.Context, cred *credential.Credential) error {
	info, body, err := f.api.VerifyKey(ctx, cred.UserID, cred.APIKey())
	if err != nil {
		f.logger.Error("key verification failed",
			slog.Int("status", zotero.StatusCode(err)),
			slog.String("error", zotero.Redact(err.Error(), cred.APIKey())),
		)

		return fmt.Errorf("%w: API key could not be verified", zotero.ErrAuthorizationRejected)
	}

	redacted := zotero.Redact(string(body), cred.APIKey())

	if info.Access.User == nil {
		f.logger.Error("key verification failed", slog.String("response", redacted))
		return fmt.Errorf("%w: API key could not be verified", zotero.ErrAuthorizationRejected)
	}

	if !info.Access.User.Library || !info.Access.User.Write {
		f.logger.Error("generated key had inadequate permissions", slog.String("response", redacted))

		return fmt.Errorf("%w: the generated key does not have adequate permissions to save items "+
			"to your library; try again without modifying the key's permissions", zotero.ErrAuthorizationRejected)
	}

	return nil
}

// signedPost sends an empty POST with an OAuth Authorization header and
// decodes the form-encoded reply.
func (f *Flow) signedPost(ctx context.Context, endpoint string, params map[string]string, s Secrets) (url.Values, error) {
	header, err := f.signer.Sign(http.MethodPost, endpoint, params, s)
	if err != nil {
		return nil, fmt.Errorf("auth: signing request: %w", err)
	}

	h := make(http.Header)
	h.Set("Authorization", header)

	resp, err := f.api.Do(ctx, &zotero.Request{
		Method: http.MethodPost,
		URL:    endpoint,
		Header: h,
	})
	if err != nil {
		f.logger.Error("OAuth request failed",
			slog.String("url", endpoint),
			slog.Int("status", zotero.StatusCode(err)),
			slog.String("error", zotero.Redact(err.Error(), f.cfg.ClientSecret, s.TokenSecret)),
		)

		return nil, fmt.Errorf("auth: OAuth request to %s: %w", endpoint, err)
	}

	form, err := url.ParseQuery(strings.TrimSpace(string(resp.Body)))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errInvalidResponse, err)
	}

	return form, nil
}
