package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"

	"github.com/tonimelisma/zotero-go/internal/auth"
	"github.com/tonimelisma/zotero-go/internal/config"
	"github.com/tonimelisma/zotero-go/internal/credential"
	"github.com/tonimelisma/zotero-go/internal/prefs"
	"github.com/tonimelisma/zotero-go/internal/save"
	"github.com/tonimelisma/zotero-go/internal/targets"
	"github.com/tonimelisma/zotero-go/internal/zotero"
)

// openBrowser shows the authorize page to the user.
var openBrowser = auth.OpenBrowser

// Session holds the clients and services built from resolved config for
// one command invocation.
type Session struct {
	API      *zotero.Client
	Prefs    prefs.Store
	Creds    *credential.Store
	Flow     *auth.Flow
	Resolver *targets.Resolver
	Saver    *save.ItemSaver
	Uploader *save.Uploader

	cfg    *config.Resolved
	logger *slog.Logger
	closer io.Closer
}

// NewSession opens the preference store and wires every service on top of
// it. The caller must Close the session.
func NewSession(ctx context.Context, cc *CLIContext) (*Session, error) {
	cfg := cc.Cfg
	logger := cc.Logger

	store, closer, err := openPrefs(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	api := zotero.NewClient(cfg.API.BaseURL, newHTTPClient(cfg), logger, cfg.Network.UserAgent)
	api.LimitRate(cfg.Network.RequestsPerSecond)

	creds := credential.NewStore(store, logger)

	surface := &auth.LoopbackSurface{
		Addr:    cfg.OAuth.CallbackAddr,
		OpenURL: openBrowser,
		Out:     os.Stderr,
		Logger:  logger,
	}

	flow := auth.NewFlow(auth.Config{
		ClientKey:    cfg.OAuth.ClientKey,
		ClientSecret: cfg.OAuth.ClientSecret,
		RequestURL:   cfg.OAuth.RequestURL,
		AuthorizeURL: cfg.OAuth.AuthorizeURL,
		AccessURL:    cfg.OAuth.AccessURL,
		AppName:      cfg.OAuth.AppName,
	}, api, creds, auth.NewPlaintextSigner(), surface, logger)

	limiter := zotero.NewBandwidthLimiter(cfg.BandwidthLimit, logger)

	return &Session{
		API:      api,
		Prefs:    store,
		Creds:    creds,
		Flow:     flow,
		Resolver: targets.NewResolver(api, creds, store, cfg.Transfers.DiscoveryConcurrency, logger),
		Saver:    save.NewItemSaver(api, creds, flow, logger),
		Uploader: save.NewUploader(api, creds, limiter, cfg.MaxAttachmentSize, logger),
		cfg:      cfg,
		logger:   logger,
		closer:   closer,
	}, nil
}

// Close releases the preference store.
func (s *Session) Close() error {
	if s.closer == nil {
		return nil
	}

	return s.closer.Close()
}

// requireCredential loads the stored credential or explains how to get one.
func (s *Session) requireCredential(ctx context.Context) (*credential.Credential, error) {
	cred, err := s.Creds.Load(ctx)
	if err != nil {
		return nil, err
	}

	if cred == nil {
		return nil, fmt.Errorf("not logged in; run 'zotero-go login' first")
	}

	return cred, nil
}

// openPrefs opens the configured preference store backend. The returned
// closer is nil for backends that hold no open handles.
func openPrefs(ctx context.Context, cfg *config.Resolved, logger *slog.Logger) (prefs.Store, io.Closer, error) {
	path := cfg.PrefsPath()

	switch cfg.Storage.Backend {
	case config.BackendFile:
		fs, err := prefs.OpenFile(path, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("opening preferences: %w", err)
		}

		return fs, nil, nil
	default:
		db, err := prefs.OpenSQLite(ctx, path, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("opening preferences: %w", err)
		}

		return db, db, nil
	}
}

// newHTTPClient builds the API client's transport from the network
// settings. DataTimeout bounds the wait for response headers rather than
// the whole exchange so long uploads are not cut off.
func newHTTPClient(cfg *config.Resolved) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DialContext = (&net.Dialer{Timeout: cfg.ConnectTimeout}).DialContext
	transport.TLSHandshakeTimeout = cfg.ConnectTimeout
	transport.ResponseHeaderTimeout = cfg.DataTimeout

	return &http.Client{Transport: transport}
}
