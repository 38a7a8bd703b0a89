package auth

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/tonimelisma/zotero-go/internal/zotero"
)

// Surface opens the place where the user approves access, typically a
// browser pointed at the server's authorize page.
type Surface interface {
	Open(ctx context.Context) (Window, error)
}

// Window is one open authorization surface.
type Window interface {
	// CallbackURL is where the server sends the user after approval.
	CallbackURL() string
	// Navigate shows authURL to the user.
	Navigate(authURL string) error
	// Wait returns the callback query once the user finishes, or
	// zotero.ErrAuthorizationCancelled when the window is closed first.
	Wait(ctx context.Context) (url.Values, error)
	// Focus brings the window back to the user's attention.
	Focus()
	Close()
}

// shutdownTimeout is how long to wait for the callback server to drain.
const shutdownTimeout = 5 * time.Second

// LoopbackSurface serves the OAuth callback on a localhost port and opens
// the authorize page in the default browser. If the browser cannot be
// launched the URL is printed to Out.
type LoopbackSurface struct {
	Addr    string
	OpenURL func(string) error
	Out     io.Writer
	// Timeout bounds how long a window waits for the callback; zero means
	// no limit.
	Timeout time.Duration
	Logger  *slog.Logger
}

// Open binds the callback listener.
func (s *LoopbackSurface) Open(ctx context.Context) (Window, error) {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}

	addr := s.Addr
	if addr == "" {
		addr = "127.0.0.1:0"
	}

	lc := net.ListenConfig{}

	listener, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("auth: binding callback listener: %w", err)
	}

	w := &loopbackWindow{
		callback: "http://" + listener.Addr().String() + "/",
		openURL:  s.OpenURL,
		out:      s.Out,
		timeout:  s.Timeout,
		logger:   logger,
		resultCh: make(chan callbackResult, 1),
		closed:   make(chan struct{}),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /", w.handleCallback)

	w.srv = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: shutdownTimeout,
	}

	go func() {
		if serveErr := w.srv.Serve(listener); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			w.deliver(callbackResult{err: fmt.Errorf("auth: callback server error: %w", serveErr)})
		}
	}()

	logger.Info("callback server listening", slog.String("url", w.callback))

	return w, nil
}

// callbackResult carries the callback query or an error from the handler.
type callbackResult struct {
	values url.Values
	err    error
}

type loopbackWindow struct {
	callback string
	openURL  func(string) error
	out      io.Writer
	timeout  time.Duration
	logger   *slog.Logger
	srv      *http.Server

	resultCh  chan callbackResult
	closed    chan struct{}
	closeOnce sync.Once

	mu      sync.Mutex
	authURL string
}

func (w *loopbackWindow) CallbackURL() string {
	return w.callback
}

func (w *loopbackWindow) Navigate(authURL string) error {
	w.mu.Lock()
	w.authURL = authURL
	w.mu.Unlock()

	w.logger.Info("opening browser for authorization")

	if w.openURL == nil {
		w.printURL("Open this URL in your browser:", authURL)
		return nil
	}

	if err := w.openURL(authURL); err != nil {
		w.logger.Warn("failed to open browser, printing URL",
			slog.String("error", err.Error()),
		)

		w.printURL("Open this URL in your browser:", authURL)
	}

	return nil
}

// Focus reprints the pending URL; a terminal cannot raise a browser tab.
func (w *loopbackWindow) Focus() {
	w.mu.Lock()
	authURL := w.authURL
	w.mu.Unlock()

	if authURL != "" {
		w.printURL("Authorization is already in progress. Continue at:", authURL)
	}
}

func (w *loopbackWindow) printURL(prefix, authURL string) {
	if w.out != nil {
		fmt.Fprintf(w.out, "%s\n%s\n", prefix, authURL)
	}
}

func (w *loopbackWindow) Wait(ctx context.Context) (url.Values, error) {
	var timeout <-chan time.Time

	if w.timeout > 0 {
		timer := time.NewTimer(w.timeout)
		defer timer.Stop()

		timeout = timer.C
	}

	select {
	case r := <-w.resultCh:
		return r.values, r.err
	case <-w.closed:
		return nil, zotero.ErrAuthorizationCancelled
	case <-timeout:
		return nil, fmt.Errorf("%w: timed out waiting for browser", zotero.ErrAuthorizationCancelled)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (w *loopbackWindow) Close() {
	w.closeOnce.Do(func() {
		close(w.closed)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := w.srv.Shutdown(shutdownCtx); err != nil {
			w.logger.Warn("callback server shutdown error", slog.String("error", err.Error()))
		}
	})
}

// handleCallback accepts the redirect carrying oauth_token and
// oauth_verifier. A redirect without a verifier means the user denied
// access, which closes the window.
func (w *loopbackWindow) handleCallback(rw http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	if q.Get("oauth_verifier") == "" {
		http.Error(rw, "Authorization was not granted", http.StatusBadRequest)
		w.deliver(callbackResult{err: fmt.Errorf("%w: access denied in browser", zotero.ErrAuthorizationCancelled)})

		return
	}

	rw.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprint(rw, "<html><body><h1>Authorization complete</h1>"+
		"<p>You can close this window and return to the terminal.</p></body></html>")

	w.deliver(callbackResult{values: q})
}

// deliver records the first result; later callbacks are dropped.
func (w *loopbackWindow) deliver(r callbackResult) {
	select {
	case w.resultCh <- r:
	default:
	}
}
