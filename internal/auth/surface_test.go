package auth

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/zotero-go/internal/zotero"
)

func TestLoopbackSurface_DeliversCallback(t *testing.T) {
	var opened string

	s := &LoopbackSurface{OpenURL: func(u string) error { opened = u; return nil }}

	w, err := s.Open(context.Background())
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, w.Navigate("https://example.org/authorize?oauth_token=t"))
	assert.Equal(t, "https://example.org/authorize?oauth_token=t", opened)

	resp, err := http.Get(w.CallbackURL() + "?oauth_token=t&oauth_verifier=v")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	values, err := w.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "v", values.Get("oauth_verifier"))
}

func TestLoopbackSurface_DeniedAccess(t *testing.T) {
	s := &LoopbackSurface{}

	w, err := s.Open(context.Background())
	require.NoError(t, err)
	defer w.Close()

	resp, err := http.Get(w.CallbackURL() + "?oauth_token=t")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	_, err = w.Wait(context.Background())
	assert.ErrorIs(t, err, zotero.ErrAuthorizationCancelled)
}

func TestLoopbackSurface_CloseCancelsWait(t *testing.T) {
	s := &LoopbackSurface{}

	w, err := s.Open(context.Background())
	require.NoError(t, err)

	w.Close()
	w.Close()

	_, err = w.Wait(context.Background())
	assert.ErrorIs(t, err, zotero.ErrAuthorizationCancelled)
}

func TestLoopbackSurface_Timeout(t *testing.T) {
	s := &LoopbackSurface{Timeout: 10 * time.Millisecond}

	w, err := s.Open(context.Background())
	require.NoError(t, err)
	defer w.Close()

	_, err = w.Wait(context.Background())
	assert.ErrorIs(t, err, zotero.ErrAuthorizationCancelled)
}

func TestLoopbackSurface_BrowserFailurePrintsURL(t *testing.T) {
	var out bytes.Buffer

	s := &LoopbackSurface{
		OpenURL: func(string) error { return errors.New("no display") },
		Out:     &out,
	}

	w, err := s.Open(context.Background())
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, w.Navigate("https://example.org/authorize"))
	assert.Contains(t, out.String(), "https://example.org/authorize")

	out.Reset()
	w.Focus()
	assert.Contains(t, out.String(), "already in progress")
}
