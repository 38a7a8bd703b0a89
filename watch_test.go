package main

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/zotero-go/internal/config"
)

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.buf.String()
}

func (b *lockedBuffer) lines() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return strings.Count(b.buf.String(), "\n")
}

func TestRefreshLoop_RefreshesOnSignal(t *testing.T) {
	fz := newFakeZotero(t)
	setupCLI(t, fz, true)

	resolved, err := config.Resolve(config.ReadEnvOverrides(), config.CLIOverrides{})
	require.NoError(t, err)

	cc := &CLIContext{Cfg: resolved, Logger: slog.Default()}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	session, err := NewSession(ctx, cc)
	require.NoError(t, err)
	defer session.Close()

	var out lockedBuffer

	refreshes := make(chan struct{}, 1)
	done := make(chan error, 1)

	go func() { done <- refreshLoop(ctx, &out, cc, session, refreshes) }()

	require.Eventually(t, func() bool { return out.lines() == 1 }, 5*time.Second, 10*time.Millisecond)

	refreshes <- struct{}{}

	require.Eventually(t, func() bool { return out.lines() == 2 }, 5*time.Second, 10*time.Millisecond)
	assert.Contains(t, out.String(), "3 targets, preferred: My Library")

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}
