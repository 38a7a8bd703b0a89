package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/tonimelisma/zotero-go/internal/prefs"
	"github.com/tonimelisma/zotero-go/internal/zotero"
)

func newWatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Refresh save targets whenever a library changes",
		Long: `Subscribe to the streaming API and rediscover save targets each time a
library is added, removed or updated. With the file preference backend,
edits made to the preference file by other processes are picked up too.
Runs until interrupted.`,
		RunE: runWatch,
	}
}

func runWatch(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())
	ctx, _ := withInterrupt(cmd.Context(), cc.Logger)

	session, err := NewSession(ctx, cc)
	if err != nil {
		return err
	}
	defer session.Close()

	cred, err := session.requireCredential(ctx)
	if err != nil {
		return err
	}

	refreshes := make(chan struct{}, 1)
	notify := func() {
		select {
		case refreshes <- struct{}{}:
		default:
		}
	}

	listener := zotero.NewStreamListener(cc.Cfg.API.StreamURL, cred.APIKey(), newHTTPClient(cc.Cfg), cc.Logger)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return listener.Run(gctx, func(ev zotero.StreamEvent) {
			cc.Logger.Info("library changed", slog.String("event", ev.Event), slog.String("topic", ev.Topic))
			notify()
		})
	})

	if fs, ok := session.Prefs.(*prefs.FileStore); ok {
		g.Go(func() error {
			return fs.Watch(gctx, func() {
				cc.Logger.Info("preferences changed on disk")
				notify()
			})
		})
	}

	g.Go(func() error {
		return refreshLoop(gctx, cmd.OutOrStdout(), cc, session, refreshes)
	})

	cc.Statusf("Watching for library changes. Press Ctrl-C to stop.\n")

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	return nil
}

// refreshLoop rediscovers targets on each signal until ctx is done. An
// initial discovery runs immediately.
func refreshLoop(ctx context.Context, w io.Writer, cc *CLIContext, session *Session, refreshes <-chan struct{}) error {
	refresh := func() {
		session.Resolver.Invalidate()

		start := time.Now()

		sel, err := session.Resolver.Targets(ctx, true)
		if err != nil {
			if ctx.Err() == nil {
				cc.Logger.Warn("target refresh failed", slog.String("error", err.Error()))
			}

			return
		}

		if sel == nil {
			cc.Logger.Warn("credential removed; run 'zotero-go login' to resume")
			return
		}

		cc.Logger.Info("targets refreshed",
			slog.Int("targets", len(sel.Targets)),
			slog.Duration("elapsed", time.Since(start)),
		)

		if cc.Flags.JSON {
			_ = printJSON(w, sel)
			return
		}

		fmt.Fprintf(w, "%s  %d targets, preferred: %s\n",
			time.Now().Format(time.TimeOnly), len(sel.Targets), sel.Preferred.Name)
	}

	refresh()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-refreshes:
			refresh()
		}
	}
}
