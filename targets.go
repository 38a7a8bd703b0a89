package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/zotero-go/internal/library"
	"github.com/tonimelisma/zotero-go/internal/targets"
)

func newTargetsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "targets",
		Short: "List libraries and collections items can be saved to",
		Long: `List the user library, every group library and all of their collections.
The preferred target is marked with "*".`,
		RunE: runTargets,
	}

	cmd.Flags().Bool("refresh", false, "ignore cached results and rediscover")

	return cmd
}

func newTargetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "target",
		Short: "Manage the preferred save target",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "set <row-id | type:id>",
		Short: "Set the preferred save target",
		Args:  cobra.ExactArgs(1),
		RunE:  runTargetSet,
	})

	return cmd
}

func runTargets(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())
	ctx := cmd.Context()

	session, err := NewSession(ctx, cc)
	if err != nil {
		return err
	}
	defer session.Close()

	if _, err := session.requireCredential(ctx); err != nil {
		return err
	}

	refresh, _ := cmd.Flags().GetBool("refresh")

	sel, err := session.Resolver.Targets(ctx, refresh)
	if err != nil {
		return err
	}

	if cc.Flags.JSON {
		return printJSON(cmd.OutOrStdout(), sel)
	}

	printTargets(cmd.OutOrStdout(), sel)

	return nil
}

func runTargetSet(cmd *cobra.Command, args []string) error {
	cc := mustCLIContext(cmd.Context())
	ctx := cmd.Context()

	session, err := NewSession(ctx, cc)
	if err != nil {
		return err
	}
	defer session.Close()

	row, err := findTarget(ctx, session, args[0])
	if err != nil {
		return err
	}

	if err := session.Resolver.SetPreferred(ctx, row); err != nil {
		return err
	}

	cc.Statusf("Preferred target set to %s.\n", row.Name)

	return nil
}

// findTarget returns the discovered target matching key, or the preferred
// target when key is empty.
func findTarget(ctx context.Context, session *Session, key string) (targets.Row, error) {
	if _, err := session.requireCredential(ctx); err != nil {
		return targets.Row{}, err
	}

	sel, err := session.Resolver.Targets(ctx, false)
	if err != nil {
		return targets.Row{}, err
	}

	if key == "" {
		return sel.Preferred, nil
	}

	row, ok := sel.Find(key)
	if !ok {
		return targets.Row{}, fmt.Errorf("no save target %q; run 'zotero-go targets' to list them", key)
	}

	return row, nil
}

// saveTarget is findTarget for commands that write. A key that discovery
// did not return is decoded as a row id or "type:id" value and used as
// given, so a library whose listing failed can still be written to. With
// no stored credential nothing can be discovered: an empty key then means
// the user's own library, and authorization is left to the saver.
func saveTarget(ctx context.Context, session *Session, key string) (targets.Row, error) {
	cred, err := session.Creds.Load(ctx)
	if err != nil {
		return targets.Row{}, err
	}

	if cred == nil {
		return rowFromKey(key, session.logger)
	}

	sel, err := session.Resolver.Targets(ctx, false)
	if err != nil {
		return targets.Row{}, err
	}

	if key == "" {
		return sel.Preferred, nil
	}

	if row, ok := sel.Find(key); ok {
		return row, nil
	}

	row, err := rowFromKey(key, session.logger)
	if err != nil {
		return targets.Row{}, fmt.Errorf("no save target %q; run 'zotero-go targets' to list them: %w", key, err)
	}

	session.logger.Warn("save target was not discovered, using it as given",
		slog.String("target", row.ID),
	)

	return row, nil
}

// rowFromKey builds a target row from a row id or "type:id" value. Library
// ids still in the packed "L<type>-<id>" form are unpacked first. An empty
// key is the authenticated user's own library.
func rowFromKey(key string, logger *slog.Logger) (targets.Row, error) {
	if key == "" {
		return targets.Row{Name: "My Library", LibraryEditable: true, FilesEditable: true}, nil
	}

	parsed, collectionKey, err := library.ParseRowID(key)
	if err != nil {
		return targets.Row{}, err
	}

	lib, err := library.Normalize(string(parsed.Type()), parsed.ID(), logger)
	if err != nil {
		return targets.Row{}, err
	}

	row := targets.Row{
		ID:              lib.RootID(),
		Library:         lib,
		LibraryEditable: true,
		FilesEditable:   true,
	}

	if collectionKey != "" {
		row.ID = lib.CollectionID(collectionKey)
		row.CollectionKey = collectionKey
		row.Level = 1
	}

	row.Name = row.ID

	return row, nil
}
