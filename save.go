package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/zotero-go/internal/zotero"
)

func newSaveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "save <items.json>",
		Short: "Save items to a library or collection",
		Long: `Save the items in a JSON file (one item object or an array of them) to the
preferred target, or to --target. Use "-" to read from stdin. If the server
rejects the stored key, it is discarded and the browser authorization flow
runs once before retrying. Without a stored key the same flow runs before
the first attempt, and the items go to --target or the user library.`,
		Args: cobra.ExactArgs(1),
		RunE: runSave,
	}

	cmd.Flags().String("target", "", "target row id or library key (default: preferred target)")

	return cmd
}

func runSave(cmd *cobra.Command, args []string) error {
	cc := mustCLIContext(cmd.Context())
	ctx, interrupt := withInterrupt(cmd.Context(), cc.Logger)

	items, err := readItems(args[0])
	if err != nil {
		return err
	}

	session, err := NewSession(ctx, cc)
	if err != nil {
		return err
	}
	defer session.Close()

	interrupt.OnInterrupt(session.Flow.Cancel)

	targetKey, _ := cmd.Flags().GetString("target")

	row, err := saveTarget(ctx, session, targetKey)
	if err != nil {
		return err
	}

	result, err := session.Saver.SaveToTarget(ctx, items, row, true)
	if err != nil {
		return err
	}

	if cc.Flags.JSON {
		if err := printJSON(cmd.OutOrStdout(), result); err != nil {
			return err
		}
	} else {
		for _, key := range result.Keys() {
			fmt.Fprintln(cmd.OutOrStdout(), key)
		}

		cc.Statusf("Saved %d of %d item(s) to %s.\n", len(result.Success), len(items), row.Name)
	}

	return result.Err()
}

// readItems decodes one item object or an array of them from path ("-" for
// stdin).
func readItems(path string) ([]map[string]any, error) {
	var (
		data []byte
		err  error
	)

	if path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}

	if err != nil {
		return nil, fmt.Errorf("reading items: %w", err)
	}

	var raw json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: items file is not JSON: %v", zotero.ErrValidation, err)
	}

	var items []map[string]any
	if err := json.Unmarshal(raw, &items); err == nil {
		return items, nil
	}

	var item map[string]any
	if err := json.Unmarshal(raw, &item); err != nil {
		return nil, fmt.Errorf("%w: expected an item object or an array of items", zotero.ErrValidation)
	}

	return []map[string]any{item}, nil
}
