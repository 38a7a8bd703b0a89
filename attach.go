package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/zotero-go/internal/save"
)

func newAttachCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "attach <file>",
		Short: "Upload a file as the content of an attachment item",
		Long: `Upload a file into an existing attachment item identified by --item.
The library is taken from --target, or from the preferred target. Content
the server already stores is not uploaded again.`,
		Args: cobra.ExactArgs(1),
		RunE: runAttach,
	}

	cmd.Flags().String("item", "", "attachment item key")
	cmd.Flags().String("target", "", "target row id or library key (default: preferred target)")
	cmd.Flags().String("mime", "", "content type (default: detected)")
	cmd.Flags().String("charset", "", "character set of text content")
	_ = cmd.MarkFlagRequired("item")

	return cmd
}

func runAttach(cmd *cobra.Command, args []string) error {
	cc := mustCLIContext(cmd.Context())
	ctx, _ := withInterrupt(cmd.Context(), cc.Logger)

	fsPath := args[0]

	data, sum, err := save.HashFile(fsPath)
	if err != nil {
		return err
	}

	info, err := os.Stat(fsPath)
	if err != nil {
		return fmt.Errorf("stat %s: %w", fsPath, err)
	}

	itemKey, _ := cmd.Flags().GetString("item")
	targetKey, _ := cmd.Flags().GetString("target")
	mimeType, _ := cmd.Flags().GetString("mime")
	charset, _ := cmd.Flags().GetString("charset")

	if mimeType == "" {
		mimeType = save.DetectMimeType(fsPath, data)
	}

	session, err := NewSession(ctx, cc)
	if err != nil {
		return err
	}
	defer session.Close()

	if _, err := session.requireCredential(ctx); err != nil {
		return err
	}

	row, err := saveTarget(ctx, session, targetKey)
	if err != nil {
		return err
	}

	att := &save.Attachment{
		Data:     data,
		Filename: filepath.Base(fsPath),
		ItemKey:  itemKey,
		MD5:      sum,
		MimeType: mimeType,
		Charset:  charset,
		ModTime:  info.ModTime(),
	}

	cc.Logger.Info("uploading attachment",
		"item", itemKey,
		"library", row.Library.String(),
		"size", len(data),
	)

	if _, err := session.Uploader.Upload(ctx, att, row.Library); err != nil {
		return err
	}

	if cc.Flags.JSON {
		return printJSON(cmd.OutOrStdout(), map[string]any{
			"item":     itemKey,
			"filename": att.Filename,
			"md5":      sum,
			"size":     len(data),
		})
	}

	cc.Statusf("Uploaded %s (%s) to item %s.\n", att.Filename, formatSize(int64(len(data))), itemKey)

	return nil
}
