package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/tonimelisma/zotero-go/internal/targets"
)

// statusf prints a status message to stderr unless quiet mode is set.
func statusf(quiet bool, format string, args ...any) {
	if !quiet {
		fmt.Fprintf(os.Stderr, format, args...)
	}
}

// Statusf prints a status message to stderr unless quiet mode is set.
func (cc *CLIContext) Statusf(format string, args ...any) {
	statusf(cc.Flags.Quiet, format, args...)
}

// Size unit constants for human-readable formatting.
const (
	sizeKB = 1024
	sizeMB = 1024 * 1024
	sizeGB = 1024 * 1024 * 1024
)

// formatSize returns a human-readable size string (e.g. "1.2 MB").
func formatSize(bytes int64) string {
	switch {
	case bytes >= sizeGB:
		return fmt.Sprintf("%.1f GB", float64(bytes)/float64(sizeGB))
	case bytes >= sizeMB:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(sizeMB))
	case bytes >= sizeKB:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(sizeKB))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}

// printJSON writes v as indented JSON.
func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encoding JSON output: %w", err)
	}

	return nil
}

// indentWidth is the number of spaces per collection nesting level.
const indentWidth = 2

// printTargets renders the selection as a table with collections indented
// under their library and the preferred row marked.
func printTargets(w io.Writer, sel *targets.Selection) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"", "NAME", "ID", "FILES", "EDIT"})

	for _, row := range sel.Targets {
		marker := ""
		if row.ID == sel.Preferred.ID {
			marker = text.FgGreen.Sprint("*")
		}

		name := strings.Repeat(" ", row.Level*indentWidth) + row.Name
		if !row.IsCollection() {
			name = text.Bold.Sprint(name)
		}

		t.AppendRow(table.Row{marker, name, row.ID, yesNo(row.FilesEditable), yesNo(row.LibraryEditable)})
	}

	t.Render()

	for _, key := range sel.LibraryKeys() {
		tags := sel.Tags[key]
		if len(tags) == 0 {
			continue
		}

		fmt.Fprintf(w, "%s tags: %s\n", key, strings.Join(tags, ", "))
	}
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}

	return "no"
}
