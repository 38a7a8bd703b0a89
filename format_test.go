package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/zotero-go/internal/library"
	"github.com/tonimelisma/zotero-go/internal/targets"
)

func TestFormatSize(t *testing.T) {
	tests := []struct {
		name  string
		bytes int64
		want  string
	}{
		{"zero", 0, "0 B"},
		{"bytes", 512, "512 B"},
		{"kilobytes", 1536, "1.5 KB"},
		{"megabytes", 5242880, "5.0 MB"},
		{"gigabytes", 1610612736, "1.5 GB"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, formatSize(tt.bytes))
		})
	}
}

func TestPrintJSON(t *testing.T) {
	var buf bytes.Buffer

	require.NoError(t, printJSON(&buf, map[string]int{"n": 1}))
	assert.Equal(t, "{\n  \"n\": 1\n}\n", buf.String())
}

func TestPrintTargets(t *testing.T) {
	user := library.User("1")
	group, err := library.Group("5")
	require.NoError(t, err)

	root := targets.Row{ID: user.RootID(), Name: "My Library", Library: user, FilesEditable: true, LibraryEditable: true}
	sel := &targets.Selection{
		Preferred: root,
		Targets: []targets.Row{
			root,
			{ID: user.CollectionID("AAAA"), Name: "Papers", Level: 1, Library: user, CollectionKey: "AAAA"},
			{ID: group.RootID(), Name: "Lab", Library: group},
		},
		Tags: map[string][]string{
			user.RootID():  {"alpha", "beta"},
			group.RootID(): {},
		},
	}

	var buf bytes.Buffer
	printTargets(&buf, sel)
	out := buf.String()

	assert.Contains(t, out, "NAME")
	assert.Contains(t, out, "  Papers", "collections are indented by level")
	assert.Contains(t, out, "Lgroup-5")
	assert.Contains(t, out, "Luser-1 tags: alpha, beta")
	assert.NotContains(t, out, "Lgroup-5 tags")
}
