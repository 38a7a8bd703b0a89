package targets

import (
	"slices"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"github.com/tonimelisma/zotero-go/internal/zotero"
)

type treeNode struct {
	key  string
	name string
}

// buildCollectionRows lays out cols below root in pre-order. Siblings are
// sorted by name with a case-insensitive collator. Collections whose
// parent is not in cols are unreachable and omitted.
func buildCollectionRows(root Row, cols []zotero.Collection) []Row {
	byParent := make(map[string][]treeNode)

	for _, c := range cols {
		if c.Key == "" {
			continue
		}

		name := c.Name
		if name == "" {
			name = "Collection " + c.Key
		}

		byParent[c.ParentKey] = append(byParent[c.ParentKey], treeNode{key: c.Key, name: name})
	}

	// Collators are not safe for concurrent use.
	coll := collate.New(language.Und, collate.IgnoreCase)

	rows := make([]Row, 0, len(cols))
	visited := make(map[string]bool, len(cols))

	var addChildren func(parent string, level int)
	addChildren = func(parent string, level int) {
		children := byParent[parent]
		slices.SortStableFunc(children, func(a, b treeNode) int {
			return coll.CompareString(a.name, b.name)
		})

		for _, child := range children {
			if visited[child.key] {
				continue
			}

			visited[child.key] = true

			rows = append(rows, Row{
				ID:              root.Library.CollectionID(child.key),
				Name:            child.name,
				Level:           level,
				Library:         root.Library,
				CollectionKey:   child.key,
				FilesEditable:   root.FilesEditable,
				LibraryEditable: root.LibraryEditable,
			})

			addChildren(child.key, level+1)
		}
	}

	addChildren("", root.Level+1)

	return rows
}
