// Package targets discovers where items can be saved: the user's own
// library, each group library, and every collection inside them, as a
// flat list ready for display.
package targets

import (
	"encoding/json"
	"slices"

	"github.com/tonimelisma/zotero-go/internal/library"
)

// PrefLastTarget is the preference holding the preferred row id (or a
// "type:id" library key).
const PrefLastTarget = "server.lastLibraryTarget"

// Row is one save target. Library roots have level 0; a collection's
// level is its parent's plus one. CollectionKey is empty for roots.
type Row struct {
	ID              string
	Name            string
	Level           int
	Library         library.Descriptor
	CollectionKey   string
	FilesEditable   bool
	LibraryEditable bool
}

// IsCollection reports whether r is a collection rather than a library root.
func (r Row) IsCollection() bool {
	return r.CollectionKey != ""
}

type rowJSON struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	Level           int    `json:"level"`
	LibraryType     string `json:"libraryType"`
	LibraryID       string `json:"libraryID"`
	CollectionKey   string `json:"collectionKey,omitempty"`
	FilesEditable   bool   `json:"filesEditable"`
	LibraryEditable bool   `json:"libraryEditable"`
}

// MarshalJSON flattens the library descriptor into libraryType/libraryID.
func (r Row) MarshalJSON() ([]byte, error) {
	return json.Marshal(rowJSON{
		ID:              r.ID,
		Name:            r.Name,
		Level:           r.Level,
		LibraryType:     string(r.Library.Type()),
		LibraryID:       r.Library.ID(),
		CollectionKey:   r.CollectionKey,
		FilesEditable:   r.FilesEditable,
		LibraryEditable: r.LibraryEditable,
	})
}

// Selection is the result of discovery. Tags are keyed by library root
// row id.
type Selection struct {
	Preferred Row                 `json:"target"`
	Targets   []Row               `json:"targets"`
	Tags      map[string][]string `json:"tags"`
}

// Clone returns a deep copy of s.
func (s *Selection) Clone() *Selection {
	tags := make(map[string][]string, len(s.Tags))
	for k, v := range s.Tags {
		tags[k] = slices.Clone(v)
	}

	return &Selection{
		Preferred: s.Preferred,
		Targets:   slices.Clone(s.Targets),
		Tags:      tags,
	}
}

// Find returns the first row whose id, or whose library's "type:id" key,
// equals key.
func (s *Selection) Find(key string) (Row, bool) {
	for _, r := range s.Targets {
		if r.ID == key || r.Library.PrefKey() == key {
			return r, true
		}
	}

	return Row{}, false
}

// LibraryKeys returns the library root ids that have a tag entry, in
// row order.
func (s *Selection) LibraryKeys() []string {
	keys := make([]string, 0, len(s.Tags))

	for _, r := range s.Targets {
		if _, ok := s.Tags[r.ID]; ok && !r.IsCollection() {
			keys = append(keys, r.ID)
		}
	}

	return keys
}
