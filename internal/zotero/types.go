package zotero

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Collection is a normalized collection listing entry.
// ParentKey is empty for top-level collections.
type Collection struct {
	Key       string
	Name      string
	ParentKey string
}

// Group is a normalized group listing entry. FileEditing and
// LibraryEditing hold the raw permission strings ("none", "members",
// "admins"); empty means the server did not say.
type Group struct {
	ID             string
	Name           string
	FileEditing    string
	LibraryEditing string
}

// KeyAccess is the permission block of GET users/<id>/keys/current.
// User is nil when the response carried no user-level access at all.
type KeyAccess struct {
	User *UserAccess `json:"user"`
}

// UserAccess describes what a key may do in the owner's personal library.
type UserAccess struct {
	Library bool `json:"library"`
	Files   bool `json:"files"`
	Notes   bool `json:"notes"`
	Write   bool `json:"write"`
}

// KeyInfo mirrors the key verification response.
type KeyInfo struct {
	Username string    `json:"username"`
	Access   KeyAccess `json:"access"`
}

// UploadAuthorization is the server's answer to a file upload request.
// When Exists is set the content is already stored and nothing else is
// needed; otherwise Prefix‖data‖Suffix goes to URL as ContentType and
// UploadKey registers it afterwards.
type UploadAuthorization struct {
	Exists      flexBool `json:"exists"`
	URL         string   `json:"url"`
	ContentType string   `json:"contentType"`
	Prefix      string   `json:"prefix"`
	Suffix      string   `json:"suffix"`
	UploadKey   string   `json:"uploadKey"`
}

// collectionEntry mirrors a collection object, tolerating both the
// enveloped ({key, data:{...}}) and bare forms.
type collectionEntry struct {
	Key              string           `json:"key"`
	ID               flexString       `json:"id"`
	CollectionKey    string           `json:"collectionKey"`
	Name             string           `json:"name"`
	ParentCollection parentRef        `json:"parentCollection"`
	Data             *collectionEntry `json:"data"`
}

// groupEntry mirrors a group object in enveloped or bare form.
type groupEntry struct {
	ID             flexString  `json:"id"`
	GroupID        flexString  `json:"groupID"`
	Name           string      `json:"name"`
	FileEditing    string      `json:"fileEditing"`
	LibraryEditing string      `json:"libraryEditing"`
	Data           *groupEntry `json:"data"`
}

// tagEntry mirrors a tag object; bare strings are handled by DecodeTags.
type tagEntry struct {
	Tag  string `json:"tag"`
	Name string `json:"name"`
}

// DecodeCollections normalizes raw collection objects. Entries that cannot
// be decoded or carry no key are skipped and counted.
func DecodeCollections(items []json.RawMessage) ([]Collection, int) {
	out := make([]Collection, 0, len(items))
	skipped := 0

	for _, raw := range items {
		var e collectionEntry
		if err := json.Unmarshal(raw, &e); err != nil {
			skipped++
			continue
		}

		d := &e
		if e.Data != nil {
			d = e.Data
		}

		key := firstNonEmpty(d.Key, string(d.ID), d.CollectionKey, e.Key)
		if key == "" {
			skipped++
			continue
		}

		out = append(out, Collection{
			Key:       key,
			Name:      d.Name,
			ParentKey: string(d.ParentCollection),
		})
	}

	return out, skipped
}

// DecodeGroups normalizes raw group objects, skipping entries without an id.
func DecodeGroups(items []json.RawMessage) ([]Group, int) {
	out := make([]Group, 0, len(items))
	skipped := 0

	for _, raw := range items {
		var e groupEntry
		if err := json.Unmarshal(raw, &e); err != nil {
			skipped++
			continue
		}

		d := &e
		if e.Data != nil {
			d = e.Data
		}

		id := firstNonEmpty(string(d.ID), string(d.GroupID), string(e.ID))
		if id == "" {
			skipped++
			continue
		}

		out = append(out, Group{
			ID:             id,
			Name:           d.Name,
			FileEditing:    d.FileEditing,
			LibraryEditing: d.LibraryEditing,
		})
	}

	return out, skipped
}

// DecodeTags extracts tag names from tag objects or bare strings,
// deduplicated in first-seen order.
func DecodeTags(items []json.RawMessage) []string {
	seen := make(map[string]bool, len(items))
	out := make([]string, 0, len(items))

	for _, raw := range items {
		var name string
		if err := json.Unmarshal(raw, &name); err != nil {
			var e tagEntry
			if err := json.Unmarshal(raw, &e); err != nil {
				continue
			}

			name = firstNonEmpty(e.Tag, e.Name)
		}

		if name == "" || seen[name] {
			continue
		}

		seen[name] = true
		out = append(out, name)
	}

	return out
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}

	return ""
}

// parentRef decodes parentCollection: false, null or absent mean top level;
// a string is the parent's key.
type parentRef string

func (p *parentRef) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("false")) || bytes.Equal(b, []byte("null")) {
		*p = ""
		return nil
	}

	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("parentCollection: %w", err)
	}

	*p = parentRef(s)

	return nil
}

// flexString accepts a JSON string or number. Numeric group and user ids
// arrive as numbers from some endpoints and as strings from others.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}

	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}

		*f = flexString(s)

		return nil
	}

	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}

	*f = flexString(n.String())

	return nil
}

// flexBool accepts true/false, numbers (non-zero is true) and numeric
// strings. The upload endpoint reports {"exists": 1}.
type flexBool bool

func (f *flexBool) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(bytes.TrimSpace(b)), `"`)

	switch s {
	case "true":
		*f = true
	case "false", "null", "":
		*f = false
	default:
		n, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return fmt.Errorf("exists: %w", err)
		}

		*f = n != 0
	}

	return nil
}
