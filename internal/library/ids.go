package library

import (
	"fmt"
	"strings"
)

// Row id prefixes: library roots are "L<type>-<id>", collections are
// "C<type>-<id>-<key>".
const (
	rootPrefix       = "L"
	collectionPrefix = "C"
)

// RootID returns the target row id of the library itself.
func (d Descriptor) RootID() string {
	return rootPrefix + string(d.Type()) + "-" + d.id
}

// CollectionID returns the target row id of collection key in d.
func (d Descriptor) CollectionID(key string) string {
	return collectionPrefix + string(d.Type()) + "-" + d.id + "-" + key
}

// ParseRowID decodes a target row id or a "type:id" preference value. The
// returned collection key is empty for library roots.
func ParseRowID(raw string) (Descriptor, string, error) {
	if typ, id, ok := strings.Cut(raw, ":"); ok {
		d, err := New(typ, id)

		return d, "", err
	}

	if rest, ok := strings.CutPrefix(raw, rootPrefix); ok {
		parts := strings.Split(rest, "-")
		if len(parts) != 2 || parts[1] == "" {
			return Descriptor{}, "", fmt.Errorf("%w: row id %q", ErrInvalidDescriptor, raw)
		}

		d, err := strictNew(parts[0], parts[1])

		return d, "", err
	}

	if rest, ok := strings.CutPrefix(raw, collectionPrefix); ok {
		parts := strings.SplitN(rest, "-", 3)
		if len(parts) != 3 || parts[1] == "" || parts[2] == "" {
			return Descriptor{}, "", fmt.Errorf("%w: row id %q", ErrInvalidDescriptor, raw)
		}

		d, err := strictNew(parts[0], parts[1])
		if err != nil {
			return Descriptor{}, "", err
		}

		return d, parts[2], nil
	}

	return Descriptor{}, "", fmt.Errorf("%w: row id %q", ErrInvalidDescriptor, raw)
}

// strictNew is New without the empty-type default.
func strictNew(typ, id string) (Descriptor, error) {
	if typ == "" {
		return Descriptor{}, fmt.Errorf("%w: missing library type", ErrInvalidDescriptor)
	}

	return New(typ, id)
}
