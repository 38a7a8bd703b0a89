// Package library identifies Zotero libraries. A Descriptor is either the
// authenticated user's own library or a group library, and knows how to
// render itself as an API path and as the row ids used by target listings.
package library

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
)

// Type distinguishes user libraries from group libraries.
type Type string

// Library types as they appear in API paths, row ids and preference values.
const (
	TypeUser  Type = "user"
	TypeGroup Type = "group"
)

// ErrInvalidDescriptor is returned for unknown library types and group
// descriptors without an id.
var ErrInvalidDescriptor = errors.New("library: invalid descriptor")

// Descriptor identifies one library. The zero value is the authenticated
// user's own library, whose id is only known once a credential exists.
// A group descriptor always carries an id.
type Descriptor struct {
	typ Type
	id  string
}

// User returns the descriptor of user library id. An empty id means the
// authenticated user.
func User(id string) Descriptor {
	return Descriptor{typ: TypeUser, id: id}
}

// Group returns the descriptor of group library id.
func Group(id string) (Descriptor, error) {
	if id == "" {
		return Descriptor{}, fmt.Errorf("%w: group library without id", ErrInvalidDescriptor)
	}

	return Descriptor{typ: TypeGroup, id: id}, nil
}

// New builds a descriptor from a type string and id. An empty type means
// user.
func New(libraryType, id string) (Descriptor, error) {
	switch Type(libraryType) {
	case "", TypeUser:
		return User(id), nil
	case TypeGroup:
		return Group(id)
	default:
		return Descriptor{}, fmt.Errorf("%w: unknown library type %q", ErrInvalidDescriptor, libraryType)
	}
}

// Normalize builds a descriptor from values that may carry the packed row
// id format ("Luser-123", "Lgroup-456") instead of a bare id. A packed id
// overrides libraryType. A packed id that does not split into exactly two
// parts is logged and treated as a user library whose id is everything
// after the "L".
func Normalize(libraryType, libraryID string, logger *slog.Logger) (Descriptor, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if rest, ok := strings.CutPrefix(libraryID, rootPrefix); ok {
		parts := strings.Split(rest, "-")
		if len(parts) == 2 {
			if parts[0] == string(TypeGroup) {
				return Group(parts[1])
			}

			return User(parts[1]), nil
		}

		logger.Warn("unexpected library id format, defaulting to user library",
			slog.String("library_id", libraryID),
		)

		return User(rest), nil
	}

	return New(libraryType, libraryID)
}

// Type returns the library type; the zero descriptor reports TypeUser.
func (d Descriptor) Type() Type {
	if d.typ == "" {
		return TypeUser
	}

	return d.typ
}

// ID returns the library id, which is empty for the zero descriptor.
func (d Descriptor) ID() string {
	return d.id
}

// IsZero reports whether d is the implicit own-library descriptor.
func (d Descriptor) IsZero() bool {
	return d.typ == "" && d.id == ""
}

// IsGroup reports whether d names a group library.
func (d Descriptor) IsGroup() bool {
	return d.typ == TypeGroup
}

// Resolve fills in userID for user descriptors without an id.
func (d Descriptor) Resolve(userID string) Descriptor {
	if d.IsGroup() || d.id != "" {
		return d
	}

	return User(userID)
}

// Path returns the API path prefix, "users/<id>" or "groups/<id>". A user
// descriptor without an id resolves to userID.
func (d Descriptor) Path(userID string) string {
	r := d.Resolve(userID)
	if r.IsGroup() {
		return "groups/" + url.PathEscape(r.id)
	}

	return "users/" + url.PathEscape(r.id)
}

// PrefKey returns the "type:id" form stored as a preferred target when no
// row id is available.
func (d Descriptor) PrefKey() string {
	return string(d.Type()) + ":" + d.id
}

// String implements fmt.Stringer.
func (d Descriptor) String() string {
	return d.PrefKey()
}
