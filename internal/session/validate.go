package session

import (
	"regexp"
	"strings"

	"github.com/modlink/core/errors"
	"github.com/modlink/core/tag"
)

// itemIDPattern is the allowed item id shape; a single ':' may separate an
// explicit namespace from the bare id.
var itemIDPattern = regexp.MustCompile(`^([a-z0-9_.-]+:)?[a-z0-9_.-]+$`)

// ValidateItemID checks an id supplied by a UI action for disallowed
// characters.
func ValidateItemID(id string) error {
	if id == "" || !itemIDPattern.MatchString(id) {
		return errors.InvalidItemID(id)
	}
	return nil
}

// ValidateItemData checks user-supplied item data before it may be
// persisted: the tag must carry a string id field matching the declared id,
// and must not embed modlink-owned values (transient editor state or code
// value payloads are never user data).
func ValidateItemData(id string, t tag.Tag) error {
	tagID, ok := t.ID()
	if !ok {
		return errors.InvalidItemData(id, "missing or wrong-typed id field")
	}
	if bareID(tagID) != bareID(id) {
		return errors.InvalidItemData(id, "id field does not match item id")
	}
	if t.HasModlinkKeys() {
		return errors.InvalidItemData(id, "embedded code value payloads are not allowed")
	}
	return nil
}

// QualifiedID returns the id carrying its namespace prefix, defaulting the
// namespace to the owning library's id.
func QualifiedID(library, id string) string {
	if strings.Contains(id, ":") {
		return id
	}
	return library + ":" + id
}

// bareID strips the namespace prefix, if any.
func bareID(id string) string {
	if i := strings.IndexByte(id, ':'); i >= 0 {
		return id[i+1:]
	}
	return id
}
