// Package tag wraps the serialized-tag codec the bridge target speaks.
// A Tag is an opaque structured blob describing one inventory item's full
// state; the core only reads and writes the small modlink-namespaced value
// set it owns (editor metadata and the import marker) and otherwise passes
// tags through untouched.
package tag

import (
	"encoding/json"
	"fmt"
)

// DataVersion is the bridge target's current item data-format version.
// Items persisted with an older version are readable but flagged as
// needing migration before they can be live-edited.
const DataVersion = 4

// Keys the core owns inside a tag's public value map. Everything else in
// the map belongs to the bridge target or other tooling.
const (
	KeyProject = "modlink:editor_project"
	KeyLibrary = "modlink:editor_library"
	KeyItem    = "modlink:editor_item"
	KeyImport  = "modlink:import"
)

// Tag is one serialized item tag, decoded to a generic document.
type Tag map[string]interface{}

// EditorMeta identifies the library item an inventory slot was materialized
// from for live editing.
type EditorMeta struct {
	Project string
	Library string
	Item    string
}

// Parse decodes a serialized tag blob.
func Parse(s string) (Tag, error) {
	var t Tag
	if err := json.Unmarshal([]byte(s), &t); err != nil {
		return nil, fmt.Errorf("unparseable tag data: %w", err)
	}
	if t == nil {
		return nil, fmt.Errorf("tag data is null")
	}
	return t, nil
}

// String re-serializes the tag. Output is deterministic: object keys are
// emitted in sorted order, so saving the same tag twice is byte-stable.
func (t Tag) String() string {
	data, err := json.Marshal(t)
	if err != nil {
		return "{}"
	}
	return string(data)
}

// ID returns the tag's top-level item id field.
func (t Tag) ID() (string, bool) {
	id, ok := t["id"].(string)
	return id, ok
}

// Clone returns a deep copy of the tag.
func (t Tag) Clone() Tag {
	copied, _ := Parse(t.String())
	if copied == nil {
		copied = Tag{}
	}
	return copied
}

// Values returns the tag's public value map, the nesting level where the
// modlink keys live. When create is false, a missing map returns nil.
func (t Tag) Values(create bool) map[string]interface{} {
	components, ok := t["components"].(map[string]interface{})
	if !ok {
		if !create {
			return nil
		}
		components = map[string]interface{}{}
		t["components"] = components
	}
	custom, ok := components["custom_data"].(map[string]interface{})
	if !ok {
		if !create {
			return nil
		}
		custom = map[string]interface{}{}
		components["custom_data"] = custom
	}
	values, ok := custom["values"].(map[string]interface{})
	if !ok {
		if !create {
			return nil
		}
		values = map[string]interface{}{}
		custom["values"] = values
	}
	return values
}

// EditorMeta reads the editor metadata triple, if all three keys are present.
func (t Tag) EditorMeta() (EditorMeta, bool) {
	values := t.Values(false)
	if values == nil {
		return EditorMeta{}, false
	}
	project, pok := values[KeyProject].(string)
	library, lok := values[KeyLibrary].(string)
	item, iok := values[KeyItem].(string)
	if !pok || !lok || !iok {
		return EditorMeta{}, false
	}
	return EditorMeta{Project: project, Library: library, Item: item}, true
}

// SetEditorMeta marks the tag as an editor item for the given triple.
func (t Tag) SetEditorMeta(m EditorMeta) {
	values := t.Values(true)
	values[KeyProject] = m.Project
	values[KeyLibrary] = m.Library
	values[KeyItem] = m.Item
}

// ClearEditorMeta removes the editor metadata keys.
func (t Tag) ClearEditorMeta() {
	if values := t.Values(false); values != nil {
		delete(values, KeyProject)
		delete(values, KeyLibrary)
		delete(values, KeyItem)
	}
	t.pruneValues()
}

// ImportMarker reads the import marker, if present.
func (t Tag) ImportMarker() (int64, bool) {
	values := t.Values(false)
	if values == nil {
		return 0, false
	}
	switch v := values[KeyImport].(type) {
	case float64:
		return int64(v), true
	case int64:
		return v, true
	case int:
		return int64(v), true
	case json.Number:
		n, err := v.Int64()
		return n, err == nil
	default:
		return 0, false
	}
}

// SetImportMarker marks the tag for one-shot import under the given id.
func (t Tag) SetImportMarker(id int64) {
	t.Values(true)[KeyImport] = id
}

// ClearImportMarker deletes the import marker field; the tag itself is kept.
func (t Tag) ClearImportMarker() {
	if values := t.Values(false); values != nil {
		delete(values, KeyImport)
	}
	t.pruneValues()
}

// StripTransient removes all modlink-owned keys. Called before a tag is
// persisted into a library so transient editor state never reaches disk.
func (t Tag) StripTransient() {
	if values := t.Values(false); values != nil {
		delete(values, KeyProject)
		delete(values, KeyLibrary)
		delete(values, KeyItem)
		delete(values, KeyImport)
	}
	t.pruneValues()
}

// HasModlinkKeys reports whether any modlink-namespaced key is present,
// which disqualifies a tag from being stored as user-authored item data.
func (t Tag) HasModlinkKeys() bool {
	values := t.Values(false)
	if values == nil {
		return false
	}
	for _, key := range []string{KeyProject, KeyLibrary, KeyItem, KeyImport} {
		if _, ok := values[key]; ok {
			return true
		}
	}
	return false
}

// pruneValues removes now-empty nesting levels left behind by deletions.
func (t Tag) pruneValues() {
	components, ok := t["components"].(map[string]interface{})
	if !ok {
		return
	}
	if custom, ok := components["custom_data"].(map[string]interface{}); ok {
		if values, ok := custom["values"].(map[string]interface{}); ok && len(values) == 0 {
			delete(custom, "values")
		}
		if len(custom) == 0 {
			delete(components, "custom_data")
		}
	}
	if len(components) == 0 {
		delete(t, "components")
	}
}
