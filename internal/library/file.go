// Package library mirrors the on-disk item library files and keeps the
// in-memory view current through filesystem watch callbacks.
package library

import (
	"encoding/json"

	"github.com/modlink/core/tag"
)

// CompilationMode selects how a library's items are referenced from code.
type CompilationMode string

const (
	CompileAsItem     CompilationMode = "item"
	CompileAsVariable CompilationMode = "variable"
)

// ItemRecord is one persisted item: its data-format version and the
// serialized tag blob. The blob always round-trips through the tag codec.
type ItemRecord struct {
	Version int    `json:"version"`
	Data    string `json:"data"`
}

// NeedsMigration reports whether the record predates the bridge target's
// current data-format version. Older records are readable but excluded
// from live editing until migrated.
func (r ItemRecord) NeedsMigration() bool {
	return r.Version < tag.DataVersion
}

// Tag decodes the record's serialized blob.
func (r ItemRecord) Tag() (tag.Tag, error) {
	return tag.Parse(r.Data)
}

// File is one on-disk library: a named collection of reusable items,
// identified uniquely within its project.
type File struct {
	ID              string                `json:"id"`
	Items           map[string]ItemRecord `json:"items"`
	CompilationMode CompilationMode       `json:"compilationMode"`
	// Editor is the authoring-tool version stamp.
	Editor string `json:"editor,omitempty"`

	// Location on disk and owning project root; not serialized.
	Path    string `json:"-"`
	Project string `json:"-"`
}

// Clone returns an independent copy with its own Items map.
func (f *File) Clone() *File {
	copied := *f
	copied.Items = make(map[string]ItemRecord, len(f.Items))
	for id, rec := range f.Items {
		copied.Items[id] = rec
	}
	return &copied
}

// Encode serializes the file deterministically: encoding/json emits map
// keys in sorted order, so saving unchanged content is byte-stable.
func (f *File) Encode() ([]byte, error) {
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}
