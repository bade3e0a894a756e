package session

import (
	"math/rand"
	"sync"

	"github.com/modlink/core/tag"
)

// Imports manages the one-shot item import flow. At most one import is
// pending at a time; beginning a new one cancels the prior one by
// resolving it with a nil tag ("none").
type Imports struct {
	mu      sync.Mutex
	pending *pendingImport
}

type pendingImport struct {
	id      int64
	project string
	library string
	ch      chan tag.Tag
}

// NewImports creates an import manager with nothing pending.
func NewImports() *Imports {
	return &Imports{}
}

// Begin starts a new import for the given library. The returned marker id
// is what the user applies to an item in the live target; the channel
// yields the imported tag, or nil if the import was cancelled or replaced.
func (m *Imports) Begin(project, library string) (int64, <-chan tag.Tag) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.pending != nil {
		m.pending.ch <- nil
		m.pending = nil
	}

	p := &pendingImport{
		id:      rand.Int63(),
		project: project,
		library: library,
		ch:      make(chan tag.Tag, 1),
	}
	m.pending = p
	return p.id, p.ch
}

// Pending returns the active import, if any.
func (m *Imports) Pending() (project, library string, id int64, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pending == nil {
		return "", "", 0, false
	}
	return m.pending.project, m.pending.library, m.pending.id, true
}

// Resolve completes the pending import with the given tag if the marker id
// matches. Returns false for stale or unknown ids.
func (m *Imports) Resolve(id int64, t tag.Tag) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.pending == nil || m.pending.id != id {
		return false
	}
	m.pending.ch <- t
	m.pending = nil
	return true
}

// Cancel resolves any pending import with "none".
func (m *Imports) Cancel() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pending != nil {
		m.pending.ch <- nil
		m.pending = nil
	}
}
