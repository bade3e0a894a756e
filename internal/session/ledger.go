// Package session tracks which library items are checked out for live
// editing and the single-slot import flow.
package session

import "sync"

// Triple identifies one checked-out item.
type Triple struct {
	Project string
	Library string
	Item    string
}

// Ledger is the nested project → library → item edit-session record. An
// entry exists only while a corresponding editor item is expected to be
// live in the inventory. Levels auto-vivify on Start and are pruned as
// they empty.
type Ledger struct {
	mu        sync.Mutex
	projects  map[string]map[string]map[string]struct{}
	finishing map[Triple]struct{}
}

// NewLedger creates an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{
		projects:  make(map[string]map[string]map[string]struct{}),
		finishing: make(map[Triple]struct{}),
	}
}

// Start records the triple as being edited.
func (l *Ledger) Start(project, library, item string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	libs, ok := l.projects[project]
	if !ok {
		libs = make(map[string]map[string]struct{})
		l.projects[project] = libs
	}
	items, ok := libs[library]
	if !ok {
		items = make(map[string]struct{})
		libs[library] = items
	}
	items[item] = struct{}{}
}

// StopItem ends one item's edit session, pruning now-empty parent levels.
func (l *Ledger) StopItem(project, library, item string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	libs, ok := l.projects[project]
	if !ok {
		return
	}
	items, ok := libs[library]
	if !ok {
		return
	}
	delete(items, item)
	if len(items) == 0 {
		delete(libs, library)
	}
	if len(libs) == 0 {
		delete(l.projects, project)
	}
}

// StopLibrary ends every edit session under a library.
func (l *Ledger) StopLibrary(project, library string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	libs, ok := l.projects[project]
	if !ok {
		return
	}
	delete(libs, library)
	if len(libs) == 0 {
		delete(l.projects, project)
	}
}

// Finish marks an active edit session for finalization. The session stays
// in the ledger so the next reconcile pass still persists its slot; the
// reconciler drains the mark, stores the final edits and then ends the
// session. A triple that is not being edited is ignored.
func (l *Ledger) Finish(project, library, item string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if libs, ok := l.projects[project]; ok {
		if items, ok := libs[library]; ok {
			if _, ok := items[item]; ok {
				l.finishing[Triple{Project: project, Library: library, Item: item}] = struct{}{}
			}
		}
	}
}

// FinishLibrary marks every active session under a library for
// finalization.
func (l *Ledger) FinishLibrary(project, library string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if libs, ok := l.projects[project]; ok {
		for item := range libs[library] {
			l.finishing[Triple{Project: project, Library: library, Item: item}] = struct{}{}
		}
	}
}

// DrainFinishing returns and clears the set of sessions marked for
// finalization.
func (l *Ledger) DrainFinishing() []Triple {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.finishing) == 0 {
		return nil
	}
	out := make([]Triple, 0, len(l.finishing))
	for t := range l.finishing {
		out = append(out, t)
	}
	l.finishing = make(map[Triple]struct{})
	return out
}

// Clear ends all edit sessions (used when leaving live-edit mode).
func (l *Ledger) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.projects = make(map[string]map[string]map[string]struct{})
	l.finishing = make(map[Triple]struct{})
}

// IsEditing reports whether the triple is currently checked out.
func (l *Ledger) IsEditing(project, library, item string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if libs, ok := l.projects[project]; ok {
		if items, ok := libs[library]; ok {
			_, ok := items[item]
			return ok
		}
	}
	return false
}

// Triples returns a snapshot of all checked-out triples.
func (l *Ledger) Triples() []Triple {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []Triple
	for project, libs := range l.projects {
		for library, items := range libs {
			for item := range items {
				out = append(out, Triple{Project: project, Library: library, Item: item})
			}
		}
	}
	return out
}

// Len returns the number of active edit sessions.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	n := 0
	for _, libs := range l.projects {
		for _, items := range libs {
			n += len(items)
		}
	}
	return n
}
