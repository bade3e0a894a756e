package library

import (
	"context"
	"encoding/json"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/modlink/core/errors"
	"github.com/modlink/core/schema"
)

// RetireFunc is called when a library or some of its item ids vanish from
// disk, so edit sessions pointing at them can be ended. A nil items slice
// means the whole library is gone.
type RetireFunc func(project, library string, items []string)

// Store is the in-memory mirror of on-disk library files, keyed by
// project root → library id → item id.
type Store struct {
	mu       sync.RWMutex
	projects map[string]map[string]*File
	byPath   map[string]pathEntry

	extension string
	validator *schema.Validator

	onRetire RetireFunc
	onChange func()

	ready     chan struct{}
	readyOnce sync.Once

	logger *logrus.Entry
}

type pathEntry struct {
	project string
	id      string
}

// NewStore creates an empty store for files with the given extension.
func NewStore(extension string, logger *logrus.Entry) (*Store, error) {
	validator, err := schema.NewValidator()
	if err != nil {
		return nil, err
	}
	return &Store{
		projects:  make(map[string]map[string]*File),
		byPath:    make(map[string]pathEntry),
		extension: extension,
		validator: validator,
		ready:     make(chan struct{}),
		logger:    logger,
	}, nil
}

// SetRetireHook installs the edit-session retirement callback.
func (s *Store) SetRetireHook(fn RetireFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onRetire = fn
}

// SetChangeHook installs the UI-refresh callback, fired after any load,
// retire or save.
func (s *Store) SetChangeHook(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onChange = fn
}

// Ready is closed once the initial recursive scan has completed; UI
// collaborators show a loading state until then.
func (s *Store) Ready() <-chan struct{} {
	return s.ready
}

// Extension returns the library file extension the store matches on.
func (s *Store) Extension() string {
	return s.extension
}

// Matches reports whether a path looks like a library file.
func (s *Store) Matches(path string) bool {
	return strings.HasSuffix(path, s.extension)
}

// Scan loads every library file under the given project roots. It is run
// asynchronously at startup; Ready is closed when it returns.
func (s *Store) Scan(ctx context.Context, roots []string) {
	defer s.readyOnce.Do(func() { close(s.ready) })

	for _, root := range roots {
		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if d.IsDir() || !s.Matches(path) {
				return nil
			}
			if err := s.UpdateLibrary(path, root); err != nil {
				s.logger.WithError(err).Warnf("skipping library file %s", path)
			}
			return nil
		})
		if err != nil {
			return
		}
	}
	s.logger.Info("initial library scan complete")
}

// UpdateLibrary re-reads one file and folds it into the store. An
// unreadable file retires its entry; a file whose id is already claimed by
// another file in the same project is rejected, keeping the first occupant
// authoritative. Renames retire the old id, and item ids that disappeared
// from a reloaded library are retired from the edit-session ledger.
func (s *Store) UpdateLibrary(path, projectRoot string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		s.Remove(path)
		if os.IsNotExist(err) {
			return nil
		}
		return errors.Wrap(err, errors.ErrCodeLibraryInvalid, "failed to read library file").
			WithDetail("path", path)
	}

	if err := s.validator.ValidateBytes(data); err != nil {
		// Malformed content is non-fatal: treat the file as absent until
		// the user corrects it.
		s.Remove(path)
		return errors.LibraryInvalid(path, err.Error())
	}

	f := &File{}
	if err := json.Unmarshal(data, f); err != nil {
		s.Remove(path)
		return errors.LibraryInvalid(path, err.Error())
	}
	if f.Items == nil {
		f.Items = make(map[string]ItemRecord)
	}
	f.Path = path
	f.Project = projectRoot
	itemCount := len(f.Items)

	s.mu.Lock()
	libs, ok := s.projects[projectRoot]
	if !ok {
		libs = make(map[string]*File)
		s.projects[projectRoot] = libs
	}

	if occupant, exists := libs[f.ID]; exists && occupant.Path != path {
		s.mu.Unlock()
		// Reject the newcomer; the prior content of this path (if any) no
		// longer reflects the file, so retire it.
		s.Remove(path)
		return errors.DuplicateLibraryID(f.ID, path, occupant.Path)
	}

	var retired []retirement

	prior, hadPrior := s.byPath[path]
	if hadPrior && prior.id != f.ID {
		// Rename: the old id's entry is retired entirely.
		if old, ok := libs[prior.id]; ok && old.Path == path {
			delete(libs, prior.id)
			retired = append(retired, retirement{project: projectRoot, library: prior.id})
		}
	} else if hadPrior {
		if old, ok := libs[prior.id]; ok {
			if gone := missingItems(old, f); len(gone) > 0 {
				retired = append(retired, retirement{project: projectRoot, library: f.ID, items: gone})
			}
		}
	}

	libs[f.ID] = f
	s.byPath[path] = pathEntry{project: projectRoot, id: f.ID}
	onRetire, onChange := s.onRetire, s.onChange
	s.mu.Unlock()

	s.logger.WithFields(logrus.Fields{"library": f.ID, "items": itemCount}).
		Debugf("loaded %s", path)

	fireRetirements(onRetire, retired)
	if onChange != nil {
		onChange()
	}
	return nil
}

// Remove retires the entry backing a deleted or invalidated file.
func (s *Store) Remove(path string) {
	s.mu.Lock()
	entry, ok := s.byPath[path]
	if !ok {
		s.mu.Unlock()
		return
	}
	delete(s.byPath, path)

	var retired []retirement
	if libs, ok := s.projects[entry.project]; ok {
		if f, ok := libs[entry.id]; ok && f.Path == path {
			delete(libs, entry.id)
			retired = append(retired, retirement{project: entry.project, library: entry.id})
		}
		if len(libs) == 0 {
			delete(s.projects, entry.project)
		}
	}
	onRetire, onChange := s.onRetire, s.onChange
	s.mu.Unlock()

	fireRetirements(onRetire, retired)
	if onChange != nil {
		onChange()
	}
}

// Library looks up one library by project root and id. The returned File
// is a copy; the watcher and reconciler mutate the store concurrently, so
// callers never see the live maps.
func (s *Store) Library(project, id string) (*File, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if libs, ok := s.projects[project]; ok {
		if f, ok := libs[id]; ok {
			return f.Clone(), true
		}
	}
	return nil, false
}

// Libraries returns copies of all libraries under a project root.
func (s *Store) Libraries(project string) []*File {
	s.mu.RLock()
	defer s.mu.RUnlock()
	libs := s.projects[project]
	out := make([]*File, 0, len(libs))
	for _, f := range libs {
		out = append(out, f.Clone())
	}
	return out
}

// Item looks up one item record.
func (s *Store) Item(project, library, item string) (ItemRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if libs, ok := s.projects[project]; ok {
		if f, ok := libs[library]; ok {
			rec, ok := f.Items[item]
			return rec, ok
		}
	}
	return ItemRecord{}, false
}

// Projects returns the project roots that currently hold libraries.
func (s *Store) Projects() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.projects))
	for p := range s.projects {
		out = append(out, p)
	}
	return out
}

// PutItem stores an item record into a loaded library (in memory only;
// call SaveLibrary to persist).
func (s *Store) PutItem(project, library, item string, rec ItemRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	libs, ok := s.projects[project]
	if !ok {
		return errors.New(errors.ErrCodeLibraryNotFound, "unknown project "+project)
	}
	f, ok := libs[library]
	if !ok {
		return errors.New(errors.ErrCodeLibraryNotFound, "unknown library "+library).
			WithDetail("project", project)
	}
	f.Items[item] = rec
	return nil
}

// SaveLibrary serializes the library deterministically and writes the whole
// file. The snapshot is taken under the store lock so concurrent PutItem
// calls never tear the encoded output. On failure the in-memory state is
// left unchanged so a retry loses nothing.
func (s *Store) SaveLibrary(project, library string) error {
	s.mu.RLock()
	libs, ok := s.projects[project]
	if !ok {
		s.mu.RUnlock()
		return errors.New(errors.ErrCodeLibraryNotFound, "unknown project "+project)
	}
	f, ok := libs[library]
	if !ok {
		s.mu.RUnlock()
		return errors.New(errors.ErrCodeLibraryNotFound, "unknown library "+library).
			WithDetail("project", project)
	}
	data, err := f.Encode()
	path := f.Path
	s.mu.RUnlock()

	if err != nil {
		return errors.SaveFailed(path, err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return errors.SaveFailed(path, err)
	}

	s.mu.Lock()
	onChange := s.onChange
	s.mu.Unlock()
	if onChange != nil {
		onChange()
	}
	return nil
}

type retirement struct {
	project string
	library string
	items   []string
}

func fireRetirements(fn RetireFunc, retired []retirement) {
	if fn == nil {
		return
	}
	for _, r := range retired {
		fn(r.project, r.library, r.items)
	}
}

// missingItems returns the item ids present in old but absent from next.
func missingItems(old, next *File) []string {
	var gone []string
	for id := range old.Items {
		if _, ok := next.Items[id]; !ok {
			gone = append(gone, id)
		}
	}
	return gone
}
