// Package sync reconciles the live inventory against the library store and
// the edit-session ledger once per heartbeat tick.
package sync

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/modlink/core/errors"
	"github.com/modlink/core/internal/inventory"
	"github.com/modlink/core/internal/library"
	"github.com/modlink/core/internal/session"
	"github.com/modlink/core/tag"
)

// Sender writes a full inventory snapshot back to the bridge target.
type Sender interface {
	SetInventory(snap inventory.Snapshot)
}

// Reconciler diffs one inventory snapshot against persisted library state.
// It persists live edits, retires vanished edit sessions, resolves pending
// imports, and applies staged slot removals, writing the inventory back at
// most once per pass.
type Reconciler struct {
	store   *library.Store
	ledger  *session.Ledger
	imports *session.Imports
	queues  *inventory.Queues
	sender  Sender
	notify  func()
	logger  *logrus.Entry
}

func New(store *library.Store, ledger *session.Ledger, imports *session.Imports, queues *inventory.Queues, sender Sender, logger *logrus.Entry) *Reconciler {
	return &Reconciler{
		store:   store,
		ledger:  ledger,
		imports: imports,
		queues:  queues,
		sender:  sender,
		logger:  logger,
	}
}

// SetNotifyHook registers a callback invoked after any pass that persisted
// an item, ended an edit session, or mutated the inventory.
func (r *Reconciler) SetNotifyHook(fn func()) {
	r.notify = fn
}

type candidate struct {
	slots []int
	value tag.Tag
}

// Reconcile runs one synchronization pass over snap. The returned snapshot
// reflects any staged removals; when it differs from the input it has
// already been written back via the Sender.
func (r *Reconciler) Reconcile(ctx context.Context, snap inventory.Snapshot) (inventory.Snapshot, error) {
	candidates := make(map[session.Triple]*candidate)
	importSlots := r.classify(snap, candidates)

	persisted := r.persistCandidates(candidates)
	stopped := r.finalizeSessions(candidates)
	stopped = r.stopVanishedSessions(candidates) || stopped
	r.resolveImport(snap, importSlots)

	clear, removeImport := r.queues.Drain()
	next, changed := inventory.Apply(snap, clear, removeImport)

	if changed {
		r.sender.SetInventory(next)
	}
	if (persisted || stopped || changed) && r.notify != nil {
		r.notify()
	}
	return next, nil
}

// classify walks the snapshot once, queueing stale editor items for removal,
// collecting persistence candidates keyed by triple, and returning the slot
// indices grouped by import marker.
func (r *Reconciler) classify(snap inventory.Snapshot, candidates map[session.Triple]*candidate) map[int64][]int {
	importSlots := make(map[int64][]int)

	for idx, t := range snap {
		if t == nil {
			continue
		}
		if meta, ok := t.EditorMeta(); ok {
			triple := session.Triple{Project: meta.Project, Library: meta.Library, Item: meta.Item}
			if !r.ledger.IsEditing(triple.Project, triple.Library, triple.Item) {
				r.logger.WithField("item", triple.Item).Debug("clearing stale editor item")
				r.queues.QueueClear(idx)
				continue
			}
			c := candidates[triple]
			if c == nil {
				c = &candidate{}
				candidates[triple] = c
			}
			c.slots = append(c.slots, idx)
			c.value = t
			continue
		}
		if marker, ok := t.ImportMarker(); ok {
			importSlots[marker] = append(importSlots[marker], idx)
		}
	}
	return importSlots
}

// persistCandidates stores every unambiguous candidate and saves each file
// that actually changed. Triples observed in more than one slot are not
// persisted; all their slots are queued for removal instead.
func (r *Reconciler) persistCandidates(candidates map[session.Triple]*candidate) bool {
	persisted := false
	type libKey struct{ project, library string }
	dirty := make(map[libKey]struct{})

	for triple, c := range candidates {
		if len(c.slots) > 1 {
			r.logger.WithFields(logrus.Fields{
				"library": triple.Library,
				"item":    triple.Item,
				"slots":   len(c.slots),
			}).Warn("duplicate live-edit slots, skipping persistence")
			r.queues.QueueClear(c.slots...)
			continue
		}

		value := c.value.Clone()
		value.StripTransient()
		itemID := session.QualifiedID(triple.Library, triple.Item)
		rec := library.ItemRecord{Version: tag.DataVersion, Data: value.String()}

		if prev, ok := r.store.Item(triple.Project, triple.Library, itemID); ok && prev == rec {
			continue
		}
		if err := r.store.PutItem(triple.Project, triple.Library, itemID, rec); err != nil {
			r.logger.WithError(err).Warn("failed to stage item")
			continue
		}
		dirty[libKey{triple.Project, triple.Library}] = struct{}{}
		persisted = true
	}

	for k := range dirty {
		if err := r.store.SaveLibrary(k.project, k.library); err != nil {
			r.logger.WithError(err).WithField("library", k.library).Warn("failed to save library")
		}
	}
	return persisted
}

// finalizeSessions ends sessions the editor asked to stop. Their final
// edits were persisted by this pass, so their slots are queued for removal
// and the ledger entries dropped.
func (r *Reconciler) finalizeSessions(candidates map[session.Triple]*candidate) bool {
	stopped := false
	for _, triple := range r.ledger.DrainFinishing() {
		if c, ok := candidates[triple]; ok {
			r.queues.QueueClear(c.slots...)
			delete(candidates, triple)
		}
		r.logger.WithFields(logrus.Fields{
			"library": triple.Library,
			"item":    triple.Item,
		}).Debug("ending edit session")
		r.ledger.StopItem(triple.Project, triple.Library, triple.Item)
		stopped = true
	}
	return stopped
}

// stopVanishedSessions ends every ledger session whose item was not seen as
// a live editor slot this pass. The player discarding the item is the usual
// cause.
func (r *Reconciler) stopVanishedSessions(candidates map[session.Triple]*candidate) bool {
	stopped := false
	for _, triple := range r.ledger.Triples() {
		if _, ok := candidates[triple]; ok {
			continue
		}
		r.logger.WithFields(logrus.Fields{
			"library": triple.Library,
			"item":    triple.Item,
		}).Debug("live item vanished, ending edit session")
		r.ledger.StopItem(triple.Project, triple.Library, triple.Item)
		stopped = true
	}
	return stopped
}

// resolveImport matches inventory import markers against the pending import.
// The tag carrying the pending id is persisted into the import's target
// library and its slots queued for removal; a failed persist leaves the
// slot and the pending import alone so the item is never lost. Slots
// carrying any other marker have the marker stripped during write-back.
func (r *Reconciler) resolveImport(snap inventory.Snapshot, importSlots map[int64][]int) {
	project, libraryID, pendingID, pending := r.imports.Pending()

	for marker, slots := range importSlots {
		if pending && marker == pendingID {
			value := snap[slots[0]].Clone()
			value.ClearImportMarker()
			value.StripTransient()

			if err := r.persistImport(project, libraryID, value); err != nil {
				r.logger.WithError(err).WithField("library", libraryID).
					Warn("failed to store imported item, leaving slot in place")
				continue
			}
			if r.imports.Resolve(marker, value) {
				r.logger.WithFields(logrus.Fields{
					"id":      marker,
					"library": libraryID,
				}).Info("imported item into library")
			}
			r.queues.QueueClear(slots...)
			continue
		}
		r.logger.WithField("id", marker).Debug("stripping stale import marker")
		r.queues.QueueImportRemoval(slots...)
	}
}

// persistImport stores one imported tag as a new item record in the
// import's target library. The item id comes from the tag's own id field.
func (r *Reconciler) persistImport(project, libraryID string, value tag.Tag) error {
	id, ok := value.ID()
	if !ok {
		return errors.InvalidItemData("", "imported tag has no id field")
	}
	itemID := session.QualifiedID(libraryID, id)
	rec := library.ItemRecord{Version: tag.DataVersion, Data: value.String()}
	if err := r.store.PutItem(project, libraryID, itemID, rec); err != nil {
		return err
	}
	return r.store.SaveLibrary(project, libraryID)
}
