package sync

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/modlink/core/internal/inventory"
	"github.com/modlink/core/internal/library"
	"github.com/modlink/core/internal/session"
	"github.com/modlink/core/logging"
	"github.com/modlink/core/tag"
)

type fakeSender struct {
	sent []inventory.Snapshot
}

func (f *fakeSender) SetInventory(snap inventory.Snapshot) {
	f.sent = append(f.sent, snap)
}

type fixture struct {
	project string
	store   *library.Store
	ledger  *session.Ledger
	imports *session.Imports
	queues  *inventory.Queues
	sender  *fakeSender
	rec     *Reconciler
	notify  int
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := logging.NewLogger("sync-test")

	dir := t.TempDir()
	path := filepath.Join(dir, "weapons.itemlib")
	content := `{"id":"weapons","compilationMode":"item","items":{"weapons:sword":{"version":4,"data":"{\"id\":\"iron_sword\"}"}}}`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	store, err := library.NewStore(".itemlib", logger)
	require.NoError(t, err)
	require.NoError(t, store.UpdateLibrary(path, dir))

	fx := &fixture{
		project: dir,
		store:   store,
		ledger:  session.NewLedger(),
		imports: session.NewImports(),
		queues:  inventory.NewQueues(),
		sender:  &fakeSender{},
	}
	fx.rec = New(store, fx.ledger, fx.imports, fx.queues, fx.sender, logger)
	fx.rec.SetNotifyHook(func() { fx.notify++ })
	return fx
}

func (fx *fixture) editorSlot(t *testing.T, item, data string) tag.Tag {
	t.Helper()
	tg, err := tag.Parse(data)
	require.NoError(t, err)
	tg.SetEditorMeta(tag.EditorMeta{Project: fx.project, Library: "weapons", Item: item})
	return tg
}

func (fx *fixture) storedData(t *testing.T, item string) (string, bool) {
	t.Helper()
	f, ok := fx.store.Library(fx.project, "weapons")
	require.True(t, ok)
	rec, ok := f.Items[item]
	return rec.Data, ok
}

func TestReconcileIdempotentOnIrrelevantInventory(t *testing.T) {
	fx := newFixture(t)
	plain, err := tag.Parse(`{"id":"dirt"}`)
	require.NoError(t, err)
	snap := inventory.Snapshot{plain, nil}

	out, err := fx.rec.Reconcile(context.Background(), snap)
	require.NoError(t, err)
	out, err = fx.rec.Reconcile(context.Background(), out)
	require.NoError(t, err)

	assert.Len(t, out, 2)
	assert.Empty(t, fx.sender.sent, "no relevant slots must mean no write-back")
	assert.Zero(t, fx.notify)
}

func TestReconcilePersistsLiveEdit(t *testing.T) {
	fx := newFixture(t)
	fx.ledger.Start(fx.project, "weapons", "weapons:sword")
	snap := inventory.Snapshot{fx.editorSlot(t, "weapons:sword", `{"id":"iron_sword","damage":7}`)}

	out, err := fx.rec.Reconcile(context.Background(), snap)
	require.NoError(t, err)

	data, ok := fx.storedData(t, "weapons:sword")
	require.True(t, ok)
	parsed, err := tag.Parse(data)
	require.NoError(t, err)
	assert.Equal(t, float64(7), parsed["damage"])
	_, hasMeta := parsed.EditorMeta()
	assert.False(t, hasMeta, "transient metadata must be stripped before storage")

	f, _ := fx.store.Library(fx.project, "weapons")
	onDisk, err := os.ReadFile(f.Path)
	require.NoError(t, err)
	assert.Contains(t, string(onDisk), `damage`)

	assert.Len(t, out, 1, "live-edit slot stays in the inventory")
	assert.Empty(t, fx.sender.sent)
	assert.Equal(t, 1, fx.notify)

	// An unchanged second pass persists and notifies nothing.
	_, err = fx.rec.Reconcile(context.Background(), out)
	require.NoError(t, err)
	assert.Equal(t, 1, fx.notify)
}

func TestReconcileClearsStaleEditorItem(t *testing.T) {
	fx := newFixture(t)
	snap := inventory.Snapshot{fx.editorSlot(t, "weapons:sword", `{"id":"iron_sword"}`)}

	out, err := fx.rec.Reconcile(context.Background(), snap)
	require.NoError(t, err)

	assert.Empty(t, out, "slot without an edit session is removed")
	require.Len(t, fx.sender.sent, 1)
	data, _ := fx.storedData(t, "weapons:sword")
	assert.Equal(t, `{"id":"iron_sword"}`, data, "stale slot never persists")
}

func TestReconcileDuplicateTripleNotPersisted(t *testing.T) {
	fx := newFixture(t)
	fx.ledger.Start(fx.project, "weapons", "weapons:sword")
	snap := inventory.Snapshot{
		fx.editorSlot(t, "weapons:sword", `{"id":"iron_sword","damage":1}`),
		fx.editorSlot(t, "weapons:sword", `{"id":"iron_sword","damage":2}`),
	}

	out, err := fx.rec.Reconcile(context.Background(), snap)
	require.NoError(t, err)

	assert.Empty(t, out, "both ambiguous slots are removed")
	require.Len(t, fx.sender.sent, 1)
	data, _ := fx.storedData(t, "weapons:sword")
	assert.Equal(t, `{"id":"iron_sword"}`, data, "ambiguous edits never overwrite the stored value")
}

func TestReconcileEndsVanishedSessions(t *testing.T) {
	fx := newFixture(t)
	fx.ledger.Start(fx.project, "weapons", "weapons:sword")

	out, err := fx.rec.Reconcile(context.Background(), inventory.Snapshot{})
	require.NoError(t, err)

	assert.Empty(t, out)
	assert.Zero(t, fx.ledger.Len(), "session ends when its live item disappears")
	assert.Equal(t, 1, fx.notify)
	assert.Empty(t, fx.sender.sent, "ledger changes alone do not write back")
}

func TestReconcileResolvesPendingImport(t *testing.T) {
	fx := newFixture(t)
	id, ch := fx.imports.Begin(fx.project, "weapons")

	matching, err := tag.Parse(`{"id":"ruby"}`)
	require.NoError(t, err)
	matching.SetImportMarker(id)
	stale, err := tag.Parse(`{"id":"coal"}`)
	require.NoError(t, err)
	stale.SetImportMarker(id + 1)

	out, err := fx.rec.Reconcile(context.Background(), inventory.Snapshot{matching, stale})
	require.NoError(t, err)

	select {
	case got := <-ch:
		require.NotNil(t, got)
		gotID, _ := got.ID()
		assert.Equal(t, "ruby", gotID)
		_, hasMarker := got.ImportMarker()
		assert.False(t, hasMarker, "resolved tag carries no marker")
	default:
		t.Fatal("pending import was not resolved")
	}

	require.Len(t, out, 1, "the originating slot is removed")
	_, hasMarker := out[0].ImportMarker()
	assert.False(t, hasMarker, "stale marker is stripped, slot kept")
	gotID, _ := out[0].ID()
	assert.Equal(t, "coal", gotID)
	require.Len(t, fx.sender.sent, 1)

	// The imported tag lands in the target library, marker-free, on disk.
	data, ok := fx.storedData(t, "weapons:ruby")
	require.True(t, ok, "imported item is stored in the target library")
	stored, err := tag.Parse(data)
	require.NoError(t, err)
	_, hasMarker = stored.ImportMarker()
	assert.False(t, hasMarker)
	f, _ := fx.store.Library(fx.project, "weapons")
	onDisk, err := os.ReadFile(f.Path)
	require.NoError(t, err)
	assert.Contains(t, string(onDisk), "weapons:ruby")
}

func TestReconcileImportWithoutIDKeepsSlot(t *testing.T) {
	fx := newFixture(t)
	id, ch := fx.imports.Begin(fx.project, "weapons")

	unnamed, err := tag.Parse(`{"damage":3}`)
	require.NoError(t, err)
	unnamed.SetImportMarker(id)

	out, err := fx.rec.Reconcile(context.Background(), inventory.Snapshot{unnamed})
	require.NoError(t, err)

	// A tag the store cannot hold is never deleted from the inventory.
	require.Len(t, out, 1)
	_, hasMarker := out[0].ImportMarker()
	assert.True(t, hasMarker, "marker stays so the user can fix and retry")
	assert.Empty(t, fx.sender.sent)
	select {
	case <-ch:
		t.Fatal("unstorable import must stay pending")
	default:
	}
}

func TestReconcileDrainsStagedQueues(t *testing.T) {
	fx := newFixture(t)
	plain, err := tag.Parse(`{"id":"dirt"}`)
	require.NoError(t, err)
	fx.queues.QueueClear(0)

	out, err := fx.rec.Reconcile(context.Background(), inventory.Snapshot{plain, plain.Clone()})
	require.NoError(t, err)

	assert.Len(t, out, 1)
	assert.Zero(t, fx.queues.Pending(), "queues are empty after every pass")
	require.Len(t, fx.sender.sent, 1)
}

func TestReconcileFinalizesStoppedSession(t *testing.T) {
	fx := newFixture(t)
	fx.ledger.Start(fx.project, "weapons", "weapons:sword")
	fx.ledger.Finish(fx.project, "weapons", "weapons:sword")
	snap := inventory.Snapshot{fx.editorSlot(t, "weapons:sword", `{"id":"iron_sword","damage":9}`)}

	out, err := fx.rec.Reconcile(context.Background(), snap)
	require.NoError(t, err)

	// The final edits land in the store before the slot goes away.
	data, ok := fx.storedData(t, "weapons:sword")
	require.True(t, ok)
	parsed, err := tag.Parse(data)
	require.NoError(t, err)
	assert.Equal(t, float64(9), parsed["damage"])

	assert.Len(t, out, 0, "finalized slot is removed")
	require.Len(t, fx.sender.sent, 1)
	assert.False(t, fx.ledger.IsEditing(fx.project, "weapons", "weapons:sword"))
	assert.Empty(t, fx.ledger.DrainFinishing())
}
