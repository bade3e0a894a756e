package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/modlink/core/internal/bridge"
	"github.com/modlink/core/internal/library"
	"github.com/modlink/core/internal/session"
	"github.com/modlink/core/logging"
)

type testEnv struct {
	api     *httptest.Server
	project string
	store   *library.Store
	ledger  *session.Ledger
	imports *session.Imports
	client  *bridge.Client
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := logging.NewLogger("server-test")

	dir := t.TempDir()
	path := filepath.Join(dir, "weapons.itemlib")
	content := `{"id":"weapons","compilationMode":"item","items":{"weapons:sword":{"version":4,"data":"{\"id\":\"iron_sword\"}"},"weapons:relic":{"version":2,"data":"{\"id\":\"relic\"}"}}}`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	store, err := library.NewStore(".itemlib", logger)
	require.NoError(t, err)
	require.NoError(t, store.UpdateLibrary(path, dir))

	bus := bridge.NewBus(logger)
	client := bridge.NewClient(bridge.Options{
		Endpoint:          "ws://localhost:0",
		RequestTimeout:    50 * time.Millisecond,
		ReconnectInterval: time.Hour,
	}, bus, logger)

	ledger := session.NewLedger()
	imports := session.NewImports()
	s := New(client, store, ledger, imports, logger)
	s.SetRunningConfig(&RunningConfig{Endpoint: "ws://localhost:0", StartedAt: time.Now()})

	api := httptest.NewServer(s.Handler())
	t.Cleanup(api.Close)
	return &testEnv{api: api, project: dir, store: store, ledger: ledger, imports: imports, client: client}
}

func (e *testEnv) post(t *testing.T, path string, body interface{}) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(e.api.URL+path, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, out interface{}) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	resp, err := http.Get(env.api.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestStatus(t *testing.T) {
	env := newTestEnv(t)
	resp, err := http.Get(env.api.URL + "/api/status")
	require.NoError(t, err)

	var status Status
	decodeBody(t, resp, &status)
	assert.Equal(t, "disconnected", status.Connection)
	assert.Equal(t, "idle", status.Task)
	assert.Zero(t, status.PendingMutations)
	assert.Equal(t, []string{env.project}, status.Projects)
	require.NotNil(t, status.Config)
}

func TestQueueEndpoints(t *testing.T) {
	env := newTestEnv(t)

	resp := env.post(t, "/api/queue/clear", map[string][]int{"indices": {1, 3}})
	var out map[string]int
	decodeBody(t, resp, &out)
	assert.Equal(t, 2, out["pending"])

	resp = env.post(t, "/api/queue/import-removal", map[string][]int{"indices": {5}})
	decodeBody(t, resp, &out)
	assert.Equal(t, 3, out["pending"])
}

func TestTaskRoundTrip(t *testing.T) {
	env := newTestEnv(t)

	resp := env.post(t, "/api/task", map[string]string{"task": "compiling"})
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, bridge.TaskCompiling, env.client.Task())

	resp = env.post(t, "/api/task", map[string]string{"task": "daydreaming"})
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var out map[string]string
	got, err := http.Get(env.api.URL + "/api/task")
	require.NoError(t, err)
	decodeBody(t, got, &out)
	assert.Equal(t, "compiling", out["task"])
}

func TestLibraries(t *testing.T) {
	env := newTestEnv(t)
	resp, err := http.Get(env.api.URL + "/api/libraries")
	require.NoError(t, err)

	var out []librarySummary
	decodeBody(t, resp, &out)
	require.Len(t, out, 1)
	assert.Equal(t, "weapons", out[0].ID)
	assert.Equal(t, "item", out[0].CompilationMode)
	assert.Len(t, out[0].Items, 2)
}

func TestCreateItemValidation(t *testing.T) {
	env := newTestEnv(t)

	resp := env.post(t, "/api/items", map[string]string{
		"project": env.project, "library": "weapons",
		"id": "Bad Id", "data": `{"id":"Bad Id"}`,
	})
	resp.Body.Close()
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	resp = env.post(t, "/api/items", map[string]string{
		"project": env.project, "library": "weapons",
		"id": "axe", "data": `{"id":"hatchet"}`,
	})
	resp.Body.Close()
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode, "data id must match the item id")
}

func TestCreateItemPersists(t *testing.T) {
	env := newTestEnv(t)

	resp := env.post(t, "/api/items", map[string]string{
		"project": env.project, "library": "weapons",
		"id": "axe", "data": `{"id":"axe"}`,
	})
	var out map[string]string
	decodeBody(t, resp, &out)
	assert.Equal(t, "weapons:axe", out["item"])

	f, ok := env.store.Library(env.project, "weapons")
	require.True(t, ok)
	assert.Contains(t, f.Items, "weapons:axe")

	onDisk, err := os.ReadFile(f.Path)
	require.NoError(t, err)
	assert.Contains(t, string(onDisk), "weapons:axe")
}

func TestImportLifecycle(t *testing.T) {
	env := newTestEnv(t)

	resp := env.post(t, "/api/import", map[string]string{"project": env.project, "library": "weapons"})
	var out map[string]int64
	decodeBody(t, resp, &out)
	assert.Positive(t, out["id"])

	_, _, id, pending := env.imports.Pending()
	require.True(t, pending)
	assert.Equal(t, out["id"], id)

	req, err := http.NewRequest(http.MethodDelete, env.api.URL+"/api/import", nil)
	require.NoError(t, err)
	del, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	del.Body.Close()
	assert.Equal(t, http.StatusOK, del.StatusCode)

	_, _, _, pending = env.imports.Pending()
	assert.False(t, pending)
}

func TestImportUnknownLibrary(t *testing.T) {
	env := newTestEnv(t)
	resp := env.post(t, "/api/import", map[string]string{"project": env.project, "library": "nope"})
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestEditStartRecordsSession(t *testing.T) {
	env := newTestEnv(t)

	resp := env.post(t, "/api/edit/start", map[string]string{
		"project": env.project, "library": "weapons", "item": "sword",
	})
	var out map[string]string
	decodeBody(t, resp, &out)
	assert.Equal(t, "weapons:sword", out["item"])
	assert.True(t, env.ledger.IsEditing(env.project, "weapons", "weapons:sword"))
}

func TestEditStartRejectsOutdatedItem(t *testing.T) {
	env := newTestEnv(t)

	resp := env.post(t, "/api/edit/start", map[string]string{
		"project": env.project, "library": "weapons", "item": "relic",
	})
	resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode, "items on an old data version need migration first")
	assert.False(t, env.ledger.IsEditing(env.project, "weapons", "weapons:relic"))
}

func TestEditStopMarksSessionsForFinalization(t *testing.T) {
	env := newTestEnv(t)
	env.ledger.Start(env.project, "weapons", "weapons:sword")
	env.ledger.Start(env.project, "weapons", "weapons:axe")

	// Stopping defers the actual removal to the next heartbeat pass so the
	// final edits are persisted first; the session stays live until then.
	resp := env.post(t, "/api/edit/stop", map[string]string{
		"project": env.project, "library": "weapons", "item": "sword",
	})
	resp.Body.Close()
	assert.True(t, env.ledger.IsEditing(env.project, "weapons", "weapons:sword"))

	finishing := env.ledger.DrainFinishing()
	require.Len(t, finishing, 1)
	assert.Equal(t, "weapons:sword", finishing[0].Item)

	resp = env.post(t, "/api/edit/stop", map[string]string{
		"project": env.project, "library": "weapons",
	})
	resp.Body.Close()
	assert.Len(t, env.ledger.DrainFinishing(), 2)
}
