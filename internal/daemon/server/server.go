// Package server provides the HTTP server for the modlink daemon.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/modlink/core/errors"
	"github.com/modlink/core/internal/bridge"
	"github.com/modlink/core/internal/inventory"
	"github.com/modlink/core/internal/library"
	"github.com/modlink/core/internal/session"
	"github.com/modlink/core/tag"
)

// RunningConfig holds the active intervals the daemon was started with.
// Exposed via /api/status so clients can verify what config is active.
type RunningConfig struct {
	Endpoint          string        `json:"endpoint"`
	HeartbeatInterval time.Duration `json:"heartbeat_interval"`
	ReconnectInterval time.Duration `json:"reconnect_interval"`
	RequestTimeout    time.Duration `json:"request_timeout"`
	StartedAt         time.Time     `json:"started_at"`
}

// Status is the /api/status response body.
type Status struct {
	Connection       string         `json:"connection"`
	Task             string         `json:"task"`
	PendingMutations int            `json:"pending_mutations"`
	EditSessions     int            `json:"edit_sessions"`
	PendingImport    bool           `json:"pending_import"`
	Projects         []string       `json:"projects"`
	Config           *RunningConfig `json:"config,omitempty"`
}

// Server manages the daemon's HTTP API over a Unix socket.
type Server struct {
	logger        *logrus.Entry
	server        *http.Server
	client        *bridge.Client
	store         *library.Store
	ledger        *session.Ledger
	imports       *session.Imports
	runningConfig *RunningConfig
}

// New creates a new Server instance.
func New(client *bridge.Client, store *library.Store, ledger *session.Ledger, imports *session.Imports, logger *logrus.Entry) *Server {
	return &Server{
		logger:  logger,
		client:  client,
		store:   store,
		ledger:  ledger,
		imports: imports,
	}
}

// SetRunningConfig sets the running configuration reported by /api/status.
func (s *Server) SetRunningConfig(cfg *RunningConfig) {
	s.runningConfig = cfg
}

// ListenAndServe starts the daemon API on the given unix socket path.
// It blocks until the server stops or fails.
func (s *Server) ListenAndServe(socketPath string) error {
	// Cleanup stale socket
	if _, err := os.Stat(socketPath); err == nil {
		if err := os.Remove(socketPath); err != nil {
			return fmt.Errorf("failed to remove stale socket: %w", err)
		}
	}

	if err := os.MkdirAll(filepath.Dir(socketPath), 0755); err != nil {
		return fmt.Errorf("failed to create socket directory: %w", err)
	}

	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return fmt.Errorf("failed to listen on socket: %w", err)
	}

	if err := os.Chmod(socketPath, 0600); err != nil {
		_ = listener.Close()
		return fmt.Errorf("failed to set socket permissions: %w", err)
	}

	s.server = &http.Server{
		Handler: h2c.NewHandler(s.Handler(), &http2.Server{}),
	}

	s.logger.WithField("socket", socketPath).Info("Daemon listening")
	return s.server.Serve(listener)
}

// Handler builds the API route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/stream", s.handleStream)
	mux.HandleFunc("/api/queue/clear", s.handleQueueClear)
	mux.HandleFunc("/api/queue/import-removal", s.handleQueueImportRemoval)
	mux.HandleFunc("/api/autoconnect", s.handleAutoConnect)
	mux.HandleFunc("/api/task", s.handleTask)
	mux.HandleFunc("/api/libraries", s.handleLibraries)
	mux.HandleFunc("/api/items", s.handleCreateItem)
	mux.HandleFunc("/api/import", s.handleImport)
	mux.HandleFunc("/api/edit/start", s.handleEditStart)
	mux.HandleFunc("/api/edit/stop", s.handleEditStop)

	return mux
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down server...")
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	_, _, _, pendingImport := s.imports.Pending()
	status := Status{
		Connection:       s.client.State().String(),
		Task:             s.client.Task().String(),
		PendingMutations: s.client.Queues().Pending(),
		EditSessions:     s.ledger.Len(),
		PendingImport:    pendingImport,
		Projects:         s.store.Projects(),
		Config:           s.runningConfig,
	}
	writeJSON(w, status)
}

// streamEvent is the SSE payload; Type is one of connectionStatusChanged,
// heartbeat, modeLeft, messageReceived.
type streamEvent struct {
	Type       string `json:"type"`
	Connection string `json:"connection,omitempty"`
	Slots      int    `json:"slots,omitempty"`
	Message    string `json:"message,omitempty"`
}

// handleStream provides Server-Sent Events for the four bus channels so
// editor hosts can subscribe without holding the socket protocol themselves.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	events := make(chan streamEvent, 16)
	push := func(ev streamEvent) error {
		select {
		case events <- ev:
		default:
			// Slow client, drop rather than stall the bus.
		}
		return nil
	}

	bus := s.client.Bus()
	statusID := bus.OnConnectionStatus(func() error {
		return push(streamEvent{Type: "connectionStatusChanged", Connection: s.client.State().String()})
	})
	heartbeatID := bus.OnHeartbeat(func(snap inventory.Snapshot) error {
		return push(streamEvent{Type: "heartbeat", Slots: len(snap)})
	})
	modeLeftID := bus.OnModeLeft(func() error {
		return push(streamEvent{Type: "modeLeft"})
	})
	messageID := bus.OnMessage(func(msg string) error {
		return push(streamEvent{Type: "messageReceived", Message: msg})
	})
	defer func() {
		bus.OffConnectionStatus(statusID)
		bus.OffHeartbeat(heartbeatID)
		bus.OffModeLeft(modeLeftID)
		bus.OffMessage(messageID)
	}()

	fmt.Fprintf(w, ": connected\n\n")
	flusher.Flush()
	s.logger.Debug("SSE client connected")

	for {
		select {
		case <-r.Context().Done():
			s.logger.Debug("SSE client disconnected")
			return
		case ev := <-events:
			data, err := json.Marshal(ev)
			if err != nil {
				s.logger.WithError(err).Error("Failed to marshal event")
				continue
			}
			fmt.Fprintf(w, "data: %s\n\n", data)
			flusher.Flush()
		}
	}
}

func (s *Server) handleQueueClear(w http.ResponseWriter, r *http.Request) {
	indices, ok := decodeIndices(w, r)
	if !ok {
		return
	}
	s.client.QueueSlotsForClear(indices...)
	writeJSON(w, map[string]int{"pending": s.client.Queues().Pending()})
}

func (s *Server) handleQueueImportRemoval(w http.ResponseWriter, r *http.Request) {
	indices, ok := decodeIndices(w, r)
	if !ok {
		return
	}
	s.client.QueueSlotsForImportTagRemoval(indices...)
	writeJSON(w, map[string]int{"pending": s.client.Queues().Pending()})
}

func (s *Server) handleAutoConnect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		Enabled bool `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	s.client.SetAutoConnect(req.Enabled)
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleTask(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, map[string]string{"task": s.client.Task().String()})
	case http.MethodPost:
		var req struct {
			Task string `json:"task"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
		task, ok := bridge.ParseTask(req.Task)
		if !ok {
			http.Error(w, "unknown task", http.StatusBadRequest)
			return
		}
		s.client.SetCurrentTask(task)
		w.WriteHeader(http.StatusOK)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// librarySummary is the /api/libraries response element.
type librarySummary struct {
	Project         string   `json:"project"`
	ID              string   `json:"id"`
	CompilationMode string   `json:"compilation_mode"`
	Items           []string `json:"items"`
}

func (s *Server) handleLibraries(w http.ResponseWriter, r *http.Request) {
	summaries := []librarySummary{}
	for _, project := range s.store.Projects() {
		for _, f := range s.store.Libraries(project) {
			items := make([]string, 0, len(f.Items))
			for id := range f.Items {
				items = append(items, id)
			}
			summaries = append(summaries, librarySummary{
				Project:         project,
				ID:              f.ID,
				CompilationMode: string(f.CompilationMode),
				Items:           items,
			})
		}
	}
	writeJSON(w, summaries)
}

// handleCreateItem validates and persists a new library item from an
// editor-host action.
func (s *Server) handleCreateItem(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		Project string `json:"project"`
		Library string `json:"library"`
		ID      string `json:"id"`
		Data    string `json:"data"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if err := session.ValidateItemID(req.ID); err != nil {
		writeError(w, err, http.StatusUnprocessableEntity)
		return
	}
	t, err := tag.Parse(req.Data)
	if err != nil {
		writeError(w, errors.InvalidItemData(req.ID, err.Error()), http.StatusUnprocessableEntity)
		return
	}
	if err := session.ValidateItemData(req.ID, t); err != nil {
		writeError(w, err, http.StatusUnprocessableEntity)
		return
	}

	itemID := session.QualifiedID(req.Library, req.ID)
	rec := library.ItemRecord{Version: tag.DataVersion, Data: t.String()}
	if err := s.store.PutItem(req.Project, req.Library, itemID, rec); err != nil {
		writeError(w, err, http.StatusNotFound)
		return
	}
	if err := s.store.SaveLibrary(req.Project, req.Library); err != nil {
		writeError(w, err, http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]string{"item": itemID})
}

// handleImport begins (POST) or cancels (DELETE) the single pending import.
// The returned id is the marker value the user applies in the live target.
func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		var req struct {
			Project string `json:"project"`
			Library string `json:"library"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
		if _, ok := s.store.Library(req.Project, req.Library); !ok {
			writeError(w, errors.New(errors.ErrCodeLibraryNotFound, fmt.Sprintf("no library %q in project", req.Library)), http.StatusNotFound)
			return
		}
		id, _ := s.imports.Begin(req.Project, req.Library)
		s.logger.WithFields(logrus.Fields{"library": req.Library, "id": id}).Info("import pending")
		writeJSON(w, map[string]int64{"id": id})
	case http.MethodDelete:
		s.imports.Cancel()
		w.WriteHeader(http.StatusOK)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleEditStart checks an item out for live editing: it records the triple
// in the ledger and pushes a metadata-stamped copy of the stored tag into the
// live inventory.
func (s *Server) handleEditStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		Project string `json:"project"`
		Library string `json:"library"`
		Item    string `json:"item"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	f, ok := s.store.Library(req.Project, req.Library)
	if !ok {
		writeError(w, errors.New(errors.ErrCodeLibraryNotFound, fmt.Sprintf("no library %q in project", req.Library)), http.StatusNotFound)
		return
	}
	itemID := session.QualifiedID(req.Library, req.Item)
	rec, ok := f.Items[itemID]
	if !ok {
		writeError(w, errors.New(errors.ErrCodeInvalidItemID, fmt.Sprintf("no item %q in library %q", itemID, req.Library)), http.StatusNotFound)
		return
	}
	if rec.NeedsMigration() {
		writeError(w, errors.New(errors.ErrCodeInvalidItemData, fmt.Sprintf("item %q uses data version %d, current is %d", itemID, rec.Version, tag.DataVersion)), http.StatusConflict)
		return
	}
	t, err := rec.Tag()
	if err != nil {
		writeError(w, errors.InvalidItemData(itemID, err.Error()), http.StatusInternalServerError)
		return
	}

	t.SetEditorMeta(tag.EditorMeta{Project: req.Project, Library: req.Library, Item: itemID})
	s.ledger.Start(req.Project, req.Library, itemID)
	s.client.Give(t)
	writeJSON(w, map[string]string{"item": itemID})
}

// handleEditStop marks one item's edit session for finalization, or a whole
// library's when the item field is omitted. The next heartbeat pass persists
// the final edits, clears the slots and ends the sessions.
func (s *Server) handleEditStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		Project string `json:"project"`
		Library string `json:"library"`
		Item    string `json:"item"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Item == "" {
		s.ledger.FinishLibrary(req.Project, req.Library)
	} else {
		s.ledger.Finish(req.Project, req.Library, session.QualifiedID(req.Library, req.Item))
	}
	w.WriteHeader(http.StatusOK)
}

func decodeIndices(w http.ResponseWriter, r *http.Request) ([]int, bool) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return nil, false
	}
	var req struct {
		Indices []int `json:"indices"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return nil, false
	}
	return req.Indices, true
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{
		"code":  string(errors.GetCode(err)),
		"error": err.Error(),
	})
}
