// Package daemon provides a typed client for the modlink daemon's HTTP API
// over its Unix socket. The CLI and editor hosts use it instead of speaking
// the bridge protocol themselves.
package daemon

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/modlink/core/errors"
)

// Status mirrors the daemon's /api/status response.
type Status struct {
	Connection       string   `json:"connection"`
	Task             string   `json:"task"`
	PendingMutations int      `json:"pending_mutations"`
	EditSessions     int      `json:"edit_sessions"`
	PendingImport    bool     `json:"pending_import"`
	Projects         []string `json:"projects"`
	Config           *struct {
		Endpoint          string        `json:"endpoint"`
		HeartbeatInterval time.Duration `json:"heartbeat_interval"`
		ReconnectInterval time.Duration `json:"reconnect_interval"`
		RequestTimeout    time.Duration `json:"request_timeout"`
		StartedAt         time.Time     `json:"started_at"`
	} `json:"config,omitempty"`
}

// Library mirrors one element of the /api/libraries response.
type Library struct {
	Project         string   `json:"project"`
	ID              string   `json:"id"`
	CompilationMode string   `json:"compilation_mode"`
	Items           []string `json:"items"`
}

// Event is one SSE frame from /api/stream.
type Event struct {
	Type       string `json:"type"`
	Connection string `json:"connection,omitempty"`
	Slots      int    `json:"slots,omitempty"`
	Message    string `json:"message,omitempty"`
}

// Client calls the daemon's HTTP API over a Unix socket.
type Client struct {
	httpClient *http.Client
	socketPath string
}

// baseURL is the dummy host used for Unix socket HTTP requests.
// The actual connection goes through the Unix socket, not this URL.
const baseURL = "http://unix"

// NewClient creates a Client for the daemon socket.
func NewClient(socketPath string) *Client {
	transport := &http.Transport{
		DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, "unix", socketPath)
		},
		DisableKeepAlives: false,
		MaxIdleConns:      10,
		IdleConnTimeout:   90 * time.Second,
	}

	return &Client{
		httpClient: &http.Client{Transport: transport, Timeout: 10 * time.Second},
		socketPath: socketPath,
	}
}

// Connect returns a Client, or ErrCodeDaemonNotRunning when the socket does
// not answer.
func Connect(socketPath string) (*Client, error) {
	c := NewClient(socketPath)
	if !c.IsRunning() {
		return nil, errors.DaemonNotRunning(socketPath)
	}
	return c, nil
}

// IsRunning returns true if the daemon is available and responding.
func (c *Client) IsRunning() bool {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, "GET", baseURL+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// Status returns the daemon's current state summary.
func (c *Client) Status(ctx context.Context) (*Status, error) {
	var status Status
	if err := c.getJSON(ctx, "/api/status", &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// Libraries returns every loaded library across all project roots.
func (c *Client) Libraries(ctx context.Context) ([]Library, error) {
	var libs []Library
	if err := c.getJSON(ctx, "/api/libraries", &libs); err != nil {
		return nil, err
	}
	return libs, nil
}

// QueueClear stages inventory slots for removal on the next heartbeat pass.
func (c *Client) QueueClear(ctx context.Context, indices []int) error {
	return c.postJSON(ctx, "/api/queue/clear", map[string][]int{"indices": indices}, nil)
}

// QueueImportRemoval stages slots whose import marker should be stripped.
func (c *Client) QueueImportRemoval(ctx context.Context, indices []int) error {
	return c.postJSON(ctx, "/api/queue/import-removal", map[string][]int{"indices": indices}, nil)
}

// SetAutoConnect toggles the daemon's reconnect loop.
func (c *Client) SetAutoConnect(ctx context.Context, enabled bool) error {
	return c.postJSON(ctx, "/api/autoconnect", map[string]bool{"enabled": enabled}, nil)
}

// SetTask sets the current-task flag; "compiling" pauses the heartbeat sync.
func (c *Client) SetTask(ctx context.Context, task string) error {
	return c.postJSON(ctx, "/api/task", map[string]string{"task": task}, nil)
}

// BeginImport starts the single pending import for a library and returns the
// marker id the user applies in the live target.
func (c *Client) BeginImport(ctx context.Context, project, library string) (int64, error) {
	var out map[string]int64
	err := c.postJSON(ctx, "/api/import", map[string]string{"project": project, "library": library}, &out)
	if err != nil {
		return 0, err
	}
	return out["id"], nil
}

// CancelImport cancels any pending import.
func (c *Client) CancelImport(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, "DELETE", baseURL+"/api/import", nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("daemon request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("daemon returned status %d", resp.StatusCode)
	}
	return nil
}

// StartEdit checks an item out for live editing.
func (c *Client) StartEdit(ctx context.Context, project, library, item string) error {
	return c.postJSON(ctx, "/api/edit/start", map[string]string{
		"project": project, "library": library, "item": item,
	}, nil)
}

// StopEdit ends one item's edit session, or the whole library's when item
// is empty. The daemon persists the latest edits before removing the slot,
// so the session may outlive this call by one heartbeat.
func (c *Client) StopEdit(ctx context.Context, project, library, item string) error {
	return c.postJSON(ctx, "/api/edit/stop", map[string]string{
		"project": project, "library": library, "item": item,
	}, nil)
}

// CreateItem validates and persists a new library item.
func (c *Client) CreateItem(ctx context.Context, project, library, id, data string) (string, error) {
	var out map[string]string
	err := c.postJSON(ctx, "/api/items", map[string]string{
		"project": project, "library": library, "id": id, "data": data,
	}, &out)
	if err != nil {
		return "", err
	}
	return out["item"], nil
}

// StreamEvents subscribes to the daemon's event stream via Server-Sent
// Events. The channel closes when the context is cancelled or the
// connection is lost.
func (c *Client) StreamEvents(ctx context.Context) (<-chan Event, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", baseURL+"/api/stream", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create stream request: %w", err)
	}

	// Separate client with no timeout for streaming
	streamTransport := &http.Transport{
		DialContext: func(dialCtx context.Context, _, _ string) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(dialCtx, "unix", c.socketPath)
		},
	}
	streamClient := &http.Client{Transport: streamTransport}

	resp, err := streamClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to stream: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("stream returned status %d", resp.StatusCode)
	}

	ch := make(chan Event, 10)

	go func() {
		defer resp.Body.Close()
		defer close(ch)
		defer streamTransport.CloseIdleConnections()

		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			line := scanner.Text()
			if strings.HasPrefix(line, ":") || line == "" {
				continue
			}
			if strings.HasPrefix(line, "data: ") {
				var ev Event
				if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev); err != nil {
					continue
				}
				select {
				case ch <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return ch, nil
}

// Close cleans up any resources used by the client.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

func (c *Client) getJSON(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, "GET", baseURL+path, nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("daemon request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return decodeError(resp)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) postJSON(ctx context.Context, path string, body, out interface{}) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, "POST", baseURL+path, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("daemon request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return decodeError(resp)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// decodeError surfaces the daemon's structured error body when present.
func decodeError(resp *http.Response) error {
	var body struct {
		Code  string `json:"code"`
		Error string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err == nil && body.Error != "" {
		return errors.New(errors.ErrorCode(body.Code), body.Error)
	}
	return fmt.Errorf("daemon returned status %d", resp.StatusCode)
}
