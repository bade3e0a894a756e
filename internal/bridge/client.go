package bridge

import (
	"context"
	"strings"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/modlink/core/internal/inventory"
	"github.com/modlink/core/tag"
)

// Bridge-target modes. Only ModeCode permits inventory synchronization.
const (
	ModeSpawn   = "spawn"
	ModePlay    = "play"
	ModeBuild   = "build"
	ModeCode    = "code"
	ModeUnknown = "unknown"
)

// Task is the collaborator-set activity flag; the heartbeat only syncs
// while idle.
type Task int32

const (
	TaskIdle Task = iota
	TaskCompiling
)

func (t Task) String() string {
	if t == TaskCompiling {
		return "compiling"
	}
	return "idle"
}

// ParseTask maps the wire names used by the daemon API back to a Task.
func ParseTask(s string) (Task, bool) {
	switch s {
	case "idle":
		return TaskIdle, true
	case "compiling":
		return TaskCompiling, true
	}
	return TaskIdle, false
}

// Options configures a Client.
type Options struct {
	Endpoint          string
	Scopes            []string
	RequestTimeout    time.Duration
	ReconnectInterval time.Duration
}

// Client is the collaborator-facing facade over the connection manager,
// the correlated getters, the event bus and the staged mutation queues.
type Client struct {
	conn   *Conn
	bus    *Bus
	queues *inventory.Queues

	scopes []string
	task   atomic.Int32

	scopesGetter *Getter[[]string]
	modeGetter   *Getter[string]
	invGetter    *Getter[inventory.Snapshot]

	logger *logrus.Entry
}

// NewClient wires a connection manager, getters and queues together.
func NewClient(opts Options, bus *Bus, logger *logrus.Entry) *Client {
	c := &Client{
		bus:    bus,
		queues: inventory.NewQueues(),
		scopes: opts.Scopes,
		logger: logger,
	}
	c.conn = NewConn(opts.Endpoint, opts.ReconnectInterval, bus, logger)
	c.conn.SetOnOpen(c.requestMissingScopes)

	c.scopesGetter = NewGetter(c.conn, "scopes", nil, opts.RequestTimeout, validateScopes)
	c.modeGetter = NewGetter(c.conn, "mode", ModeUnknown, opts.RequestTimeout, validateMode)
	c.invGetter = NewGetter(c.conn, "inv", inventory.Snapshot{}, opts.RequestTimeout, validateInventory)

	return c
}

// Run drives the connection's dial/redial loop until ctx is cancelled.
func (c *Client) Run(ctx context.Context) {
	c.conn.Run(ctx)
}

// State returns the connection state.
func (c *Client) State() State { return c.conn.State() }

// Bus returns the event bus for subscriptions.
func (c *Client) Bus() *Bus { return c.bus }

// Queues returns the staged mutation queues.
func (c *Client) Queues() *inventory.Queues { return c.queues }

// SendMessage writes one raw frame; silently dropped while disconnected.
func (c *Client) SendMessage(parts ...string) {
	c.conn.Send(parts...)
}

// SetAutoConnect toggles the background redial loop.
func (c *Client) SetAutoConnect(enabled bool) {
	c.conn.SetAutoConnect(enabled)
}

// SetCurrentTask records what the editor is doing; non-idle pauses sync.
func (c *Client) SetCurrentTask(t Task) {
	c.task.Store(int32(t))
}

// Task returns the current collaborator task flag.
func (c *Client) Task() Task {
	return Task(c.task.Load())
}

// DropAuth clears the authenticated flag while keeping the transport open.
func (c *Client) DropAuth() {
	c.conn.DropAuth()
}

// GetScopes fetches the granted permission scopes; nil on timeout.
func (c *Client) GetScopes(ctx context.Context) []string {
	return c.scopesGetter.Get(ctx)
}

// GetMode fetches the bridge target's current mode; ModeUnknown on timeout.
func (c *Client) GetMode(ctx context.Context) string {
	return c.modeGetter.Get(ctx)
}

// GetInventory fetches a fresh inventory snapshot; empty on timeout.
func (c *Client) GetInventory(ctx context.Context) inventory.Snapshot {
	return c.invGetter.Get(ctx)
}

// SwitchMode asks the bridge target to change mode. Fire-and-forget; the
// protocol sends no acknowledgment, callers poll GetMode.
func (c *Client) SwitchMode(mode string) {
	c.conn.Send("mode ", mode)
}

// Give materializes a tag as a new inventory item in the live target.
func (c *Client) Give(t tag.Tag) {
	c.conn.Send("give ", t.String())
}

// SetInventory writes a full inventory back to the bridge target.
func (c *Client) SetInventory(snap inventory.Snapshot) {
	c.conn.Send("setinv ", snap.Encode())
}

// QueueSlotsForClear stages slots for removal on the next heartbeat.
func (c *Client) QueueSlotsForClear(indices ...int) {
	c.queues.QueueClear(indices...)
}

// QueueSlotsForImportTagRemoval stages import-marker strips for the next
// heartbeat.
func (c *Client) QueueSlotsForImportTagRemoval(indices ...int) {
	c.queues.QueueImportRemoval(indices...)
}

// requestMissingScopes runs after each dial: query the granted scopes and,
// when the required set is not fully present, send one scope request. No
// acknowledgment is awaited; the target answers with the auth sentinel once
// the player approves.
func (c *Client) requestMissingScopes() {
	ctx, cancel := context.WithTimeout(context.Background(), c.scopesGetter.timeout+time.Second)
	defer cancel()

	granted := c.GetScopes(ctx)
	if granted == nil {
		// Timeout: leave it to the next reconnect rather than spamming.
		return
	}

	have := make(map[string]bool, len(granted))
	for _, s := range granted {
		have[s] = true
	}
	for _, required := range c.scopes {
		if !have[required] {
			c.logger.Infof("requesting missing scopes: %s", strings.Join(c.scopes, " "))
			c.conn.Send("scopes ", strings.Join(c.scopes, " "))
			return
		}
	}
}

// validateScopes accepts the free-text scopes reply, recognized by the
// literal token "default" somewhere in the message.
func validateScopes(msg string) ([]string, bool) {
	if !strings.Contains(msg, "default") {
		return nil, false
	}
	return strings.Split(msg, " "), true
}

// validateMode accepts only the four known mode literals.
func validateMode(msg string) (string, bool) {
	switch msg {
	case ModeSpawn, ModePlay, ModeBuild, ModeCode:
		return msg, true
	default:
		return "", false
	}
}

// validateInventory accepts any message the tag codec can parse as an
// inventory. Parse failures are swallowed: the operation keeps waiting for
// a better message or times out.
func validateInventory(msg string) (inventory.Snapshot, bool) {
	snap, err := inventory.ParseSnapshot(msg)
	if err != nil {
		return nil, false
	}
	return snap, true
}
