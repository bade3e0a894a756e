// Package bridge maintains the long-lived connection to the bridge target
// and the request/response correlation built on top of its unframed text
// protocol.
package bridge

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// State is the connection lifecycle state. Authenticated implies the
// transport is open and the bridge target has sent its auth sentinel.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateAuthenticated
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateAuthenticated:
		return "authenticated"
	default:
		return "disconnected"
	}
}

// authSentinel is the single unsolicited token the bridge target sends once
// the player has granted the connection.
const authSentinel = "auth"

// Conn owns the websocket lifecycle to the bridge target: dial, redial,
// close handling and the authentication flag. The protocol carries no
// framing or ids; Send concatenates its parts with no separator and writes
// them as one text frame.
type Conn struct {
	mu    sync.Mutex
	ws    *websocket.Conn
	state State

	endpoint  string
	reconnect time.Duration

	autoConnect atomic.Bool

	listeners  map[int]func(string)
	nextListen int

	// onOpen runs after every successful dial (the scope handshake).
	onOpen func()

	bus    *Bus
	logger *logrus.Entry
}

// NewConn creates a connection manager for the given endpoint. Auto-connect
// defaults to enabled; Run must be called to start the redial loop.
func NewConn(endpoint string, reconnect time.Duration, bus *Bus, logger *logrus.Entry) *Conn {
	c := &Conn{
		endpoint:  endpoint,
		reconnect: reconnect,
		listeners: make(map[int]func(string)),
		bus:       bus,
		logger:    logger,
	}
	c.autoConnect.Store(true)
	return c
}

// SetOnOpen installs the callback run after each successful dial.
func (c *Conn) SetOnOpen(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onOpen = fn
}

// State returns the current connection state.
func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SetAutoConnect toggles the background redial loop.
func (c *Conn) SetAutoConnect(enabled bool) {
	c.autoConnect.Store(enabled)
}

// AutoConnect reports whether the redial loop is enabled.
func (c *Conn) AutoConnect() bool {
	return c.autoConnect.Load()
}

// Connect tears down any existing socket and dials a fresh one. On success
// the read loop is started and the on-open handshake runs; on failure the
// state falls back to disconnected and the redial loop retries later.
func (c *Conn) Connect() error {
	c.mu.Lock()
	if c.ws != nil {
		_ = c.ws.Close()
		c.ws = nil
	}
	c.setStateLocked(StateConnecting)
	endpoint := c.endpoint
	c.mu.Unlock()

	ws, _, err := websocket.DefaultDialer.Dial(endpoint, nil)
	if err != nil {
		c.mu.Lock()
		c.setStateLocked(StateDisconnected)
		c.mu.Unlock()
		c.logger.WithError(err).Debugf("dial %s failed", endpoint)
		return err
	}

	c.mu.Lock()
	c.ws = ws
	c.setStateLocked(StateConnected)
	onOpen := c.onOpen
	c.mu.Unlock()

	c.logger.Infof("connected to bridge target at %s", endpoint)

	go c.readLoop(ws)
	if onOpen != nil {
		go onOpen()
	}
	return nil
}

// Run drives the reconnect policy: one immediate dial, then a redial every
// reconnect period while disconnected and auto-connect is enabled. Blocks
// until the context is cancelled.
func (c *Conn) Run(ctx context.Context) {
	if c.AutoConnect() {
		_ = c.Connect()
	}

	ticker := time.NewTicker(c.reconnect)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.Close()
			return
		case <-ticker.C:
			if c.AutoConnect() && c.State() == StateDisconnected {
				_ = c.Connect()
			}
		}
	}
}

// Close shuts the socket; the read loop observes the close and resets state.
func (c *Conn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ws != nil {
		_ = c.ws.Close()
		c.ws = nil
	}
	c.setStateLocked(StateDisconnected)
}

// Send concatenates the parts with no separator and writes them as one text
// frame. It is a silent no-op while the socket is absent or not open: the
// protocol has no delivery guarantees to offer anyway.
func (c *Conn) Send(parts ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ws == nil || c.state < StateConnected {
		return
	}
	msg := strings.Join(parts, "")
	c.logger.Debugf("[bridge out] %s", msg)
	if err := c.ws.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
		c.logger.WithError(err).Debug("write failed")
	}
}

// DropAuth clears the authenticated flag while the transport stays open,
// used when the bridge target reports the unknown mode (player revoked the
// grant).
func (c *Conn) DropAuth() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateAuthenticated {
		c.setStateLocked(StateConnected)
	}
}

// AddListener registers a raw inbound-message listener and returns its id.
// Listeners run on the read loop before bus subscribers and must not block.
func (c *Conn) AddListener(fn func(string)) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextListen++
	c.listeners[c.nextListen] = fn
	return c.nextListen
}

// RemoveListener detaches a listener registered with AddListener.
func (c *Conn) RemoveListener(id int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.listeners, id)
}

func (c *Conn) readLoop(ws *websocket.Conn) {
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			c.mu.Lock()
			// Only react if this socket is still the current one; a redial
			// may already have replaced it.
			if c.ws == ws {
				c.ws = nil
				c.setStateLocked(StateDisconnected)
				c.logger.Info("bridge target connection closed")
			}
			c.mu.Unlock()
			return
		}

		msg := string(data)
		c.logger.Debugf("[bridge in] %s", msg)

		if msg == authSentinel {
			c.mu.Lock()
			if c.ws == ws && c.state == StateConnected {
				c.setStateLocked(StateAuthenticated)
			}
			c.mu.Unlock()
			continue
		}

		c.mu.Lock()
		listeners := make([]func(string), 0, len(c.listeners))
		for _, fn := range c.listeners {
			listeners = append(listeners, fn)
		}
		c.mu.Unlock()

		for _, fn := range listeners {
			fn(msg)
		}
		if c.bus != nil {
			c.bus.FireMessage(msg)
		}
	}
}

// setStateLocked transitions the state and fires the status channel on a
// real change. Caller holds c.mu; the bus fan-out happens async so
// subscribers can call back into the Conn.
func (c *Conn) setStateLocked(next State) {
	if c.state == next {
		return
	}
	c.state = next
	if c.bus != nil {
		go c.bus.FireConnectionStatus()
	}
}
