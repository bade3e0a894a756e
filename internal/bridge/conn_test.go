package bridge

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/modlink/core/logging"
)

// bridgeServer is a scripted stand-in for the bridge target.
type bridgeServer struct {
	*httptest.Server
	URLWs string

	mu       sync.Mutex
	current  *websocket.Conn
	received []string
	reply    func(msg string) string
}

// newBridgeServer starts a websocket server; the optional reply function
// answers each inbound frame.
func newBridgeServer(t *testing.T, reply func(msg string) string) *bridgeServer {
	t.Helper()
	bs := &bridgeServer{reply: reply}
	upgrader := websocket.Upgrader{}

	bs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		bs.mu.Lock()
		bs.current = ws
		bs.mu.Unlock()

		for {
			_, data, err := ws.ReadMessage()
			if err != nil {
				return
			}
			msg := string(data)
			bs.mu.Lock()
			bs.received = append(bs.received, msg)
			reply := bs.reply
			bs.mu.Unlock()
			if reply != nil {
				if out := reply(msg); out != "" {
					_ = ws.WriteMessage(websocket.TextMessage, []byte(out))
				}
			}
		}
	}))
	t.Cleanup(bs.Server.Close)
	bs.URLWs = "ws" + strings.TrimPrefix(bs.Server.URL, "http")
	return bs
}

// push sends an unsolicited frame to the connected client.
func (bs *bridgeServer) push(t *testing.T, msg string) {
	t.Helper()
	require.Eventually(t, func() bool {
		bs.mu.Lock()
		defer bs.mu.Unlock()
		return bs.current != nil
	}, time.Second, 5*time.Millisecond, "no client connected")

	bs.mu.Lock()
	defer bs.mu.Unlock()
	require.NoError(t, bs.current.WriteMessage(websocket.TextMessage, []byte(msg)))
}

func (bs *bridgeServer) frames() []string {
	bs.mu.Lock()
	defer bs.mu.Unlock()
	return append([]string(nil), bs.received...)
}

func (bs *bridgeServer) dropClient() {
	bs.mu.Lock()
	defer bs.mu.Unlock()
	if bs.current != nil {
		_ = bs.current.Close()
	}
}

func newTestConn(t *testing.T, url string, bus *Bus) *Conn {
	t.Helper()
	c := NewConn(url, time.Minute, bus, logging.NewLogger("conn-test"))
	t.Cleanup(c.Close)
	return c
}

func TestConnStateTransitions(t *testing.T) {
	bs := newBridgeServer(t, nil)
	c := newTestConn(t, bs.URLWs, testBus())

	assert.Equal(t, StateDisconnected, c.State())
	require.NoError(t, c.Connect())
	assert.Equal(t, StateConnected, c.State())

	// The unsolicited auth sentinel upgrades the state.
	bs.push(t, "auth")
	assert.Eventually(t, func() bool {
		return c.State() == StateAuthenticated
	}, time.Second, 5*time.Millisecond)

	// Transport close resets both flags.
	bs.dropClient()
	assert.Eventually(t, func() bool {
		return c.State() == StateDisconnected
	}, time.Second, 5*time.Millisecond)
}

func TestConnSendConcatenatesParts(t *testing.T) {
	bs := newBridgeServer(t, nil)
	c := newTestConn(t, bs.URLWs, testBus())
	require.NoError(t, c.Connect())

	c.Send("scopes ", "write_code movement inventory")

	assert.Eventually(t, func() bool {
		frames := bs.frames()
		return len(frames) == 1 && frames[0] == "scopes write_code movement inventory"
	}, time.Second, 5*time.Millisecond)
}

func TestConnSendIsNoopWhileDisconnected(t *testing.T) {
	c := NewConn("ws://127.0.0.1:1/nowhere", time.Minute, testBus(), logging.NewLogger("conn-test"))
	c.Send("mode") // must not panic or error

	assert.Error(t, c.Connect())
	assert.Equal(t, StateDisconnected, c.State())
}

func TestConnForwardsNonAuthMessages(t *testing.T) {
	bus := testBus()
	var mu sync.Mutex
	var got []string
	bus.OnMessage(func(msg string) error {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, msg)
		return nil
	})

	bs := newBridgeServer(t, nil)
	c := newTestConn(t, bs.URLWs, bus)
	require.NoError(t, c.Connect())

	bs.push(t, "auth")
	bs.push(t, "play")

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1 && got[0] == "play"
	}, time.Second, 5*time.Millisecond, "auth sentinel must not reach message subscribers")
}

func TestConnDropAuth(t *testing.T) {
	bs := newBridgeServer(t, nil)
	c := newTestConn(t, bs.URLWs, testBus())
	require.NoError(t, c.Connect())

	bs.push(t, "auth")
	require.Eventually(t, func() bool {
		return c.State() == StateAuthenticated
	}, time.Second, 5*time.Millisecond)

	c.DropAuth()
	assert.Equal(t, StateConnected, c.State(), "transport stays open when auth is revoked")
}

func TestConnListenersSeeMessagesBeforeBus(t *testing.T) {
	bs := newBridgeServer(t, nil)
	c := newTestConn(t, bs.URLWs, testBus())
	require.NoError(t, c.Connect())

	got := make(chan string, 1)
	id := c.AddListener(func(msg string) {
		select {
		case got <- msg:
		default:
		}
	})
	defer c.RemoveListener(id)

	bs.push(t, "spawn")
	select {
	case msg := <-got:
		assert.Equal(t, "spawn", msg)
	case <-time.After(time.Second):
		t.Fatal("listener did not receive message")
	}
}
