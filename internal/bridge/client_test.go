package bridge

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/modlink/core/config"
	"github.com/modlink/core/logging"
)

func newTestClient(t *testing.T, url string) *Client {
	t.Helper()
	c := NewClient(Options{
		Endpoint:          url,
		Scopes:            config.DefaultScopes,
		RequestTimeout:    200 * time.Millisecond,
		ReconnectInterval: time.Minute,
	}, testBus(), logging.NewLogger("client-test"))
	t.Cleanup(c.conn.Close)
	return c
}

func TestClientGetters(t *testing.T) {
	bs := newBridgeServer(t, func(msg string) string {
		switch msg {
		case "mode":
			return "code"
		case "inv":
			return `[{"id":"iron_sword"}]`
		case "scopes":
			return "default write_code movement inventory"
		default:
			return ""
		}
	})

	c := newTestClient(t, bs.URLWs)
	require.NoError(t, c.conn.Connect())

	ctx := context.Background()
	assert.Equal(t, ModeCode, c.GetMode(ctx))

	snap := c.GetInventory(ctx)
	require.Len(t, snap, 1)
	id, _ := snap[0].ID()
	assert.Equal(t, "iron_sword", id)

	scopes := c.GetScopes(ctx)
	assert.Contains(t, scopes, "write_code")
}

func TestClientGetterTimeoutDefaults(t *testing.T) {
	bs := newBridgeServer(t, nil) // never replies
	c := newTestClient(t, bs.URLWs)
	require.NoError(t, c.conn.Connect())

	ctx := context.Background()
	assert.Equal(t, ModeUnknown, c.GetMode(ctx))
	assert.Empty(t, c.GetInventory(ctx))
	assert.Nil(t, c.GetScopes(ctx))
}

func TestClientRequestsMissingScopesOnOpen(t *testing.T) {
	bs := newBridgeServer(t, func(msg string) string {
		if msg == "scopes" {
			return "default movement"
		}
		return ""
	})

	c := newTestClient(t, bs.URLWs)
	require.NoError(t, c.conn.Connect())

	assert.Eventually(t, func() bool {
		for _, frame := range bs.frames() {
			if frame == "scopes write_code movement inventory" {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond, "scope request should be sent when scopes are missing")
}

func TestClientSkipsScopeRequestWhenGranted(t *testing.T) {
	bs := newBridgeServer(t, func(msg string) string {
		if msg == "scopes" {
			return "default write_code movement inventory"
		}
		return ""
	})

	c := newTestClient(t, bs.URLWs)
	require.NoError(t, c.conn.Connect())

	// Give the handshake time to finish, then check no request went out.
	time.Sleep(400 * time.Millisecond)
	for _, frame := range bs.frames() {
		if strings.HasPrefix(frame, "scopes ") {
			t.Fatalf("unexpected scope request: %q", frame)
		}
	}
}

func TestClientValidators(t *testing.T) {
	tests := []struct {
		name string
		msg  string
		ok   bool
	}{
		{"mode literal accepted", "build", true},
		{"free text rejected", "somebody said build", false},
		{"empty rejected", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, ok := validateMode(tt.msg)
			assert.Equal(t, tt.ok, ok)
		})
	}

	// Inventory validator swallows parse failures.
	_, ok := validateInventory("auth granted to somebody")
	assert.False(t, ok)
	snap, ok := validateInventory(`[]`)
	assert.True(t, ok)
	assert.Empty(t, snap)

	// Scopes reply is free text containing the token "default".
	scopes, ok := validateScopes("default write_code")
	assert.True(t, ok)
	assert.Equal(t, []string{"default", "write_code"}, scopes)
	_, ok = validateScopes("write_code")
	assert.False(t, ok)
}

func TestClientTaskFlag(t *testing.T) {
	c := newTestClient(t, "ws://127.0.0.1:1/nowhere")
	assert.Equal(t, TaskIdle, c.Task())
	c.SetCurrentTask(TaskCompiling)
	assert.Equal(t, TaskCompiling, c.Task())
}

func TestClientQueueFacade(t *testing.T) {
	c := newTestClient(t, "ws://127.0.0.1:1/nowhere")
	c.QueueSlotsForClear(1, 2)
	c.QueueSlotsForImportTagRemoval(3)
	assert.Equal(t, 3, c.Queues().Pending())
}
