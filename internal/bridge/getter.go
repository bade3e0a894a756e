package bridge

import (
	"context"
	"sync"
	"time"
)

// transport is the slice of Conn a Getter needs; narrowed for tests.
type transport interface {
	Send(parts ...string)
	AddListener(fn func(string)) int
	RemoveListener(id int)
}

// Getter is a reusable "send command, await a qualifying reply or time out"
// operation. The protocol has no request ids, so the validator alone
// decides whether an inbound message answers this request; it runs for
// every raw message until it accepts one or the timer fires.
//
// If two operations for the same command are outstanding at once, a reply
// may satisfy the wrong one. That is inherent to the wire protocol; callers
// that care must serialize same-command operations (the heartbeat loop
// does).
type Getter[R any] struct {
	conn         transport
	command      string
	defaultValue R
	timeout      time.Duration
	validate     func(msg string) (R, bool)
}

// NewGetter builds a correlated getter for a protocol command. The
// validator must swallow malformed payloads by returning false; parse
// failures surface only as an eventual timeout default.
func NewGetter[R any](conn transport, command string, defaultValue R, timeout time.Duration, validate func(msg string) (R, bool)) *Getter[R] {
	return &Getter[R]{
		conn:         conn,
		command:      command,
		defaultValue: defaultValue,
		timeout:      timeout,
		validate:     validate,
	}
}

// Get sends the command (call-time arguments are appended space-separated)
// and blocks until the validator accepts a reply, the timeout fires, or the
// context is cancelled; the latter two resolve with the default value.
// Exactly one resolution ever wins and the message listener is detached on
// every path.
func (g *Getter[R]) Get(ctx context.Context, args ...string) R {
	result := make(chan R, 1)
	var once sync.Once
	resolve := func(v R) {
		once.Do(func() { result <- v })
	}

	id := g.conn.AddListener(func(msg string) {
		if v, ok := g.validate(msg); ok {
			resolve(v)
		}
	})
	defer g.conn.RemoveListener(id)

	parts := make([]string, 0, 1+2*len(args))
	parts = append(parts, g.command)
	for _, a := range args {
		parts = append(parts, " ", a)
	}
	g.conn.Send(parts...)

	timer := time.NewTimer(g.timeout)
	defer timer.Stop()

	select {
	case v := <-result:
		return v
	case <-timer.C:
		return g.defaultValue
	case <-ctx.Done():
		return g.defaultValue
	}
}
