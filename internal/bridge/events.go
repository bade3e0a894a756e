package bridge

import (
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/modlink/core/internal/inventory"
)

// Bus is the typed pub/sub fan-out for cross-cutting bridge notifications.
// Four independent channels: connection-status changed, heartbeat, mode
// left, raw message received. Fire* invokes every current subscriber
// concurrently and returns once all have settled; one subscriber failing
// (error or panic) never prevents its siblings from running.
type Bus struct {
	mu     sync.Mutex
	nextID int

	status    map[int]func() error
	heartbeat map[int]func(inventory.Snapshot) error
	modeLeft  map[int]func() error
	message   map[int]func(string) error

	logger *logrus.Entry
}

// NewBus creates an empty event bus.
func NewBus(logger *logrus.Entry) *Bus {
	return &Bus{
		status:    make(map[int]func() error),
		heartbeat: make(map[int]func(inventory.Snapshot) error),
		modeLeft:  make(map[int]func() error),
		message:   make(map[int]func(string) error),
		logger:    logger,
	}
}

// OnConnectionStatus subscribes to connection-state transitions.
func (b *Bus) OnConnectionStatus(fn func() error) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	b.status[b.nextID] = fn
	return b.nextID
}

// OffConnectionStatus removes a connection-status subscriber.
func (b *Bus) OffConnectionStatus(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.status, id)
}

// OnHeartbeat subscribes to per-tick inventory snapshots.
func (b *Bus) OnHeartbeat(fn func(inventory.Snapshot) error) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	b.heartbeat[b.nextID] = fn
	return b.nextID
}

// OffHeartbeat removes a heartbeat subscriber.
func (b *Bus) OffHeartbeat(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.heartbeat, id)
}

// OnModeLeft subscribes to live-edit-mode exit notifications.
func (b *Bus) OnModeLeft(fn func() error) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	b.modeLeft[b.nextID] = fn
	return b.nextID
}

// OffModeLeft removes a mode-left subscriber.
func (b *Bus) OffModeLeft(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.modeLeft, id)
}

// OnMessage subscribes to raw inbound protocol messages.
func (b *Bus) OnMessage(fn func(string) error) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	b.message[b.nextID] = fn
	return b.nextID
}

// OffMessage removes a raw-message subscriber.
func (b *Bus) OffMessage(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.message, id)
}

// FireConnectionStatus notifies all connection-status subscribers.
func (b *Bus) FireConnectionStatus() {
	b.mu.Lock()
	fns := make([]func() error, 0, len(b.status))
	for _, fn := range b.status {
		fns = append(fns, fn)
	}
	b.mu.Unlock()
	b.fanOut("connectionStatusChanged", fns)
}

// FireHeartbeat notifies all heartbeat subscribers with the tick's snapshot.
func (b *Bus) FireHeartbeat(snap inventory.Snapshot) {
	b.mu.Lock()
	fns := make([]func() error, 0, len(b.heartbeat))
	for _, fn := range b.heartbeat {
		hb := fn
		fns = append(fns, func() error { return hb(snap) })
	}
	b.mu.Unlock()
	b.fanOut("heartbeat", fns)
}

// FireModeLeft notifies all mode-left subscribers.
func (b *Bus) FireModeLeft() {
	b.mu.Lock()
	fns := make([]func() error, 0, len(b.modeLeft))
	for _, fn := range b.modeLeft {
		fns = append(fns, fn)
	}
	b.mu.Unlock()
	b.fanOut("modeLeft", fns)
}

// FireMessage notifies all raw-message subscribers.
func (b *Bus) FireMessage(msg string) {
	b.mu.Lock()
	fns := make([]func() error, 0, len(b.message))
	for _, fn := range b.message {
		m := fn
		fns = append(fns, func() error { return m(msg) })
	}
	b.mu.Unlock()
	b.fanOut("messageReceived", fns)
}

// fanOut runs every subscriber concurrently and joins. Panics and errors
// are logged and isolated.
func (b *Bus) fanOut(channel string, fns []func() error) {
	if len(fns) == 0 {
		return
	}
	var wg sync.WaitGroup
	for _, fn := range fns {
		wg.Add(1)
		go func(fn func() error) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil && b.logger != nil {
					b.logger.WithField("channel", channel).Errorf("subscriber panicked: %v", r)
				}
			}()
			if err := fn(); err != nil && b.logger != nil {
				b.logger.WithField("channel", channel).WithError(err).Warn("subscriber failed")
			}
		}(fn)
	}
	wg.Wait()
}
