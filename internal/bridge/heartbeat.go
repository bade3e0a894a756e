package bridge

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/modlink/core/internal/inventory"
)

// Reconciler is the per-tick synchronization pass run while the bridge
// target is in the live-edit mode. It receives the fresh snapshot and
// returns the snapshot after staged mutations were applied.
type Reconciler interface {
	Reconcile(ctx context.Context, snap inventory.Snapshot) (inventory.Snapshot, error)
}

// Target is the slice of Client the heartbeat needs; narrowed for tests.
type Target interface {
	Task() Task
	State() State
	GetMode(ctx context.Context) string
	GetInventory(ctx context.Context) inventory.Snapshot
	DropAuth()
}

// Heartbeat polls the bridge target's mode on a fixed period and, while in
// the live-edit mode, fetches the inventory and runs the reconciler. Ticks
// are serialized with a busy flag: a tick that fires while the previous
// one's fetches are still settling is skipped, never interleaved.
type Heartbeat struct {
	target     Target
	bus        *Bus
	reconciler Reconciler
	interval   time.Duration

	busy     atomic.Bool
	lastMode string

	logger *logrus.Entry
}

// NewHeartbeat creates the loop; Run starts it.
func NewHeartbeat(target Target, bus *Bus, reconciler Reconciler, interval time.Duration, logger *logrus.Entry) *Heartbeat {
	return &Heartbeat{
		target:     target,
		bus:        bus,
		reconciler: reconciler,
		interval:   interval,
		logger:     logger,
	}
}

// Run fires ticks on the fixed period until the context is cancelled.
func (h *Heartbeat) Run(ctx context.Context) {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.tick(ctx)
		}
	}
}

func (h *Heartbeat) tick(ctx context.Context) {
	if !h.busy.CompareAndSwap(false, true) {
		// Previous tick's async work has not settled yet.
		return
	}
	defer h.busy.Store(false)

	if h.target.Task() != TaskIdle {
		return
	}
	if h.target.State() != StateAuthenticated {
		return
	}

	mode := h.target.GetMode(ctx)
	if mode != ModeCode {
		// The unknown sentinel means the player revoked the grant.
		if mode == ModeUnknown {
			h.target.DropAuth()
		}
		// End edit sessions only on the transition edge out of live-edit
		// mode, not on every tick spent outside it.
		if h.lastMode == ModeCode {
			h.bus.FireModeLeft()
		}
		h.lastMode = mode
		return
	}
	h.lastMode = mode

	snap := h.target.GetInventory(ctx)
	if h.reconciler != nil {
		out, err := h.reconciler.Reconcile(ctx, snap)
		if err != nil {
			h.logger.WithError(err).Warn("reconciliation pass failed")
		} else {
			snap = out
		}
	}

	h.bus.FireHeartbeat(snap)
}
