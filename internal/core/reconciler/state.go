package reconciler

import (
	"sync/atomic"

	"github.com/zeusync/cartsync/internal/core/cart"
	"github.com/zeusync/cartsync/internal/core/connectivity"
)

type Phase uint8

const (
	PhaseUninitialized Phase = iota
	PhaseLoading
	PhaseSynced
	PhaseReleased
)

func (p Phase) String() string {
	switch p {
	case PhaseLoading:
		return "loading"
	case PhaseSynced:
		return "synced"
	case PhaseReleased:
		return "released"
	default:
		return "uninitialized"
	}
}

// State is what the presentation layer renders.
type State struct {
	UserUID string
	Phase   Phase
	Mode    connectivity.Mode
	Cart    cart.Cart
	// LastError is the message to show, empty when there is nothing to report.
	LastError string
	// SyncErr is the error behind LastError, if any.
	SyncErr error
}

func (s State) Online() bool {
	return s.Phase == PhaseSynced && s.Mode == connectivity.ModeOnline
}

func (s State) Offline() bool {
	return s.Phase == PhaseSynced && s.Mode == connectivity.ModeOffline
}

func (s State) Active() bool {
	return s.Phase == PhaseLoading || s.Phase == PhaseSynced
}

// Stats counts failures that never reach the caller.
type Stats struct {
	LocalSaveFailures  uint64
	LocalLoadFailures  uint64
	LocalClearFailures uint64
	RemoteFailures     uint64
	SubscriptionErrors uint64
	SnapshotsApplied   uint64
	StaleCallbacks     uint64
}

type counters struct {
	localSave    atomic.Uint64
	localLoad    atomic.Uint64
	localClear   atomic.Uint64
	remote       atomic.Uint64
	subscription atomic.Uint64
	snapshots    atomic.Uint64
	stale        atomic.Uint64
}

func (c *counters) snapshot() Stats {
	return Stats{
		LocalSaveFailures:  c.localSave.Load(),
		LocalLoadFailures:  c.localLoad.Load(),
		LocalClearFailures: c.localClear.Load(),
		RemoteFailures:     c.remote.Load(),
		SubscriptionErrors: c.subscription.Load(),
		SnapshotsApplied:   c.snapshots.Load(),
		StaleCallbacks:     c.stale.Load(),
	}
}

// stateBox pairs a published State with a channel closed on the next publish.
type stateBox struct {
	state   State
	changed chan struct{}
}
