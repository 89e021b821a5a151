package remote

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/zeusync/cartsync/internal/core/cart"
)

// Guard enforces the delivery rules every Channel shares: snapshots stop
// after Cancel or after the first error, and onError fires at most once.
// Implementations keep one per subscription and route callbacks through it.
//
// Callbacks are serialized by the guard, so an implementation may call
// Snapshot from any goroutine.
type Guard struct {
	id         string
	uid        string
	onSnapshot SnapshotFunc
	onError    ErrorFunc

	mu     sync.Mutex // serializes callbacks
	ended  atomic.Bool
	done   chan struct{}
	stop   func()
	closer sync.Once
}

// NewGuard builds a guard. stop, if set, runs once when the subscription ends
// and should release the underlying listener.
func NewGuard(uid string, onSnapshot SnapshotFunc, onError ErrorFunc, stop func()) *Guard {
	if onSnapshot == nil {
		onSnapshot = func(cart.Cart) {}
	}
	if onError == nil {
		onError = func(error) {}
	}
	return &Guard{
		id:         uuid.NewString(),
		uid:        uid,
		onSnapshot: onSnapshot,
		onError:    onError,
		done:       make(chan struct{}),
		stop:       stop,
	}
}

func (g *Guard) ID() string      { return g.id }
func (g *Guard) UserUID() string { return g.uid }

func (g *Guard) Done() <-chan struct{} {
	return g.done
}

// Active reports whether callbacks are still allowed.
func (g *Guard) Active() bool {
	return !g.ended.Load()
}

// Snapshot delivers c unless the subscription already ended. It reports
// whether the callback ran.
func (g *Guard) Snapshot(c cart.Cart) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.ended.Load() {
		return false
	}
	g.onSnapshot(c.Clone())
	return true
}

// Fail ends the subscription and delivers err once, wrapped as a
// *SubscriptionError.
func (g *Guard) Fail(err error) bool {
	g.mu.Lock()
	if g.ended.Swap(true) {
		g.mu.Unlock()
		return false
	}
	g.onError(NewSubscriptionError(g.uid, err))
	g.mu.Unlock()
	g.finish()
	return true
}

// Cancel ends the subscription without an error callback. It never waits for
// a running callback, so it is safe to call from inside one.
func (g *Guard) Cancel() {
	g.ended.Store(true)
	g.finish()
}

func (g *Guard) finish() {
	g.closer.Do(func() {
		close(g.done)
		if g.stop != nil {
			g.stop()
		}
	})
}
