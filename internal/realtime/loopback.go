package realtime

import (
	"context"
	"sync"

	"github.com/zeusync/cartsync/internal/core/cart"
	"github.com/zeusync/cartsync/internal/core/events/bus"
	"github.com/zeusync/cartsync/internal/core/remote"
)

var _ remote.Channel = (*Loopback)(nil)

// Loopback is an in-process remote.Channel over a Database. The CLI uses it
// for offline demos and the tests use it as a faithful remote.
type Loopback struct {
	db *Database
}

func NewLoopback(db *Database) *Loopback {
	return &Loopback{db: db}
}

type loopbackSubscription struct {
	*remote.Guard

	mu      sync.Mutex
	latest  cart.Cart
	pending bool
	wake    chan struct{}
}

// Subscribe listens on the database from a separate goroutine. Snapshots are
// coalesced: a slow consumer skips straight to the newest cart.
func (l *Loopback) Subscribe(uid string, onSnapshot remote.SnapshotFunc, onError remote.ErrorFunc) (remote.Subscription, error) {
	if uid == "" {
		return nil, remote.ErrEmptyUserUID
	}

	var (
		busSub bus.Subscription
		subMu  sync.Mutex
	)
	s := &loopbackSubscription{wake: make(chan struct{}, 1)}
	s.Guard = remote.NewGuard(uid, onSnapshot, onError, func() {
		subMu.Lock()
		defer subMu.Unlock()
		if busSub != nil {
			_ = busSub.Cancel()
		}
	})

	go func() {
		sub, err := l.db.Listen(context.Background(), uid, s.offer)
		if err != nil {
			s.Fail(err)
			return
		}
		subMu.Lock()
		busSub = sub
		subMu.Unlock()
		if !s.Active() {
			_ = sub.Cancel()
		}
	}()
	go s.pump()

	return s, nil
}

func (s *loopbackSubscription) offer(change Change) {
	s.mu.Lock()
	s.latest = change.Cart
	s.pending = true
	s.mu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *loopbackSubscription) pump() {
	for {
		select {
		case <-s.Done():
			return
		case <-s.wake:
			s.mu.Lock()
			c, ok := s.latest, s.pending
			s.pending = false
			s.mu.Unlock()
			if ok {
				s.Snapshot(c)
			}
		}
	}
}

func (l *Loopback) SetLine(ctx context.Context, uid, productID string, line cart.Line) error {
	_, err := l.db.SetLine(ctx, uid, productID, line)
	return remote.NewRemoteError(remote.OpSetLine, uid, productID, err)
}

func (l *Loopback) UpdateQuantity(ctx context.Context, uid, productID string, quantity int) error {
	_, err := l.db.UpdateQuantity(ctx, uid, productID, quantity)
	return remote.NewRemoteError(remote.OpUpdateQuantity, uid, productID, err)
}

func (l *Loopback) RemoveLine(ctx context.Context, uid, productID string) error {
	_, err := l.db.RemoveLine(ctx, uid, productID)
	return remote.NewRemoteError(remote.OpRemoveLine, uid, productID, err)
}
