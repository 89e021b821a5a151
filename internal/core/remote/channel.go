// Package remote defines the Remote Cart Channel: a live subscription to a
// user's cart in a remote real-time store plus single-line mutations.
//
// Implementations live in sub-packages (wsremote, fsremote) and in the
// realtime package's loopback channel.
package remote

import (
	"context"

	"github.com/zeusync/cartsync/internal/core/cart"
)

// SnapshotFunc receives the full cart every time the remote value changes,
// and once right after Subscribe with the current value.
type SnapshotFunc func(c cart.Cart)

// ErrorFunc is called at most once per subscription when the channel can't
// establish or keep connectivity. No snapshot follows it.
type ErrorFunc func(err error)

// Channel is the Remote Cart Channel contract.
type Channel interface {
	// Subscribe starts delivery for userUID. It must not block on the network:
	// connection failures are reported through onError. The returned error is
	// only for arguments that can never work (e.g. an empty uid).
	Subscribe(userUID string, onSnapshot SnapshotFunc, onError ErrorFunc) (Subscription, error)

	SetLine(ctx context.Context, userUID, productID string, line cart.Line) error
	UpdateQuantity(ctx context.Context, userUID, productID string, quantity int) error
	RemoveLine(ctx context.Context, userUID, productID string) error
}

// Subscription is a cancellable handle returned by Subscribe.
type Subscription interface {
	ID() string
	UserUID() string
	// Cancel stops delivery. It is idempotent and never fails; after it
	// returns no new callback starts.
	Cancel()
	// Done is closed once the subscription ended, by Cancel or by an error.
	Done() <-chan struct{}
}
