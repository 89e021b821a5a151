package reconciler

import (
	"errors"

	"github.com/zeusync/cartsync/internal/core/cart"
)

var (
	ErrNoActiveSession = errors.New("reconciler: no active session")
	ErrEmptyUserUID    = errors.New("reconciler: user uid is empty")
	ErrLineNotFound    = errors.New("reconciler: product is not in the cart")
	ErrInvalidProduct  = cart.ErrInvalidProduct
	ErrClosed          = errors.New("reconciler: closed")
)

// User-facing messages exposed through State.LastError.
const (
	MsgCartUnavailableOffline = "Cart unavailable offline. Add items when online."
	MsgConnectionLost         = "Sync connection lost. Changes are saved on this device."
	MsgUpdateFailed           = "Failed to update cart"
	MsgRemoveFailed           = "Failed to remove item"
	MsgAddFailed              = "Failed to add to cart"
)
