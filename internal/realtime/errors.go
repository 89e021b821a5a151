package realtime

import "errors"

var (
	ErrEmptyUserUID    = errors.New("realtime: user uid is empty")
	ErrEmptyProductID  = errors.New("realtime: product id is empty")
	ErrLineNotFound    = errors.New("realtime: cart line not found")
	ErrInvalidQuantity = errors.New("realtime: quantity must be at least 1")
	ErrNilListener     = errors.New("realtime: listener is nil")
)
