package remote

import (
	"errors"
	"fmt"
)

var (
	ErrEmptyUserUID   = errors.New("remote: user uid is empty")
	ErrEmptyProductID = errors.New("remote: product id is empty")
	ErrLineNotFound   = errors.New("remote: cart line not found")
	ErrUnavailable    = errors.New("remote: store unavailable")
	ErrUnauthorized   = errors.New("remote: unauthorized")
)

type Op string

const (
	OpSetLine        Op = "set_line"
	OpUpdateQuantity Op = "update_quantity"
	OpRemoveLine     Op = "remove_line"
)

// RemoteError is returned by a failed mutation. The optimistic local state is
// kept; the error is a soft "sync failed" for the caller.
type RemoteError struct {
	Op        Op
	UserUID   string
	ProductID string
	Err       error
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("remote %s %s/%s: %v", e.Op, e.UserUID, e.ProductID, e.Err)
}

func (e *RemoteError) Unwrap() error {
	return e.Err
}

// NewRemoteError wraps err unless it already is a *RemoteError.
func NewRemoteError(op Op, uid, productID string, err error) error {
	if err == nil {
		return nil
	}
	var re *RemoteError
	if errors.As(err, &re) {
		return err
	}
	return &RemoteError{Op: op, UserUID: uid, ProductID: productID, Err: err}
}

// SubscriptionError is what ErrorFunc receives. It flips the session offline.
type SubscriptionError struct {
	UserUID string
	Err     error
}

func (e *SubscriptionError) Error() string {
	return fmt.Sprintf("remote subscription for %q: %v", e.UserUID, e.Err)
}

func (e *SubscriptionError) Unwrap() error {
	return e.Err
}

func NewSubscriptionError(uid string, err error) error {
	var se *SubscriptionError
	if errors.As(err, &se) {
		return err
	}
	return &SubscriptionError{UserUID: uid, Err: err}
}

func IsRemoteError(err error) bool {
	var re *RemoteError
	return errors.As(err, &re)
}

func IsSubscriptionError(err error) bool {
	var se *SubscriptionError
	return errors.As(err, &se)
}
