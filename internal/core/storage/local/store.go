// Package local persists a per-user cart mirror on the device.
//
// The mirror is a best-effort cache, not the system of record: every backend
// returns *StorageError on failure so callers can count or log it, and Load
// always yields a usable (possibly empty) cart.
package local

import (
	"context"
	"errors"
	"fmt"

	"github.com/zeusync/cartsync/internal/core/cart"
)

// KeyPrefix namespaces cart records so different users never collide.
const KeyPrefix = "cart_"

// Key derives the record key for a user.
func Key(userUID string) string {
	return KeyPrefix + userUID
}

// Store is the Local Cart Store contract.
type Store interface {
	// Save replaces the user's record with c.
	Save(ctx context.Context, userUID string, c cart.Cart) error
	// Load returns the user's cart. An absent record is an empty cart and a nil
	// error; read or parse failures return an empty cart and a *StorageError.
	Load(ctx context.Context, userUID string) (cart.Cart, error)
	// Clear removes the record. Clearing an absent record is not an error.
	Clear(ctx context.Context, userUID string) error
}

type Op string

const (
	OpSave  Op = "save"
	OpLoad  Op = "load"
	OpClear Op = "clear"
)

var (
	ErrEmptyUserUID = errors.New("local: user uid is empty")
	ErrCorrupt      = errors.New("local: stored cart is corrupt")
)

// StorageError is the only error type a Store returns.
type StorageError struct {
	Op      Op
	UserUID string
	Err     error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("local cart %s for %q: %v", e.Op, e.UserUID, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

func storageError(op Op, uid string, err error) error {
	return &StorageError{Op: op, UserUID: uid, Err: err}
}

// IsStorageError reports whether err carries a *StorageError.
func IsStorageError(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}
