package server

import (
	"errors"
	"net/http"

	"github.com/zeusync/cartsync/internal/core/wire"
	"github.com/zeusync/cartsync/internal/realtime"
)

// Server-specific errors
var (
	ErrServerClosed         = errors.New("server is closed")
	ErrServerNotRunning     = errors.New("server is not running")
	ErrServerAlreadyRunning = errors.New("server is already running")
	ErrListenerFailed       = errors.New("failed to create listener")
	ErrMissingToken         = errors.New("missing bearer token")
	ErrInvalidToken         = errors.New("invalid token")
	ErrForbidden            = errors.New("cart belongs to another user")
	ErrInvalidRequest       = errors.New("invalid request body")
)

// errorStatus maps an error to its HTTP status and wire code.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, ErrMissingToken), errors.Is(err, ErrInvalidToken):
		return http.StatusUnauthorized, wire.CodeUnauthorized
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden, wire.CodeForbidden
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, realtime.ErrEmptyUserUID),
		errors.Is(err, realtime.ErrEmptyProductID),
		errors.Is(err, realtime.ErrInvalidQuantity):
		return http.StatusBadRequest, wire.CodeInvalidRequest
	case errors.Is(err, realtime.ErrLineNotFound):
		return http.StatusNotFound, wire.CodeNotFound
	default:
		return http.StatusInternalServerError, wire.CodeInternal
	}
}
