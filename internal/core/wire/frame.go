// Package wire defines what the cart server and the websocket channel
// exchange: snapshot stream frames and the JSON bodies of point mutations.
package wire

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/zeusync/cartsync/internal/core/cart"
)

// FrameType identifies a stream frame.
type FrameType string

const (
	// FrameSnapshot carries the full cart for the subscribed uid.
	FrameSnapshot FrameType = "snapshot"
	// FrameError ends the stream; the server closes the connection after it.
	FrameError FrameType = "error"
)

var (
	ErrUnknownFrame = errors.New("wire: unknown frame type")
	ErrEmptyFrame   = errors.New("wire: empty frame")
)

// Frame is one message on the snapshot stream.
type Frame struct {
	Type    FrameType            `json:"type"`
	UserUID string               `json:"uid,omitempty"`
	Seq     uint64               `json:"seq,omitempty"`
	Items   map[string]cart.Line `json:"items"`
	Code    string               `json:"code,omitempty"`
	Message string               `json:"message,omitempty"`
	SentAt  time.Time            `json:"sentAt"`
}

// SnapshotFrame builds a snapshot frame. Items is always non-nil on the wire
// so an empty cart reads as {} rather than a missing field.
func SnapshotFrame(uid string, seq uint64, c cart.Cart) Frame {
	items := map[string]cart.Line(c.Clone())
	return Frame{Type: FrameSnapshot, UserUID: uid, Seq: seq, Items: items, SentAt: time.Now().UTC()}
}

func ErrorFrame(code, message string) Frame {
	return Frame{Type: FrameError, Code: code, Message: message, SentAt: time.Now().UTC()}
}

// Cart returns the snapshot contents, dropping invalid lines.
func (f Frame) Cart() cart.Cart {
	return cart.Normalize(f.Items)
}

func Encode(f Frame) ([]byte, error) {
	if f.Type == FrameSnapshot && f.Items == nil {
		f.Items = map[string]cart.Line{}
	}
	return json.Marshal(f)
}

func Decode(data []byte) (Frame, error) {
	if len(data) == 0 {
		return Frame{}, ErrEmptyFrame
	}
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return Frame{}, fmt.Errorf("wire: decode frame: %w", err)
	}
	switch f.Type {
	case FrameSnapshot, FrameError:
		return f, nil
	default:
		return Frame{}, fmt.Errorf("%w: %q", ErrUnknownFrame, f.Type)
	}
}

// SetLineRequest is the body of PUT /v1/carts/{uid}/items/{productId}.
type SetLineRequest struct {
	Line cart.Line `json:"line"`
}

// UpdateQuantityRequest is the body of PATCH /v1/carts/{uid}/items/{productId}.
type UpdateQuantityRequest struct {
	Quantity int `json:"quantity"`
}

// CartResponse is returned by GET /v1/carts/{uid} and by successful mutations.
type CartResponse struct {
	UserUID string               `json:"uid"`
	Items   map[string]cart.Line `json:"items"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

// Error codes shared by the REST API and error frames.
const (
	CodeUnauthorized   = "unauthorized"
	CodeForbidden      = "forbidden"
	CodeInvalidRequest = "invalid_request"
	CodeNotFound       = "not_found"
	CodeUnavailable    = "unavailable"
	CodeSlowConsumer   = "slow_consumer"
	CodeInternal       = "internal"
)
