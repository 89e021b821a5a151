package remote

import (
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeusync/cartsync/internal/core/cart"
)

func TestGuardDeliversUntilCancel(t *testing.T) {
	var snapshots atomic.Int32
	var stops atomic.Int32
	g := NewGuard("u1", func(cart.Cart) { snapshots.Add(1) }, nil, func() { stops.Add(1) })

	assert.True(t, g.Snapshot(cart.New()))
	g.Cancel()
	g.Cancel()
	assert.False(t, g.Snapshot(cart.New()))
	assert.False(t, g.Active())

	assert.Equal(t, int32(1), snapshots.Load())
	assert.Equal(t, int32(1), stops.Load())
	select {
	case <-g.Done():
	default:
		t.Fatal("done not closed")
	}
}

func TestGuardErrorFiresOnce(t *testing.T) {
	var got []error
	var snapshots int
	g := NewGuard("u1", func(cart.Cart) { snapshots++ }, func(err error) { got = append(got, err) }, nil)

	boom := errors.New("boom")
	assert.True(t, g.Fail(boom))
	assert.False(t, g.Fail(boom))
	assert.False(t, g.Snapshot(cart.New()))

	require.Len(t, got, 1)
	assert.True(t, IsSubscriptionError(got[0]))
	assert.ErrorIs(t, got[0], boom)
	assert.Zero(t, snapshots)
}

func TestGuardNoErrorAfterCancel(t *testing.T) {
	var calls int
	g := NewGuard("u1", nil, func(error) { calls++ }, nil)
	g.Cancel()
	assert.False(t, g.Fail(errors.New("late")))
	assert.Zero(t, calls)
}

func TestGuardCancelFromCallback(t *testing.T) {
	var g *Guard
	var calls int
	g = NewGuard("u1", func(cart.Cart) {
		calls++
		g.Cancel()
	}, nil, nil)

	assert.True(t, g.Snapshot(cart.New()))
	assert.False(t, g.Snapshot(cart.New()))
	assert.Equal(t, 1, calls)
}

func TestGuardSnapshotIsACopy(t *testing.T) {
	var received cart.Cart
	g := NewGuard("u1", func(c cart.Cart) { received = c }, nil, nil)
	c := cart.New().WithLine("1", cart.Line{Quantity: 1})
	g.Snapshot(c)
	received["2"] = cart.Line{Quantity: 2}
	assert.Equal(t, 1, c.Len())
}

func TestErrorWrapping(t *testing.T) {
	base := errors.New("503")
	err := NewRemoteError(OpSetLine, "u1", "p1", base)
	assert.True(t, IsRemoteError(err))
	assert.ErrorIs(t, err, base)
	assert.Same(t, err, NewRemoteError(OpRemoveLine, "u1", "p1", err))
	assert.NoError(t, NewRemoteError(OpSetLine, "u1", "p1", nil))
	assert.Contains(t, err.Error(), "set_line")
}
