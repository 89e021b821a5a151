package session

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeusync/cartsync/internal/core/events/bus"
)

type fakeCart struct {
	started  []string
	signOuts int
	startErr error
}

func (f *fakeCart) Start(_ context.Context, uid string) error {
	if f.startErr != nil {
		return f.startErr
	}
	f.started = append(f.started, uid)
	return nil
}

func (f *fakeCart) SignOut(context.Context) error {
	f.signOuts++
	return nil
}

func TestSignInStartsAndSignOutEnds(t *testing.T) {
	c := &fakeCart{}
	m := NewManager(bus.New(), c, nil)
	require.NoError(t, m.Attach(context.Background()))
	defer m.Detach()

	require.NoError(t, m.SignIn(Identity{UserUID: "u1", Email: "a@b.c"}))
	assert.Equal(t, []string{"u1"}, c.started)
	id, ok := m.Current()
	require.True(t, ok)
	assert.Equal(t, "a@b.c", id.Email)

	require.NoError(t, m.SignOut())
	assert.Equal(t, 1, c.signOuts)
	_, ok = m.Current()
	assert.False(t, ok)

	assert.ErrorIs(t, m.SignOut(), ErrNotSignedIn)
}

func TestSignInValidation(t *testing.T) {
	m := NewManager(bus.New(), &fakeCart{}, nil)
	assert.ErrorIs(t, m.SignIn(Identity{}), ErrEmptyIdentity)

	require.NoError(t, m.Attach(context.Background()))
	assert.ErrorIs(t, m.Attach(context.Background()), ErrAttached)
	m.Detach()
}

func TestStartFailureLeavesSignedOut(t *testing.T) {
	boom := errors.New("closed")
	m := NewManager(bus.New(), &fakeCart{startErr: boom}, nil)
	require.NoError(t, m.Attach(context.Background()))
	defer m.Detach()

	assert.ErrorIs(t, m.SignIn(Identity{UserUID: "u1"}), boom)
	_, ok := m.Current()
	assert.False(t, ok)
}

func TestDetachedManagerIgnoresEvents(t *testing.T) {
	c := &fakeCart{}
	b := bus.New()
	m := NewManager(b, c, nil)
	require.NoError(t, m.Attach(context.Background()))
	m.Detach()

	require.NoError(t, m.SignIn(Identity{UserUID: "u1"}))
	assert.Empty(t, c.started)
}
