// Package session connects the identity provider to the cart: a sign-in
// starts a cart session for the user, a sign-out releases it and purges the
// device mirror.
package session

import (
	"context"
	"errors"
	"sync"

	"github.com/zeusync/cartsync/internal/core/events/bus"
	"github.com/zeusync/cartsync/internal/core/observability/log"
)

const (
	EventSignedIn  = "identity.signed_in"
	EventSignedOut = "identity.signed_out"
)

var (
	ErrNotSignedIn   = errors.New("session: not signed in")
	ErrEmptyIdentity = errors.New("session: identity has no user uid")
	ErrAttached      = errors.New("session: manager already attached")
)

// Identity is what the identity provider hands over after a sign-in.
type Identity struct {
	UserUID string
	Email   string
	// Token authenticates the remote channel when it needs one.
	Token string
}

// Cart is the part of the reconciler a session drives.
type Cart interface {
	Start(ctx context.Context, uid string) error
	SignOut(ctx context.Context) error
}

type Manager struct {
	bus    bus.EventBus
	cart   Cart
	logger log.Log

	mu      sync.Mutex
	ctx     context.Context
	subs    []bus.Subscription
	current *Identity
}

func NewManager(eventBus bus.EventBus, c Cart, logger log.Log) *Manager {
	return &Manager{
		bus:    eventBus,
		cart:   c,
		logger: log.OrNop(logger).With(log.Component("session")),
	}
}

// Attach subscribes to identity events. ctx bounds the cart calls the
// handlers make.
func (m *Manager) Attach(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.subs != nil {
		return ErrAttached
	}
	in, err := m.bus.Subscribe(EventSignedIn, m.onSignedIn)
	if err != nil {
		return err
	}
	out, err := m.bus.Subscribe(EventSignedOut, m.onSignedOut)
	if err != nil {
		_ = in.Cancel()
		return err
	}
	m.ctx = ctx
	m.subs = []bus.Subscription{in, out}
	return nil
}

func (m *Manager) Detach() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.subs {
		_ = s.Cancel()
	}
	m.subs = nil
}

// SignIn announces id on the bus.
func (m *Manager) SignIn(id Identity) error {
	if id.UserUID == "" {
		return ErrEmptyIdentity
	}
	return m.bus.Publish(bus.NewEvent(EventSignedIn, "session", id, nil))
}

// SignOut announces that the current user logged out.
func (m *Manager) SignOut() error {
	id, ok := m.Current()
	if !ok {
		return ErrNotSignedIn
	}
	return m.bus.Publish(bus.NewEvent(EventSignedOut, "session", id, nil))
}

func (m *Manager) Current() (Identity, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return Identity{}, false
	}
	return *m.current, true
}

func (m *Manager) context() context.Context {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ctx == nil {
		return context.Background()
	}
	return m.ctx
}

func (m *Manager) onSignedIn(event bus.Event) error {
	id, ok := event.Data().(Identity)
	if !ok || id.UserUID == "" {
		return ErrEmptyIdentity
	}
	if err := m.cart.Start(m.context(), id.UserUID); err != nil {
		m.logger.Error("Failed to start cart session", log.UserUID(id.UserUID), log.Error(err))
		return err
	}
	m.mu.Lock()
	m.current = &id
	m.mu.Unlock()
	m.logger.Info("Signed in", log.UserUID(id.UserUID))
	return nil
}

func (m *Manager) onSignedOut(event bus.Event) error {
	id, _ := event.Data().(Identity)
	if err := m.cart.SignOut(m.context()); err != nil {
		m.logger.Error("Failed to end cart session", log.UserUID(id.UserUID), log.Error(err))
		return err
	}
	m.mu.Lock()
	m.current = nil
	m.mu.Unlock()
	m.logger.Info("Signed out", log.UserUID(id.UserUID))
	return nil
}
