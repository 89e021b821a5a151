// Package client provides a high-level storefront SDK for cartsync: sign-in,
// catalog browsing and an offline-capable cart behind one handle.
package client

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zeusync/cartsync/internal/catalog"
	"github.com/zeusync/cartsync/internal/core/connectivity"
	"github.com/zeusync/cartsync/internal/core/events/bus"
	"github.com/zeusync/cartsync/internal/core/observability/log"
	"github.com/zeusync/cartsync/internal/core/reconciler"
	"github.com/zeusync/cartsync/internal/core/session"
	"github.com/zeusync/cartsync/pkg/sequence"
)

// Client represents a storefront session on one device
type Client struct {
	cart     *reconciler.Reconciler
	sessions *session.Manager
	catalog  *catalog.Client
	bus      bus.EventBus
	tokens   TokenSetter

	// Event handlers
	eventHandlers map[EventType][]EventHandler
	handlerMutex  sync.RWMutex

	// Lifecycle
	connected atomic.Bool
	closed    atomic.Bool
	sub       bus.Subscription
	events    *sequence.Queue[Event]
	done      chan struct{}
	worker    sync.WaitGroup

	stateMu sync.Mutex
	last    reconciler.State

	logger log.Log
}

// TokenSetter is implemented by remote channels that authenticate with a
// bearer token.
type TokenSetter interface {
	SetToken(token string)
}

// EventHandler defines a function type for handling client events
type EventHandler func(event Event) error

// EventType represents different types of client events
type EventType string

const (
	EventTypeStateChanged EventType = "state_changed"
	EventTypeSynced       EventType = "synced"
	EventTypeOnline       EventType = "online"
	EventTypeOffline      EventType = "offline"
	EventTypeReleased     EventType = "released"
	EventTypeError        EventType = "error"
)

// Event represents a client event
type Event struct {
	Type      EventType
	Timestamp time.Time
	State     reconciler.State
	Error     error
}

// NewClient wires the storefront pieces together. tokens may be nil when the
// remote channel does not use bearer tokens.
func NewClient(cart *reconciler.Reconciler, sessions *session.Manager, products *catalog.Client, eventBus bus.EventBus, tokens TokenSetter, logger log.Log) *Client {
	return &Client{
		cart:          cart,
		sessions:      sessions,
		catalog:       products,
		bus:           eventBus,
		tokens:        tokens,
		eventHandlers: make(map[EventType][]EventHandler),
		done:          make(chan struct{}),
		logger:        log.OrNop(logger).With(log.Component("client")),
	}
}

// Connect attaches to identity and cart events. ctx bounds the cart work
// triggered by Login and Logout.
func (c *Client) Connect(ctx context.Context) error {
	if c.closed.Load() {
		return ErrClientClosed
	}
	if !c.connected.CompareAndSwap(false, true) {
		return ErrAlreadyConnected
	}

	if err := c.sessions.Attach(ctx); err != nil {
		c.connected.Store(false)
		return err
	}
	c.events = sequence.NewQueue[Event]()
	c.stateMu.Lock()
	c.last = c.cart.State()
	c.stateMu.Unlock()

	sub, err := c.bus.Subscribe(reconciler.EventStateChanged, c.onState)
	if err != nil {
		c.sessions.Detach()
		c.connected.Store(false)
		return err
	}
	c.sub = sub

	c.worker.Add(1)
	go c.dispatch(c.events)

	c.logger.Info("Client connected")
	return nil
}

// Disconnect stops event delivery. The cart session stays as it is.
func (c *Client) Disconnect() error {
	if !c.connected.CompareAndSwap(true, false) {
		return ErrNotConnected
	}
	_ = c.sub.Cancel()
	c.sessions.Detach()
	c.events.Close()
	c.worker.Wait()
	c.logger.Info("Client disconnected")
	return nil
}

// Close disconnects and releases the cart session. The local mirror is kept
// for the next start.
func (c *Client) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	if c.connected.Load() {
		_ = c.Disconnect()
	}
	err := c.cart.Release(context.Background())
	if errors.Is(err, reconciler.ErrClosed) {
		err = nil
	}
	close(c.done)
	c.logger.Info("Client closed")
	return err
}

// Login signs id in and starts its cart session.
func (c *Client) Login(id session.Identity) error {
	if err := c.ready(); err != nil {
		return err
	}
	if c.tokens != nil && id.Token != "" {
		c.tokens.SetToken(id.Token)
	}
	return c.sessions.SignIn(id)
}

// Logout ends the cart session and clears the device copy.
func (c *Client) Logout() error {
	if err := c.ready(); err != nil {
		return err
	}
	return c.sessions.SignOut()
}

func (c *Client) Identity() (session.Identity, bool) {
	return c.sessions.Current()
}

// Products loads the catalog listing with its category filter values.
func (c *Client) Products(ctx context.Context) (catalog.Listing, error) {
	return c.catalog.LoadListing(ctx)
}

// Cart returns the state to render.
func (c *Client) Cart() reconciler.State {
	return c.cart.State()
}

// WaitSynced blocks until the first classification of the session.
func (c *Client) WaitSynced(ctx context.Context) (reconciler.State, error) {
	return c.cart.AwaitSynced(ctx)
}

// Add puts quantity of product in the cart, fetching it from the catalog.
func (c *Client) Add(ctx context.Context, productID string, quantity int) error {
	if err := c.ready(); err != nil {
		return err
	}
	p, err := c.catalog.Product(ctx, productID)
	if errors.Is(err, catalog.ErrNotFound) {
		return ErrProductNotFound
	}
	if err != nil {
		return err
	}
	return c.AddProduct(ctx, p, quantity)
}

// AddProduct adds an already loaded product without a catalog round trip.
func (c *Client) AddProduct(ctx context.Context, p catalog.Product, quantity int) error {
	if err := c.ready(); err != nil {
		return err
	}
	return c.cart.AddOrSetLine(ctx, p.Snapshot(), quantity)
}

func (c *Client) Update(ctx context.Context, productID string, quantity int) error {
	if err := c.ready(); err != nil {
		return err
	}
	return c.cart.UpdateQuantity(ctx, productID, quantity)
}

func (c *Client) Remove(ctx context.Context, productID string) error {
	if err := c.ready(); err != nil {
		return err
	}
	return c.cart.RemoveLine(ctx, productID)
}

// OnEvent registers an event handler for a specific event type
func (c *Client) OnEvent(eventType EventType, handler EventHandler) {
	c.handlerMutex.Lock()
	defer c.handlerMutex.Unlock()

	c.eventHandlers[eventType] = append(c.eventHandlers[eventType], handler)
	c.logger.Debug("Event handler registered", log.String("type", string(eventType)))
}

func (c *Client) IsConnected() bool {
	return c.connected.Load()
}

func (c *Client) IsClosed() bool {
	return c.closed.Load()
}

// Done is closed by Close.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

func (c *Client) ready() error {
	if c.closed.Load() {
		return ErrClientClosed
	}
	if !c.connected.Load() {
		return ErrNotConnected
	}
	return nil
}

// onState runs on the reconciler loop; it only derives events and queues
// them.
func (c *Client) onState(e bus.Event) error {
	next, ok := e.Data().(reconciler.State)
	if !ok {
		return nil
	}
	c.stateMu.Lock()
	prev := c.last
	c.last = next
	c.stateMu.Unlock()

	now := e.Timestamp()
	for _, typ := range transitions(prev, next) {
		ev := Event{Type: typ, Timestamp: now, State: next}
		if typ == EventTypeError {
			ev.Error = next.SyncErr
		}
		c.events.Enqueue(ev)
	}
	return nil
}

// transitions lists the events that moving from prev to next produces,
// always starting with EventTypeStateChanged.
func transitions(prev, next reconciler.State) []EventType {
	out := []EventType{EventTypeStateChanged}
	if next.Phase == reconciler.PhaseSynced && prev.Phase != reconciler.PhaseSynced {
		out = append(out, EventTypeSynced)
	}
	if next.Phase == reconciler.PhaseSynced && (next.Mode != prev.Mode || prev.Phase != reconciler.PhaseSynced) {
		switch next.Mode {
		case connectivity.ModeOnline:
			out = append(out, EventTypeOnline)
		case connectivity.ModeOffline:
			out = append(out, EventTypeOffline)
		}
	}
	if next.Phase == reconciler.PhaseReleased && prev.Phase != reconciler.PhaseReleased {
		out = append(out, EventTypeReleased)
	}
	newMsg := next.LastError != "" && next.LastError != prev.LastError
	newErr := next.SyncErr != nil && next.SyncErr != prev.SyncErr
	if newMsg || newErr {
		out = append(out, EventTypeError)
	}
	return out
}

// dispatch delivers queued events in order until the queue is closed.
func (c *Client) dispatch(q *sequence.Queue[Event]) {
	defer c.worker.Done()
	for {
		ev, ok := q.Dequeue()
		if !ok {
			if q.IsClosed() {
				return
			}
			<-q.Ready()
			continue
		}
		c.emitEvent(ev)
	}
}

// emitEvent calls the handlers registered for the event type in order.
func (c *Client) emitEvent(event Event) {
	c.handlerMutex.RLock()
	handlers := c.eventHandlers[event.Type]
	c.handlerMutex.RUnlock()

	for _, handler := range handlers {
		if err := handler(event); err != nil {
			c.logger.Error("Event handler error", log.String("type", string(event.Type)), log.Error(err))
		}
	}
}
