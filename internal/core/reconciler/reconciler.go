// Package reconciler owns the in-memory cart of the signed-in user and keeps
// it in step with the local mirror and the remote real-time store.
//
// Every operation and every channel callback runs on one event loop
// goroutine, so a mutation and a snapshot never interleave. Remote
// mutations run on an ordered push worker; the loop itself never waits on
// the network.
package reconciler

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zeusync/cartsync/internal/core/cart"
	"github.com/zeusync/cartsync/internal/core/connectivity"
	"github.com/zeusync/cartsync/internal/core/events/bus"
	"github.com/zeusync/cartsync/internal/core/observability/log"
	"github.com/zeusync/cartsync/internal/core/remote"
	"github.com/zeusync/cartsync/internal/core/storage/local"
	"github.com/zeusync/cartsync/pkg/sequence"
)

// EventStateChanged is published on the default topic with a State payload
// after every transition and mutation. Handlers run on the loop and must not
// call back into the Reconciler except for State and Stats.
const EventStateChanged = "reconciler.state_changed"

type errKind uint8

const (
	errNone errKind = iota
	errOffline
	errPush
)

type Reconciler struct {
	cfg        Config
	local      local.Store
	remote     remote.Channel
	bus        bus.EventBus
	logger     log.Log
	classifier *connectivity.Classifier
	pusher     *pusher
	stats      counters

	inbox *sequence.Queue[func()]
	quit  chan struct{}
	done  chan struct{}
	once  sync.Once

	box atomic.Pointer[stateBox]

	// Owned by the loop goroutine.
	uid       string
	phase     Phase
	items     cart.Cart
	lastErr   string
	syncErr   error
	kind      errKind
	gen       uint64
	sub       remote.Subscription
	attempt   int
	reconnect *time.Timer
}

// New starts the event loop. Close releases it.
func New(cfg Config, store local.Store, channel remote.Channel, eventBus bus.EventBus, logger log.Log) *Reconciler {
	if cfg.AddPolicy == "" {
		cfg.AddPolicy = AddOverwrite
	}
	r := &Reconciler{
		cfg:        cfg,
		local:      store,
		remote:     channel,
		bus:        eventBus,
		logger:     log.OrNop(logger).With(log.Component("reconciler")),
		classifier: connectivity.NewClassifier(),
		inbox:      sequence.NewQueue[func()](),
		quit:       make(chan struct{}),
		done:       make(chan struct{}),
		items:      cart.New(),
	}
	r.pusher = newPusher(cfg.PushTimeout, r.pushDone)
	r.box.Store(&stateBox{state: State{Cart: cart.New()}, changed: make(chan struct{})})
	go r.run()
	return r
}

func (r *Reconciler) run() {
	defer close(r.done)
	for {
		select {
		case <-r.quit:
			return
		case <-r.inbox.Ready():
			for {
				fn, ok := r.inbox.Dequeue()
				if !ok {
					break
				}
				fn()
			}
		}
	}
}

// post queues fn on the loop without waiting. Channel callbacks use it.
func (r *Reconciler) post(fn func()) {
	r.inbox.Enqueue(fn)
}

// do runs fn on the loop and waits for it.
func (r *Reconciler) do(ctx context.Context, fn func()) error {
	ran := make(chan struct{})
	if !r.inbox.Enqueue(func() {
		fn()
		close(ran)
	}) {
		return ErrClosed
	}
	select {
	case <-ran:
		return nil
	case <-r.done:
		select {
		case <-ran:
			return nil
		default:
			return ErrClosed
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Start opens a session for uid. A session that is already active is
// released first.
func (r *Reconciler) Start(ctx context.Context, uid string) error {
	if uid == "" {
		return ErrEmptyUserUID
	}
	return r.do(ctx, func() { r.start(uid) })
}

// Release ends the active session. Callbacks of its subscription are never
// acted upon afterwards, including ones already in flight.
func (r *Reconciler) Release(ctx context.Context) error {
	return r.do(ctx, func() { r.release() })
}

// SignOut releases the session and purges the user's local mirror.
func (r *Reconciler) SignOut(ctx context.Context) error {
	return r.do(ctx, func() {
		uid := r.uid
		r.release()
		if uid == "" {
			return
		}
		if err := r.local.Clear(ctx, uid); err != nil {
			r.stats.localClear.Add(1)
			r.logger.Warn("Failed to clear local cart", log.UserUID(uid), log.Error(err))
		}
	})
}

// Close releases the session and stops the loop and the push worker.
func (r *Reconciler) Close() error {
	r.once.Do(func() {
		_ = r.do(context.Background(), func() { r.release() })
		close(r.quit)
		<-r.done
		r.inbox.Close()
		r.pusher.close()
	})
	return nil
}

// State returns the last published state. It never blocks on the loop.
func (r *Reconciler) State() State {
	s := r.box.Load().state
	s.Cart = s.Cart.Clone()
	return s
}

func (r *Reconciler) Stats() Stats {
	return r.stats.snapshot()
}

// Await blocks until pred holds for the published state.
func (r *Reconciler) Await(ctx context.Context, pred func(State) bool) (State, error) {
	for {
		box := r.box.Load()
		if pred(box.state) {
			return r.State(), nil
		}
		select {
		case <-box.changed:
		case <-r.done:
			return r.State(), ErrClosed
		case <-ctx.Done():
			return r.State(), ctx.Err()
		}
	}
}

// AwaitSynced waits for the session to leave Loading.
func (r *Reconciler) AwaitSynced(ctx context.Context) (State, error) {
	return r.Await(ctx, func(s State) bool { return s.Phase == PhaseSynced })
}

// AddOrSetLine adds product with quantity. With AddOverwrite an existing
// line is reset to quantity; with AddIncrement quantity is added to it.
// A quantity below 1 removes the line. Product ids are trimmed the same way
// the local store trims them on load.
func (r *Reconciler) AddOrSetLine(ctx context.Context, product cart.ProductSnapshot, quantity int) error {
	if quantity < 1 {
		return r.RemoveLine(ctx, product.ID)
	}
	added, err := cart.NewLine(product, quantity)
	if err != nil {
		return ErrInvalidProduct
	}
	pid := added.Product.ID

	var line cart.Line
	return r.mutate(ctx, pid, remote.OpSetLine, MsgAddFailed,
		func(c cart.Cart) (cart.Cart, bool, error) {
			line = added
			if existing, ok := c.Line(pid); ok && r.cfg.AddPolicy == AddIncrement {
				line.Quantity += existing.Quantity
			}
			return c.WithLine(pid, line), true, nil
		},
		func(ctx context.Context, uid string) error {
			return r.remote.SetLine(ctx, uid, pid, line)
		})
}

// UpdateQuantity replaces the quantity of an existing line. A quantity below
// 1 removes the line.
func (r *Reconciler) UpdateQuantity(ctx context.Context, pid string, quantity int) error {
	pid = strings.TrimSpace(pid)
	if pid == "" {
		return ErrInvalidProduct
	}
	if quantity < 1 {
		return r.RemoveLine(ctx, pid)
	}
	return r.mutate(ctx, pid, remote.OpUpdateQuantity, MsgUpdateFailed,
		func(c cart.Cart) (cart.Cart, bool, error) {
			next, ok := c.WithQuantity(pid, quantity)
			if !ok {
				return c, false, ErrLineNotFound
			}
			return next, true, nil
		},
		func(ctx context.Context, uid string) error {
			return r.remote.UpdateQuantity(ctx, uid, pid, quantity)
		})
}

// RemoveLine deletes a line. Removing an absent line does nothing.
func (r *Reconciler) RemoveLine(ctx context.Context, pid string) error {
	pid = strings.TrimSpace(pid)
	if pid == "" {
		return ErrInvalidProduct
	}
	return r.mutate(ctx, pid, remote.OpRemoveLine, MsgRemoveFailed,
		func(c cart.Cart) (cart.Cart, bool, error) {
			next, ok := c.Without(pid)
			return next, ok, nil
		},
		func(ctx context.Context, uid string) error {
			return r.remote.RemoveLine(ctx, uid, pid)
		})
}

type applyFunc func(c cart.Cart) (cart.Cart, bool, error)

type callFunc func(ctx context.Context, uid string) error

// mutate applies the change on the loop, writes it through to the local
// mirror and, unless the session is offline, queues the remote push. The
// caller waits for the push result; the loop does not.
func (r *Reconciler) mutate(ctx context.Context, pid string, op remote.Op, failMsg string, apply applyFunc, call callFunc) error {
	var (
		job      *pushJob
		applyErr error
	)
	err := r.do(ctx, func() {
		if r.phase != PhaseLoading && r.phase != PhaseSynced {
			applyErr = ErrNoActiveSession
			return
		}
		next, changed, err := apply(r.items)
		if err != nil {
			applyErr = err
			return
		}
		if !changed {
			return
		}
		r.items = next
		r.saveLocal()
		if r.lastErr == MsgCartUnavailableOffline && !r.items.IsEmpty() {
			r.lastErr = ""
		}

		if r.classifier.Mode() != connectivity.ModeOffline {
			uid := r.uid
			job = &pushJob{
				gen:       r.gen,
				uid:       uid,
				productID: pid,
				op:        op,
				failMsg:   failMsg,
				call:      func(ctx context.Context) error { return call(ctx, uid) },
				result:    make(chan error, 1),
			}
			r.pusher.enqueue(job)
		}
		r.publish()
	})
	if err != nil {
		return err
	}
	if applyErr != nil || job == nil {
		return applyErr
	}

	select {
	case err = <-job.result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Reconciler) start(uid string) {
	r.release()

	r.gen++
	r.uid = uid
	r.phase = PhaseLoading
	r.attempt = 0
	r.setError(errNone, "", nil)
	r.classifier.Reset()
	// The local mirror is shown while the first snapshot is on its way.
	r.items = r.loadLocal()
	r.logger.Info("Cart session started", log.UserUID(uid))
	r.subscribe()
	r.publish()
}

func (r *Reconciler) subscribe() {
	gen := r.gen
	sub, err := r.remote.Subscribe(r.uid,
		func(c cart.Cart) { r.post(func() { r.applySnapshot(gen, c) }) },
		func(err error) { r.post(func() { r.subscriptionFailed(gen, err) }) },
	)
	if err != nil {
		r.subscriptionFailed(gen, remote.NewSubscriptionError(r.uid, err))
		return
	}
	r.sub = sub
}

func (r *Reconciler) release() {
	if r.phase != PhaseLoading && r.phase != PhaseSynced {
		return
	}
	r.gen++
	if r.sub != nil {
		r.sub.Cancel()
		r.sub = nil
	}
	if r.reconnect != nil {
		r.reconnect.Stop()
		r.reconnect = nil
	}
	r.classifier.Reset()
	r.logger.Info("Cart session released", log.UserUID(r.uid))
	r.phase = PhaseReleased
	r.items = cart.New()
	r.setError(errNone, "", nil)
	r.publish()
}

func (r *Reconciler) stale(gen uint64) bool {
	if gen != r.gen || (r.phase != PhaseLoading && r.phase != PhaseSynced) {
		r.stats.stale.Add(1)
		return true
	}
	return false
}

func (r *Reconciler) applySnapshot(gen uint64, c cart.Cart) {
	if r.stale(gen) {
		return
	}
	_, changed := r.classifier.OnSnapshot()
	if changed && r.phase == PhaseSynced {
		r.logger.Info("Cart sync restored", log.UserUID(r.uid))
	}
	if r.kind == errOffline {
		r.setError(errNone, "", nil)
	}
	r.phase = PhaseSynced
	r.attempt = 0
	r.items = cart.Normalize(c)
	r.stats.snapshots.Add(1)
	r.saveLocal()
	r.publish()
}

func (r *Reconciler) subscriptionFailed(gen uint64, err error) {
	if r.stale(gen) {
		return
	}
	r.stats.subscription.Add(1)
	r.sub = nil
	r.classifier.OnError(err)

	if r.phase == PhaseLoading {
		r.phase = PhaseSynced
		r.items = r.loadLocal()
		msg := ""
		if r.items.IsEmpty() {
			msg = MsgCartUnavailableOffline
		}
		r.setError(errOffline, msg, err)
		r.logger.Warn("Cart subscription failed, using local cart",
			log.UserUID(r.uid), log.Int("lines", r.items.Len()), log.Error(err))
	} else {
		r.setError(errOffline, MsgConnectionLost, err)
		r.logger.Warn("Cart subscription lost", log.UserUID(r.uid), log.Error(err))
	}

	r.scheduleReconnect()
	r.publish()
}

func (r *Reconciler) scheduleReconnect() {
	delay, ok := r.cfg.Reconnect.Delay(r.attempt + 1)
	if !ok {
		return
	}
	r.attempt++
	gen := r.gen
	r.logger.Debug("Scheduling cart resubscribe",
		log.UserUID(r.uid), log.Int("attempt", r.attempt), log.Duration("delay", delay))
	r.reconnect = time.AfterFunc(delay, func() {
		r.post(func() {
			if r.stale(gen) || r.sub != nil {
				return
			}
			r.reconnect = nil
			r.subscribe()
		})
	})
}

func (r *Reconciler) pushDone(job *pushJob, err error) {
	r.post(func() {
		if job.gen != r.gen || (r.phase != PhaseLoading && r.phase != PhaseSynced) {
			return
		}
		if err == nil {
			if r.kind == errPush {
				r.setError(errNone, "", nil)
				r.publish()
			}
			return
		}
		r.stats.remote.Add(1)
		r.logger.Warn("Remote cart update failed",
			log.UserUID(job.uid), log.ProductID(job.productID), log.String("op", string(job.op)), log.Error(err))
		if r.kind != errOffline {
			r.setError(errPush, job.failMsg, err)
		}
		r.publish()
	})
}

func (r *Reconciler) loadLocal() cart.Cart {
	c, err := r.local.Load(context.Background(), r.uid)
	if err != nil {
		r.stats.localLoad.Add(1)
		r.logger.Warn("Failed to load local cart", log.UserUID(r.uid), log.Error(err))
	}
	if c == nil {
		c = cart.New()
	}
	return c
}

func (r *Reconciler) saveLocal() {
	if err := r.local.Save(context.Background(), r.uid, r.items); err != nil {
		r.stats.localSave.Add(1)
		r.logger.Warn("Failed to save local cart", log.UserUID(r.uid), log.Error(err))
	}
}

func (r *Reconciler) setError(kind errKind, msg string, err error) {
	r.kind = kind
	r.lastErr = msg
	r.syncErr = err
}

func (r *Reconciler) publish() {
	state := State{
		UserUID:   r.uid,
		Phase:     r.phase,
		Mode:      r.classifier.Mode(),
		Cart:      r.items,
		LastError: r.lastErr,
		SyncErr:   r.syncErr,
	}
	prev := r.box.Swap(&stateBox{state: state, changed: make(chan struct{})})
	close(prev.changed)

	if r.bus == nil || !r.bus.HasSubscribers("", EventStateChanged) {
		return
	}
	if err := r.bus.Publish(bus.NewEvent(EventStateChanged, "reconciler", state, nil)); err != nil {
		r.logger.Warn("State handler failed", log.UserUID(r.uid), log.Error(err))
	}
}
