// Package realtime is the cart server's real-time store: per-user carts with
// point mutations and listeners that receive the full cart on every change.
package realtime

import (
	"context"
	"fmt"
	"sync"

	"github.com/cespare/xxhash/v2"

	"github.com/zeusync/cartsync/internal/core/cart"
	"github.com/zeusync/cartsync/internal/core/events/bus"
	"github.com/zeusync/cartsync/internal/core/observability/log"
)

// EventCartChanged is published on the uid topic after every effective write.
const EventCartChanged = "cart.changed"

// Change is the payload of EventCartChanged and what listeners receive.
type Change struct {
	UserUID string
	Seq     uint64
	Cart    cart.Cart
}

// Listener must not call back into the Database synchronously.
type Listener func(Change)

type Config struct {
	Shards int
}

func DefaultConfig() Config {
	return Config{Shards: 32}
}

type shard struct {
	mx  sync.Mutex
	seq map[string]uint64
}

// Database serializes writes per user through hash shards and fans every
// change out over the event bus, one topic per uid.
type Database struct {
	backend Backend
	bus     bus.EventBus
	logger  log.Log
	shards  []shard
}

func NewDatabase(backend Backend, eventBus bus.EventBus, cfg Config, logger log.Log) *Database {
	if cfg.Shards <= 0 {
		cfg.Shards = DefaultConfig().Shards
	}
	if eventBus == nil {
		eventBus = bus.New()
	}
	d := &Database{
		backend: backend,
		bus:     eventBus,
		logger:  log.OrNop(logger).With(log.Component("realtime")),
		shards:  make([]shard, cfg.Shards),
	}
	for i := range d.shards {
		d.shards[i].seq = make(map[string]uint64)
	}
	return d
}

func (d *Database) shardFor(uid string) *shard {
	return &d.shards[xxhash.Sum64String(uid)%uint64(len(d.shards))]
}

func (d *Database) Get(ctx context.Context, uid string) (cart.Cart, error) {
	if uid == "" {
		return nil, ErrEmptyUserUID
	}
	return d.backend.Get(ctx, uid)
}

func (d *Database) SetLine(ctx context.Context, uid, productID string, line cart.Line) (cart.Cart, error) {
	if err := validate(uid, productID); err != nil {
		return nil, err
	}
	if line.Quantity < 1 {
		return nil, ErrInvalidQuantity
	}
	if line.Product.ID == "" {
		line.Product.ID = productID
	}
	return d.mutate(ctx, uid, func() error {
		return d.backend.SetLine(ctx, uid, productID, line)
	})
}

func (d *Database) UpdateQuantity(ctx context.Context, uid, productID string, quantity int) (cart.Cart, error) {
	if err := validate(uid, productID); err != nil {
		return nil, err
	}
	if quantity < 1 {
		return nil, ErrInvalidQuantity
	}
	return d.mutate(ctx, uid, func() error {
		return d.backend.UpdateQuantity(ctx, uid, productID, quantity)
	})
}

func (d *Database) RemoveLine(ctx context.Context, uid, productID string) (cart.Cart, error) {
	if err := validate(uid, productID); err != nil {
		return nil, err
	}
	return d.mutate(ctx, uid, func() error {
		return d.backend.RemoveLine(ctx, uid, productID)
	})
}

// Listen registers fn for uid and immediately delivers the current cart.
// Cancel the returned subscription to stop delivery.
func (d *Database) Listen(ctx context.Context, uid string, fn Listener) (bus.Subscription, error) {
	if uid == "" {
		return nil, ErrEmptyUserUID
	}
	if fn == nil {
		return nil, ErrNilListener
	}

	sh := d.shardFor(uid)
	sh.mx.Lock()
	defer sh.mx.Unlock()

	current, err := d.backend.Get(ctx, uid)
	if err != nil {
		return nil, err
	}
	sub, err := d.bus.SubscribeTopic(uid, EventCartChanged, func(event bus.Event) error {
		if change, ok := event.Data().(Change); ok {
			fn(change)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("realtime: listen: %w", err)
	}
	fn(Change{UserUID: uid, Seq: sh.seq[uid], Cart: current})
	return sub, nil
}

// mutate runs write under the uid's shard lock and publishes the resulting
// cart when it differs from what was stored before.
func (d *Database) mutate(ctx context.Context, uid string, write func() error) (cart.Cart, error) {
	sh := d.shardFor(uid)
	sh.mx.Lock()
	defer sh.mx.Unlock()

	before, err := d.backend.Get(ctx, uid)
	if err != nil {
		return nil, err
	}
	if err = write(); err != nil {
		return nil, err
	}
	after, err := d.backend.Get(ctx, uid)
	if err != nil {
		return nil, err
	}
	if before.Equal(after) {
		return after, nil
	}

	sh.seq[uid]++
	change := Change{UserUID: uid, Seq: sh.seq[uid], Cart: after}
	if !d.bus.HasSubscribers(uid, EventCartChanged) {
		return after, nil
	}
	if err = d.bus.PublishToTopic(uid, bus.NewEvent(EventCartChanged, "realtime", change, nil)); err != nil {
		d.logger.Warn("Cart change delivery failed", log.UserUID(uid), log.Error(err))
	}
	return after, nil
}

func validate(uid, productID string) error {
	if uid == "" {
		return ErrEmptyUserUID
	}
	if productID == "" {
		return ErrEmptyProductID
	}
	return nil
}
