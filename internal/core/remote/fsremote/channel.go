// Package fsremote keeps carts in Cloud Firestore. Each user owns one
// document {collection}/{uid} whose "items" map is keyed by product id.
package fsremote

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/zeusync/cartsync/internal/core/cart"
	"github.com/zeusync/cartsync/internal/core/observability/log"
	"github.com/zeusync/cartsync/internal/core/remote"
)

var _ remote.Channel = (*Channel)(nil)

const itemsField = "items"

type Config struct {
	ProjectID       string `yaml:"project_id"`
	Collection      string `yaml:"collection"`
	CredentialsFile string `yaml:"credentials_file"`
}

func DefaultConfig() Config {
	return Config{Collection: "carts"}
}

type Channel struct {
	client     *firestore.Client
	collection string
	owned      bool
	logger     log.Log
}

// Dial opens a Firestore client for cfg. The channel owns it and Close
// releases it. FIRESTORE_EMULATOR_HOST is honored by the client library.
func Dial(ctx context.Context, cfg Config, logger log.Log) (*Channel, error) {
	if cfg.ProjectID == "" {
		return nil, errors.New("fsremote: project id is empty")
	}
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	client, err := firestore.NewClient(ctx, cfg.ProjectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("fsremote: new client: %w", err)
	}
	c := New(client, cfg.Collection, logger)
	c.owned = true
	return c, nil
}

// New wraps an existing client. An empty collection means "carts".
func New(client *firestore.Client, collection string, logger log.Log) *Channel {
	if collection == "" {
		collection = DefaultConfig().Collection
	}
	return &Channel{
		client:     client,
		collection: collection,
		logger:     log.OrNop(logger).With(log.Component("fsremote")),
	}
}

func (c *Channel) Close() error {
	if !c.owned {
		return nil
	}
	return c.client.Close()
}

func (c *Channel) doc(uid string) *firestore.DocumentRef {
	return c.client.Collection(c.collection).Doc(uid)
}

type subscription struct {
	*remote.Guard
	cancel context.CancelFunc
}

// Subscribe listens to the user's document. A missing document reads as an
// empty cart.
func (c *Channel) Subscribe(uid string, onSnapshot remote.SnapshotFunc, onError remote.ErrorFunc) (remote.Subscription, error) {
	if uid == "" {
		return nil, remote.ErrEmptyUserUID
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &subscription{cancel: cancel}
	s.Guard = remote.NewGuard(uid, onSnapshot, onError, cancel)
	go c.listen(ctx, s)
	return s, nil
}

func (c *Channel) listen(ctx context.Context, s *subscription) {
	it := c.doc(s.UserUID()).Snapshots(ctx)
	defer it.Stop()

	for {
		snap, err := it.Next()
		if err != nil {
			if s.Active() {
				c.logger.Warn("Snapshot listener failed", log.UserUID(s.UserUID()), log.Error(err))
				s.Fail(classify(err))
			}
			return
		}
		if !snap.Exists() {
			s.Snapshot(cart.New())
			continue
		}
		s.Snapshot(decodeItems(snap.Data()[itemsField], c.logger))
	}
}

func (c *Channel) SetLine(ctx context.Context, uid, productID string, line cart.Line) error {
	if err := validate(uid, productID); err != nil {
		return remote.NewRemoteError(remote.OpSetLine, uid, productID, err)
	}
	data := map[string]any{itemsField: map[string]any{productID: encodeLine(line)}}
	_, err := c.doc(uid).Set(ctx, data, firestore.Merge(firestore.FieldPath{itemsField, productID}))
	return remote.NewRemoteError(remote.OpSetLine, uid, productID, classify(err))
}

// UpdateQuantity runs in a transaction so an absent line is reported instead
// of being created with only a quantity.
func (c *Channel) UpdateQuantity(ctx context.Context, uid, productID string, quantity int) error {
	if err := validate(uid, productID); err != nil {
		return remote.NewRemoteError(remote.OpUpdateQuantity, uid, productID, err)
	}
	ref := c.doc(uid)
	err := c.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil {
			return err
		}
		items, _ := snap.Data()[itemsField].(map[string]any)
		if _, ok := items[productID]; !ok {
			return remote.ErrLineNotFound
		}
		return tx.Update(ref, []firestore.Update{{
			FieldPath: firestore.FieldPath{itemsField, productID, "quantity"},
			Value:     quantity,
		}})
	})
	return remote.NewRemoteError(remote.OpUpdateQuantity, uid, productID, classify(err))
}

// RemoveLine deletes the line field. A missing document is already empty.
func (c *Channel) RemoveLine(ctx context.Context, uid, productID string) error {
	if err := validate(uid, productID); err != nil {
		return remote.NewRemoteError(remote.OpRemoveLine, uid, productID, err)
	}
	_, err := c.doc(uid).Update(ctx, []firestore.Update{{
		FieldPath: firestore.FieldPath{itemsField, productID},
		Value:     firestore.Delete,
	}})
	if status.Code(err) == codes.NotFound {
		err = nil
	}
	return remote.NewRemoteError(remote.OpRemoveLine, uid, productID, classify(err))
}

func validate(uid, productID string) error {
	if uid == "" {
		return remote.ErrEmptyUserUID
	}
	if productID == "" {
		return remote.ErrEmptyProductID
	}
	return nil
}

// classify joins the matching remote sentinel onto a gRPC error.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var base error
	switch status.Code(err) {
	case codes.NotFound:
		base = remote.ErrLineNotFound
	case codes.Unauthenticated, codes.PermissionDenied:
		base = remote.ErrUnauthorized
	case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted, codes.Aborted, codes.Internal:
		base = remote.ErrUnavailable
	default:
		return err
	}
	if errors.Is(err, base) {
		return err
	}
	return errors.Join(base, err)
}
