package local

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/zeusync/cartsync/internal/core/cart"
	"github.com/zeusync/cartsync/internal/core/observability/log"
)

var _ Store = (*RedisStore)(nil)

// RedisStore keeps the mirror in a Redis instance reachable from the device,
// e.g. a kiosk build sharing a local redis. One string value per user.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
	logger log.Log
}

// NewRedisStore uses client for all operations. ttl <= 0 keeps records forever.
func NewRedisStore(client *redis.Client, ttl time.Duration, logger log.Log) *RedisStore {
	return &RedisStore{
		client: client,
		ttl:    ttl,
		logger: log.OrNop(logger).With(log.Component("local_redis_store")),
	}
}

func (s *RedisStore) Save(ctx context.Context, userUID string, c cart.Cart) error {
	if userUID == "" {
		return storageError(OpSave, userUID, ErrEmptyUserUID)
	}
	data, err := cart.Marshal(c)
	if err != nil {
		return storageError(OpSave, userUID, err)
	}
	ttl := s.ttl
	if ttl < 0 {
		ttl = 0
	}
	if err = s.client.Set(ctx, Key(userUID), data, ttl).Err(); err != nil {
		return storageError(OpSave, userUID, fmt.Errorf("redis set: %w", err))
	}
	s.logger.Debug("Cart saved locally", log.UserUID(userUID), log.Int("lines", c.Len()))
	return nil
}

func (s *RedisStore) Load(ctx context.Context, userUID string) (cart.Cart, error) {
	if userUID == "" {
		return cart.New(), storageError(OpLoad, userUID, ErrEmptyUserUID)
	}
	data, err := s.client.Get(ctx, Key(userUID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return cart.New(), nil
	}
	if err != nil {
		return cart.New(), storageError(OpLoad, userUID, fmt.Errorf("redis get: %w", err))
	}
	c, err := cart.Unmarshal(data)
	if err != nil {
		return cart.New(), storageError(OpLoad, userUID, fmt.Errorf("%w: %v", ErrCorrupt, err))
	}
	return c, nil
}

func (s *RedisStore) Clear(ctx context.Context, userUID string) error {
	if userUID == "" {
		return storageError(OpClear, userUID, ErrEmptyUserUID)
	}
	if err := s.client.Del(ctx, Key(userUID)).Err(); err != nil {
		return storageError(OpClear, userUID, fmt.Errorf("redis del: %w", err))
	}
	return nil
}
