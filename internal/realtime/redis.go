package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/zeusync/cartsync/internal/core/cart"
	"github.com/zeusync/cartsync/internal/core/observability/log"
)

const redisKeyPattern = "carts:%s:items"

// RedisBackend stores each cart as a hash: one field per product id holding
// the JSON encoded line.
type RedisBackend struct {
	client *redis.Client
	logger log.Log
}

func NewRedisBackend(client *redis.Client, logger log.Log) *RedisBackend {
	return &RedisBackend{
		client: client,
		logger: log.OrNop(logger).With(log.Component("realtime.redis")),
	}
}

func redisKey(uid string) string {
	return fmt.Sprintf(redisKeyPattern, uid)
}

func (r *RedisBackend) Get(ctx context.Context, uid string) (cart.Cart, error) {
	fields, err := r.client.HGetAll(ctx, redisKey(uid)).Result()
	if err != nil {
		return nil, fmt.Errorf("realtime: read cart: %w", err)
	}
	lines := make(map[string]cart.Line, len(fields))
	for productID, raw := range fields {
		var line cart.Line
		if err := json.Unmarshal([]byte(raw), &line); err != nil {
			r.logger.Warn("Dropping undecodable cart line",
				log.UserUID(uid), log.ProductID(productID), log.Error(err))
			continue
		}
		lines[productID] = line
	}
	return cart.Normalize(lines), nil
}

func (r *RedisBackend) SetLine(ctx context.Context, uid, productID string, line cart.Line) error {
	raw, err := json.Marshal(line)
	if err != nil {
		return fmt.Errorf("realtime: encode line: %w", err)
	}
	if err := r.client.HSet(ctx, redisKey(uid), productID, raw).Err(); err != nil {
		return fmt.Errorf("realtime: write line: %w", err)
	}
	return nil
}

func (r *RedisBackend) UpdateQuantity(ctx context.Context, uid, productID string, quantity int) error {
	key := redisKey(uid)
	return r.client.Watch(ctx, func(tx *redis.Tx) error {
		raw, err := tx.HGet(ctx, key, productID).Result()
		if errors.Is(err, redis.Nil) {
			return ErrLineNotFound
		}
		if err != nil {
			return fmt.Errorf("realtime: read line: %w", err)
		}
		var line cart.Line
		if err := json.Unmarshal([]byte(raw), &line); err != nil {
			return fmt.Errorf("realtime: decode line: %w", err)
		}
		line.Quantity = quantity
		next, err := json.Marshal(line)
		if err != nil {
			return fmt.Errorf("realtime: encode line: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, productID, next)
			return nil
		})
		if err != nil {
			return fmt.Errorf("realtime: write line: %w", err)
		}
		return nil
	}, key)
}

func (r *RedisBackend) RemoveLine(ctx context.Context, uid, productID string) error {
	if err := r.client.HDel(ctx, redisKey(uid), productID).Err(); err != nil {
		return fmt.Errorf("realtime: remove line: %w", err)
	}
	return nil
}

func (r *RedisBackend) Close() error {
	return r.client.Close()
}
