package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "relay:msg:"

var ErrMiss = errors.New("cache miss")

type RedisCache struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisCache(rdb *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{rdb: rdb, ttl: ttl}
}

// NewClient builds a Redis client and checks connectivity.
func NewClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	if addr == "" {
		return nil, fmt.Errorf("invalid REDIS_ADDR: %q", addr)
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return rdb, nil
}

type Replied struct {
	OutboundMessageID string    `json:"outboundMessageId"`
	RepliedAt         time.Time `json:"repliedAt"`
}

func key(providerMessageID string) string {
	return keyPrefix + providerMessageID
}

func (c *RedisCache) StoreReplied(ctx context.Context, providerMessageID, outboundMessageID string, repliedAt time.Time) error {
	b, err := json.Marshal(Replied{
		OutboundMessageID: outboundMessageID,
		RepliedAt:         repliedAt.UTC(),
	})
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, key(providerMessageID), b, c.ttl).Err()
}

// Replied returns the cached outcome for providerMessageID, or ErrMiss.
func (c *RedisCache) Replied(ctx context.Context, providerMessageID string) (Replied, error) {
	raw, err := c.rdb.Get(ctx, key(providerMessageID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Replied{}, ErrMiss
	}
	if err != nil {
		return Replied{}, err
	}

	var v Replied
	if err := json.Unmarshal(raw, &v); err != nil {
		return Replied{}, fmt.Errorf("decode cached reply: %w", err)
	}
	return v, nil
}
