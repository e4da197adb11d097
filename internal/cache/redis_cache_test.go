package cache

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestCache(t *testing.T, ttl time.Duration) (*miniredis.Miniredis, *RedisCache) {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})
	t.Cleanup(func() { _ = rdb.Close() })

	return mr, NewRedisCache(rdb, ttl)
}

func TestRedisCache_StoreReplied_Success(t *testing.T) {
	t.Parallel()

	mr, cache := newTestCache(t, 10*time.Second)

	ctx := context.Background()
	repliedAt := time.Date(2026, 2, 2, 18, 0, 0, 0, time.UTC)

	if err := cache.StoreReplied(ctx, "wamid.IN", "wamid.OUT", repliedAt); err != nil {
		t.Fatalf("StoreReplied() error: %v", err)
	}

	k := "relay:msg:wamid.IN"

	if !mr.Exists(k) {
		t.Fatalf("expected key %q to exist", k)
	}
	if ttl := mr.TTL(k); ttl <= 0 {
		t.Fatalf("expected TTL to be set, got %v", ttl)
	}

	raw, err := mr.Get(k)
	if err != nil {
		t.Fatalf("failed to get key %q: %v", k, err)
	}

	var got Replied
	if err := json.Unmarshal([]byte(raw), &got); err != nil {
		t.Fatalf("failed to unmarshal value: %v", err)
	}
	if got.OutboundMessageID != "wamid.OUT" {
		t.Fatalf("expected OutboundMessageID %q, got %q", "wamid.OUT", got.OutboundMessageID)
	}
	if !got.RepliedAt.Equal(repliedAt) {
		t.Fatalf("expected RepliedAt %v, got %v", repliedAt, got.RepliedAt)
	}
}

func TestRedisCache_Replied_RoundTripAndMiss(t *testing.T) {
	t.Parallel()

	_, cache := newTestCache(t, time.Minute)
	ctx := context.Background()

	if _, err := cache.Replied(ctx, "unknown"); !errors.Is(err, ErrMiss) {
		t.Fatalf("expected ErrMiss, got %v", err)
	}

	now := time.Now().UTC().Truncate(time.Second)
	if err := cache.StoreReplied(ctx, "a", "out-a", now); err != nil {
		t.Fatalf("StoreReplied() error: %v", err)
	}

	got, err := cache.Replied(ctx, "a")
	if err != nil {
		t.Fatalf("Replied() error: %v", err)
	}
	if got.OutboundMessageID != "out-a" || !got.RepliedAt.Equal(now) {
		t.Fatalf("unexpected cached value: %+v", got)
	}
}

func TestRedisCache_Expires(t *testing.T) {
	t.Parallel()

	mr, cache := newTestCache(t, time.Second)
	ctx := context.Background()

	if err := cache.StoreReplied(ctx, "a", "out", time.Now()); err != nil {
		t.Fatalf("StoreReplied() error: %v", err)
	}
	mr.FastForward(2 * time.Second)

	if _, err := cache.Replied(ctx, "a"); !errors.Is(err, ErrMiss) {
		t.Fatalf("expected ErrMiss after expiry, got %v", err)
	}
}

func TestRedisCache_StoreReplied_ContextCanceled(t *testing.T) {
	t.Parallel()

	_, cache := newTestCache(t, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := cache.StoreReplied(ctx, "a", "x", time.Now()); err == nil {
		t.Fatalf("expected error due to canceled context, got nil")
	}
}

func TestNewClient(t *testing.T) {
	t.Parallel()

	if _, err := NewClient(context.Background(), "", "", 0); err == nil {
		t.Fatalf("expected error for empty address")
	}

	mr := miniredis.RunT(t)
	rdb, err := NewClient(context.Background(), mr.Addr(), "", 0)
	if err != nil {
		t.Fatalf("NewClient() error: %v", err)
	}
	_ = rdb.Close()
}

func TestNoop(t *testing.T) {
	var c ReplyCache = Noop{}
	if err := c.StoreReplied(context.Background(), "a", "b", time.Now()); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
}
