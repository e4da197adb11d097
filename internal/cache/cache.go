package cache

import (
	"context"
	"time"
)

type ReplyCache interface {
	StoreReplied(ctx context.Context, providerMessageID, outboundMessageID string, repliedAt time.Time) error
}

// Noop is used when Redis is not configured.
type Noop struct{}

func (Noop) StoreReplied(context.Context, string, string, time.Time) error { return nil }
