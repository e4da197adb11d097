package repo

import (
	"context"
	"errors"
	"time"

	"github.com/LeventeLantos/whatsapp-relay/internal/model"
)

const (
	DefaultListLimit = 50
	MaxListLimit     = 500
)

var (
	// ErrAlreadyExists is returned by InsertIfAbsent when a message with the
	// same provider message id is already stored.
	ErrAlreadyExists = errors.New("message already exists")
	ErrNotFound      = errors.New("message not found")
	ErrInvalidStatus = errors.New("invalid status transition")
)

type MessageRepository interface {
	// InsertIfAbsent stores msg unless its ProviderMessageID is taken. At most
	// one concurrent caller per id succeeds; the others get ErrAlreadyExists.
	InsertIfAbsent(ctx context.Context, msg model.Message) (model.Message, error)
	// UpdateStatus finalizes a received message. A missing record is a no-op.
	UpdateStatus(ctx context.Context, providerMessageID string, response *string, status model.Status) error
	// List returns messages newest first, optionally only those from sender.
	List(ctx context.Context, limit int, sender string) ([]model.Message, error)
	Get(ctx context.Context, providerMessageID string) (model.Message, error)
	// CountStale counts messages still received that were created before cutoff.
	CountStale(ctx context.Context, cutoff time.Time) (int64, error)
	Ping(ctx context.Context) error
}

// ClampLimit applies the list defaults: non-positive means DefaultListLimit,
// anything above max is cut to max.
func ClampLimit(limit, max int) int {
	if max <= 0 {
		max = MaxListLimit
	}
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > max {
		limit = max
	}
	return limit
}

func checkFinalStatus(status model.Status) error {
	if !model.Received.CanTransition(status) {
		return ErrInvalidStatus
	}
	return nil
}
