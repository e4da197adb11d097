package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/LeventeLantos/whatsapp-relay/internal/repo"
)

// StaleMonitor reports messages that never left the received state, which
// happens when a finalize update is lost. It only reads.
type StaleMonitor struct {
	store repo.MessageRepository
	after time.Duration
	log   *slog.Logger
	now   func() time.Time
}

func NewStaleMonitor(store repo.MessageRepository, after time.Duration, log *slog.Logger) *StaleMonitor {
	if log == nil {
		log = slog.Default()
	}
	return &StaleMonitor{
		store: store,
		after: after,
		log:   log,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// Check counts stale messages and logs a warning when there are any. It has
// the signature of a scheduler tick.
func (m *StaleMonitor) Check(ctx context.Context) {
	cutoff := m.now().Add(-m.after)
	n, err := m.store.CountStale(ctx, cutoff)
	if err != nil {
		m.log.Error("count stale messages", "error", err)
		return
	}
	if n > 0 {
		m.log.Warn("messages stuck in received", "count", n, "older_than", m.after.String())
	}
}
