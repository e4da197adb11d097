package repo

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/LeventeLantos/whatsapp-relay/internal/model"
)

// MemoryMessageRepo is a MessageRepository held in process memory. It is
// used for tests and local runs without Postgres.
type MemoryMessageRepo struct {
	mu       sync.RWMutex
	byID     map[string]*model.Message
	seq      map[string]int64
	next     int64
	maxLimit int
	now      func() time.Time
}

func NewMemoryMessageRepo() *MemoryMessageRepo {
	return &MemoryMessageRepo{
		byID:     make(map[string]*model.Message),
		seq:      make(map[string]int64),
		maxLimit: MaxListLimit,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (r *MemoryMessageRepo) InsertIfAbsent(_ context.Context, msg model.Message) (model.Message, error) {
	if msg.ProviderMessageID == "" {
		return model.Message{}, errors.New("provider message id is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byID[msg.ProviderMessageID]; ok {
		return model.Message{}, ErrAlreadyExists
	}

	now := r.now()
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = now
	}
	msg.UpdatedAt = msg.CreatedAt
	msg.Status = model.Received
	msg.Response = nil
	msg.RawPayload = slices.Clone(msg.RawPayload)

	stored := msg
	r.byID[msg.ProviderMessageID] = &stored
	r.next++
	r.seq[msg.ProviderMessageID] = r.next
	return copyMessage(stored), nil
}

func (r *MemoryMessageRepo) UpdateStatus(_ context.Context, providerMessageID string, response *string, status model.Status) error {
	if err := checkFinalStatus(status); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.byID[providerMessageID]
	if !ok || m.Status != model.Received {
		return nil
	}
	if response != nil {
		s := *response
		m.Response = &s
	}
	m.Status = status
	m.UpdatedAt = r.now()
	return nil
}

func (r *MemoryMessageRepo) List(_ context.Context, limit int, sender string) ([]model.Message, error) {
	limit = ClampLimit(limit, r.maxLimit)

	r.mu.RLock()
	defer r.mu.RUnlock()

	all := make([]*model.Message, 0, len(r.byID))
	for _, m := range r.byID {
		if sender != "" && m.Sender != sender {
			continue
		}
		all = append(all, m)
	}
	slices.SortFunc(all, func(a, b *model.Message) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		// Insertion order breaks ties, newest first.
		return int(r.seq[b.ProviderMessageID] - r.seq[a.ProviderMessageID])
	})

	if len(all) > limit {
		all = all[:limit]
	}
	out := make([]model.Message, 0, len(all))
	for _, m := range all {
		out = append(out, copyMessage(*m))
	}
	return out, nil
}

func (r *MemoryMessageRepo) Get(_ context.Context, providerMessageID string) (model.Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	m, ok := r.byID[providerMessageID]
	if !ok {
		return model.Message{}, ErrNotFound
	}
	return copyMessage(*m), nil
}

func (r *MemoryMessageRepo) CountStale(_ context.Context, cutoff time.Time) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var n int64
	for _, m := range r.byID {
		if m.Status == model.Received && m.CreatedAt.Before(cutoff) {
			n++
		}
	}
	return n, nil
}

func (r *MemoryMessageRepo) Ping(context.Context) error {
	return nil
}

func copyMessage(m model.Message) model.Message {
	if m.Response != nil {
		s := *m.Response
		m.Response = &s
	}
	m.RawPayload = slices.Clone(m.RawPayload)
	return m
}
