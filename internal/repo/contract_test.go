package repo

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/LeventeLantos/whatsapp-relay/internal/model"
)

// runRepositoryContract exercises behaviour every MessageRepository must share.
// newRepo must return an empty repository.
func runRepositoryContract(t *testing.T, newRepo func(t *testing.T) MessageRepository) {
	t.Helper()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("insert then duplicate", func(t *testing.T) {
		r := newRepo(t)
		ctx := context.Background()

		got, err := r.InsertIfAbsent(ctx, model.Message{
			ProviderMessageID: "wamid.1",
			Sender:            "111",
			Body:              "hello",
			ProviderTimestamp: "1718000000",
			RawPayload:        []byte(`{"object":"whatsapp_business_account"}`),
		})
		if err != nil {
			t.Fatalf("InsertIfAbsent() error: %v", err)
		}
		if got.ID == "" {
			t.Fatalf("expected generated ID")
		}
		if got.Status != model.Received {
			t.Fatalf("expected status received, got %q", got.Status)
		}
		if got.Response != nil {
			t.Fatalf("expected nil response, got %q", *got.Response)
		}
		if got.CreatedAt.IsZero() || got.UpdatedAt.IsZero() {
			t.Fatalf("expected timestamps to be set, got %+v", got)
		}

		_, err = r.InsertIfAbsent(ctx, model.Message{ProviderMessageID: "wamid.1", Sender: "222", Body: "again"})
		if !errors.Is(err, ErrAlreadyExists) {
			t.Fatalf("expected ErrAlreadyExists, got %v", err)
		}

		stored, err := r.Get(ctx, "wamid.1")
		if err != nil {
			t.Fatalf("Get() error: %v", err)
		}
		if stored.Sender != "111" || stored.Body != "hello" {
			t.Fatalf("duplicate must not overwrite, got %+v", stored)
		}
		if string(stored.RawPayload) != `{"object":"whatsapp_business_account"}` {
			t.Fatalf("unexpected raw payload %q", stored.RawPayload)
		}

		all, err := r.List(ctx, 0, "")
		if err != nil {
			t.Fatalf("List() error: %v", err)
		}
		if len(all) != 1 {
			t.Fatalf("expected exactly one record, got %d", len(all))
		}
	})

	t.Run("concurrent duplicates insert once", func(t *testing.T) {
		r := newRepo(t)
		ctx := context.Background()

		const workers = 16
		var (
			wg      sync.WaitGroup
			mu      sync.Mutex
			ok      int
			dup     int
			unknown []error
		)
		start := make(chan struct{})
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				_, err := r.InsertIfAbsent(ctx, model.Message{ProviderMessageID: "wamid.race", Sender: "111", Body: "x"})
				mu.Lock()
				defer mu.Unlock()
				switch {
				case err == nil:
					ok++
				case errors.Is(err, ErrAlreadyExists):
					dup++
				default:
					unknown = append(unknown, err)
				}
			}()
		}
		close(start)
		wg.Wait()

		if len(unknown) > 0 {
			t.Fatalf("unexpected errors: %v", unknown)
		}
		if ok != 1 || dup != workers-1 {
			t.Fatalf("expected 1 insert and %d duplicates, got %d and %d", workers-1, ok, dup)
		}
	})

	t.Run("update status", func(t *testing.T) {
		r := newRepo(t)
		ctx := context.Background()

		mustInsert(t, r, model.Message{ProviderMessageID: "a", Sender: "111", Body: "x"})
		mustInsert(t, r, model.Message{ProviderMessageID: "b", Sender: "111", Body: "y"})

		reply := "thanks"
		if err := r.UpdateStatus(ctx, "a", &reply, model.Replied); err != nil {
			t.Fatalf("UpdateStatus(replied) error: %v", err)
		}
		if err := r.UpdateStatus(ctx, "b", nil, model.Failed); err != nil {
			t.Fatalf("UpdateStatus(failed) error: %v", err)
		}

		a, err := r.Get(ctx, "a")
		if err != nil {
			t.Fatalf("Get(a) error: %v", err)
		}
		if a.Status != model.Replied || a.Response == nil || *a.Response != "thanks" {
			t.Fatalf("unexpected a: %+v", a)
		}

		b, err := r.Get(ctx, "b")
		if err != nil {
			t.Fatalf("Get(b) error: %v", err)
		}
		if b.Status != model.Failed || b.Response != nil {
			t.Fatalf("unexpected b: %+v", b)
		}

		// Final states do not move.
		other := "other"
		if err := r.UpdateStatus(ctx, "a", &other, model.Failed); err != nil {
			t.Fatalf("UpdateStatus() on final record error: %v", err)
		}
		a, _ = r.Get(ctx, "a")
		if a.Status != model.Replied || *a.Response != "thanks" {
			t.Fatalf("expected replied record to be unchanged, got %+v", a)
		}
	})

	t.Run("update status of missing record is a no-op", func(t *testing.T) {
		r := newRepo(t)

		reply := "x"
		if err := r.UpdateStatus(context.Background(), "missing", &reply, model.Replied); err != nil {
			t.Fatalf("expected nil error, got %v", err)
		}
		if _, err := r.Get(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("update status rejects received", func(t *testing.T) {
		r := newRepo(t)
		mustInsert(t, r, model.Message{ProviderMessageID: "a", Sender: "111", Body: "x"})

		err := r.UpdateStatus(context.Background(), "a", nil, model.Received)
		if !errors.Is(err, ErrInvalidStatus) {
			t.Fatalf("expected ErrInvalidStatus, got %v", err)
		}
	})

	t.Run("list newest first with limit", func(t *testing.T) {
		r := newRepo(t)
		ctx := context.Background()

		mustInsert(t, r, model.Message{ProviderMessageID: "t1", Sender: "111", Body: "1", CreatedAt: base})
		mustInsert(t, r, model.Message{ProviderMessageID: "t3", Sender: "222", Body: "3", CreatedAt: base.Add(2 * time.Minute)})
		mustInsert(t, r, model.Message{ProviderMessageID: "t2", Sender: "111", Body: "2", CreatedAt: base.Add(time.Minute)})

		got, err := r.List(ctx, 2, "")
		if err != nil {
			t.Fatalf("List() error: %v", err)
		}
		if ids := providerIDs(got); len(ids) != 2 || ids[0] != "t3" || ids[1] != "t2" {
			t.Fatalf("expected [t3 t2], got %v", ids)
		}

		got, err = r.List(ctx, 0, "111")
		if err != nil {
			t.Fatalf("List(sender) error: %v", err)
		}
		if ids := providerIDs(got); len(ids) != 2 || ids[0] != "t2" || ids[1] != "t1" {
			t.Fatalf("expected [t2 t1] for sender 111, got %v", ids)
		}

		got, err = r.List(ctx, 10, "nobody")
		if err != nil {
			t.Fatalf("List(unknown sender) error: %v", err)
		}
		if len(got) != 0 {
			t.Fatalf("expected empty list, got %v", providerIDs(got))
		}
	})

	t.Run("count stale", func(t *testing.T) {
		r := newRepo(t)
		ctx := context.Background()

		mustInsert(t, r, model.Message{ProviderMessageID: "old", Sender: "1", Body: "x", CreatedAt: base})
		mustInsert(t, r, model.Message{ProviderMessageID: "old-done", Sender: "1", Body: "x", CreatedAt: base})
		mustInsert(t, r, model.Message{ProviderMessageID: "new", Sender: "1", Body: "x", CreatedAt: base.Add(time.Hour)})

		if err := r.UpdateStatus(ctx, "old-done", nil, model.Failed); err != nil {
			t.Fatalf("UpdateStatus() error: %v", err)
		}

		n, err := r.CountStale(ctx, base.Add(30*time.Minute))
		if err != nil {
			t.Fatalf("CountStale() error: %v", err)
		}
		if n != 1 {
			t.Fatalf("expected 1 stale message, got %d", n)
		}
	})
}

func mustInsert(t *testing.T, r MessageRepository, m model.Message) model.Message {
	t.Helper()
	got, err := r.InsertIfAbsent(context.Background(), m)
	if err != nil {
		t.Fatalf("InsertIfAbsent(%s) error: %v", m.ProviderMessageID, err)
	}
	return got
}

func providerIDs(msgs []model.Message) []string {
	ids := make([]string, 0, len(msgs))
	for _, m := range msgs {
		ids = append(ids, m.ProviderMessageID)
	}
	return ids
}
