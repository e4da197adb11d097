package repo

import (
	"context"
	"os"
	"testing"
	"time"
)

// Runs only when TEST_POSTGRES_URL points at a disposable database.
func TestPostgresMessageRepo_Contract(t *testing.T) {
	url := os.Getenv("TEST_POSTGRES_URL")
	if url == "" {
		t.Skip("TEST_POSTGRES_URL not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := NewPool(ctx, url)
	if err != nil {
		t.Fatalf("NewPool() error: %v", err)
	}
	t.Cleanup(pool.Close)

	if err := EnsureSchema(ctx, pool); err != nil {
		t.Fatalf("EnsureSchema() error: %v", err)
	}

	runRepositoryContract(t, func(t *testing.T) MessageRepository {
		if _, err := pool.Exec(context.Background(), `TRUNCATE messages`); err != nil {
			t.Fatalf("truncate messages: %v", err)
		}
		return NewPostgresMessageRepo(pool)
	})
}

func TestNewPool_EmptyURL(t *testing.T) {
	t.Parallel()

	if _, err := NewPool(context.Background(), ""); err == nil {
		t.Fatalf("expected error for empty url, got nil")
	}
}
