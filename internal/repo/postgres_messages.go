package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/LeventeLantos/whatsapp-relay/internal/model"
)

const messageColumns = `id::text, provider_message_id, sender, body, provider_timestamp,
		       response, status, raw_payload, created_at, updated_at`

type PostgresMessageRepo struct {
	db       *pgxpool.Pool
	maxLimit int
}

func NewPostgresMessageRepo(db *pgxpool.Pool) *PostgresMessageRepo {
	return &PostgresMessageRepo{db: db, maxLimit: MaxListLimit}
}

// WithMaxLimit overrides the cap applied by List.
func (r *PostgresMessageRepo) WithMaxLimit(max int) *PostgresMessageRepo {
	if max > 0 {
		r.maxLimit = max
	}
	return r
}

func (r *PostgresMessageRepo) InsertIfAbsent(ctx context.Context, msg model.Message) (model.Message, error) {
	if msg.ProviderMessageID == "" {
		return model.Message{}, errors.New("provider message id is required")
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	msg.Status = model.Received
	msg.Response = nil

	var createdAt any
	if !msg.CreatedAt.IsZero() {
		createdAt = msg.CreatedAt.UTC()
	}
	var raw any
	if len(msg.RawPayload) > 0 {
		raw = []byte(msg.RawPayload)
	}

	err := r.db.QueryRow(ctx, `
		INSERT INTO messages (id, provider_message_id, sender, body, provider_timestamp,
		                      status, raw_payload, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7,
		        COALESCE($8::timestamptz, now()), COALESCE($8::timestamptz, now()))
		ON CONFLICT (provider_message_id) DO NOTHING
		RETURNING created_at, updated_at
	`, msg.ID, msg.ProviderMessageID, msg.Sender, msg.Body, msg.ProviderTimestamp,
		string(msg.Status), raw, createdAt,
	).Scan(&msg.CreatedAt, &msg.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Message{}, ErrAlreadyExists
	}
	if err != nil {
		return model.Message{}, fmt.Errorf("insert message %s: %w", msg.ProviderMessageID, err)
	}
	return msg, nil
}

func (r *PostgresMessageRepo) UpdateStatus(ctx context.Context, providerMessageID string, response *string, status model.Status) error {
	if err := checkFinalStatus(status); err != nil {
		return err
	}
	_, err := r.db.Exec(ctx, `
		UPDATE messages
		SET response = $2,
		    status = $3,
		    updated_at = now()
		WHERE provider_message_id = $1 AND status = 'received'
	`, providerMessageID, response, string(status))
	if err != nil {
		return fmt.Errorf("update message %s: %w", providerMessageID, err)
	}
	return nil
}

func (r *PostgresMessageRepo) List(ctx context.Context, limit int, sender string) ([]model.Message, error) {
	limit = ClampLimit(limit, r.maxLimit)

	var (
		rows pgx.Rows
		err  error
	)
	if sender == "" {
		rows, err = r.db.Query(ctx, `
			SELECT `+messageColumns+`
			FROM messages
			ORDER BY created_at DESC, id DESC
			LIMIT $1
		`, limit)
	} else {
		rows, err = r.db.Query(ctx, `
			SELECT `+messageColumns+`
			FROM messages
			WHERE sender = $2
			ORDER BY created_at DESC, id DESC
			LIMIT $1
		`, limit, sender)
	}
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	out := make([]model.Message, 0, limit)
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return out, nil
}

func (r *PostgresMessageRepo) Get(ctx context.Context, providerMessageID string) (model.Message, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE provider_message_id = $1
	`, providerMessageID)

	m, err := scanMessage(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Message{}, ErrNotFound
	}
	if err != nil {
		return model.Message{}, fmt.Errorf("get message %s: %w", providerMessageID, err)
	}
	return m, nil
}

func (r *PostgresMessageRepo) CountStale(ctx context.Context, cutoff time.Time) (int64, error) {
	var n int64
	err := r.db.QueryRow(ctx, `
		SELECT count(*)
		FROM messages
		WHERE status = 'received' AND created_at < $1
	`, cutoff.UTC()).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count stale messages: %w", err)
	}
	return n, nil
}

func (r *PostgresMessageRepo) Ping(ctx context.Context) error {
	return r.db.Ping(ctx)
}

func scanMessage(row pgx.Row) (model.Message, error) {
	var (
		m      model.Message
		status string
		raw    []byte
	)
	if err := row.Scan(
		&m.ID,
		&m.ProviderMessageID,
		&m.Sender,
		&m.Body,
		&m.ProviderTimestamp,
		&m.Response,
		&status,
		&raw,
		&m.CreatedAt,
		&m.UpdatedAt,
	); err != nil {
		return model.Message{}, err
	}
	m.Status = model.Status(status)
	m.RawPayload = raw
	return m, nil
}
