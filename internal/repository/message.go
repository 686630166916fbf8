package repository

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/escrowly/chat-relay-go/internal/model"
)

type MessageRepository interface {
	FindByID(ctx context.Context, id string) (*model.Message, error)
	ListBySessionID(ctx context.Context, sessionID string) ([]model.Message, error)
	LastBySessionID(ctx context.Context, sessionID string) (*model.Message, error)
	Create(ctx context.Context, params model.CreateMessageParams) (*model.Message, error)
	// MarkRead flips read=true on messages the reader did not author and
	// returns the ids that actually changed.
	MarkRead(ctx context.Context, sessionID string, ids []string, reader string) ([]string, error)
	CountUnread(ctx context.Context, sessionID string, reader string) (int, error)
	CountBySessionID(ctx context.Context, sessionID string) (int, error)
	DeleteBySessionIDsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type messageRepo struct {
	db *sqlx.DB
}

func NewMessageRepository(db *sqlx.DB) MessageRepository {
	return &messageRepo{db: db}
}

func (r *messageRepo) FindByID(ctx context.Context, id string) (*model.Message, error) {
	var msg model.Message
	err := r.db.GetContext(ctx, &msg, `SELECT * FROM chat_messages WHERE id = $1`, id)
	return HandleNotFound(&msg, err)
}

func (r *messageRepo) ListBySessionID(ctx context.Context, sessionID string) ([]model.Message, error) {
	var msgs []model.Message
	err := r.db.SelectContext(ctx, &msgs, `
		SELECT * FROM chat_messages
		WHERE session_id = $1
		ORDER BY created_at ASC, id ASC
	`, sessionID)
	return msgs, err
}

func (r *messageRepo) LastBySessionID(ctx context.Context, sessionID string) (*model.Message, error) {
	var msg model.Message
	err := r.db.GetContext(ctx, &msg, `
		SELECT * FROM chat_messages
		WHERE session_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	`, sessionID)
	return HandleNotFound(&msg, err)
}

func (r *messageRepo) Create(ctx context.Context, params model.CreateMessageParams) (*model.Message, error) {
	sentAt := params.SentAt
	if sentAt.IsZero() {
		sentAt = time.Now()
	}

	var msg model.Message
	err := r.db.GetContext(ctx, &msg, `
		INSERT INTO chat_messages
			(session_id, sender, origin, text, file_url, file_type, client_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING *
	`, params.SessionID, params.Sender, params.Origin, params.Text,
		params.FileURL, params.FileType, params.ClientID, sentAt)
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

func (r *messageRepo) MarkRead(ctx context.Context, sessionID string, ids []string, reader string) ([]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	var updated []string
	err := r.db.SelectContext(ctx, &updated, `
		UPDATE chat_messages SET read = TRUE
		WHERE session_id = $1
		AND id = ANY($2)
		AND sender <> $3
		AND read = FALSE
		RETURNING id
	`, sessionID, pq.Array(ids), reader)
	return updated, err
}

func (r *messageRepo) CountUnread(ctx context.Context, sessionID string, reader string) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count, `
		SELECT COUNT(*) FROM chat_messages
		WHERE session_id = $1 AND sender <> $2 AND read = FALSE
	`, sessionID, reader)
	return count, err
}

func (r *messageRepo) CountBySessionID(ctx context.Context, sessionID string) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count, `
		SELECT COUNT(*) FROM chat_messages WHERE session_id = $1
	`, sessionID)
	return count, err
}

func (r *messageRepo) DeleteBySessionIDsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		DELETE FROM chat_messages
		WHERE session_id IN (
			SELECT id FROM chat_sessions
			WHERE status = 'closed' AND closed_at < $1
		)
	`, cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
