package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/escrowly/chat-relay-go/internal/model"
)

type SessionRepository interface {
	FindByID(ctx context.Context, id string) (*model.Session, error)
	FindOpenByParticipantKey(ctx context.Context, key string) (*model.Session, error)
	Create(ctx context.Context, params model.CreateSessionParams) (*model.Session, error)
	ListByStatus(ctx context.Context, status model.SessionStatus, limit, offset int) ([]model.Session, error)
	ListClosedByAgent(ctx context.Context, agentEmail string, limit, offset int) ([]model.Session, error)
	ListClosedByUser(ctx context.Context, userEmail string, limit, offset int) ([]model.Session, error)
	// Assign sets the agent only when none is set yet. Returns the updated
	// session, or nil when the session is missing, closed, or already assigned.
	Assign(ctx context.Context, id string, agentEmail string) (*model.Session, error)
	Close(ctx context.Context, id string) (*model.Session, error)
	Touch(ctx context.Context, id string) error
	CloseIdleSince(ctx context.Context, cutoff time.Time) (int64, error)
	DeleteClosedBefore(ctx context.Context, cutoff time.Time) (int64, error)
	CountByStatus(ctx context.Context, status model.SessionStatus) (int, error)
	// WithTx returns a new repository that uses the given transaction
	WithTx(tx *sqlx.Tx) SessionRepository
}

// sessionDB is an interface satisfied by both *sqlx.DB and *sqlx.Tx
type sessionDB interface {
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

type sessionRepo struct {
	db sessionDB
}

func NewSessionRepository(db *sqlx.DB) SessionRepository {
	return &sessionRepo{db: db}
}

func (r *sessionRepo) WithTx(tx *sqlx.Tx) SessionRepository {
	return &sessionRepo{db: tx}
}

func (r *sessionRepo) FindByID(ctx context.Context, id string) (*model.Session, error) {
	var session model.Session
	err := r.db.GetContext(ctx, &session, `
		SELECT * FROM chat_sessions WHERE id = $1
	`, id)
	return HandleNotFound(&session, err)
}

func (r *sessionRepo) FindOpenByParticipantKey(ctx context.Context, key string) (*model.Session, error) {
	var session model.Session
	err := r.db.GetContext(ctx, &session, `
		SELECT * FROM chat_sessions
		WHERE participant_key = $1 AND status = 'open'
	`, key)
	return HandleNotFound(&session, err)
}

func (r *sessionRepo) Create(ctx context.Context, params model.CreateSessionParams) (*model.Session, error) {
	key := model.ParticipantKey(params.Kind, params.UserEmail, params.PeerEmail)

	// The partial unique index on (participant_key) WHERE status = 'open'
	// makes concurrent create-or-fetch race-safe: the loser of the insert
	// race reads back the winner's row.
	var session model.Session
	err := r.db.GetContext(ctx, &session, `
		INSERT INTO chat_sessions (kind, user_email, peer_email, participant_key)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (participant_key) WHERE status = 'open' DO UPDATE
			SET updated_at = NOW()
		RETURNING *
	`, params.Kind, params.UserEmail, params.PeerEmail, key)
	if err != nil {
		return nil, err
	}
	return &session, nil
}

func (r *sessionRepo) ListByStatus(ctx context.Context, status model.SessionStatus, limit, offset int) ([]model.Session, error) {
	var sessions []model.Session
	err := r.db.SelectContext(ctx, &sessions, `
		SELECT * FROM chat_sessions
		WHERE status = $1
		ORDER BY updated_at DESC
		LIMIT $2 OFFSET $3
	`, status, limit, offset)
	return sessions, err
}

func (r *sessionRepo) ListClosedByAgent(ctx context.Context, agentEmail string, limit, offset int) ([]model.Session, error) {
	var sessions []model.Session
	err := r.db.SelectContext(ctx, &sessions, `
		SELECT * FROM chat_sessions
		WHERE agent_email = $1 AND status = 'closed'
		ORDER BY closed_at DESC
		LIMIT $2 OFFSET $3
	`, agentEmail, limit, offset)
	return sessions, err
}

func (r *sessionRepo) ListClosedByUser(ctx context.Context, userEmail string, limit, offset int) ([]model.Session, error) {
	var sessions []model.Session
	err := r.db.SelectContext(ctx, &sessions, `
		SELECT * FROM chat_sessions
		WHERE (user_email = $1 OR peer_email = $1) AND status = 'closed'
		ORDER BY closed_at DESC
		LIMIT $2 OFFSET $3
	`, userEmail, limit, offset)
	return sessions, err
}

func (r *sessionRepo) Assign(ctx context.Context, id string, agentEmail string) (*model.Session, error) {
	var session model.Session
	err := r.db.GetContext(ctx, &session, `
		UPDATE chat_sessions SET
			agent_email = $2,
			updated_at = NOW()
		WHERE id = $1 AND status = 'open' AND agent_email IS NULL
		RETURNING *
	`, id, agentEmail)
	return HandleNotFound(&session, err)
}

func (r *sessionRepo) Close(ctx context.Context, id string) (*model.Session, error) {
	var session model.Session
	err := r.db.GetContext(ctx, &session, `
		UPDATE chat_sessions SET
			status = 'closed',
			closed_at = NOW(),
			updated_at = NOW()
		WHERE id = $1 AND status = 'open'
		RETURNING *
	`, id)
	return HandleNotFound(&session, err)
}

func (r *sessionRepo) Touch(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE chat_sessions SET updated_at = NOW() WHERE id = $1
	`, id)
	return err
}

func (r *sessionRepo) CloseIdleSince(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE chat_sessions SET
			status = 'closed',
			closed_at = NOW()
		WHERE status = 'open' AND updated_at < $1
	`, cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (r *sessionRepo) DeleteClosedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		DELETE FROM chat_sessions
		WHERE status = 'closed' AND closed_at < $1
	`, cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (r *sessionRepo) CountByStatus(ctx context.Context, status model.SessionStatus) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count, `
		SELECT COUNT(*) FROM chat_sessions WHERE status = $1
	`, status)
	return count, err
}
