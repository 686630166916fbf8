package repository

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/escrowly/chat-relay-go/internal/model"
)

type ConnectionRepository interface {
	FindByID(ctx context.Context, id string) (*model.Connection, error)
	FindByUsers(ctx context.Context, userA, userB string) (*model.Connection, error)
	ListByUser(ctx context.Context, email string) ([]model.Connection, error)
	Create(ctx context.Context, params model.CreateConnectionParams) (*model.Connection, error)
	Accept(ctx context.Context, id string) (*model.Connection, error)
}

type connectionRepo struct {
	db *sqlx.DB
}

func NewConnectionRepository(db *sqlx.DB) ConnectionRepository {
	return &connectionRepo{db: db}
}

func (r *connectionRepo) FindByID(ctx context.Context, id string) (*model.Connection, error) {
	var conn model.Connection
	err := r.db.GetContext(ctx, &conn, `SELECT * FROM connections WHERE id = $1`, id)
	return HandleNotFound(&conn, err)
}

func (r *connectionRepo) FindByUsers(ctx context.Context, userA, userB string) (*model.Connection, error) {
	a, b := model.SortPair(userA, userB)

	var conn model.Connection
	err := r.db.GetContext(ctx, &conn, `
		SELECT * FROM connections
		WHERE user_a = $1 AND user_b = $2
	`, a, b)
	return HandleNotFound(&conn, err)
}

func (r *connectionRepo) ListByUser(ctx context.Context, email string) ([]model.Connection, error) {
	var conns []model.Connection
	err := r.db.SelectContext(ctx, &conns, `
		SELECT * FROM connections
		WHERE user_a = $1 OR user_b = $1
		ORDER BY created_at DESC
	`, email)
	return conns, err
}

func (r *connectionRepo) Create(ctx context.Context, params model.CreateConnectionParams) (*model.Connection, error) {
	a, b := model.SortPair(params.UserA, params.UserB)

	var conn model.Connection
	err := r.db.GetContext(ctx, &conn, `
		INSERT INTO connections (user_a, user_b, requested_by)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_a, user_b) DO UPDATE SET user_a = EXCLUDED.user_a
		RETURNING *
	`, a, b, params.RequestedBy)
	if err != nil {
		return nil, err
	}
	return &conn, nil
}

func (r *connectionRepo) Accept(ctx context.Context, id string) (*model.Connection, error) {
	var conn model.Connection
	err := r.db.GetContext(ctx, &conn, `
		UPDATE connections SET
			status = 'accepted',
			accepted_at = NOW()
		WHERE id = $1 AND status = 'pending'
		RETURNING *
	`, id)
	return HandleNotFound(&conn, err)
}
