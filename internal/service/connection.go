package service

import (
	"context"

	"github.com/rs/zerolog/log"

	apperrors "github.com/escrowly/chat-relay-go/internal/errors"
	"github.com/escrowly/chat-relay-go/internal/model"
	"github.com/escrowly/chat-relay-go/internal/repository"
)

// ConnectionService gatekeeps peer chat: two users may only open a peer
// session once a connection between them has been accepted.
type ConnectionService struct {
	connRepo repository.ConnectionRepository
}

func NewConnectionService(connRepo repository.ConnectionRepository) *ConnectionService {
	return &ConnectionService{connRepo: connRepo}
}

func (s *ConnectionService) Request(ctx context.Context, requester, counterpart string) (*model.Connection, error) {
	if requester == counterpart {
		return nil, apperrors.InvalidInput("counterpart", "cannot connect to yourself")
	}

	existing, err := s.connRepo.FindByUsers(ctx, requester, counterpart)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if existing != nil {
		return existing, nil
	}

	conn, err := s.connRepo.Create(ctx, model.CreateConnectionParams{
		UserA:       requester,
		UserB:       counterpart,
		RequestedBy: requester,
	})
	if err != nil {
		return nil, apperrors.Database(err)
	}

	log.Info().
		Str("connectionId", conn.ID).
		Str("requestedBy", requester).
		Msg("connection requested")

	return conn, nil
}

// Accept flips a pending connection to accepted. Only the side that did not
// request it may accept.
func (s *ConnectionService) Accept(ctx context.Context, connectionID, acceptor string) (*model.Connection, error) {
	existing, err := s.connRepo.FindByID(ctx, connectionID)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if existing == nil {
		return nil, apperrors.NotFound("Connection")
	}
	if existing.RequestedBy == acceptor {
		return nil, apperrors.PermissionDenied("requester cannot accept their own connection")
	}
	if acceptor != existing.UserA && acceptor != existing.UserB {
		return nil, apperrors.PermissionDenied("not a party to this connection")
	}

	conn, err := s.connRepo.Accept(ctx, connectionID)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if conn == nil {
		// Already accepted, or raced with another accept; return current state.
		return existing, nil
	}

	log.Info().
		Str("connectionId", conn.ID).
		Str("acceptedBy", acceptor).
		Msg("connection accepted")

	return conn, nil
}

func (s *ConnectionService) ListByUser(ctx context.Context, email string) ([]model.Connection, error) {
	conns, err := s.connRepo.ListByUser(ctx, email)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	return conns, nil
}
