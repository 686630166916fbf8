package service

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"

	"github.com/escrowly/chat-relay-go/internal/database"
	apperrors "github.com/escrowly/chat-relay-go/internal/errors"
	"github.com/escrowly/chat-relay-go/internal/metrics"
	"github.com/escrowly/chat-relay-go/internal/model"
	"github.com/escrowly/chat-relay-go/internal/relay"
	"github.com/escrowly/chat-relay-go/internal/repository"
)

// TxRunner runs a function inside a database transaction. *database.DB
// satisfies it; tests substitute a pass-through.
type TxRunner interface {
	WithTx(ctx context.Context, fn database.TxFunc) error
}

type SessionService struct {
	db          TxRunner
	sessionRepo repository.SessionRepository
	messageRepo repository.MessageRepository
	connRepo    repository.ConnectionRepository
	hub         *relay.Hub
}

func NewSessionService(
	db TxRunner,
	sessionRepo repository.SessionRepository,
	messageRepo repository.MessageRepository,
	connRepo repository.ConnectionRepository,
	hub *relay.Hub,
) *SessionService {
	return &SessionService{
		db:          db,
		sessionRepo: sessionRepo,
		messageRepo: messageRepo,
		connRepo:    connRepo,
		hub:         hub,
	}
}

// EnsureSession returns the open session for a participant pair, creating
// one when none exists. Calling it twice with the same pair yields the same
// session id; the unique open-session index makes the create race-safe.
func (s *SessionService) EnsureSession(ctx context.Context, params model.CreateSessionParams) (*model.Session, error) {
	if params.Kind == model.SessionKindPeer {
		if params.PeerEmail == nil || *params.PeerEmail == "" {
			return nil, apperrors.MissingRequired("peerEmail")
		}
		conn, err := s.connRepo.FindByUsers(ctx, params.UserEmail, *params.PeerEmail)
		if err != nil {
			return nil, apperrors.SessionUnavailable(err)
		}
		if conn == nil || conn.Status != model.ConnectionStatusAccepted {
			return nil, apperrors.NotConnected()
		}
	}

	key := model.ParticipantKey(params.Kind, params.UserEmail, params.PeerEmail)

	existing, err := s.sessionRepo.FindOpenByParticipantKey(ctx, key)
	if err != nil {
		return nil, apperrors.SessionUnavailable(err)
	}
	if existing != nil {
		return existing, nil
	}

	session, err := s.sessionRepo.Create(ctx, params)
	if err != nil {
		return nil, apperrors.SessionUnavailable(err)
	}

	log.Info().
		Str("sessionId", session.ID).
		Str("kind", string(session.Kind)).
		Str("userEmail", session.UserEmail).
		Msg("session opened")

	s.publishOpened(ctx, session)

	return session, nil
}

// Assign claims a session for an agent. First assignee wins: the repository
// update only fires while agent_email is still NULL, so a concurrent second
// claim comes back nil and is rejected rather than overwriting.
func (s *SessionService) Assign(ctx context.Context, sessionID, agentEmail string) (*model.Session, error) {
	session, err := s.sessionRepo.Assign(ctx, sessionID, agentEmail)
	if err != nil {
		return nil, apperrors.Database(err)
	}

	if session == nil {
		current, err := s.sessionRepo.FindByID(ctx, sessionID)
		if err != nil {
			return nil, apperrors.Database(err)
		}
		switch {
		case current == nil:
			return nil, apperrors.NotFound("Session")
		case current.Status == model.SessionStatusClosed:
			return nil, apperrors.SessionClosed()
		case current.AgentEmail != nil:
			return nil, apperrors.AlreadyAssigned(*current.AgentEmail)
		default:
			return nil, apperrors.Internal("assign failed")
		}
	}

	metrics.SessionsAssigned.Inc()
	log.Info().
		Str("sessionId", session.ID).
		Str("agentEmail", agentEmail).
		Msg("session assigned")

	payload := relay.AssignedPayload{SessionID: session.ID, AgentEmail: agentEmail}
	s.publish(ctx, session.ID, relay.EventSessionAssigned, payload)
	s.publish(ctx, relay.AgentLobby, relay.EventSessionAssigned, payload)

	return session, nil
}

// Close transitions a session to closed. Closed is terminal: the only way
// forward is a fresh session id via Clear.
func (s *SessionService) Close(ctx context.Context, sessionID, closedBy string) (*model.Session, error) {
	session, err := s.sessionRepo.Close(ctx, sessionID)
	if err != nil {
		return nil, apperrors.Database(err)
	}

	if session == nil {
		current, err := s.sessionRepo.FindByID(ctx, sessionID)
		if err != nil {
			return nil, apperrors.Database(err)
		}
		if current == nil {
			return nil, apperrors.NotFound("Session")
		}
		return nil, apperrors.SessionClosed()
	}

	metrics.SessionsClosed.Inc()
	log.Info().
		Str("sessionId", session.ID).
		Str("closedBy", closedBy).
		Msg("session closed")

	payload := relay.ClosedPayload{SessionID: session.ID, ClosedBy: closedBy}
	s.publish(ctx, session.ID, relay.EventChatClosed, payload)
	s.publish(ctx, relay.AgentLobby, relay.EventChatClosed, payload)

	return session, nil
}

// Clear closes the current session and mints a replacement with the same
// participants, atomically. The replacement starts unassigned.
func (s *SessionService) Clear(ctx context.Context, sessionID, requestedBy string) (*model.Session, error) {
	var replacement *model.Session

	err := s.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		repo := s.sessionRepo.WithTx(tx)

		closed, err := repo.Close(ctx, sessionID)
		if err != nil {
			return fmt.Errorf("close session: %w", err)
		}
		if closed == nil {
			current, err := repo.FindByID(ctx, sessionID)
			if err != nil {
				return fmt.Errorf("find session: %w", err)
			}
			if current == nil {
				return apperrors.NotFound("Session")
			}
			return apperrors.SessionClosed()
		}

		replacement, err = repo.Create(ctx, model.CreateSessionParams{
			Kind:      closed.Kind,
			UserEmail: closed.UserEmail,
			PeerEmail: closed.PeerEmail,
		})
		if err != nil {
			return fmt.Errorf("create replacement session: %w", err)
		}
		return nil
	})
	if err != nil {
		if apperrors.IsAppError(err) {
			return nil, err
		}
		return nil, apperrors.SessionUnavailable(err)
	}

	metrics.SessionsClosed.Inc()
	log.Info().
		Str("closedSessionId", sessionID).
		Str("newSessionId", replacement.ID).
		Str("requestedBy", requestedBy).
		Msg("session cleared")

	s.publish(ctx, sessionID, relay.EventChatClosed, relay.ClosedPayload{SessionID: sessionID, ClosedBy: requestedBy})
	s.publishOpened(ctx, replacement)

	return replacement, nil
}

func (s *SessionService) FindByID(ctx context.Context, id string) (*model.Session, error) {
	return s.sessionRepo.FindByID(ctx, id)
}

func (s *SessionService) ListOpen(ctx context.Context, limit, offset int) ([]model.Session, error) {
	return s.sessionRepo.ListByStatus(ctx, model.SessionStatusOpen, limit, offset)
}

// OpenRoom is an open session decorated for the agent dashboard.
type OpenRoom struct {
	Session     model.Session  `json:"session"`
	UnreadCount int            `json:"unreadCount"`
	LastMessage *model.Message `json:"lastMessage,omitempty"`
}

// OpenRooms lists open sessions with the unread count from the agent's
// perspective and the latest message for preview.
func (s *SessionService) OpenRooms(ctx context.Context, limit, offset int) ([]OpenRoom, error) {
	sessions, err := s.sessionRepo.ListByStatus(ctx, model.SessionStatusOpen, limit, offset)
	if err != nil {
		return nil, apperrors.Database(err)
	}

	rooms := make([]OpenRoom, 0, len(sessions))
	for _, session := range sessions {
		reader := ""
		if session.AgentEmail != nil {
			reader = *session.AgentEmail
		}
		unread, err := s.messageRepo.CountUnread(ctx, session.ID, reader)
		if err != nil {
			return nil, apperrors.Database(err)
		}
		last, err := s.messageRepo.LastBySessionID(ctx, session.ID)
		if err != nil {
			return nil, apperrors.Database(err)
		}
		rooms = append(rooms, OpenRoom{
			Session:     session,
			UnreadCount: unread,
			LastMessage: last,
		})
	}
	return rooms, nil
}

func (s *SessionService) HistoryByAgent(ctx context.Context, agentEmail string, limit, offset int) ([]model.Session, error) {
	return s.sessionRepo.ListClosedByAgent(ctx, agentEmail, limit, offset)
}

func (s *SessionService) HistoryByUser(ctx context.Context, userEmail string, limit, offset int) ([]model.Session, error) {
	return s.sessionRepo.ListClosedByUser(ctx, userEmail, limit, offset)
}

func (s *SessionService) publishOpened(ctx context.Context, session *model.Session) {
	event, err := relay.NewEvent(relay.EventSessionOpened, session)
	if err != nil {
		log.Error().Err(err).Msg("marshal sessionOpened event")
		return
	}
	if err := s.hub.Publish(ctx, relay.AgentLobby, event); err != nil {
		log.Warn().Err(err).Str("sessionId", session.ID).Msg("publish sessionOpened failed")
	}
}

func (s *SessionService) publish(ctx context.Context, room string, eventType relay.EventType, payload any) {
	event, err := relay.NewEvent(eventType, payload)
	if err != nil {
		log.Error().Err(err).Str("eventType", string(eventType)).Msg("marshal event")
		return
	}
	if err := s.hub.Publish(ctx, room, event); err != nil {
		log.Warn().Err(err).
			Str("room", room).
			Str("eventType", string(eventType)).
			Msg("publish failed")
	}
}

// CloseIdle closes open sessions with no activity since the window; the
// cleanup job calls this on a ticker.
func (s *SessionService) CloseIdle(ctx context.Context, window time.Duration) (int64, error) {
	return s.sessionRepo.CloseIdleSince(ctx, time.Now().Add(-window))
}
