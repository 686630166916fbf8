package service

import (
	"context"

	"github.com/rs/zerolog/log"

	apperrors "github.com/escrowly/chat-relay-go/internal/errors"
	"github.com/escrowly/chat-relay-go/internal/metrics"
	"github.com/escrowly/chat-relay-go/internal/model"
	"github.com/escrowly/chat-relay-go/internal/relay"
	"github.com/escrowly/chat-relay-go/internal/repository"
)

type MessageService struct {
	sessionRepo repository.SessionRepository
	messageRepo repository.MessageRepository
	hub         *relay.Hub
	dispatcher  *relay.Dispatcher
}

func NewMessageService(
	sessionRepo repository.SessionRepository,
	messageRepo repository.MessageRepository,
	hub *relay.Hub,
	dispatcher *relay.Dispatcher,
) *MessageService {
	return &MessageService{
		sessionRepo: sessionRepo,
		messageRepo: messageRepo,
		hub:         hub,
		dispatcher:  dispatcher,
	}
}

// Send validates, persists and broadcasts a message. The persist-then-
// broadcast step runs on the session's dispatcher queue, so concurrent
// senders into one session are applied in a single serial order and every
// room member observes that order.
func (s *MessageService) Send(ctx context.Context, params model.CreateMessageParams) (*model.Message, error) {
	type result struct {
		msg *model.Message
		err error
	}
	done := make(chan result, 1)

	s.dispatcher.Enqueue(params.SessionID, func() {
		msg, err := s.send(ctx, params)
		done <- result{msg, err}
	})

	select {
	case r := <-done:
		return r.msg, r.err
	case <-ctx.Done():
		return nil, apperrors.SendFailed(ctx.Err().Error())
	}
}

func (s *MessageService) send(ctx context.Context, params model.CreateMessageParams) (*model.Message, error) {
	session, err := s.sessionRepo.FindByID(ctx, params.SessionID)
	if err != nil {
		return nil, s.reject(apperrors.Database(err))
	}
	if session == nil {
		return nil, s.reject(apperrors.NotFound("Session"))
	}
	if session.Status == model.SessionStatusClosed {
		return nil, s.reject(apperrors.SessionClosed())
	}
	if !session.CanSend(params.Sender, params.Origin) {
		return nil, s.reject(apperrors.PermissionDenied("sender may not write into this session"))
	}

	probe := model.Message{Text: params.Text, FileURL: params.FileURL}
	if !probe.HasContent() {
		return nil, s.reject(apperrors.EmptyContent())
	}
	if params.FileURL == nil && params.FileType != nil {
		return nil, s.reject(apperrors.InvalidInput("fileType", "fileType without fileUrl"))
	}

	msg, err := s.messageRepo.Create(ctx, params)
	if err != nil {
		return nil, s.reject(apperrors.Database(err))
	}

	if err := s.sessionRepo.Touch(ctx, session.ID); err != nil {
		log.Warn().Err(err).Str("sessionId", session.ID).Msg("touch session failed")
	}

	event, err := relay.NewEvent(relay.EventMessage, msg)
	if err != nil {
		return nil, apperrors.Internal("marshal message event").WithCause(err)
	}
	if err := s.hub.Publish(ctx, session.ID, event); err != nil {
		// The message is persisted; the sender still gets it in the ack and
		// a history fetch recovers it for everyone else.
		log.Error().Err(err).Str("messageId", msg.ID).Msg("broadcast message failed")
	}

	metrics.MessagesRelayed.WithLabelValues(string(session.Kind)).Inc()
	log.Debug().
		Str("messageId", msg.ID).
		Str("sessionId", session.ID).
		Str("sender", params.Sender).
		Msg("message relayed")

	return msg, nil
}

func (s *MessageService) reject(err *apperrors.AppError) *apperrors.AppError {
	metrics.SendRejected.WithLabelValues(string(err.Code)).Inc()
	return err
}

// History returns the full timeline of a session, oldest first.
func (s *MessageService) History(ctx context.Context, sessionID string) ([]model.Message, error) {
	session, err := s.sessionRepo.FindByID(ctx, sessionID)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if session == nil {
		return nil, apperrors.NotFound("Session")
	}
	msgs, err := s.messageRepo.ListBySessionID(ctx, sessionID)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	return msgs, nil
}

// MarkRead flips read=true on the given messages for ids not authored by
// the reader and broadcasts a messagesRead event so authors can update
// their receipt state. Only a session participant (user, peer, or assigned
// agent) may mark its messages read.
func (s *MessageService) MarkRead(ctx context.Context, sessionID string, messageIDs []string, reader string) ([]string, error) {
	session, err := s.sessionRepo.FindByID(ctx, sessionID)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if session == nil {
		return nil, apperrors.NotFound("Session")
	}
	if !session.IsParticipant(reader) {
		return nil, apperrors.PermissionDenied("reader is not a session participant")
	}

	updated, err := s.messageRepo.MarkRead(ctx, sessionID, messageIDs, reader)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if len(updated) == 0 {
		return nil, nil
	}

	metrics.ReadReceipts.Inc()

	payload := relay.ReadPayload{SessionID: sessionID, MessageIDs: updated, Reader: reader}
	event, err := relay.NewEvent(relay.EventMessagesRead, payload)
	if err != nil {
		return updated, apperrors.Internal("marshal messagesRead event").WithCause(err)
	}
	if err := s.hub.Publish(ctx, sessionID, event); err != nil {
		log.Warn().Err(err).Str("sessionId", sessionID).Msg("broadcast messagesRead failed")
	}

	return updated, nil
}

// Typing forwards an ephemeral typing signal to the session's room. Nothing
// is persisted; receivers expire the flag on their own.
func (s *MessageService) Typing(ctx context.Context, sessionID, from string, isTyping bool) error {
	eventType := relay.EventTyping
	if !isTyping {
		eventType = relay.EventStopTyping
	}

	event, err := relay.NewEvent(eventType, relay.TypingPayload{SessionID: sessionID, From: from})
	if err != nil {
		return apperrors.Internal("marshal typing event").WithCause(err)
	}

	metrics.TypingSignals.Inc()
	return s.hub.Publish(ctx, sessionID, event)
}
