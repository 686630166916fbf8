package chatclient

import (
	"context"

	"github.com/escrowly/chat-relay-go/internal/model"
	"github.com/escrowly/chat-relay-go/internal/relay"
)

// Ack is the relay's answer to an emit-with-ack. On success Message carries
// the canonical persisted copy, server id included.
type Ack struct {
	OK      bool
	Message *model.Message
	Code    string
	Reason  string
}

// Transport is the socket connection the controller drives. Implementations
// own reconnect; they signal each re-established connection on Reconnected
// so the controller can re-join its rooms, since room membership does not
// survive a reconnect.
type Transport interface {
	Emit(ctx context.Context, event string, payload any) error
	EmitWithAck(ctx context.Context, event string, payload any) (Ack, error)
	Events() <-chan relay.Event
	Reconnected() <-chan struct{}
	Close() error
}

// SessionAPI is the REST surface the controller needs from the session
// store.
type SessionAPI interface {
	// EnsureSession returns the open session for the participant pair,
	// creating one when none exists.
	EnsureSession(ctx context.Context, kind model.SessionKind, identity string, counterpart *string) (*model.Session, error)
	FetchHistory(ctx context.Context, sessionID string) ([]model.Message, error)
	// Clear closes the session and returns the replacement session id.
	Clear(ctx context.Context, sessionID, requestedBy string) (string, error)
}
