package relay

import (
	"encoding/json"
)

type EventType string

// Events broadcast to room members. Every member of a session room observes
// these in the same relative order the relay applied them.
const (
	EventMessage         EventType = "message"
	EventTyping          EventType = "typing"
	EventStopTyping      EventType = "stopTyping"
	EventMessagesRead    EventType = "messagesRead"
	EventChatClosed      EventType = "chatClosed"
	EventSessionAssigned EventType = "sessionAssigned"
	EventSessionOpened   EventType = "sessionOpened"
)

type Event struct {
	Type EventType       `json:"type"`
	Data json.RawMessage `json:"data"`
}

// NewEvent marshals v into an event payload.
func NewEvent(eventType EventType, v any) (Event, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return Event{}, err
	}
	return Event{Type: eventType, Data: data}, nil
}

type TypingPayload struct {
	SessionID string `json:"sessionId"`
	From      string `json:"from"`
}

type ReadPayload struct {
	SessionID  string   `json:"sessionId"`
	MessageIDs []string `json:"messageIds"`
	Reader     string   `json:"reader"`
}

type ClosedPayload struct {
	SessionID string `json:"sessionId"`
	ClosedBy  string `json:"closedBy,omitempty"`
}

type AssignedPayload struct {
	SessionID  string `json:"sessionId"`
	AgentEmail string `json:"agentEmail"`
}
