package model

import (
	"fmt"
	"time"
)

type Session struct {
	ID             string        `db:"id" json:"id"`
	Kind           SessionKind   `db:"kind" json:"kind"`
	UserEmail      string        `db:"user_email" json:"userEmail"`
	PeerEmail      *string       `db:"peer_email" json:"peerEmail,omitempty"`
	AgentEmail     *string       `db:"agent_email" json:"agentEmail,omitempty"`
	ParticipantKey string        `db:"participant_key" json:"-"`
	Status         SessionStatus `db:"status" json:"status"`
	CreatedAt      time.Time     `db:"created_at" json:"createdAt"`
	UpdatedAt      time.Time     `db:"updated_at" json:"updatedAt"`
	ClosedAt       *time.Time    `db:"closed_at" json:"closedAt,omitempty"`
}

// ParticipantKey derives the identity of a participant pair. At most one
// open session may exist per key; support sessions are keyed by the user
// alone because the agent side is assigned later.
func ParticipantKey(kind SessionKind, userEmail string, peerEmail *string) string {
	if kind == SessionKindPeer && peerEmail != nil {
		a, b := userEmail, *peerEmail
		if b < a {
			a, b = b, a
		}
		return fmt.Sprintf("peer:%s|%s", a, b)
	}
	return fmt.Sprintf("support:%s", userEmail)
}

// IsParticipant reports whether identity belongs to the session's pair.
// An unassigned support session has only the user side.
func (s *Session) IsParticipant(identity string) bool {
	if identity == s.UserEmail {
		return true
	}
	if s.PeerEmail != nil && identity == *s.PeerEmail {
		return true
	}
	if s.AgentEmail != nil && identity == *s.AgentEmail {
		return true
	}
	return false
}

// CanSend reports whether identity may write into the session. Agents must
// be the assigned agent; viewing without sending is allowed for anyone,
// so this gates writes only.
func (s *Session) CanSend(identity string, origin MessageOrigin) bool {
	if s.Status != SessionStatusOpen {
		return false
	}
	if origin == OriginAgent {
		return s.AgentEmail != nil && identity == *s.AgentEmail
	}
	return s.IsParticipant(identity)
}

type CreateSessionParams struct {
	Kind      SessionKind
	UserEmail string
	PeerEmail *string
}

type Connection struct {
	ID          string           `db:"id" json:"id"`
	UserA       string           `db:"user_a" json:"-"`
	UserB       string           `db:"user_b" json:"-"`
	RequestedBy string           `db:"requested_by" json:"requestedBy"`
	Status      ConnectionStatus `db:"status" json:"status"`
	CreatedAt   time.Time        `db:"created_at" json:"createdAt"`
	AcceptedAt  *time.Time       `db:"accepted_at" json:"acceptedAt,omitempty"`
}

// Users returns the pair in stored (sorted) order.
func (c *Connection) Users() [2]string {
	return [2]string{c.UserA, c.UserB}
}

type CreateConnectionParams struct {
	UserA       string
	UserB       string
	RequestedBy string
}

// SortPair normalizes a user pair so (a,b) and (b,a) address the same row.
func SortPair(a, b string) (string, string) {
	if b < a {
		return b, a
	}
	return a, b
}
