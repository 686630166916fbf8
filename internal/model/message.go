package model

import (
	"time"
)

type Message struct {
	ID        string        `db:"id" json:"id"`
	SessionID string        `db:"session_id" json:"sessionId"`
	Sender    string        `db:"sender" json:"sender"`
	Origin    MessageOrigin `db:"origin" json:"from"`
	Text      string        `db:"text" json:"text,omitempty"`
	FileURL   *string       `db:"file_url" json:"fileUrl,omitempty"`
	FileType  *string       `db:"file_type" json:"fileType,omitempty"`
	ClientID  *string       `db:"client_id" json:"clientId,omitempty"`
	Read      bool          `db:"read" json:"read"`
	CreatedAt time.Time     `db:"created_at" json:"time"`
}

// HasContent reports whether the message carries text or an attachment.
func (m *Message) HasContent() bool {
	return m.Text != "" || (m.FileURL != nil && *m.FileURL != "")
}

type CreateMessageParams struct {
	SessionID string
	Sender    string
	Origin    MessageOrigin
	Text      string
	FileURL   *string
	FileType  *string
	ClientID  *string
	// SentAt is the client-stamped send time; zero means now.
	SentAt time.Time
}
