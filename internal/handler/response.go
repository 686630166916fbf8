package handler

import (
	"net/http"
	"time"

	"github.com/escrowly/chat-relay-go/internal/httputil"
	"github.com/escrowly/chat-relay-go/internal/model"
)

func writeJSON(w http.ResponseWriter, status int, data any) {
	httputil.WriteJSON(w, status, data)
}

func writeError(w http.ResponseWriter, err error) {
	httputil.WriteError(w, err)
}

func formatTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Format(time.RFC3339)
}

func formatSession(session model.Session) map[string]any {
	return map[string]any{
		"id":         session.ID,
		"kind":       session.Kind,
		"userEmail":  session.UserEmail,
		"peerEmail":  session.PeerEmail,
		"agentEmail": session.AgentEmail,
		"status":     session.Status,
		"createdAt":  session.CreatedAt.Format(time.RFC3339),
		"updatedAt":  session.UpdatedAt.Format(time.RFC3339),
		"closedAt":   formatTime(session.ClosedAt),
	}
}

func formatSessions(sessions []model.Session) []map[string]any {
	out := make([]map[string]any, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, formatSession(s))
	}
	return out
}
