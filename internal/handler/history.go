package handler

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	apperrors "github.com/escrowly/chat-relay-go/internal/errors"
	"github.com/escrowly/chat-relay-go/internal/service"
)

// HistoryHandler serves the agent dashboard surfaces: the live open-rooms
// board and per-identity closed-session archives.
type HistoryHandler struct {
	sessionService *service.SessionService
}

func NewHistoryHandler(sessionService *service.SessionService) *HistoryHandler {
	return &HistoryHandler{sessionService: sessionService}
}

func (h *HistoryHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/open-rooms", h.OpenRooms)
	r.Get("/history/agent/{email}", h.AgentHistory)
	r.Get("/history/user/{email}", h.UserHistory)

	return r
}

// GET /api/open-rooms
func (h *HistoryHandler) OpenRooms(w http.ResponseWriter, r *http.Request) {
	p := ParsePagination(r)
	rooms, err := h.sessionService.OpenRooms(r.Context(), p.Limit, p.Offset)
	if err != nil {
		log.Error().Err(err).Msg("failed to list open rooms")
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"rooms": rooms,
		"count": len(rooms),
	})
}

// GET /api/history/agent/{email}
func (h *HistoryHandler) AgentHistory(w http.ResponseWriter, r *http.Request) {
	email := strings.ToLower(chi.URLParam(r, "email"))
	if email == "" {
		writeError(w, apperrors.MissingRequired("email"))
		return
	}

	p := ParsePagination(r)
	sessions, err := h.sessionService.HistoryByAgent(r.Context(), email, p.Limit, p.Offset)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"sessions": formatSessions(sessions),
		"count":    len(sessions),
	})
}

// GET /api/history/user/{email}
func (h *HistoryHandler) UserHistory(w http.ResponseWriter, r *http.Request) {
	email := strings.ToLower(chi.URLParam(r, "email"))
	if email == "" {
		writeError(w, apperrors.MissingRequired("email"))
		return
	}

	p := ParsePagination(r)
	sessions, err := h.sessionService.HistoryByUser(r.Context(), email, p.Limit, p.Offset)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"sessions": formatSessions(sessions),
		"count":    len(sessions),
	})
}
