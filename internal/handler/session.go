package handler

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/escrowly/chat-relay-go/internal/audit"
	apperrors "github.com/escrowly/chat-relay-go/internal/errors"
	"github.com/escrowly/chat-relay-go/internal/model"
	"github.com/escrowly/chat-relay-go/internal/service"
	"github.com/escrowly/chat-relay-go/internal/util"
)

type SessionHandler struct {
	sessionService *service.SessionService
	messageService *service.MessageService
}

func NewSessionHandler(sessionService *service.SessionService, messageService *service.MessageService) *SessionHandler {
	return &SessionHandler{
		sessionService: sessionService,
		messageService: messageService,
	}
}

func (h *SessionHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/", h.EnsureSession)
	r.Get("/", h.List)
	r.Get("/{id}", h.Get)
	r.Get("/{id}/messages", h.Messages)
	r.Post("/{id}/assign", h.Assign)
	r.Post("/{id}/close", h.Close)
	r.Post("/{id}/clear", h.Clear)
	r.Post("/{id}/read", h.MarkRead)

	return r
}

// POST /api/chat/sessions
// Returns the open session for the participant pair, creating one if none
// exists. Safe to call on every app launch.
func (h *SessionHandler) EnsureSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Kind      string  `json:"kind"`
		UserEmail string  `json:"userEmail"`
		PeerEmail *string `json:"peerEmail,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperrors.InvalidInput("body", "invalid request body"))
		return
	}

	req.UserEmail = strings.TrimSpace(strings.ToLower(req.UserEmail))
	if req.UserEmail == "" {
		writeError(w, apperrors.MissingRequired("userEmail"))
		return
	}
	if !util.IsValidEmail(req.UserEmail) {
		writeError(w, apperrors.InvalidInput("userEmail", "not a valid email"))
		return
	}

	kind := model.SessionKind(req.Kind)
	if kind == "" {
		kind = model.SessionKindSupport
	}
	if kind != model.SessionKindSupport && kind != model.SessionKindPeer {
		writeError(w, apperrors.InvalidInput("kind", "must be support or peer"))
		return
	}
	if kind == model.SessionKindPeer {
		if req.PeerEmail == nil || *req.PeerEmail == "" {
			writeError(w, apperrors.MissingRequired("peerEmail"))
			return
		}
		lowered := strings.TrimSpace(strings.ToLower(*req.PeerEmail))
		if !util.IsValidEmail(lowered) {
			writeError(w, apperrors.InvalidInput("peerEmail", "not a valid email"))
			return
		}
		req.PeerEmail = &lowered
	}

	session, err := h.sessionService.EnsureSession(r.Context(), model.CreateSessionParams{
		Kind:      kind,
		UserEmail: req.UserEmail,
		PeerEmail: req.PeerEmail,
	})
	if err != nil {
		log.Error().Err(err).Str("userEmail", req.UserEmail).Msg("failed to ensure session")
		writeError(w, err)
		return
	}

	audit.Log(r.Context(), audit.Event{
		Type:      audit.EventSessionCreate,
		Identity:  req.UserEmail,
		SessionID: session.ID,
		IP:        r.RemoteAddr,
		Details:   map[string]interface{}{"kind": string(session.Kind)},
	})

	writeJSON(w, http.StatusOK, formatSession(*session))
}

// GET /api/chat/sessions?status=open
func (h *SessionHandler) List(w http.ResponseWriter, r *http.Request) {
	if status := r.URL.Query().Get("status"); status != "" && status != string(model.SessionStatusOpen) {
		writeError(w, apperrors.InvalidInput("status", "only open is supported"))
		return
	}

	p := ParsePagination(r)
	sessions, err := h.sessionService.ListOpen(r.Context(), p.Limit, p.Offset)
	if err != nil {
		log.Error().Err(err).Msg("failed to list open sessions")
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"sessions": formatSessions(sessions),
		"count":    len(sessions),
	})
}

// GET /api/chat/sessions/{id}
func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	session, err := h.sessionService.FindByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	if session == nil {
		writeError(w, apperrors.NotFound("session"))
		return
	}

	writeJSON(w, http.StatusOK, formatSession(*session))
}

// GET /api/chat/sessions/{id}/messages
// Full ordered history; clients reconcile it against live events.
func (h *SessionHandler) Messages(w http.ResponseWriter, r *http.Request) {
	messages, err := h.messageService.History(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"messages": messages,
		"count":    len(messages),
	})
}

// POST /api/chat/sessions/{id}/assign
func (h *SessionHandler) Assign(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AgentEmail string `json:"agentEmail"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperrors.InvalidInput("body", "invalid request body"))
		return
	}
	if req.AgentEmail == "" {
		writeError(w, apperrors.MissingRequired("agentEmail"))
		return
	}

	session, err := h.sessionService.Assign(r.Context(), chi.URLParam(r, "id"), req.AgentEmail)
	if err != nil {
		writeError(w, err)
		return
	}

	audit.Log(r.Context(), audit.Event{
		Type:      audit.EventSessionAssign,
		Identity:  req.AgentEmail,
		SessionID: session.ID,
		IP:        r.RemoteAddr,
	})

	writeJSON(w, http.StatusOK, formatSession(*session))
}

// POST /api/chat/sessions/{id}/close
func (h *SessionHandler) Close(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ClosedBy string `json:"closedBy"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperrors.InvalidInput("body", "invalid request body"))
		return
	}

	session, err := h.sessionService.Close(r.Context(), chi.URLParam(r, "id"), req.ClosedBy)
	if err != nil {
		writeError(w, err)
		return
	}

	audit.Log(r.Context(), audit.Event{
		Type:      audit.EventSessionClose,
		Identity:  req.ClosedBy,
		SessionID: session.ID,
		IP:        r.RemoteAddr,
	})

	writeJSON(w, http.StatusOK, formatSession(*session))
}

// POST /api/chat/sessions/{id}/clear
// Closes the session and opens a fresh one for the same participants. The
// old transcript stays attached to the closed session only.
func (h *SessionHandler) Clear(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RequestedBy string `json:"requestedBy"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperrors.InvalidInput("body", "invalid request body"))
		return
	}

	replacement, err := h.sessionService.Clear(r.Context(), chi.URLParam(r, "id"), req.RequestedBy)
	if err != nil {
		writeError(w, err)
		return
	}

	audit.Log(r.Context(), audit.Event{
		Type:      audit.EventSessionClear,
		Identity:  req.RequestedBy,
		SessionID: chi.URLParam(r, "id"),
		IP:        r.RemoteAddr,
		Details:   map[string]interface{}{"new_session_id": replacement.ID},
	})

	writeJSON(w, http.StatusOK, map[string]any{
		"newSessionId": replacement.ID,
		"session":      formatSession(*replacement),
	})
}

// POST /api/chat/sessions/{id}/read
func (h *SessionHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Reader     string   `json:"reader"`
		MessageIDs []string `json:"messageIds"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperrors.InvalidInput("body", "invalid request body"))
		return
	}
	if req.Reader == "" {
		writeError(w, apperrors.MissingRequired("reader"))
		return
	}

	updated, err := h.messageService.MarkRead(r.Context(), chi.URLParam(r, "id"), req.MessageIDs, req.Reader)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"updated": updated})
}
