package handler

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/escrowly/chat-relay-go/internal/audit"
	apperrors "github.com/escrowly/chat-relay-go/internal/errors"
	"github.com/escrowly/chat-relay-go/internal/service"
	"github.com/escrowly/chat-relay-go/internal/util"
)

// ConnectionHandler manages the buyer/seller connection requests that gate
// peer chat sessions.
type ConnectionHandler struct {
	connectionService *service.ConnectionService
}

func NewConnectionHandler(connectionService *service.ConnectionService) *ConnectionHandler {
	return &ConnectionHandler{connectionService: connectionService}
}

func (h *ConnectionHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/", h.Request)
	r.Post("/{id}/accept", h.Accept)
	r.Get("/{email}", h.ListByUser)

	return r
}

// POST /api/connections
func (h *ConnectionHandler) Request(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Requester   string `json:"requester"`
		Counterpart string `json:"counterpart"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperrors.InvalidInput("body", "invalid request body"))
		return
	}

	req.Requester = strings.TrimSpace(strings.ToLower(req.Requester))
	req.Counterpart = strings.TrimSpace(strings.ToLower(req.Counterpart))
	if req.Requester == "" {
		writeError(w, apperrors.MissingRequired("requester"))
		return
	}
	if req.Counterpart == "" {
		writeError(w, apperrors.MissingRequired("counterpart"))
		return
	}
	if !util.IsValidEmail(req.Requester) || !util.IsValidEmail(req.Counterpart) {
		writeError(w, apperrors.InvalidInput("requester", "not a valid email"))
		return
	}

	connection, err := h.connectionService.Request(r.Context(), req.Requester, req.Counterpart)
	if err != nil {
		writeError(w, err)
		return
	}

	audit.Log(r.Context(), audit.Event{
		Type:     audit.EventConnectionRequest,
		Identity: req.Requester,
		IP:       r.RemoteAddr,
		Details:  map[string]interface{}{"connection_id": connection.ID},
	})

	writeJSON(w, http.StatusOK, connection)
}

// POST /api/connections/{id}/accept
func (h *ConnectionHandler) Accept(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Acceptor string `json:"acceptor"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperrors.InvalidInput("body", "invalid request body"))
		return
	}
	if req.Acceptor == "" {
		writeError(w, apperrors.MissingRequired("acceptor"))
		return
	}

	connection, err := h.connectionService.Accept(r.Context(), chi.URLParam(r, "id"), strings.ToLower(req.Acceptor))
	if err != nil {
		writeError(w, err)
		return
	}

	audit.Log(r.Context(), audit.Event{
		Type:     audit.EventConnectionAccept,
		Identity: req.Acceptor,
		IP:       r.RemoteAddr,
		Details:  map[string]interface{}{"connection_id": connection.ID},
	})

	writeJSON(w, http.StatusOK, connection)
}

// GET /api/connections/{email}
func (h *ConnectionHandler) ListByUser(w http.ResponseWriter, r *http.Request) {
	email := strings.ToLower(chi.URLParam(r, "email"))
	if email == "" {
		writeError(w, apperrors.MissingRequired("email"))
		return
	}

	connections, err := h.connectionService.ListByUser(r.Context(), email)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"connections": connections,
		"count":       len(connections),
	})
}
