package ws

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/escrowly/chat-relay-go/internal/config"
	apperrors "github.com/escrowly/chat-relay-go/internal/errors"
	"github.com/escrowly/chat-relay-go/internal/httputil"
	"github.com/escrowly/chat-relay-go/internal/metrics"
	"github.com/escrowly/chat-relay-go/internal/model"
	"github.com/escrowly/chat-relay-go/internal/relay"
	"github.com/escrowly/chat-relay-go/internal/service"
)

// clientFrame is the envelope every inbound websocket frame uses. Ref, when
// present, is echoed back on the matching ack frame.
type clientFrame struct {
	Event string          `json:"event"`
	Ref   string          `json:"ref,omitempty"`
	Data  json.RawMessage `json:"data"`
}

const eventAck = relay.EventType("ack")

type ackPayload struct {
	Ref     string         `json:"ref,omitempty"`
	OK      bool           `json:"ok"`
	Message *model.Message `json:"message,omitempty"`
	Error   *ackError      `json:"error,omitempty"`
}

type ackError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type joinRoomPayload struct {
	SessionID string `json:"sessionId"`
}

type sendMessagePayload struct {
	SessionID string    `json:"sessionId"`
	Text      string    `json:"text,omitempty"`
	FileURL   *string   `json:"fileUrl,omitempty"`
	FileType  *string   `json:"fileType,omitempty"`
	ClientID  string    `json:"clientId,omitempty"`
	Time      time.Time `json:"time,omitempty"`
}

type messageReadPayload struct {
	SessionID  string   `json:"sessionId"`
	MessageIDs []string `json:"messageIds"`
}

type typingPayload struct {
	SessionID string `json:"sessionId"`
}

type closeChatPayload struct {
	SessionID string `json:"sessionId"`
}

type assignAgentPayload struct {
	SessionID  string `json:"sessionId"`
	AgentEmail string `json:"agentId"`
}

type Handler struct {
	hub      *relay.Hub
	sessions *service.SessionService
	messages *service.MessageService
	upgrader websocket.Upgrader
}

func NewHandler(hub *relay.Hub, sessions *service.SessionService, messages *service.MessageService, allowedOrigins string) *Handler {
	origins := strings.Split(allowedOrigins, ",")
	for i := range origins {
		origins[i] = strings.TrimSpace(origins[i])
	}

	return &Handler{
		hub:      hub,
		sessions: sessions,
		messages: messages,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				if origin == "" {
					return true
				}
				for _, allowed := range origins {
					if allowed == "*" || allowed == origin {
						return true
					}
				}
				return false
			},
		},
	}
}

// ServeHTTP upgrades the request and runs the read loop until the client
// disconnects. Identity comes from query params; room membership has to be
// re-established by the client after every reconnect.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	identity := strings.TrimSpace(r.URL.Query().Get("identity"))
	if identity == "" {
		httputil.WriteError(w, apperrors.MissingRequired("identity"))
		return
	}

	origin := model.OriginUser
	if r.URL.Query().Get("role") == "agent" {
		origin = model.OriginAgent
	}

	wsConn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	conn := newConnection(wsConn, identity, origin)

	metrics.WSConnectionsActive.Inc()
	log.Info().
		Str("identity", identity).
		Str("role", string(origin)).
		Msg("websocket connected")

	go conn.writePump()
	h.readLoop(r, conn)

	conn.leaveAll(h.hub)
	conn.close()
	metrics.WSConnectionsActive.Dec()

	log.Info().
		Str("identity", identity).
		Msg("websocket disconnected")
}

func (h *Handler) readLoop(r *http.Request, conn *connection) {
	conn.ws.SetReadLimit(config.WSMaxFrameBytes)
	conn.ws.SetReadDeadline(time.Now().Add(config.WSPongTimeout))
	conn.ws.SetPongHandler(func(string) error {
		conn.ws.SetReadDeadline(time.Now().Add(config.WSPongTimeout))
		return nil
	})

	for {
		_, data, err := conn.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug().Err(err).Str("identity", conn.identity).Msg("websocket read failed")
			}
			return
		}

		var frame clientFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			conn.push(h.ackErr(frame.Ref, apperrors.InvalidInput("frame", "malformed json")))
			continue
		}

		h.handleFrame(r, conn, frame)
	}
}

func (h *Handler) handleFrame(r *http.Request, conn *connection, frame clientFrame) {
	ctx := r.Context()

	switch frame.Event {
	case "joinRoom":
		var payload joinRoomPayload
		if err := json.Unmarshal(frame.Data, &payload); err != nil || payload.SessionID == "" {
			conn.push(h.ackErr(frame.Ref, apperrors.MissingRequired("sessionId")))
			return
		}
		conn.joinRoom(h.hub, payload.SessionID)

	case "joinAgentRoom":
		conn.joinRoom(h.hub, relay.AgentLobby)

	case "sendMessage":
		var payload sendMessagePayload
		if err := json.Unmarshal(frame.Data, &payload); err != nil {
			conn.push(h.ackErr(frame.Ref, apperrors.InvalidInput("data", "malformed payload")))
			return
		}

		params := model.CreateMessageParams{
			SessionID: payload.SessionID,
			Sender:    conn.identity,
			Origin:    conn.origin,
			Text:      payload.Text,
			FileURL:   payload.FileURL,
			FileType:  payload.FileType,
			SentAt:    payload.Time,
		}
		if payload.ClientID != "" {
			params.ClientID = &payload.ClientID
		}

		message, err := h.messages.Send(ctx, params)
		if err != nil {
			conn.push(h.ackErr(frame.Ref, err))
			return
		}
		conn.push(h.ackOK(frame.Ref, message))

	case "typing", "stopTyping":
		var payload typingPayload
		if err := json.Unmarshal(frame.Data, &payload); err != nil || payload.SessionID == "" {
			return
		}
		if err := h.messages.Typing(ctx, payload.SessionID, conn.identity, frame.Event == "typing"); err != nil {
			log.Debug().Err(err).Str("sessionId", payload.SessionID).Msg("typing relay failed")
		}

	case "messageRead":
		var payload messageReadPayload
		if err := json.Unmarshal(frame.Data, &payload); err != nil || payload.SessionID == "" {
			conn.push(h.ackErr(frame.Ref, apperrors.MissingRequired("sessionId")))
			return
		}
		if _, err := h.messages.MarkRead(ctx, payload.SessionID, payload.MessageIDs, conn.identity); err != nil {
			conn.push(h.ackErr(frame.Ref, err))
		}

	case "closeChat":
		var payload closeChatPayload
		if err := json.Unmarshal(frame.Data, &payload); err != nil || payload.SessionID == "" {
			conn.push(h.ackErr(frame.Ref, apperrors.MissingRequired("sessionId")))
			return
		}
		if _, err := h.sessions.Close(ctx, payload.SessionID, conn.identity); err != nil {
			conn.push(h.ackErr(frame.Ref, err))
			return
		}
		conn.push(h.ackOK(frame.Ref, nil))

	case "assignAgent":
		var payload assignAgentPayload
		if err := json.Unmarshal(frame.Data, &payload); err != nil || payload.SessionID == "" {
			conn.push(h.ackErr(frame.Ref, apperrors.MissingRequired("sessionId")))
			return
		}
		agentEmail := payload.AgentEmail
		if agentEmail == "" {
			agentEmail = conn.identity
		}
		if _, err := h.sessions.Assign(ctx, payload.SessionID, agentEmail); err != nil {
			conn.push(h.ackErr(frame.Ref, err))
			return
		}
		conn.push(h.ackOK(frame.Ref, nil))

	default:
		log.Debug().
			Str("event", frame.Event).
			Str("identity", conn.identity).
			Msg("unknown websocket event")
	}
}

func (h *Handler) ackOK(ref string, message *model.Message) relay.Event {
	event, _ := relay.NewEvent(eventAck, ackPayload{Ref: ref, OK: true, Message: message})
	return event
}

func (h *Handler) ackErr(ref string, err error) relay.Event {
	appErr, ok := apperrors.AsAppError(err)
	if !ok {
		appErr = apperrors.Internal("internal error")
	}
	event, _ := relay.NewEvent(eventAck, ackPayload{
		Ref: ref,
		OK:  false,
		Error: &ackError{
			Code:    string(appErr.Code),
			Message: appErr.Message,
		},
	})
	return event
}
