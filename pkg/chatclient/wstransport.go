package chatclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/escrowly/chat-relay-go/internal/config"
	"github.com/escrowly/chat-relay-go/internal/relay"
)

const (
	reconnectBaseDelay = time.Second
	reconnectMaxDelay  = 30 * time.Second
)

type wsFrame struct {
	Event string          `json:"event"`
	Ref   string          `json:"ref,omitempty"`
	Data  json.RawMessage `json:"data"`
}

type wsAckPayload struct {
	Ref     string          `json:"ref"`
	OK      bool            `json:"ok"`
	Message json.RawMessage `json:"message"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// WSTransport is the production Transport: one websocket connection to the
// relay with automatic reconnect. Each re-established connection is
// announced on Reconnected so the controller can re-join its rooms.
type WSTransport struct {
	endpoint string

	mu      sync.Mutex
	conn    *websocket.Conn
	pending map[string]chan Ack

	events      chan relay.Event
	reconnected chan struct{}

	closeOnce sync.Once
	done      chan struct{}
}

// NewWSTransport dials the relay's /ws endpoint. baseURL is the http(s)
// host; identity and role ride along as query params.
func NewWSTransport(ctx context.Context, baseURL, identity, role string) (*WSTransport, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.Path = "/ws"
	q := u.Query()
	q.Set("identity", identity)
	q.Set("role", role)
	u.RawQuery = q.Encode()

	t := &WSTransport{
		endpoint:    u.String(),
		pending:     make(map[string]chan Ack),
		events:      make(chan relay.Event, config.WSSendBufferEvents),
		reconnected: make(chan struct{}, 1),
		done:        make(chan struct{}),
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, t.endpoint, nil)
	if err != nil {
		return nil, err
	}
	t.conn = conn

	go t.readLoop(conn)
	return t, nil
}

func (t *WSTransport) Events() <-chan relay.Event   { return t.events }
func (t *WSTransport) Reconnected() <-chan struct{} { return t.reconnected }

func (t *WSTransport) Close() error {
	t.closeOnce.Do(func() {
		close(t.done)
		t.mu.Lock()
		if t.conn != nil {
			t.conn.Close()
		}
		t.mu.Unlock()
	})
	return nil
}

func (t *WSTransport) Emit(ctx context.Context, event string, payload any) error {
	return t.write(wsFrame{Event: event}, payload)
}

func (t *WSTransport) EmitWithAck(ctx context.Context, event string, payload any) (Ack, error) {
	ref := uuid.NewString()
	ackCh := make(chan Ack, 1)

	t.mu.Lock()
	t.pending[ref] = ackCh
	t.mu.Unlock()

	defer func() {
		t.mu.Lock()
		delete(t.pending, ref)
		t.mu.Unlock()
	}()

	if err := t.write(wsFrame{Event: event, Ref: ref}, payload); err != nil {
		return Ack{}, err
	}

	select {
	case ack := <-ackCh:
		return ack, nil
	case <-ctx.Done():
		return Ack{}, ctx.Err()
	case <-t.done:
		return Ack{}, errors.New("transport closed")
	}
}

func (t *WSTransport) write(frame wsFrame, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	frame.Data = data

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil {
		return errors.New("not connected")
	}
	t.conn.SetWriteDeadline(time.Now().Add(config.WSWriteTimeout))
	return t.conn.WriteJSON(frame)
}

func (t *WSTransport) readLoop(conn *websocket.Conn) {
	for {
		var event relay.Event
		if err := conn.ReadJSON(&event); err != nil {
			select {
			case <-t.done:
				return
			default:
			}
			log.Debug().Err(err).Msg("websocket read failed, reconnecting")
			t.redial()
			return
		}

		if event.Type == "ack" {
			t.routeAck(event.Data)
			continue
		}

		select {
		case t.events <- event:
		default:
			log.Warn().Str("eventType", string(event.Type)).Msg("event buffer full, dropping")
		}
	}
}

func (t *WSTransport) routeAck(data json.RawMessage) {
	var payload wsAckPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return
	}

	t.mu.Lock()
	ch, ok := t.pending[payload.Ref]
	t.mu.Unlock()
	if !ok {
		return
	}

	ack := Ack{OK: payload.OK}
	if payload.Error != nil {
		ack.Code = payload.Error.Code
		ack.Reason = payload.Error.Message
	}
	if len(payload.Message) > 0 && string(payload.Message) != "null" {
		if err := json.Unmarshal(payload.Message, &ack.Message); err != nil {
			log.Debug().Err(err).Msg("malformed ack message")
		}
	}

	select {
	case ch <- ack:
	default:
	}
}

// redial reconnects with exponential backoff, then signals the controller
// so it can re-join its rooms.
func (t *WSTransport) redial() {
	delay := reconnectBaseDelay
	for {
		select {
		case <-t.done:
			return
		case <-time.After(delay):
		}

		conn, _, err := websocket.DefaultDialer.Dial(t.endpoint, nil)
		if err != nil {
			log.Debug().Err(err).Dur("retryIn", delay).Msg("reconnect failed")
			if delay *= 2; delay > reconnectMaxDelay {
				delay = reconnectMaxDelay
			}
			continue
		}

		t.mu.Lock()
		t.conn = conn
		t.mu.Unlock()

		select {
		case t.reconnected <- struct{}{}:
		default:
		}

		go t.readLoop(conn)
		return
	}
}
