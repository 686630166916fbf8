package ws

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/escrowly/chat-relay-go/internal/config"
	"github.com/escrowly/chat-relay-go/internal/metrics"
	"github.com/escrowly/chat-relay-go/internal/model"
	"github.com/escrowly/chat-relay-go/internal/relay"
)

// connection wraps one websocket client. Outbound frames go through a
// buffered channel drained by writePump; room subscriptions each get a
// forwarding goroutine bridging hub events into that channel.
type connection struct {
	ws       *websocket.Conn
	identity string
	origin   model.MessageOrigin

	send chan []byte

	mu    sync.Mutex
	rooms map[string]*roomSub

	closeOnce sync.Once
	done      chan struct{}
}

type roomSub struct {
	client *relay.Client
}

func newConnection(wsConn *websocket.Conn, identity string, origin model.MessageOrigin) *connection {
	return &connection{
		ws:       wsConn,
		identity: identity,
		origin:   origin,
		send:     make(chan []byte, config.WSSendBufferEvents),
		rooms:    make(map[string]*roomSub),
		done:     make(chan struct{}),
	}
}

// joinRoom subscribes the connection to a room. Joining a room it is
// already in is a no-op.
func (c *connection) joinRoom(hub *relay.Hub, room string) {
	c.mu.Lock()
	if _, ok := c.rooms[room]; ok {
		c.mu.Unlock()
		return
	}
	sub := &roomSub{client: hub.Subscribe(room)}
	c.rooms[room] = sub
	c.mu.Unlock()

	go c.forward(sub.client)
}

func (c *connection) forward(client *relay.Client) {
	for {
		select {
		case <-c.done:
			return
		case <-client.Done:
			return
		case event := <-client.Events:
			data, err := json.Marshal(event)
			if err != nil {
				log.Error().Err(err).Msg("marshal outbound event")
				continue
			}
			select {
			case c.send <- data:
			default:
				metrics.EventsDropped.Inc()
				log.Warn().
					Str("identity", c.identity).
					Str("room", client.Room).
					Msg("connection send buffer full, dropping event")
			}
		}
	}
}

// push queues an event directly for this connection only (acks).
func (c *connection) push(event relay.Event) {
	data, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Msg("marshal ack event")
		return
	}
	select {
	case c.send <- data:
	case <-c.done:
	}
}

func (c *connection) writePump() {
	ticker := time.NewTicker(config.WSPingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return

		case data := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(config.WSWriteTimeout))
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Debug().Err(err).Str("identity", c.identity).Msg("websocket write failed")
				c.close()
				return
			}

		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(config.WSWriteTimeout))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close()
				return
			}
		}
	}
}

// leaveAll drops every room subscription. Membership does not survive the
// connection; a reconnecting client must re-join its rooms.
func (c *connection) leaveAll(hub *relay.Hub) {
	c.mu.Lock()
	subs := c.rooms
	c.rooms = make(map[string]*roomSub)
	c.mu.Unlock()

	for _, sub := range subs {
		hub.Unsubscribe(sub.client)
	}
}

func (c *connection) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.ws.Close()
	})
}
