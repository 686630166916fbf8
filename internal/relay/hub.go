package relay

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/escrowly/chat-relay-go/internal/metrics"
	redisclient "github.com/escrowly/chat-relay-go/internal/redis"
)

// AgentLobby is the room carrying session-lifecycle events for agent
// dashboards, independent of any single session.
const AgentLobby = "agents"

const clientBufferSize = 100

type Client struct {
	Room   string
	Events chan Event
	Done   chan struct{}
}

// Hub fans events out to room members. Cross-instance delivery goes through
// one redis pub/sub channel per room; a channel subscription exists only
// while the room has local members.
type Hub struct {
	redis     *redisclient.Client
	rooms     map[string]map[*Client]bool
	roomStops map[string]context.CancelFunc
	sendLocks map[string]*sync.Mutex
	mu        sync.RWMutex
	ctx       context.Context
	cancel    context.CancelFunc
}

func NewHub(redisClient *redisclient.Client) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		redis:     redisClient,
		rooms:     make(map[string]map[*Client]bool),
		roomStops: make(map[string]context.CancelFunc),
		sendLocks: make(map[string]*sync.Mutex),
		ctx:       ctx,
		cancel:    cancel,
	}
}

func channelFor(room string) string {
	if room == AgentLobby {
		return redisclient.AgentLobbyChannel()
	}
	return redisclient.RoomChannel(room)
}

// Subscribe joins a room. Joining the same room twice hands back a second
// independent client; the caller is expected to keep one per room.
func (h *Hub) Subscribe(room string) *Client {
	client := &Client{
		Room:   room,
		Events: make(chan Event, clientBufferSize),
		Done:   make(chan struct{}),
	}

	h.mu.Lock()
	if h.rooms[room] == nil {
		h.rooms[room] = make(map[*Client]bool)
		h.sendLocks[room] = &sync.Mutex{}
		if h.redis != nil {
			roomCtx, stop := context.WithCancel(h.ctx)
			h.roomStops[room] = stop
			go h.subscribeToRedis(roomCtx, room)
		}
	}
	h.rooms[room][client] = true
	memberCount := len(h.rooms[room])
	h.mu.Unlock()

	metrics.RoomMembersActive.Inc()

	log.Info().
		Str("room", room).
		Int("memberCount", memberCount).
		Msg("room member joined")

	return client
}

func (h *Hub) Unsubscribe(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	members, ok := h.rooms[client.Room]
	if !ok || !members[client] {
		return
	}

	delete(members, client)
	close(client.Done)
	metrics.RoomMembersActive.Dec()

	if len(members) == 0 {
		delete(h.rooms, client.Room)
		delete(h.sendLocks, client.Room)
		if stop, ok := h.roomStops[client.Room]; ok {
			stop()
			delete(h.roomStops, client.Room)
		}
	}

	log.Info().
		Str("room", client.Room).
		Int("memberCount", len(members)).
		Msg("room member left")
}

// Publish sends an event to every member of a room, on every instance.
// Without a redis client the hub runs single-instance and delivers locally.
func (h *Hub) Publish(ctx context.Context, room string, event Event) error {
	if h.redis == nil {
		h.broadcast(room, event)
		return nil
	}

	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	return h.redis.Publish(ctx, channelFor(room), data).Err()
}

func (h *Hub) subscribeToRedis(ctx context.Context, room string) {
	channel := channelFor(room)
	pubsub := h.redis.Subscribe(ctx, channel)
	defer pubsub.Close()

	log.Debug().
		Str("room", room).
		Str("channel", channel).
		Msg("redis pubsub subscribed")

	ch := pubsub.Channel()

	for {
		select {
		case <-ctx.Done():
			return

		case msg, ok := <-ch:
			if !ok {
				return
			}

			var event Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				log.Error().Err(err).Msg("failed to unmarshal event")
				continue
			}

			h.broadcast(room, event)
		}
	}
}

// broadcast delivers one event to every current room member. The per-room
// send lock keeps concurrent same-room publishers from interleaving their
// member loops: every member sees broadcasts in one relative order. On the
// redis path a single pubsub goroutine per room calls this; the lock matters
// for the local single-instance mode, where Publish callers land here
// directly.
func (h *Hub) broadcast(room string, event Event) {
	h.mu.RLock()
	lock := h.sendLocks[room]
	h.mu.RUnlock()
	if lock == nil {
		return
	}

	lock.Lock()
	defer lock.Unlock()

	h.mu.RLock()
	members := make([]*Client, 0, len(h.rooms[room]))
	for client := range h.rooms[room] {
		members = append(members, client)
	}
	h.mu.RUnlock()

	for _, client := range members {
		select {
		case client.Events <- event:
		default:
			metrics.EventsDropped.Inc()
			log.Warn().
				Str("room", room).
				Str("eventType", string(event.Type)).
				Msg("client event buffer full, dropping event")
		}
	}
}

func (h *Hub) Close() {
	h.cancel()

	h.mu.Lock()
	defer h.mu.Unlock()

	for _, members := range h.rooms {
		for client := range members {
			close(client.Done)
		}
	}
	h.rooms = make(map[string]map[*Client]bool)
	h.roomStops = make(map[string]context.CancelFunc)
	h.sendLocks = make(map[string]*sync.Mutex)
}

func (h *Hub) MemberCount(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

func (h *Hub) TotalMembers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	total := 0
	for _, members := range h.rooms {
		total += len(members)
	}
	return total
}
