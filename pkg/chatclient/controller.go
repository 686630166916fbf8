package chatclient

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/escrowly/chat-relay-go/internal/config"
	apperrors "github.com/escrowly/chat-relay-go/internal/errors"
	"github.com/escrowly/chat-relay-go/internal/model"
	"github.com/escrowly/chat-relay-go/internal/relay"
)

// SessionState is the controller's view of its session.
type SessionState int

const (
	StateUnjoined SessionState = iota
	StateJoined
	StateClosed
)

func (s SessionState) String() string {
	switch s {
	case StateJoined:
		return "joined"
	case StateClosed:
		return "closed"
	default:
		return "unjoined"
	}
}

// Options tune controller timing. Zero values fall back to the defaults.
type Options struct {
	AckTimeout   time.Duration
	PollInterval time.Duration
	// Poll disables the periodic history reconciliation pass when false.
	Poll bool
}

func (o Options) withDefaults() Options {
	if o.AckTimeout <= 0 {
		o.AckTimeout = config.DefaultAckTimeout
	}
	if o.PollInterval <= 0 {
		o.PollInterval = config.HistoryPollInterval
	}
	return o
}

// Controller owns one client's view of one chat session: the session id,
// the reconciled timeline, and the send/receipt/typing flows. All mutation
// of the timeline happens under one lock inside the controller; callers get
// snapshots.
type Controller struct {
	identity string
	origin   model.MessageOrigin
	api      SessionAPI
	tr       Transport
	opts     Options

	mu          sync.Mutex
	sessionID   string
	state       SessionState
	entries     []Entry
	unavailable bool
	outbox      map[string]model.Message // failed sends by clientId, for Retry

	peer   *peerTyping
	typing *TypingSignaler

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewController(identity string, origin model.MessageOrigin, api SessionAPI, tr Transport, opts Options) *Controller {
	c := &Controller{
		identity: identity,
		origin:   origin,
		api:      api,
		tr:       tr,
		opts:     opts.withDefaults(),
		state:    StateUnjoined,
		outbox:   make(map[string]model.Message),
		peer:     newPeerTyping(),
	}
	c.typing = NewTypingSignaler(func(typing bool) {
		c.emitTyping(typing)
	})
	return c
}

// Start ensures a session for the participant pair, joins its room, seeds
// the timeline from history, and begins consuming live events. Idempotent
// at the session level: two controllers starting with the same pair land in
// the same session.
func (c *Controller) Start(ctx context.Context, kind model.SessionKind, counterpart *string) error {
	// restarting replaces any running event loop
	c.Stop()

	session, err := c.api.EnsureSession(ctx, kind, c.identity, counterpart)
	if err != nil {
		c.mu.Lock()
		c.unavailable = true
		c.mu.Unlock()
		return apperrors.SessionUnavailable(err)
	}

	c.mu.Lock()
	c.sessionID = session.ID
	c.state = StateJoined
	c.unavailable = false
	c.entries = nil
	c.mu.Unlock()

	if err := c.joinRoom(ctx); err != nil {
		log.Warn().Err(err).Str("sessionId", session.ID).Msg("room join failed, relying on poll")
	}
	c.reconcileHistory(ctx)

	runCtx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.wg.Add(1)
	go c.run(runCtx)

	return nil
}

// Stop halts event consumption. The session itself stays open on the
// server.
func (c *Controller) Stop() {
	if c.cancel != nil {
		c.cancel()
		c.wg.Wait()
		c.cancel = nil
	}
}

func (c *Controller) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

func (c *Controller) State() SessionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Unavailable reports whether the last session ensure failed. Cleared by a
// successful Start retry.
func (c *Controller) Unavailable() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.unavailable
}

// Messages returns a snapshot of the timeline.
func (c *Controller) Messages() []Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Entry(nil), c.entries...)
}

// PeerTyping reports whether the counterpart is currently typing.
func (c *Controller) PeerTyping() bool {
	return c.peer.get()
}

// Keystroke feeds the outgoing typing debouncer; call it on every input
// change.
func (c *Controller) Keystroke() {
	c.typing.Keystroke()
}

// SendContent is the payload of one outgoing message.
type SendContent struct {
	Text     string
	FileURL  *string
	FileType *string
}

func (sc SendContent) empty() bool {
	return sc.Text == "" && sc.FileURL == nil
}

// Send appends an optimistic entry, emits the message with an ack, and
// waits out the bounded ack timeout. On error or timeout the optimistic
// entry is kept and flagged failed; it never silently disappears.
func (c *Controller) Send(ctx context.Context, content SendContent) error {
	if content.empty() {
		return apperrors.EmptyContent()
	}

	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return apperrors.SessionClosed()
	}
	if c.state != StateJoined {
		c.mu.Unlock()
		return apperrors.SessionUnavailable(nil)
	}
	sessionID := c.sessionID

	clientID := uuid.NewString()
	optimistic := model.Message{
		SessionID: sessionID,
		Sender:    c.identity,
		Origin:    c.origin,
		Text:      content.Text,
		FileURL:   content.FileURL,
		FileType:  content.FileType,
		ClientID:  &clientID,
		CreatedAt: time.Now(),
	}
	c.entries = append(c.entries, Entry{Message: optimistic, Pending: true})
	c.mu.Unlock()

	c.typing.Stop()

	return c.emitSend(ctx, optimistic)
}

// Retry re-emits a failed send with its original clientId, so the eventual
// echo still reconciles against the same optimistic entry.
func (c *Controller) Retry(ctx context.Context, clientID string) error {
	c.mu.Lock()
	msg, ok := c.outbox[clientID]
	if !ok {
		c.mu.Unlock()
		return apperrors.NotFound("Failed message")
	}
	if c.state == StateClosed {
		c.mu.Unlock()
		return apperrors.SessionClosed()
	}
	for i := range c.entries {
		if c.entries[i].Message.ClientID != nil && *c.entries[i].Message.ClientID == clientID {
			c.entries[i].Failed = false
			c.entries[i].Pending = true
		}
	}
	c.mu.Unlock()

	return c.emitSend(ctx, msg)
}

func (c *Controller) emitSend(ctx context.Context, msg model.Message) error {
	ackCtx, cancel := context.WithTimeout(ctx, c.opts.AckTimeout)
	defer cancel()

	payload := map[string]any{
		"sessionId": msg.SessionID,
		"text":      msg.Text,
		"clientId":  *msg.ClientID,
		"time":      msg.CreatedAt,
	}
	if msg.FileURL != nil {
		payload["fileUrl"] = *msg.FileURL
	}
	if msg.FileType != nil {
		payload["fileType"] = *msg.FileType
	}

	ack, err := c.tr.EmitWithAck(ackCtx, "sendMessage", payload)
	if err != nil {
		c.markFailed(msg)
		if ackCtx.Err() != nil {
			return apperrors.AckTimeout()
		}
		return apperrors.SendFailed(err.Error())
	}
	if !ack.OK {
		c.markFailed(msg)
		if ack.Code == string(apperrors.ErrCodeSessionClosed) {
			c.mu.Lock()
			c.state = StateClosed
			c.mu.Unlock()
			return apperrors.SessionClosed()
		}
		return apperrors.SendFailed(ack.Reason)
	}

	c.mu.Lock()
	delete(c.outbox, *msg.ClientID)
	if ack.Message != nil {
		c.entries = Apply(c.entries, *ack.Message)
	}
	c.mu.Unlock()

	return nil
}

func (c *Controller) markFailed(msg model.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.outbox[*msg.ClientID] = msg
	for i := range c.entries {
		if c.entries[i].Message.ClientID != nil && *c.entries[i].Message.ClientID == *msg.ClientID {
			c.entries[i].Pending = false
			c.entries[i].Failed = true
		}
	}
}

// MarkRead emits a read receipt for every unread entry not authored by
// this identity.
func (c *Controller) MarkRead(ctx context.Context) error {
	c.mu.Lock()
	var ids []string
	for _, e := range c.entries {
		if e.Message.ID != "" && !e.Message.Read && e.Message.Sender != c.identity {
			ids = append(ids, e.Message.ID)
		}
	}
	sessionID := c.sessionID
	c.mu.Unlock()

	if len(ids) == 0 {
		return nil
	}

	return c.tr.Emit(ctx, "messageRead", map[string]any{
		"sessionId":  sessionID,
		"messageIds": ids,
	})
}

// StartNew discards the current session and joins the freshly minted
// replacement. The old id is never resurrected.
func (c *Controller) StartNew(ctx context.Context) error {
	c.mu.Lock()
	oldID := c.sessionID
	c.mu.Unlock()

	newID, err := c.api.Clear(ctx, oldID, c.identity)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.sessionID = newID
	c.state = StateJoined
	c.entries = nil
	c.outbox = make(map[string]model.Message)
	c.mu.Unlock()
	c.peer.clear()

	if err := c.joinRoom(ctx); err != nil {
		log.Warn().Err(err).Str("sessionId", newID).Msg("room join failed after clear")
	}
	return nil
}

func (c *Controller) joinRoom(ctx context.Context) error {
	c.mu.Lock()
	sessionID := c.sessionID
	c.mu.Unlock()
	return c.tr.Emit(ctx, "joinRoom", map[string]any{"sessionId": sessionID})
}

func (c *Controller) emitTyping(typing bool) {
	c.mu.Lock()
	sessionID := c.sessionID
	state := c.state
	c.mu.Unlock()
	if state != StateJoined {
		return
	}

	event := "typing"
	if !typing {
		event = "stopTyping"
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := c.tr.Emit(ctx, event, map[string]any{"sessionId": sessionID}); err != nil {
		log.Debug().Err(err).Msg("typing emit failed")
	}
}

// run consumes live events, reconnect notices and the poll ticker until
// the controller is stopped.
func (c *Controller) run(ctx context.Context) {
	defer c.wg.Done()

	var pollCh <-chan time.Time
	if c.opts.Poll {
		ticker := time.NewTicker(c.opts.PollInterval)
		defer ticker.Stop()
		pollCh = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-c.tr.Events():
			if !ok {
				return
			}
			c.handleEvent(event)

		case <-c.tr.Reconnected():
			// membership does not survive a reconnect
			if err := c.joinRoom(ctx); err != nil {
				log.Warn().Err(err).Msg("room rejoin failed")
			}
			c.reconcileHistory(ctx)

		case <-pollCh:
			c.reconcileHistory(ctx)
		}
	}
}

// reconcileHistory runs the fetched history through the same reducer the
// live path uses, closing any gap from missed events.
func (c *Controller) reconcileHistory(ctx context.Context) {
	c.mu.Lock()
	sessionID := c.sessionID
	c.mu.Unlock()
	if sessionID == "" {
		return
	}

	history, err := c.api.FetchHistory(ctx, sessionID)
	if err != nil {
		log.Debug().Err(err).Str("sessionId", sessionID).Msg("history fetch failed")
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sessionID != sessionID {
		return
	}
	for _, msg := range history {
		c.entries = Apply(c.entries, msg)
	}
}

func (c *Controller) handleEvent(event relay.Event) {
	switch event.Type {
	case relay.EventMessage:
		var msg model.Message
		if err := json.Unmarshal(event.Data, &msg); err != nil {
			log.Warn().Err(err).Msg("malformed message event")
			return
		}
		c.mu.Lock()
		if msg.SessionID == c.sessionID {
			c.entries = Apply(c.entries, msg)
		}
		c.mu.Unlock()

	case relay.EventMessagesRead:
		var payload relay.ReadPayload
		if err := json.Unmarshal(event.Data, &payload); err != nil {
			return
		}
		c.mu.Lock()
		if payload.SessionID == c.sessionID {
			ApplyRead(c.entries, payload.MessageIDs)
		}
		c.mu.Unlock()

	case relay.EventTyping:
		var payload relay.TypingPayload
		if err := json.Unmarshal(event.Data, &payload); err != nil {
			return
		}
		if payload.From != c.identity && payload.SessionID == c.SessionID() {
			c.peer.set()
		}

	case relay.EventStopTyping:
		var payload relay.TypingPayload
		if err := json.Unmarshal(event.Data, &payload); err != nil {
			return
		}
		if payload.From != c.identity && payload.SessionID == c.SessionID() {
			c.peer.clear()
		}

	case relay.EventChatClosed:
		var payload relay.ClosedPayload
		if err := json.Unmarshal(event.Data, &payload); err != nil {
			return
		}
		c.mu.Lock()
		if payload.SessionID == c.sessionID {
			c.state = StateClosed
		}
		c.mu.Unlock()
		c.peer.clear()
	}
}
