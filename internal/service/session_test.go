package service

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/escrowly/chat-relay-go/internal/errors"
	"github.com/escrowly/chat-relay-go/internal/model"
	"github.com/escrowly/chat-relay-go/internal/relay"
)

func newSessionService(sessions *fakeSessionRepo, messages *fakeMessageRepo, conns *fakeConnectionRepo) (*SessionService, *relay.Hub) {
	hub := relay.NewHub(nil)
	svc := NewSessionService(passthroughTx{}, sessions, messages, conns, hub)
	return svc, hub
}

func TestEnsureSession(t *testing.T) {
	ctx := context.Background()

	t.Run("creates a session on first call", func(t *testing.T) {
		svc, _ := newSessionService(newFakeSessionRepo(), newFakeMessageRepo(), newFakeConnectionRepo())

		session, err := svc.EnsureSession(ctx, model.CreateSessionParams{
			Kind:      model.SessionKindSupport,
			UserEmail: "u@x.io",
		})
		require.NoError(t, err)
		assert.Equal(t, model.SessionStatusOpen, session.Status)
		assert.Equal(t, "u@x.io", session.UserEmail)
		assert.Nil(t, session.AgentEmail)
	})

	t.Run("is idempotent for the same participant pair", func(t *testing.T) {
		svc, _ := newSessionService(newFakeSessionRepo(), newFakeMessageRepo(), newFakeConnectionRepo())

		params := model.CreateSessionParams{Kind: model.SessionKindSupport, UserEmail: "u@x.io"}
		first, err := svc.EnsureSession(ctx, params)
		require.NoError(t, err)
		second, err := svc.EnsureSession(ctx, params)
		require.NoError(t, err)

		assert.Equal(t, first.ID, second.ID)
	})

	t.Run("different users get different sessions", func(t *testing.T) {
		svc, _ := newSessionService(newFakeSessionRepo(), newFakeMessageRepo(), newFakeConnectionRepo())

		a, err := svc.EnsureSession(ctx, model.CreateSessionParams{Kind: model.SessionKindSupport, UserEmail: "a@x.io"})
		require.NoError(t, err)
		b, err := svc.EnsureSession(ctx, model.CreateSessionParams{Kind: model.SessionKindSupport, UserEmail: "b@x.io"})
		require.NoError(t, err)

		assert.NotEqual(t, a.ID, b.ID)
	})

	t.Run("peer session requires an accepted connection", func(t *testing.T) {
		conns := newFakeConnectionRepo()
		svc, _ := newSessionService(newFakeSessionRepo(), newFakeMessageRepo(), conns)

		peer := "b@x.io"
		_, err := svc.EnsureSession(ctx, model.CreateSessionParams{
			Kind:      model.SessionKindPeer,
			UserEmail: "a@x.io",
			PeerEmail: &peer,
		})
		require.Error(t, err)
		assert.Equal(t, apperrors.ErrCodeNotConnected, apperrors.GetCode(err))

		conn, err := conns.Create(ctx, model.CreateConnectionParams{UserA: "a@x.io", UserB: "b@x.io", RequestedBy: "a@x.io"})
		require.NoError(t, err)
		_, err = conns.Accept(ctx, conn.ID)
		require.NoError(t, err)

		session, err := svc.EnsureSession(ctx, model.CreateSessionParams{
			Kind:      model.SessionKindPeer,
			UserEmail: "a@x.io",
			PeerEmail: &peer,
		})
		require.NoError(t, err)
		assert.Equal(t, model.SessionKindPeer, session.Kind)
	})

	t.Run("peer pair is order-insensitive", func(t *testing.T) {
		conns := newFakeConnectionRepo()
		svc, _ := newSessionService(newFakeSessionRepo(), newFakeMessageRepo(), conns)

		conn, _ := conns.Create(ctx, model.CreateConnectionParams{UserA: "a@x.io", UserB: "b@x.io", RequestedBy: "a@x.io"})
		_, _ = conns.Accept(ctx, conn.ID)

		a, b := "a@x.io", "b@x.io"
		first, err := svc.EnsureSession(ctx, model.CreateSessionParams{Kind: model.SessionKindPeer, UserEmail: a, PeerEmail: &b})
		require.NoError(t, err)
		second, err := svc.EnsureSession(ctx, model.CreateSessionParams{Kind: model.SessionKindPeer, UserEmail: b, PeerEmail: &a})
		require.NoError(t, err)

		assert.Equal(t, first.ID, second.ID)
	})
}

func TestAssign(t *testing.T) {
	ctx := context.Background()

	t.Run("assigns an unassigned open session", func(t *testing.T) {
		sessions := newFakeSessionRepo()
		svc, _ := newSessionService(sessions, newFakeMessageRepo(), newFakeConnectionRepo())

		created, _ := svc.EnsureSession(ctx, model.CreateSessionParams{Kind: model.SessionKindSupport, UserEmail: "u@x.io"})

		assigned, err := svc.Assign(ctx, created.ID, "agent@x.io")
		require.NoError(t, err)
		require.NotNil(t, assigned.AgentEmail)
		assert.Equal(t, "agent@x.io", *assigned.AgentEmail)
	})

	t.Run("first assignee wins", func(t *testing.T) {
		sessions := newFakeSessionRepo()
		svc, _ := newSessionService(sessions, newFakeMessageRepo(), newFakeConnectionRepo())

		created, _ := svc.EnsureSession(ctx, model.CreateSessionParams{Kind: model.SessionKindSupport, UserEmail: "u@x.io"})

		_, err := svc.Assign(ctx, created.ID, "first@x.io")
		require.NoError(t, err)

		_, err = svc.Assign(ctx, created.ID, "second@x.io")
		require.Error(t, err)
		assert.Equal(t, apperrors.ErrCodeAlreadyAssigned, apperrors.GetCode(err))

		current, _ := svc.FindByID(ctx, created.ID)
		assert.Equal(t, "first@x.io", *current.AgentEmail)
	})

	t.Run("concurrent assignment records exactly one agent", func(t *testing.T) {
		sessions := newFakeSessionRepo()
		svc, _ := newSessionService(sessions, newFakeMessageRepo(), newFakeConnectionRepo())

		created, _ := svc.EnsureSession(ctx, model.CreateSessionParams{Kind: model.SessionKindSupport, UserEmail: "u@x.io"})

		var wg sync.WaitGroup
		var mu sync.Mutex
		winners := 0
		for _, agent := range []string{"a1@x.io", "a2@x.io", "a3@x.io", "a4@x.io"} {
			agent := agent
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := svc.Assign(ctx, created.ID, agent); err == nil {
					mu.Lock()
					winners++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()

		assert.Equal(t, 1, winners)
	})

	t.Run("rejects assignment of closed session", func(t *testing.T) {
		sessions := newFakeSessionRepo()
		svc, _ := newSessionService(sessions, newFakeMessageRepo(), newFakeConnectionRepo())

		created, _ := svc.EnsureSession(ctx, model.CreateSessionParams{Kind: model.SessionKindSupport, UserEmail: "u@x.io"})
		_, err := svc.Close(ctx, created.ID, "agent@x.io")
		require.NoError(t, err)

		_, err = svc.Assign(ctx, created.ID, "agent@x.io")
		require.Error(t, err)
		assert.Equal(t, apperrors.ErrCodeSessionClosed, apperrors.GetCode(err))
	})

	t.Run("unknown session is not found", func(t *testing.T) {
		svc, _ := newSessionService(newFakeSessionRepo(), newFakeMessageRepo(), newFakeConnectionRepo())

		_, err := svc.Assign(ctx, "missing", "agent@x.io")
		require.Error(t, err)
		assert.Equal(t, apperrors.ErrCodeNotFound, apperrors.GetCode(err))
	})
}

func TestClose(t *testing.T) {
	ctx := context.Background()

	t.Run("broadcasts chatClosed to the session room", func(t *testing.T) {
		sessions := newFakeSessionRepo()
		svc, hub := newSessionService(sessions, newFakeMessageRepo(), newFakeConnectionRepo())

		created, _ := svc.EnsureSession(ctx, model.CreateSessionParams{Kind: model.SessionKindSupport, UserEmail: "u@x.io"})

		member := hub.Subscribe(created.ID)
		defer hub.Unsubscribe(member)

		_, err := svc.Close(ctx, created.ID, "agent@x.io")
		require.NoError(t, err)

		event := <-member.Events
		assert.Equal(t, relay.EventChatClosed, event.Type)

		var payload relay.ClosedPayload
		require.NoError(t, json.Unmarshal(event.Data, &payload))
		assert.Equal(t, created.ID, payload.SessionID)
		assert.Equal(t, "agent@x.io", payload.ClosedBy)
	})

	t.Run("closing twice reports session closed", func(t *testing.T) {
		sessions := newFakeSessionRepo()
		svc, _ := newSessionService(sessions, newFakeMessageRepo(), newFakeConnectionRepo())

		created, _ := svc.EnsureSession(ctx, model.CreateSessionParams{Kind: model.SessionKindSupport, UserEmail: "u@x.io"})
		_, err := svc.Close(ctx, created.ID, "agent@x.io")
		require.NoError(t, err)

		_, err = svc.Close(ctx, created.ID, "agent@x.io")
		require.Error(t, err)
		assert.Equal(t, apperrors.ErrCodeSessionClosed, apperrors.GetCode(err))
	})
}

func TestClear(t *testing.T) {
	ctx := context.Background()

	t.Run("mints a fresh session id", func(t *testing.T) {
		sessions := newFakeSessionRepo()
		svc, _ := newSessionService(sessions, newFakeMessageRepo(), newFakeConnectionRepo())

		created, _ := svc.EnsureSession(ctx, model.CreateSessionParams{Kind: model.SessionKindSupport, UserEmail: "u@x.io"})

		replacement, err := svc.Clear(ctx, created.ID, "u@x.io")
		require.NoError(t, err)
		assert.NotEqual(t, created.ID, replacement.ID)
		assert.Equal(t, model.SessionStatusOpen, replacement.Status)
		assert.Nil(t, replacement.AgentEmail)

		old, _ := svc.FindByID(ctx, created.ID)
		assert.Equal(t, model.SessionStatusClosed, old.Status)
	})

	t.Run("replacement keeps the participant pair", func(t *testing.T) {
		sessions := newFakeSessionRepo()
		svc, _ := newSessionService(sessions, newFakeMessageRepo(), newFakeConnectionRepo())

		created, _ := svc.EnsureSession(ctx, model.CreateSessionParams{Kind: model.SessionKindSupport, UserEmail: "u@x.io"})
		replacement, err := svc.Clear(ctx, created.ID, "u@x.io")
		require.NoError(t, err)

		assert.Equal(t, created.UserEmail, replacement.UserEmail)
		assert.Equal(t, created.ParticipantKey, replacement.ParticipantKey)

		// EnsureSession now resolves to the replacement.
		resolved, err := svc.EnsureSession(ctx, model.CreateSessionParams{Kind: model.SessionKindSupport, UserEmail: "u@x.io"})
		require.NoError(t, err)
		assert.Equal(t, replacement.ID, resolved.ID)
	})

	t.Run("clearing a closed session fails", func(t *testing.T) {
		sessions := newFakeSessionRepo()
		svc, _ := newSessionService(sessions, newFakeMessageRepo(), newFakeConnectionRepo())

		created, _ := svc.EnsureSession(ctx, model.CreateSessionParams{Kind: model.SessionKindSupport, UserEmail: "u@x.io"})
		_, err := svc.Close(ctx, created.ID, "u@x.io")
		require.NoError(t, err)

		_, err = svc.Clear(ctx, created.ID, "u@x.io")
		require.Error(t, err)
		assert.Equal(t, apperrors.ErrCodeSessionClosed, apperrors.GetCode(err))
	})
}

func TestOpenRooms(t *testing.T) {
	ctx := context.Background()

	sessions := newFakeSessionRepo()
	messages := newFakeMessageRepo()
	svc, _ := newSessionService(sessions, messages, newFakeConnectionRepo())

	created, _ := svc.EnsureSession(ctx, model.CreateSessionParams{Kind: model.SessionKindSupport, UserEmail: "u@x.io"})
	_, err := svc.Assign(ctx, created.ID, "agent@x.io")
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := messages.Create(ctx, model.CreateMessageParams{
			SessionID: created.ID,
			Sender:    "u@x.io",
			Origin:    model.OriginUser,
			Text:      "hello",
		})
		require.NoError(t, err)
	}

	rooms, err := svc.OpenRooms(ctx, 50, 0)
	require.NoError(t, err)
	require.Len(t, rooms, 1)
	assert.Equal(t, created.ID, rooms[0].Session.ID)
	assert.Equal(t, 3, rooms[0].UnreadCount)
	require.NotNil(t, rooms[0].LastMessage)
	assert.Equal(t, "hello", rooms[0].LastMessage.Text)
}
