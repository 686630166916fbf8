package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/escrowly/chat-relay-go/internal/database"
	"github.com/escrowly/chat-relay-go/internal/model"
	"github.com/escrowly/chat-relay-go/internal/repository"
)

// passthroughTx satisfies TxRunner without a database; the fakes ignore
// transactions entirely.
type passthroughTx struct{}

func (passthroughTx) WithTx(_ context.Context, fn database.TxFunc) error {
	return fn(nil)
}

type fakeSessionRepo struct {
	mu       sync.Mutex
	sessions map[string]*model.Session
	seq      int
}

func newFakeSessionRepo() *fakeSessionRepo {
	return &fakeSessionRepo{sessions: make(map[string]*model.Session)}
}

func (r *fakeSessionRepo) WithTx(_ *sqlx.Tx) repository.SessionRepository { return r }

func (r *fakeSessionRepo) FindByID(_ context.Context, id string) (*model.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[id]; ok {
		copied := *s
		return &copied, nil
	}
	return nil, nil
}

func (r *fakeSessionRepo) FindOpenByParticipantKey(_ context.Context, key string) (*model.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.sessions {
		if s.ParticipantKey == key && s.Status == model.SessionStatusOpen {
			copied := *s
			return &copied, nil
		}
	}
	return nil, nil
}

func (r *fakeSessionRepo) Create(_ context.Context, params model.CreateSessionParams) (*model.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := model.ParticipantKey(params.Kind, params.UserEmail, params.PeerEmail)
	for _, s := range r.sessions {
		if s.ParticipantKey == key && s.Status == model.SessionStatusOpen {
			copied := *s
			return &copied, nil
		}
	}

	r.seq++
	now := time.Now()
	session := &model.Session{
		ID:             fmt.Sprintf("sess-%d", r.seq),
		Kind:           params.Kind,
		UserEmail:      params.UserEmail,
		PeerEmail:      params.PeerEmail,
		ParticipantKey: key,
		Status:         model.SessionStatusOpen,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	r.sessions[session.ID] = session
	copied := *session
	return &copied, nil
}

func (r *fakeSessionRepo) ListByStatus(_ context.Context, status model.SessionStatus, limit, offset int) ([]model.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.Session
	for _, s := range r.sessions {
		if s.Status == status {
			out = append(out, *s)
		}
	}
	return out, nil
}

func (r *fakeSessionRepo) ListClosedByAgent(_ context.Context, agentEmail string, limit, offset int) ([]model.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.Session
	for _, s := range r.sessions {
		if s.Status == model.SessionStatusClosed && s.AgentEmail != nil && *s.AgentEmail == agentEmail {
			out = append(out, *s)
		}
	}
	return out, nil
}

func (r *fakeSessionRepo) ListClosedByUser(_ context.Context, userEmail string, limit, offset int) ([]model.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.Session
	for _, s := range r.sessions {
		if s.Status == model.SessionStatusClosed &&
			(s.UserEmail == userEmail || (s.PeerEmail != nil && *s.PeerEmail == userEmail)) {
			out = append(out, *s)
		}
	}
	return out, nil
}

func (r *fakeSessionRepo) Assign(_ context.Context, id string, agentEmail string) (*model.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok || s.Status != model.SessionStatusOpen || s.AgentEmail != nil {
		return nil, nil
	}
	s.AgentEmail = &agentEmail
	s.UpdatedAt = time.Now()
	copied := *s
	return &copied, nil
}

func (r *fakeSessionRepo) Close(_ context.Context, id string) (*model.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok || s.Status != model.SessionStatusOpen {
		return nil, nil
	}
	now := time.Now()
	s.Status = model.SessionStatusClosed
	s.ClosedAt = &now
	s.UpdatedAt = now
	copied := *s
	return &copied, nil
}

func (r *fakeSessionRepo) Touch(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[id]; ok {
		s.UpdatedAt = time.Now()
	}
	return nil
}

func (r *fakeSessionRepo) CloseIdleSince(_ context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	now := time.Now()
	for _, s := range r.sessions {
		if s.Status == model.SessionStatusOpen && s.UpdatedAt.Before(cutoff) {
			s.Status = model.SessionStatusClosed
			s.ClosedAt = &now
			n++
		}
	}
	return n, nil
}

func (r *fakeSessionRepo) DeleteClosedBefore(_ context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for id, s := range r.sessions {
		if s.Status == model.SessionStatusClosed && s.ClosedAt != nil && s.ClosedAt.Before(cutoff) {
			delete(r.sessions, id)
			n++
		}
	}
	return n, nil
}

func (r *fakeSessionRepo) CountByStatus(_ context.Context, status model.SessionStatus) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, s := range r.sessions {
		if s.Status == status {
			n++
		}
	}
	return n, nil
}

type fakeMessageRepo struct {
	mu       sync.Mutex
	messages []*model.Message
	seq      int
}

func newFakeMessageRepo() *fakeMessageRepo {
	return &fakeMessageRepo{}
}

func (r *fakeMessageRepo) FindByID(_ context.Context, id string) (*model.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.messages {
		if m.ID == id {
			copied := *m
			return &copied, nil
		}
	}
	return nil, nil
}

func (r *fakeMessageRepo) ListBySessionID(_ context.Context, sessionID string) ([]model.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.Message
	for _, m := range r.messages {
		if m.SessionID == sessionID {
			out = append(out, *m)
		}
	}
	return out, nil
}

func (r *fakeMessageRepo) LastBySessionID(_ context.Context, sessionID string) (*model.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.messages) - 1; i >= 0; i-- {
		if r.messages[i].SessionID == sessionID {
			copied := *r.messages[i]
			return &copied, nil
		}
	}
	return nil, nil
}

func (r *fakeMessageRepo) Create(_ context.Context, params model.CreateMessageParams) (*model.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	sentAt := params.SentAt
	if sentAt.IsZero() {
		sentAt = time.Now()
	}
	msg := &model.Message{
		ID:        fmt.Sprintf("msg-%d", r.seq),
		SessionID: params.SessionID,
		Sender:    params.Sender,
		Origin:    params.Origin,
		Text:      params.Text,
		FileURL:   params.FileURL,
		FileType:  params.FileType,
		ClientID:  params.ClientID,
		CreatedAt: sentAt,
	}
	r.messages = append(r.messages, msg)
	copied := *msg
	return &copied, nil
}

func (r *fakeMessageRepo) MarkRead(_ context.Context, sessionID string, ids []string, reader string) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	idSet := make(map[string]bool, len(ids))
	for _, id := range ids {
		idSet[id] = true
	}
	var updated []string
	for _, m := range r.messages {
		if m.SessionID == sessionID && idSet[m.ID] && m.Sender != reader && !m.Read {
			m.Read = true
			updated = append(updated, m.ID)
		}
	}
	return updated, nil
}

func (r *fakeMessageRepo) CountUnread(_ context.Context, sessionID string, reader string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, m := range r.messages {
		if m.SessionID == sessionID && m.Sender != reader && !m.Read {
			n++
		}
	}
	return n, nil
}

func (r *fakeMessageRepo) CountBySessionID(_ context.Context, sessionID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, m := range r.messages {
		if m.SessionID == sessionID {
			n++
		}
	}
	return n, nil
}

func (r *fakeMessageRepo) DeleteBySessionIDsBefore(_ context.Context, cutoff time.Time) (int64, error) {
	return 0, nil
}

type fakeConnectionRepo struct {
	mu    sync.Mutex
	conns map[string]*model.Connection
	seq   int
}

func newFakeConnectionRepo() *fakeConnectionRepo {
	return &fakeConnectionRepo{conns: make(map[string]*model.Connection)}
}

func (r *fakeConnectionRepo) FindByID(_ context.Context, id string) (*model.Connection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.conns[id]; ok {
		copied := *c
		return &copied, nil
	}
	return nil, nil
}

func (r *fakeConnectionRepo) FindByUsers(_ context.Context, userA, userB string) (*model.Connection, error) {
	a, b := model.SortPair(userA, userB)
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.conns {
		if c.UserA == a && c.UserB == b {
			copied := *c
			return &copied, nil
		}
	}
	return nil, nil
}

func (r *fakeConnectionRepo) ListByUser(_ context.Context, email string) ([]model.Connection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.Connection
	for _, c := range r.conns {
		if c.UserA == email || c.UserB == email {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (r *fakeConnectionRepo) Create(_ context.Context, params model.CreateConnectionParams) (*model.Connection, error) {
	a, b := model.SortPair(params.UserA, params.UserB)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	conn := &model.Connection{
		ID:          fmt.Sprintf("conn-%d", r.seq),
		UserA:       a,
		UserB:       b,
		RequestedBy: params.RequestedBy,
		Status:      model.ConnectionStatusPending,
		CreatedAt:   time.Now(),
	}
	r.conns[conn.ID] = conn
	copied := *conn
	return &copied, nil
}

func (r *fakeConnectionRepo) Accept(_ context.Context, id string) (*model.Connection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.conns[id]
	if !ok || c.Status != model.ConnectionStatusPending {
		return nil, nil
	}
	now := time.Now()
	c.Status = model.ConnectionStatusAccepted
	c.AcceptedAt = &now
	copied := *c
	return &copied, nil
}
