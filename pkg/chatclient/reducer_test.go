package chatclient

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/escrowly/chat-relay-go/internal/model"
)

func strPtr(s string) *string { return &s }

func TestApply_AppendsNewMessage(t *testing.T) {
	incoming := model.Message{ID: "m1", Sender: "a@example.com", Text: "hello", CreatedAt: time.Now()}

	entries := Apply(nil, incoming)

	require.Len(t, entries, 1)
	assert.Equal(t, "m1", entries[0].Message.ID)
	assert.False(t, entries[0].Pending)
}

func TestApply_DiscardsDuplicateID(t *testing.T) {
	msg := model.Message{ID: "m1", Sender: "a@example.com", Text: "hello", CreatedAt: time.Now()}
	entries := Apply(nil, msg)

	entries = Apply(entries, msg)
	entries = Apply(entries, msg)

	assert.Len(t, entries, 1)
}

func TestApply_UpgradesOptimisticByClientID(t *testing.T) {
	now := time.Now()
	optimistic := Entry{
		Message: model.Message{Sender: "u@example.com", Text: "hello", ClientID: strPtr("c1"), CreatedAt: now},
		Pending: true,
	}
	other := Entry{Message: model.Message{ID: "m9", Sender: "agent@example.com", Text: "hi", CreatedAt: now}}
	entries := []Entry{optimistic, other}

	echo := model.Message{ID: "m42", Sender: "u@example.com", Text: "hello", ClientID: strPtr("c1"), CreatedAt: now}
	entries = Apply(entries, echo)

	require.Len(t, entries, 2)
	// position preserved, id picked up, pending flag cleared
	assert.Equal(t, "m42", entries[0].Message.ID)
	assert.False(t, entries[0].Pending)
	assert.Equal(t, "m9", entries[1].Message.ID)
}

func TestApply_FailedEntryStillUpgrades(t *testing.T) {
	entries := []Entry{{
		Message: model.Message{Sender: "u@example.com", Text: "hello", ClientID: strPtr("c1"), CreatedAt: time.Now()},
		Failed:  true,
	}}

	echo := model.Message{ID: "m1", Sender: "u@example.com", Text: "hello", ClientID: strPtr("c1"), CreatedAt: time.Now()}
	entries = Apply(entries, echo)

	require.Len(t, entries, 1)
	assert.False(t, entries[0].Failed)
	assert.Equal(t, "m1", entries[0].Message.ID)
}

func TestApply_FallbackMatchOnSenderTextTime(t *testing.T) {
	now := time.Now()
	entries := []Entry{{
		Message: model.Message{Sender: "u@example.com", Text: "hello", CreatedAt: now},
		Pending: true,
	}}

	// echo lost its clientId but lands within the match window
	echo := model.Message{ID: "m1", Sender: "u@example.com", Text: "hello", CreatedAt: now.Add(2 * time.Second)}
	entries = Apply(entries, echo)

	require.Len(t, entries, 1)
	assert.Equal(t, "m1", entries[0].Message.ID)
}

func TestApply_FallbackDoesNotMatchOutsideWindow(t *testing.T) {
	now := time.Now()
	entries := []Entry{{
		Message: model.Message{Sender: "u@example.com", Text: "hello", CreatedAt: now},
		Pending: true,
	}}

	later := model.Message{ID: "m1", Sender: "u@example.com", Text: "hello", CreatedAt: now.Add(time.Minute)}
	entries = Apply(entries, later)

	assert.Len(t, entries, 2)
}

func TestApply_FetchThenLiveOverlap(t *testing.T) {
	// a message seen in a history fetch and again as a live broadcast
	// produces one bubble
	now := time.Now()
	hi := model.Message{ID: "m1", Sender: "agent@example.com", Text: "hi", CreatedAt: now}

	var entries []Entry
	for _, msg := range []model.Message{hi} { // history fetch
		entries = Apply(entries, msg)
	}
	entries = Apply(entries, hi) // live event

	assert.Len(t, entries, 1)
}

func TestApply_OfflineEchoSingleBubble(t *testing.T) {
	// optimistic "hello" with clientId c1, then the buffered canonical
	// echo after a reconnect: exactly one bubble, carrying id m42
	now := time.Now()
	entries := []Entry{{
		Message: model.Message{Sender: "u@example.com", Text: "hello", ClientID: strPtr("c1"), CreatedAt: now},
		Pending: true,
	}}

	echo := model.Message{ID: "m42", Sender: "u@example.com", Text: "hello", ClientID: strPtr("c1"), CreatedAt: now}
	entries = Apply(entries, echo)

	require.Len(t, entries, 1)
	assert.Equal(t, "m42", entries[0].Message.ID)
	assert.Equal(t, "hello", entries[0].Message.Text)
}

func TestApply_InterleavedUnrelatedMessage(t *testing.T) {
	// optimistic send, unrelated incoming, then the echo: one entry per
	// lineage regardless of arrival order
	now := time.Now()
	var entries []Entry

	entries = append(entries, Entry{
		Message: model.Message{Sender: "u@example.com", Text: "mine", ClientID: strPtr("c1"), CreatedAt: now},
		Pending: true,
	})
	entries = Apply(entries, model.Message{ID: "m7", Sender: "agent@example.com", Text: "theirs", CreatedAt: now})
	entries = Apply(entries, model.Message{ID: "m8", Sender: "u@example.com", Text: "mine", ClientID: strPtr("c1"), CreatedAt: now})

	require.Len(t, entries, 2)
	assert.Equal(t, "m8", entries[0].Message.ID)
	assert.Equal(t, "m7", entries[1].Message.ID)
}

func TestApplyRead(t *testing.T) {
	entries := []Entry{
		{Message: model.Message{ID: "m1", Read: false}},
		{Message: model.Message{ID: "m2", Read: false}},
		{Message: model.Message{ID: "m3", Read: true}},
	}

	changed := ApplyRead(entries, []string{"m1", "m3", "missing"})

	assert.Equal(t, 1, changed)
	assert.True(t, entries[0].Message.Read)
	assert.False(t, entries[1].Message.Read)
}
