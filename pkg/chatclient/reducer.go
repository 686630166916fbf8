package chatclient

import (
	"time"

	"github.com/escrowly/chat-relay-go/internal/model"
)

// Entry is one timeline item. Pending marks an optimistic local copy still
// waiting for its canonical echo; Failed marks a send whose ack errored or
// timed out. A failed entry stays visible until retried or the session is
// discarded.
type Entry struct {
	model.Message
	Pending bool
	Failed  bool
}

// fallbackMatchWindow bounds the last-resort (sender, text, time) match.
// Client and server stamp times independently, so exact equality is not
// usable.
const fallbackMatchWindow = 5 * time.Second

// Apply reconciles one incoming message against the timeline and returns
// the updated timeline. Matching order:
//
//  1. server id already present: duplicate delivery, discard
//  2. clientId matches an entry: replace in place, keeping the timeline
//     position, so the optimistic copy upgrades to the canonical one
//  3. (sender, text, time) matches a pending entry: same upgrade, for
//     echoes whose clientId was lost along the way
//  4. otherwise append
//
// History fetches and the poll fallback feed every fetched message through
// this same function, so a live event racing a fetch can never double an
// entry.
func Apply(entries []Entry, incoming model.Message) []Entry {
	if incoming.ID != "" {
		for _, e := range entries {
			if e.Message.ID == incoming.ID {
				return entries
			}
		}
	}

	if incoming.ClientID != nil {
		for i, e := range entries {
			if e.Message.ClientID != nil && *e.Message.ClientID == *incoming.ClientID {
				entries[i] = Entry{Message: incoming}
				return entries
			}
		}
	}

	for i, e := range entries {
		if e.Pending && e.Message.ID == "" &&
			e.Message.Sender == incoming.Sender &&
			e.Message.Text == incoming.Text &&
			absDuration(e.Message.CreatedAt.Sub(incoming.CreatedAt)) <= fallbackMatchWindow {
			entries[i] = Entry{Message: incoming}
			return entries
		}
	}

	return append(entries, Entry{Message: incoming})
}

// ApplyRead flips read=true on entries whose id is in ids. Returns the
// number of entries changed.
func ApplyRead(entries []Entry, ids []string) int {
	changed := 0
	for _, id := range ids {
		for i := range entries {
			if entries[i].Message.ID == id && !entries[i].Message.Read {
				entries[i].Message.Read = true
				changed++
			}
		}
	}
	return changed
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
