package chatclient

import (
	"sync"
	"time"

	"github.com/escrowly/chat-relay-go/internal/config"
)

// TypingSignaler debounces outgoing typing signals. Keystrokes collapse to
// at most one typing emit per debounce window, and exactly one stopTyping
// fires after the idle gap, no matter how many pauses preceded it.
type TypingSignaler struct {
	emit func(typing bool)

	debounce time.Duration
	idleGap  time.Duration

	mu        sync.Mutex
	lastEmit  time.Time
	idleTimer *time.Timer
	active    bool
}

func NewTypingSignaler(emit func(typing bool)) *TypingSignaler {
	return &TypingSignaler{
		emit:     emit,
		debounce: config.TypingDebounce,
		idleGap:  config.TypingIdleGap,
	}
}

// Keystroke records input activity. The first keystroke (and the first
// after each debounce window) emits typing; the idle timer is pushed back
// on every call.
func (t *TypingSignaler) Keystroke() {
	t.mu.Lock()

	now := time.Now()
	shouldEmit := !t.active || now.Sub(t.lastEmit) >= t.debounce
	if shouldEmit {
		t.lastEmit = now
		t.active = true
	}

	if t.idleTimer != nil {
		t.idleTimer.Stop()
	}
	t.idleTimer = time.AfterFunc(t.idleGap, t.idle)

	t.mu.Unlock()

	if shouldEmit {
		t.emit(true)
	}
}

func (t *TypingSignaler) idle() {
	t.mu.Lock()
	wasActive := t.active
	t.active = false
	t.mu.Unlock()

	if wasActive {
		t.emit(false)
	}
}

// Stop cancels the pending idle timer and, when typing was active, emits
// the final stopTyping immediately. Used when a message is sent or the
// session closes mid-composition.
func (t *TypingSignaler) Stop() {
	t.mu.Lock()
	if t.idleTimer != nil {
		t.idleTimer.Stop()
		t.idleTimer = nil
	}
	wasActive := t.active
	t.active = false
	t.mu.Unlock()

	if wasActive {
		t.emit(false)
	}
}

// peerTyping tracks the incoming flag. A typing signal arms an auto-expiry
// timer; stopTyping clears immediately. Whichever signal lands last wins.
type peerTyping struct {
	mu     sync.Mutex
	typing bool
	expiry time.Duration
	timer  *time.Timer
}

func newPeerTyping() *peerTyping {
	return &peerTyping{expiry: config.TypingExpiry}
}

func (p *peerTyping) set() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.typing = true
	if p.timer != nil {
		p.timer.Stop()
	}
	p.timer = time.AfterFunc(p.expiry, p.clear)
}

func (p *peerTyping) clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.typing = false
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
}

func (p *peerTyping) get() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.typing
}
