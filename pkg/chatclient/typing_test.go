package chatclient

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type typingRecorder struct {
	mu    sync.Mutex
	emits []bool
}

func (r *typingRecorder) emit(typing bool) {
	r.mu.Lock()
	r.emits = append(r.emits, typing)
	r.mu.Unlock()
}

func (r *typingRecorder) snapshot() []bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]bool(nil), r.emits...)
}

func newTestSignaler(rec *typingRecorder) *TypingSignaler {
	s := NewTypingSignaler(rec.emit)
	s.debounce = 50 * time.Millisecond
	s.idleGap = 30 * time.Millisecond
	return s
}

func TestTypingSignaler_DebouncesBursts(t *testing.T) {
	rec := &typingRecorder{}
	s := newTestSignaler(rec)
	defer s.Stop()

	// a fast burst collapses to one typing emit
	for i := 0; i < 10; i++ {
		s.Keystroke()
		time.Sleep(2 * time.Millisecond)
	}
	assert.Equal(t, []bool{true}, rec.snapshot())

	// past the debounce window the next keystroke re-emits
	time.Sleep(60 * time.Millisecond)
	s.Keystroke()
	snap := rec.snapshot()
	assert.Equal(t, true, snap[len(snap)-1])
}

func TestTypingSignaler_SingleStopAfterIdle(t *testing.T) {
	rec := &typingRecorder{}
	s := newTestSignaler(rec)
	defer s.Stop()

	s.Keystroke()
	time.Sleep(10 * time.Millisecond)
	s.Keystroke() // pushes the idle timer back

	require.Eventually(t, func() bool {
		snap := rec.snapshot()
		return len(snap) == 2 && !snap[1]
	}, time.Second, 5*time.Millisecond)

	// idle already fired once, no second stopTyping
	time.Sleep(50 * time.Millisecond)
	assert.Len(t, rec.snapshot(), 2)
}

func TestTypingSignaler_StopEmitsImmediately(t *testing.T) {
	rec := &typingRecorder{}
	s := newTestSignaler(rec)

	s.Keystroke()
	s.Stop()
	assert.Equal(t, []bool{true, false}, rec.snapshot())

	// a second Stop while inactive is silent
	s.Stop()
	assert.Len(t, rec.snapshot(), 2)
}

func TestTypingSignaler_StopWithoutKeystrokeIsSilent(t *testing.T) {
	rec := &typingRecorder{}
	s := newTestSignaler(rec)

	s.Stop()
	assert.Empty(t, rec.snapshot())
}

func TestPeerTyping_AutoExpires(t *testing.T) {
	p := newPeerTyping()
	p.expiry = 30 * time.Millisecond

	p.set()
	assert.True(t, p.get())

	require.Eventually(t, func() bool { return !p.get() }, time.Second, 5*time.Millisecond)
}

func TestPeerTyping_RepeatedSetExtendsExpiry(t *testing.T) {
	p := newPeerTyping()
	p.expiry = 40 * time.Millisecond

	p.set()
	time.Sleep(25 * time.Millisecond)
	p.set() // re-arms the timer
	time.Sleep(25 * time.Millisecond)
	assert.True(t, p.get(), "second signal keeps the flag alive past the first deadline")

	require.Eventually(t, func() bool { return !p.get() }, time.Second, 5*time.Millisecond)
}

func TestPeerTyping_ClearWinsOverPendingExpiry(t *testing.T) {
	p := newPeerTyping()
	p.expiry = time.Minute

	p.set()
	p.clear()
	assert.False(t, p.get())
}
