package delivery

import (
	"context"
	"sync"
	"time"

	"github.com/tapchat/tapd/internal/wire"
)

// pauseAfter is how long after the last keystroke the peer is told the
// user paused.
const pauseAfter = 1500 * time.Millisecond

// SendState delivers one chat state to a conversation. Direct chats
// send a chat state payload; rooms send the status word.
type SendState func(conversation string, state wire.ChatState)

// Typist debounces the local user's keystrokes into composing/paused
// signals. The first keystroke sends composing immediately; silence
// for pauseAfter sends paused. The privacy settings are enforced here,
// per state, so callers never check them themselves: showTyping gates
// composing and paused, showReceipts gates active, and gone always
// goes out because the peer must learn the conversation was closed.
type Typist struct {
	send         SendState
	delay        time.Duration
	showTyping   bool
	showReceipts bool

	mu     sync.Mutex
	timers map[string]*time.Timer
}

func NewTypist(send SendState, showTyping, showReceipts bool) *Typist {
	return &Typist{
		send:         send,
		delay:        pauseAfter,
		showTyping:   showTyping,
		showReceipts: showReceipts,
		timers:       map[string]*time.Timer{},
	}
}

func (t *Typist) allowed(state wire.ChatState) bool {
	switch state {
	case wire.StateComposing, wire.StatePaused:
		return t.showTyping
	case wire.StateActive:
		return t.showReceipts
	default:
		return true
	}
}

// Keystroke notes input activity in the conversation.
func (t *Typist) Keystroke(conversation string) {
	if !t.showTyping {
		return
	}
	t.mu.Lock()
	timer, active := t.timers[conversation]
	if active {
		timer.Reset(t.delay)
		t.mu.Unlock()
		return
	}
	t.timers[conversation] = time.AfterFunc(t.delay, func() {
		t.mu.Lock()
		delete(t.timers, conversation)
		t.mu.Unlock()
		t.send(conversation, wire.StatePaused)
	})
	t.mu.Unlock()
	t.send(conversation, wire.StateComposing)
}

// Done flushes the conversation immediately, sending the given final
// state (active after sending a message, gone when leaving the view).
// The pending paused timer is cancelled even when the state itself is
// suppressed.
func (t *Typist) Done(conversation string, state wire.ChatState) {
	t.mu.Lock()
	if timer, ok := t.timers[conversation]; ok {
		timer.Stop()
		delete(t.timers, conversation)
	}
	t.mu.Unlock()
	if t.allowed(state) {
		t.send(conversation, state)
	}
}

// Shutdown cancels all pending timers.
func (t *Typist) Shutdown(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	for id, timer := range t.timers {
		timer.Stop()
		delete(t.timers, id)
	}
	return nil
}
