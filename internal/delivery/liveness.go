package delivery

import (
	"sync"

	"go.uber.org/zap"

	"github.com/tapchat/tapd/internal/bus"
	"github.com/tapchat/tapd/internal/store"
	"github.com/tapchat/tapd/internal/wire"
)

// Room presence carries liveness as a status word instead of a chat
// state payload.
const (
	WordTyping  = "Typing"
	WordPaused  = "Paused"
	WordGone    = "Gone"
	WordStopped = "Stopped"
	WordRead    = "Read"
)

// StatusWord renders a chat state as its room presence word.
func StatusWord(state wire.ChatState) string {
	switch state {
	case wire.StateComposing:
		return WordTyping
	case wire.StatePaused:
		return WordPaused
	case wire.StateGone:
		return WordGone
	case wire.StateInactive:
		return WordStopped
	case wire.StateActive:
		return WordRead
	}
	return ""
}

// ParseStatusWord is the inverse of StatusWord. Unknown words map to
// the empty state and are ignored by callers.
func ParseStatusWord(word string) wire.ChatState {
	switch word {
	case WordTyping:
		return wire.StateComposing
	case WordPaused:
		return wire.StatePaused
	case WordGone:
		return wire.StateGone
	case WordStopped:
		return wire.StateInactive
	case WordRead:
		return wire.StateActive
	}
	return ""
}

// Liveness tracks the last chat state seen per conversation and keeps
// the conversation's composing flag in the store current. Apply is
// idempotent: repeated states do not re-emit.
type Liveness struct {
	mu     sync.Mutex
	states map[string]wire.ChatState

	db     store.Storage
	bus    *bus.Bus
	logger *zap.Logger
}

func NewLiveness(db store.Storage, b *bus.Bus, logger *zap.Logger) *Liveness {
	return &Liveness{
		states: map[string]wire.ChatState{},
		db:     db,
		bus:    b,
		logger: logger,
	}
}

// LivenessChange is the bus payload for a liveness transition.
type LivenessChange struct {
	Conversation string
	Sender       string
	SenderName   string
	State        wire.ChatState
}

// Apply records a peer's state for the conversation. senderName is the
// display name shown next to the composing indicator in group chats.
func (l *Liveness) Apply(conversation, sender, senderName string, state wire.ChatState) bool {
	l.mu.Lock()
	prev := l.states[conversation]
	if prev == state {
		l.mu.Unlock()
		return false
	}
	l.states[conversation] = state
	l.mu.Unlock()

	composing := state == wire.StateComposing
	if err := l.db.SetPeerComposing(conversation, composing, senderName); err != nil {
		l.logger.Warn("persist composing flag failed",
			zap.String("conversation", conversation), zap.Error(err))
	}
	l.bus.Emit(bus.KindLivenessChanged, LivenessChange{
		Conversation: conversation,
		Sender:       sender,
		SenderName:   senderName,
		State:        state,
	})
	return true
}

// Forget drops the tracked state, typically on disconnect, so the next
// signal after reconnect always re-emits.
func (l *Liveness) Forget(conversation string) {
	l.mu.Lock()
	delete(l.states, conversation)
	l.mu.Unlock()
}
