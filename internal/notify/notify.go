// Package notify decides whether an incoming message becomes a user
// visible notification. The daemon renders nothing itself; it emits
// notification requests on the bus and lets frontends display them.
package notify

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tapchat/tapd/internal/bus"
	"github.com/tapchat/tapd/internal/config"
	"github.com/tapchat/tapd/internal/store"
	"github.com/tapchat/tapd/internal/timeutil"
)

// Lifecycle tracks whether a frontend is in the foreground and which
// conversation it is showing. Frontends report transitions over the
// control surface.
type Lifecycle struct {
	mu         sync.Mutex
	foreground bool
	active     string
}

func NewLifecycle() *Lifecycle { return &Lifecycle{} }

func (l *Lifecycle) SetForeground(fg bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.foreground = fg
	if !fg {
		l.active = ""
	}
}

// SetActive records the conversation currently on screen. Empty means
// no conversation view is open.
func (l *Lifecycle) SetActive(conversation string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.active = conversation
}

// Foreground reports whether a frontend currently has the user's
// attention.
func (l *Lifecycle) Foreground() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.foreground
}

// Viewing reports whether the user is looking at the conversation
// right now.
func (l *Lifecycle) Viewing(conversation string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.foreground && l.active == conversation
}

// Request is the bus payload asking a frontend to show a notification.
// Silent requests render without sound or banner.
type Request struct {
	Conversation string
	Title        string
	Body         string
	Silent       bool
}

// Policy applies the suppression rules in order: a foregrounded
// frontend wins, then per-conversation silencing, then the global
// group mute. Anything that survives is emitted, silently when the
// user is outside their availability window.
type Policy struct {
	cfg    *config.Config
	db     store.Storage
	life   *Lifecycle
	bus    *bus.Bus
	logger *zap.Logger

	now func() time.Time
}

func NewPolicy(cfg *config.Config, db store.Storage, life *Lifecycle, b *bus.Bus, logger *zap.Logger) *Policy {
	return &Policy{cfg: cfg, db: db, life: life, bus: b, logger: logger, now: time.Now}
}

// Notify runs the policy for one stored message. Returns whether a
// request was emitted.
func (p *Policy) Notify(conversation, title, body string, isGroup bool) bool {
	// The user is already looking at a frontend; whatever thread it
	// shows, a banner would be noise.
	if p.life.Foreground() {
		return false
	}
	conv, err := p.db.GetConversation(conversation)
	if err != nil {
		p.logger.Warn("notify lookup failed", zap.String("conversation", conversation), zap.Error(err))
	}
	if conv != nil && conv.IsSilenced {
		return false
	}
	if isGroup && p.cfg.SilenceGroupChats {
		return false
	}

	now := p.now()
	win := p.cfg.Availability.Windows()[timeutil.Weekday(now)-1]
	silent := !timeutil.WithinWindow(now, win.Start, win.End)

	p.bus.Emit(bus.KindNotifyRequest, Request{
		Conversation: conversation,
		Title:        title,
		Body:         body,
		Silent:       silent,
	})
	return true
}
