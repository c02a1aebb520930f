// Package session owns the broker connection lifecycle: connect,
// authenticate, announce presence, keep the link alive, and reconnect
// after unintentional drops. Inbound traffic is dispatched to a
// Handler; the session itself only consumes presence of bare contacts.
package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tapchat/tapd/internal/bus"
	"github.com/tapchat/tapd/internal/config"
	"github.com/tapchat/tapd/internal/directory"
	"github.com/tapchat/tapd/internal/identity"
	"github.com/tapchat/tapd/internal/keyvault"
	"github.com/tapchat/tapd/internal/store"
	"github.com/tapchat/tapd/internal/timeutil"
	"github.com/tapchat/tapd/internal/wire"
)

const pingTimeout = 10 * time.Second

// Handler consumes the inbound traffic the session does not handle
// itself. The router implements it.
type Handler interface {
	HandleStanza(ctx context.Context, s *wire.Stanza)
	HandleChatState(ctx context.Context, sc *wire.StateChange)
	HandleRoomPresence(ctx context.Context, p *wire.Presence)
	HandleInvite(ctx context.Context, inv *wire.Invite)
}

// Manager drives the connection state machine.
type Manager struct {
	cfg      *config.Config
	client   wire.Client
	db       store.Storage
	vault    *keyvault.Vault
	profiles directory.ProfileDirectory
	bus      *bus.Bus
	logger   *zap.Logger
	state    *machine

	mu          sync.Mutex
	handler     Handler
	intentional bool
	watched     map[string]bool

	now func() time.Time
}

func NewManager(cfg *config.Config, client wire.Client, db store.Storage,
	vault *keyvault.Vault, profiles directory.ProfileDirectory,
	b *bus.Bus, logger *zap.Logger) *Manager {
	return &Manager{
		cfg:      cfg,
		client:   client,
		db:       db,
		vault:    vault,
		profiles: profiles,
		bus:      b,
		logger:   logger,
		state:    newMachine(b),
		now:      time.Now,
	}
}

// SetHandler wires the inbound traffic consumer. Must be called before
// Run.
func (m *Manager) SetHandler(h Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handler = h
}

// State returns the current connection state.
func (m *Manager) State() State { return m.state.Current() }

// ConnectForReplay dials and authenticates without announcing
// presence or syncing, so the offline queue can be drained before the
// account looks online. GoOnline completes the sequence.
func (m *Manager) ConnectForReplay(ctx context.Context) error {
	if m.state.Current() == Online {
		return nil
	}
	if err := m.state.Transition(Connecting); err != nil {
		return err
	}
	if err := m.client.Connect(ctx); err != nil {
		_ = m.state.Transition(Reconnecting)
		return err
	}
	cred, err := m.cfg.Credential()
	if err != nil {
		_ = m.client.Close()
		_ = m.state.Transition(Offline)
		return err
	}
	if err := m.client.Login(ctx, m.cfg.Identity, cred); err != nil {
		_ = m.client.Close()
		if errors.Is(err, wire.ErrAuthFailed) {
			_ = m.state.Transition(AuthFailed)
			m.bus.Emit(bus.KindSessionAuthFailed, err.Error())
		} else {
			_ = m.state.Transition(Reconnecting)
		}
		return err
	}
	m.mu.Lock()
	m.intentional = false
	m.mu.Unlock()
	return nil
}

// GoOnline publishes the key and profile, syncs the roster, announces
// presence, and marks the session online.
func (m *Manager) GoOnline(ctx context.Context) error {
	if m.state.Current() == Online {
		return nil
	}
	if err := m.vault.VerifyPublishedKey(ctx); err != nil {
		m.logger.Warn("publishing key failed", zap.Error(err))
	}
	if err := m.ensureProfile(ctx); err != nil {
		m.logger.Warn("publishing profile failed", zap.Error(err))
	}
	if err := m.SyncRoster(ctx); err != nil {
		m.logger.Warn("roster sync failed", zap.Error(err))
	}
	if err := m.AnnouncePresence(ctx); err != nil {
		m.logger.Warn("presence announce failed", zap.Error(err))
	}
	if err := m.state.Transition(Online); err != nil {
		return err
	}
	m.bus.Emit(bus.KindSessionConnected, m.cfg.Identity)
	m.logger.Info("session online", zap.String("identity", m.cfg.Identity))
	return nil
}

// Connect is the full sequence: dial, authenticate, go online.
// Idempotent while online.
func (m *Manager) Connect(ctx context.Context) error {
	if m.state.Current() == Online {
		return nil
	}
	if err := m.ConnectForReplay(ctx); err != nil {
		return err
	}
	return m.GoOnline(ctx)
}

// Disconnect closes the link on purpose; no reconnect follows.
func (m *Manager) Disconnect(ctx context.Context) error {
	m.mu.Lock()
	m.intentional = true
	m.mu.Unlock()
	if err := m.client.SendPresence(ctx, false, ""); err != nil && !errors.Is(err, wire.ErrNotConnected) {
		m.logger.Warn("offline presence failed", zap.Error(err))
	}
	return m.client.Close()
}

// AnnouncePresence broadcasts the account's presence. Outside the
// configured availability window the account stays invisible, so
// contacts only see it online during its published hours.
func (m *Manager) AnnouncePresence(ctx context.Context) error {
	now := m.now()
	win := m.cfg.Availability.Windows()[timeutil.Weekday(now)-1]
	online := timeutil.WithinWindow(now, win.Start, win.End)
	return m.client.SendPresence(ctx, online, "")
}

// Run dispatches inbound events until ctx is done. Call exactly once.
func (m *Manager) Run(ctx context.Context) error {
	go m.keepalive(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-m.client.Events():
			m.dispatch(ctx, ev)
		}
	}
}

func (m *Manager) dispatch(ctx context.Context, ev wire.Event) {
	m.mu.Lock()
	h := m.handler
	m.mu.Unlock()
	switch ev.Kind {
	case wire.EventConnected:
		m.logger.Debug("transport connected")
	case wire.EventDisconnected:
		m.onDisconnected(ctx)
	case wire.EventStanza:
		if h != nil {
			h.HandleStanza(ctx, ev.Stanza)
		}
	case wire.EventChatState:
		if h != nil {
			h.HandleChatState(ctx, ev.ChatState)
		}
	case wire.EventPresence:
		if strings.Contains(ev.Presence.From, "/") {
			if h != nil {
				h.HandleRoomPresence(ctx, ev.Presence)
			}
			return
		}
		m.applyPresence(ev.Presence)
	case wire.EventInvite:
		if h != nil {
			h.HandleInvite(ctx, ev.Invite)
		}
	}
}

// applyPresence records a contact's online transition. A contact is
// available when online inside their published window.
func (m *Manager) applyPresence(p *wire.Presence) {
	now := m.now()
	available := false
	if p.Online {
		avail, err := m.db.ContactAvailability(p.From)
		if err == nil {
			available = true
			for _, row := range avail {
				if row.Weekday == timeutil.Weekday(now) {
					available = timeutil.WithinWindow(now, row.Start, row.End)
					break
				}
			}
		}
	}
	err := m.db.SetContactPresence(p.From, p.Online, available,
		timeutil.Date(now), timeutil.Clock(now))
	if err != nil {
		m.logger.Warn("persist presence failed", zap.String("contact", p.From), zap.Error(err))
		return
	}
	m.bus.Emit(bus.KindPresenceChanged, *p)
}

func (m *Manager) onDisconnected(ctx context.Context) {
	m.bus.Emit(bus.KindSessionDisconnected, nil)
	m.mu.Lock()
	intentional := m.intentional
	m.mu.Unlock()
	if intentional {
		_ = m.state.Transition(Offline)
		m.logger.Info("session closed")
		return
	}
	if err := m.state.Transition(Reconnecting); err != nil {
		return
	}
	m.logger.Warn("connection lost, reconnecting")
	go m.reconnectLoop(ctx)
}

// reconnectLoop retries with a fixed delay until the session is back
// online, the attempt budget is spent, or the credentials are refused.
func (m *Manager) reconnectLoop(ctx context.Context) {
	delay := time.Duration(m.cfg.ReconnectDelaySeconds) * time.Second
	for attempt := 1; ; attempt++ {
		if max := m.cfg.ReconnectMaxAttempts; max > 0 && attempt > max {
			m.logger.Error("reconnect attempts exhausted", zap.Int("attempts", max))
			_ = m.state.Transition(Offline)
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
		err := m.Connect(ctx)
		if err == nil {
			return
		}
		if errors.Is(err, wire.ErrAuthFailed) {
			m.logger.Error("reconnect refused, credentials invalid", zap.Error(err))
			return
		}
		m.logger.Warn("reconnect failed", zap.Int("attempt", attempt), zap.Error(err))
	}
}

// keepalive probes the link and forces a reconnect cycle when the
// broker stops answering.
func (m *Manager) keepalive(ctx context.Context) {
	interval := time.Duration(m.cfg.KeepaliveIntervalSeconds) * time.Second
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if m.state.Current() != Online {
				continue
			}
			pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
			err := m.client.Ping(pingCtx)
			cancel()
			if err != nil {
				m.logger.Warn("keepalive failed, dropping link", zap.Error(err))
				_ = m.client.Close()
			}
		}
	}
}

// localName is the display name used when joining rooms.
func (m *Manager) localName() string {
	return identity.Identity(m.cfg.Identity).Local()
}

// SetAvailable broadcasts available presence regardless of the window.
func (m *Manager) SetAvailable(ctx context.Context) error {
	return m.client.SendPresence(ctx, true, "")
}

// SetAway broadcasts available presence with an away status text.
func (m *Manager) SetAway(ctx context.Context, status string) error {
	return m.client.SendPresence(ctx, true, status)
}

// SetUnavailable broadcasts offline presence without closing the link.
func (m *Manager) SetUnavailable(ctx context.Context) error {
	return m.client.SendPresence(ctx, false, "")
}
