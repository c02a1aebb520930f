// Package wire defines the transport contract between the daemon and
// the federation broker, and its NATS implementation. Everything above
// this package speaks in terms of Client and Event; nothing above it
// imports nats.
package wire

import (
	"context"
	"errors"
	"time"
)

// StanzaType distinguishes direct traffic from room traffic.
type StanzaType string

const (
	StanzaChat      StanzaType = "chat"
	StanzaGroupChat StanzaType = "groupchat"
)

// Body flags carried alongside a stanza. A flagged stanza changes how
// the receiving side resolves the body, not how it is routed.
const (
	FlagEncrypted = "Encrypted"
	FlagMedia     = "Media"
)

// Stanza is one message on the wire. Room traffic sets From to
// "room/member" so the sending member survives the hop. AltBodies
// carries per-member encrypted variants keyed by the member's
// local-part; when present, Body holds no cleartext.
type Stanza struct {
	ID        string            `json:"id"`
	From      string            `json:"from"`
	To        string            `json:"to"`
	Type      StanzaType        `json:"type"`
	Body      string            `json:"body"`
	AltBodies map[string]string `json:"alt_bodies,omitempty"`
	Flags     []string          `json:"flags,omitempty"`
	Timestamp time.Time         `json:"ts"`
}

// HasFlag reports whether the stanza carries the named body flag.
func (s *Stanza) HasFlag(flag string) bool {
	for _, f := range s.Flags {
		if f == flag {
			return true
		}
	}
	return false
}

// ChatState is the liveness signal attached to a conversation.
type ChatState string

const (
	StateComposing ChatState = "composing"
	StatePaused    ChatState = "paused"
	StateActive    ChatState = "active"
	StateInactive  ChatState = "inactive"
	StateGone      ChatState = "gone"
)

// StateChange is an inbound chat state transition.
type StateChange struct {
	From  string    `json:"from"`
	To    string    `json:"to"`
	State ChatState `json:"state"`
}

// Presence is a peer's online/offline transition, with an optional
// free-form status string. Room presence reuses Status to carry the
// liveness words ("Typing", "Paused", ...).
type Presence struct {
	From   string `json:"from"`
	Online bool   `json:"online"`
	Status string `json:"status,omitempty"`
}

// Invite asks the local user to join a room.
type Invite struct {
	Room   string `json:"room"`
	From   string `json:"from"`
	Reason string `json:"reason,omitempty"`
}

// RosterEntry is one server-side contact.
type RosterEntry struct {
	Identity string `json:"identity"`
	Name     string `json:"name,omitempty"`
}

// OfflineHeader names one message held in the server-side offline
// queue. Fetch and delete address messages by these ids.
type OfflineHeader struct {
	ID string `json:"id"`
}

// EventKind discriminates Event.
type EventKind int

const (
	EventConnected EventKind = iota
	EventDisconnected
	EventStanza
	EventChatState
	EventPresence
	EventInvite
)

// Event is one item on the connection's ordered event channel. Exactly
// one payload field is set, matching Kind.
type Event struct {
	Kind      EventKind
	Stanza    *Stanza
	ChatState *StateChange
	Presence  *Presence
	Invite    *Invite
	Err       error
}

var (
	ErrNotConnected = errors.New("wire: not connected")
	ErrAuthFailed   = errors.New("wire: authentication failed")
)

// Client is the daemon's view of the broker connection. Implementations
// surface inbound traffic on Events as a single ordered stream.
type Client interface {
	Connect(ctx context.Context) error
	Login(ctx context.Context, identity, credential string) error
	Close() error
	Events() <-chan Event

	SendStanza(ctx context.Context, s *Stanza) error
	SendChatState(ctx context.Context, to string, state ChatState) error
	SendPresence(ctx context.Context, online bool, status string) error
	Ping(ctx context.Context) error

	FetchRoster(ctx context.Context) ([]RosterEntry, error)

	OfflineHeaders(ctx context.Context) ([]OfflineHeader, error)
	FetchOffline(ctx context.Context, ids []string) ([]Stanza, error)
	DeleteOffline(ctx context.Context, ids []string) error

	CreateRoom(ctx context.Context, room string) error
	JoinRoom(ctx context.Context, room, nick string, historySince time.Duration) error
	RoomMembers(ctx context.Context, room string) ([]string, error)
	RoomOwners(ctx context.Context, room string) ([]string, error)
	GrantMembership(ctx context.Context, room, member string) error
	GrantOwnership(ctx context.Context, room, member string) error
	InviteToRoom(ctx context.Context, room, member, reason string) error
	SendRoomStatus(ctx context.Context, room, status string) error
}
