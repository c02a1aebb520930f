// Package wiretest provides an in-memory wire.Client for tests above
// the transport layer.
package wiretest

import (
	"context"
	"sync"
	"time"

	"github.com/tapchat/tapd/internal/wire"
)

// Fake records outbound calls and lets tests inject inbound events.
// All exported slices and maps are guarded by Mu; tests that only
// inspect after the fact can read them directly once the code under
// test has stopped.
type Fake struct {
	Mu sync.Mutex

	Connected  bool
	LoginErr   error
	PingErr    error
	ConnectErr error
	ConnectN   int
	LoginN     int
	Logins     []string
	Closed     int

	Sent       []*wire.Stanza
	ChatStates []wire.ChatState
	Presences  []wire.Presence
	RoomStatus map[string][]string

	Roster  []wire.RosterEntry
	Offline []wire.Stanza
	Deleted [][]string

	Rooms       map[string][]string // room -> members
	Owners      map[string][]string
	Joined      []string
	JoinedSince []time.Duration
	Invites     []wire.Invite
	CreatedRoom []string

	events chan wire.Event
}

func New() *Fake {
	return &Fake{
		Rooms:      map[string][]string{},
		Owners:     map[string][]string{},
		RoomStatus: map[string][]string{},
		events:     make(chan wire.Event, 64),
	}
}

// Inject delivers an event as if it arrived from the broker.
func (f *Fake) Inject(ev wire.Event) { f.events <- ev }

func (f *Fake) Events() <-chan wire.Event { return f.events }

func (f *Fake) Connect(ctx context.Context) error {
	f.Mu.Lock()
	defer f.Mu.Unlock()
	f.ConnectN++
	if f.ConnectErr != nil {
		return f.ConnectErr
	}
	f.Connected = true
	return nil
}

func (f *Fake) Login(ctx context.Context, identity, credential string) error {
	f.Mu.Lock()
	defer f.Mu.Unlock()
	f.LoginN++
	f.Logins = append(f.Logins, identity)
	return f.LoginErr
}

func (f *Fake) Close() error {
	f.Mu.Lock()
	defer f.Mu.Unlock()
	f.Connected = false
	f.Closed++
	return nil
}

func (f *Fake) SendStanza(ctx context.Context, s *wire.Stanza) error {
	f.Mu.Lock()
	defer f.Mu.Unlock()
	cp := *s
	f.Sent = append(f.Sent, &cp)
	return nil
}

func (f *Fake) SendChatState(ctx context.Context, to string, state wire.ChatState) error {
	f.Mu.Lock()
	defer f.Mu.Unlock()
	f.ChatStates = append(f.ChatStates, state)
	return nil
}

func (f *Fake) SendPresence(ctx context.Context, online bool, status string) error {
	f.Mu.Lock()
	defer f.Mu.Unlock()
	f.Presences = append(f.Presences, wire.Presence{Online: online, Status: status})
	return nil
}

func (f *Fake) Ping(ctx context.Context) error {
	f.Mu.Lock()
	defer f.Mu.Unlock()
	return f.PingErr
}

func (f *Fake) FetchRoster(ctx context.Context) ([]wire.RosterEntry, error) {
	f.Mu.Lock()
	defer f.Mu.Unlock()
	return append([]wire.RosterEntry(nil), f.Roster...), nil
}

func (f *Fake) OfflineHeaders(ctx context.Context) ([]wire.OfflineHeader, error) {
	f.Mu.Lock()
	defer f.Mu.Unlock()
	hs := make([]wire.OfflineHeader, 0, len(f.Offline))
	for _, s := range f.Offline {
		hs = append(hs, wire.OfflineHeader{ID: s.ID})
	}
	return hs, nil
}

func (f *Fake) FetchOffline(ctx context.Context, ids []string) ([]wire.Stanza, error) {
	f.Mu.Lock()
	defer f.Mu.Unlock()
	want := map[string]bool{}
	for _, id := range ids {
		want[id] = true
	}
	var out []wire.Stanza
	for _, s := range f.Offline {
		if want[s.ID] {
			out = append(out, s)
		}
	}
	return out, nil
}

func (f *Fake) DeleteOffline(ctx context.Context, ids []string) error {
	f.Mu.Lock()
	defer f.Mu.Unlock()
	f.Deleted = append(f.Deleted, append([]string(nil), ids...))
	drop := map[string]bool{}
	for _, id := range ids {
		drop[id] = true
	}
	kept := f.Offline[:0]
	for _, s := range f.Offline {
		if !drop[s.ID] {
			kept = append(kept, s)
		}
	}
	f.Offline = kept
	return nil
}

func (f *Fake) CreateRoom(ctx context.Context, room string) error {
	f.Mu.Lock()
	defer f.Mu.Unlock()
	f.CreatedRoom = append(f.CreatedRoom, room)
	if _, ok := f.Rooms[room]; !ok {
		f.Rooms[room] = nil
	}
	return nil
}

func (f *Fake) JoinRoom(ctx context.Context, room, nick string, historySince time.Duration) error {
	f.Mu.Lock()
	defer f.Mu.Unlock()
	f.Joined = append(f.Joined, room)
	f.JoinedSince = append(f.JoinedSince, historySince)
	return nil
}

func (f *Fake) RoomMembers(ctx context.Context, room string) ([]string, error) {
	f.Mu.Lock()
	defer f.Mu.Unlock()
	return append([]string(nil), f.Rooms[room]...), nil
}

func (f *Fake) RoomOwners(ctx context.Context, room string) ([]string, error) {
	f.Mu.Lock()
	defer f.Mu.Unlock()
	return append([]string(nil), f.Owners[room]...), nil
}

func (f *Fake) GrantMembership(ctx context.Context, room, member string) error {
	f.Mu.Lock()
	defer f.Mu.Unlock()
	f.Rooms[room] = append(f.Rooms[room], member)
	return nil
}

func (f *Fake) GrantOwnership(ctx context.Context, room, member string) error {
	f.Mu.Lock()
	defer f.Mu.Unlock()
	f.Owners[room] = append(f.Owners[room], member)
	return nil
}

func (f *Fake) InviteToRoom(ctx context.Context, room, member, reason string) error {
	f.Mu.Lock()
	defer f.Mu.Unlock()
	f.Invites = append(f.Invites, wire.Invite{Room: room, From: member, Reason: reason})
	return nil
}

func (f *Fake) SendRoomStatus(ctx context.Context, room, status string) error {
	f.Mu.Lock()
	defer f.Mu.Unlock()
	f.RoomStatus[room] = append(f.RoomStatus[room], status)
	return nil
}

var _ wire.Client = (*Fake)(nil)
