package wire

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// Conn is the NATS-backed Client. One Conn serves the lifetime of the
// daemon; Connect and Close may be called repeatedly as the session
// manager cycles the link. The event channel survives reconnects.
type Conn struct {
	url      string
	identity string
	logger   *zap.Logger

	events chan Event

	mu   sync.Mutex
	nc   *nats.Conn
	subs []*nats.Subscription
}

// NewConn builds a disconnected Conn for the given broker URL and
// local identity.
func NewConn(url, identity string, logger *zap.Logger) *Conn {
	return &Conn{
		url:      url,
		identity: identity,
		logger:   logger,
		events:   make(chan Event, 256),
	}
}

// Events returns the ordered inbound event stream. The channel is
// never closed; consumers stop via their own context.
func (c *Conn) Events() <-chan Event { return c.events }

// Connect dials the broker and subscribes the identity's inbox and the
// presence firehose. Room subjects are subscribed on JoinRoom, after
// the session rejoins its rooms.
func (c *Conn) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.nc != nil && c.nc.IsConnected() {
		return nil
	}

	nc, err := nats.Connect(c.url,
		nats.Name("tapd/"+c.identity),
		nats.NoReconnect(),
		nats.ClosedHandler(func(*nats.Conn) {
			c.events <- Event{Kind: EventDisconnected}
		}),
		nats.ErrorHandler(func(_ *nats.Conn, _ *nats.Subscription, err error) {
			c.logger.Warn("broker error", zap.Error(err))
		}),
	)
	if err != nil {
		return fmt.Errorf("connect %s: %w", c.url, err)
	}

	inbox, err := nc.Subscribe(inboxSubject(c.identity), c.onInbox)
	if err != nil {
		nc.Close()
		return fmt.Errorf("subscribe inbox: %w", err)
	}
	presence, err := nc.Subscribe(presencePrefix+">", c.onPresence)
	if err != nil {
		nc.Close()
		return fmt.Errorf("subscribe presence: %w", err)
	}

	c.nc = nc
	c.subs = []*nats.Subscription{inbox, presence}
	c.logger.Info("connected to broker", zap.String("url", c.url))
	c.events <- Event{Kind: EventConnected}
	return nil
}

// Close tears down the broker link. Safe to call when not connected.
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.nc == nil {
		return nil
	}
	nc := c.nc
	c.nc = nil
	c.subs = nil
	nc.Close()
	return nil
}

func (c *Conn) conn() (*nats.Conn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.nc == nil || !c.nc.IsConnected() {
		return nil, ErrNotConnected
	}
	return c.nc, nil
}

func (c *Conn) onInbox(m *nats.Msg) {
	env, err := decodeEnvelope(m.Data)
	if err != nil {
		c.logger.Warn("dropping undecodable inbox payload", zap.Error(err))
		return
	}
	switch env.Type {
	case envStanza:
		c.events <- Event{Kind: EventStanza, Stanza: env.Stanza}
	case envChatState:
		c.events <- Event{Kind: EventChatState, ChatState: env.ChatState}
	case envInvite:
		c.events <- Event{Kind: EventInvite, Invite: env.Invite}
	}
}

func (c *Conn) onPresence(m *nats.Msg) {
	var p Presence
	if err := json.Unmarshal(m.Data, &p); err != nil {
		c.logger.Warn("dropping undecodable presence", zap.Error(err))
		return
	}
	if p.From == c.identity {
		return
	}
	c.events <- Event{Kind: EventPresence, Presence: &p}
}

// request sends a JSON request on subj and decodes the reply into out.
func (c *Conn) request(ctx context.Context, subj string, in, out any) error {
	nc, err := c.conn()
	if err != nil {
		return err
	}
	data, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("encode %s request: %w", subj, err)
	}
	msg, err := nc.RequestWithContext(ctx, subj, data)
	if err != nil {
		return fmt.Errorf("request %s: %w", subj, err)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(msg.Data, out); err != nil {
		return fmt.Errorf("decode %s reply: %w", subj, err)
	}
	return nil
}

func checkOK(subj string, resp okResponse) error {
	if !resp.OK {
		return fmt.Errorf("%s rejected: %s", subj, resp.Error)
	}
	return nil
}

// Login authenticates the connection. Only PLAIN is offered; a server
// that counter-offers a blocked legacy mechanism fails the login.
func (c *Conn) Login(ctx context.Context, identity, credential string) error {
	var resp loginResponse
	err := c.request(ctx, subjAuth, loginRequest{
		Identity:   identity,
		Credential: credential,
		Mechanism:  "PLAIN",
	}, &resp)
	if err != nil {
		return err
	}
	if resp.OK {
		return nil
	}
	for _, m := range resp.Mechanisms {
		if blockedMechanisms[m] {
			return fmt.Errorf("%w: server requires blocked mechanism %s", ErrAuthFailed, m)
		}
	}
	if resp.Error != "" {
		return fmt.Errorf("%w: %s", ErrAuthFailed, resp.Error)
	}
	return ErrAuthFailed
}

func (c *Conn) SendStanza(ctx context.Context, s *Stanza) error {
	nc, err := c.conn()
	if err != nil {
		return err
	}
	data, err := encodeEnvelope(&envelope{Type: envStanza, Stanza: s})
	if err != nil {
		return err
	}
	subj := inboxSubject(s.To)
	if s.Type == StanzaGroupChat {
		subj = roomMsgSubject(s.To)
	}
	return nc.Publish(subj, data)
}

func (c *Conn) SendChatState(ctx context.Context, to string, state ChatState) error {
	nc, err := c.conn()
	if err != nil {
		return err
	}
	data, err := encodeEnvelope(&envelope{Type: envChatState, ChatState: &StateChange{
		From:  c.identity,
		To:    to,
		State: state,
	}})
	if err != nil {
		return err
	}
	return nc.Publish(inboxSubject(to), data)
}

func (c *Conn) SendPresence(ctx context.Context, online bool, status string) error {
	nc, err := c.conn()
	if err != nil {
		return err
	}
	data, err := json.Marshal(Presence{From: c.identity, Online: online, Status: status})
	if err != nil {
		return err
	}
	return nc.Publish(presenceSubject(c.identity), data)
}

// Ping round-trips the broker's ping subject. A timeout means the link
// is dead even if the socket looks open.
func (c *Conn) Ping(ctx context.Context) error {
	nc, err := c.conn()
	if err != nil {
		return err
	}
	if _, err := nc.RequestWithContext(ctx, subjPing, nil); err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	return nil
}

func (c *Conn) FetchRoster(ctx context.Context) ([]RosterEntry, error) {
	var resp rosterResponse
	if err := c.request(ctx, subjRoster, loginRequest{Identity: c.identity}, &resp); err != nil {
		return nil, err
	}
	return resp.Entries, nil
}

func (c *Conn) OfflineHeaders(ctx context.Context) ([]OfflineHeader, error) {
	var resp offlineHeadersResponse
	if err := c.request(ctx, subjOfflineList, offlineFetchRequest{Identity: c.identity}, &resp); err != nil {
		return nil, err
	}
	return resp.Headers, nil
}

func (c *Conn) FetchOffline(ctx context.Context, ids []string) ([]Stanza, error) {
	var resp offlineFetchResponse
	if err := c.request(ctx, subjOfflineGet, offlineFetchRequest{Identity: c.identity, IDs: ids}, &resp); err != nil {
		return nil, err
	}
	return resp.Stanzas, nil
}

func (c *Conn) DeleteOffline(ctx context.Context, ids []string) error {
	var resp okResponse
	if err := c.request(ctx, subjOfflineDel, offlineFetchRequest{Identity: c.identity, IDs: ids}, &resp); err != nil {
		return err
	}
	return checkOK(subjOfflineDel, resp)
}

func (c *Conn) CreateRoom(ctx context.Context, room string) error {
	var resp okResponse
	if err := c.request(ctx, subjRoomCreate, roomRequest{Room: room, Actor: c.identity}, &resp); err != nil {
		return err
	}
	return checkOK(subjRoomCreate, resp)
}

// JoinRoom registers presence in the room and subscribes its traffic.
// History within historySince is replayed by the broker onto the inbox
// subject, so replayed messages arrive on the same ordered stream.
func (c *Conn) JoinRoom(ctx context.Context, room, nick string, historySince time.Duration) error {
	var resp okResponse
	err := c.request(ctx, subjRoomJoin, roomRequest{
		Room:        room,
		Actor:       c.identity,
		Nick:        nick,
		HistorySecs: int64(historySince / time.Second),
	}, &resp)
	if err != nil {
		return err
	}
	if err := checkOK(subjRoomJoin, resp); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.nc == nil {
		return ErrNotConnected
	}
	for _, s := range c.subs {
		if s.Subject == roomMsgSubject(room) {
			return nil
		}
	}
	msgs, err := c.nc.Subscribe(roomMsgSubject(room), c.onRoomMsg)
	if err != nil {
		return fmt.Errorf("subscribe room: %w", err)
	}
	status, err := c.nc.Subscribe(roomStatusSubject(room), c.onRoomStatus(room))
	if err != nil {
		_ = msgs.Unsubscribe()
		return fmt.Errorf("subscribe room status: %w", err)
	}
	c.subs = append(c.subs, msgs, status)
	return nil
}

func (c *Conn) onRoomMsg(m *nats.Msg) {
	env, err := decodeEnvelope(m.Data)
	if err != nil || env.Type != envStanza {
		c.logger.Warn("dropping undecodable room payload", zap.Error(err))
		return
	}
	// Own traffic echoes back on the room subject.
	if strings.HasSuffix(env.Stanza.From, "/"+c.identity) {
		return
	}
	c.events <- Event{Kind: EventStanza, Stanza: env.Stanza}
}

func (c *Conn) onRoomStatus(room string) nats.MsgHandler {
	return func(m *nats.Msg) {
		var p Presence
		if err := json.Unmarshal(m.Data, &p); err != nil {
			return
		}
		if p.From == c.identity {
			return
		}
		p.From = room + "/" + p.From
		c.events <- Event{Kind: EventPresence, Presence: &p}
	}
}

func (c *Conn) RoomMembers(ctx context.Context, room string) ([]string, error) {
	var resp roomMembersResponse
	if err := c.request(ctx, subjRoomMember, roomRequest{Room: room, Actor: c.identity}, &resp); err != nil {
		return nil, err
	}
	return resp.Members, nil
}

func (c *Conn) RoomOwners(ctx context.Context, room string) ([]string, error) {
	var resp roomMembersResponse
	if err := c.request(ctx, subjRoomOwner, roomRequest{Room: room, Actor: c.identity}, &resp); err != nil {
		return nil, err
	}
	return resp.Members, nil
}

func (c *Conn) GrantMembership(ctx context.Context, room, member string) error {
	var resp okResponse
	if err := c.request(ctx, subjRoomGrantM, roomRequest{Room: room, Actor: c.identity, Member: member}, &resp); err != nil {
		return err
	}
	return checkOK(subjRoomGrantM, resp)
}

func (c *Conn) GrantOwnership(ctx context.Context, room, member string) error {
	var resp okResponse
	if err := c.request(ctx, subjRoomGrantO, roomRequest{Room: room, Actor: c.identity, Member: member}, &resp); err != nil {
		return err
	}
	return checkOK(subjRoomGrantO, resp)
}

func (c *Conn) InviteToRoom(ctx context.Context, room, member, reason string) error {
	var resp okResponse
	if err := c.request(ctx, subjRoomInvite, roomRequest{Room: room, Actor: c.identity, Member: member, Reason: reason}, &resp); err != nil {
		return err
	}
	return checkOK(subjRoomInvite, resp)
}

func (c *Conn) SendRoomStatus(ctx context.Context, room, status string) error {
	nc, err := c.conn()
	if err != nil {
		return err
	}
	data, err := json.Marshal(Presence{From: c.identity, Online: true, Status: status})
	if err != nil {
		return err
	}
	return nc.Publish(roomStatusSubject(room), data)
}

var _ Client = (*Conn)(nil)
