package router

import (
	"context"

	"go.uber.org/zap"

	"github.com/tapchat/tapd/internal/bus"
	"github.com/tapchat/tapd/internal/delivery"
	"github.com/tapchat/tapd/internal/identity"
	"github.com/tapchat/tapd/internal/store"
	"github.com/tapchat/tapd/internal/timeutil"
	"github.com/tapchat/tapd/internal/wire"
)

// HandleStanza queues an inbound stanza on its conversation's shard.
func (r *Router) HandleStanza(ctx context.Context, s *wire.Stanza) {
	conversation := identity.Bare(s.From)
	r.pool.Submit(conversation, func(ctx context.Context) {
		r.receive(ctx, s, true)
	})
}

// receive resolves, decrypts, stores, and possibly notifies one
// inbound stanza. Replayed stanzas keep announce=true: a message that
// waited offline still deserves a notification.
func (r *Router) receive(ctx context.Context, s *wire.Stanza, announce bool) {
	conversation := identity.Bare(s.From)
	sender := conversation
	isGroup := s.Type == wire.StanzaGroupChat
	if isGroup {
		sender = identity.Resource(s.From)
		if sender == "" || sender == string(r.self) {
			return
		}
	}

	body, ok := r.resolveBody(s)
	if !ok {
		r.logger.Warn("message did not decrypt",
			zap.String("message_id", s.ID), zap.String("from", s.From))
		body = undecryptableBody
	}

	ts := s.Timestamp
	if ts.IsZero() {
		ts = r.now()
	}
	msg := &store.Message{
		MessageID:      s.ID,
		ConversationID: conversation,
		Sender:         sender,
		Recipient:      string(r.self),
		Incoming:       true,
		Date:           timeutil.Date(ts),
		Time:           timeutil.Clock(ts),
		Body:           body,
		Encrypted:      s.HasFlag(wire.FlagEncrypted),
		Media:          s.HasFlag(wire.FlagMedia),
	}
	st := &store.MessageStatus{MessageID: s.ID, Received: true}

	exists, err := r.db.ConversationExists(conversation)
	if err != nil {
		r.logger.Error("conversation lookup failed", zap.Error(err))
		return
	}
	r.provisionContact(sender)
	var inserted bool
	if exists {
		inserted, err = r.db.InsertMessageIfAbsent(msg, st)
	} else {
		name, nameErr := r.db.ContactName(sender)
		if nameErr != nil {
			name = sender
		}
		conv := &store.Conversation{
			Identity:    conversation,
			DisplayName: name,
			IsGroup:     isGroup,
			Members:     []string{string(r.self), sender},
		}
		if isGroup {
			conv.DisplayName = identity.Identity(conversation).Local()
		}
		inserted, err = r.db.CreateConversationWithMessage(conv, msg, st)
	}
	if err != nil {
		r.logger.Error("store message failed", zap.String("message_id", s.ID), zap.Error(err))
		return
	}
	if !inserted {
		r.bus.Emit(bus.KindMessageDuplicate, s.ID)
		return
	}
	r.bus.Emit(bus.KindMessageStored, s.ID)

	// A real message ends any composing indicator from that peer.
	r.liveness.Apply(conversation, sender, "", wire.StateActive)

	if !announce {
		return
	}
	title, err := r.db.ContactName(sender)
	if err != nil || title == "" {
		title = sender
	}
	r.policy.Notify(conversation, title, body, isGroup)
}

// provisionContact creates a contact row for a sender the roster never
// delivered, so their conversation has a name and presence can stick.
// Window details arrive later through the directory watch.
func (r *Router) provisionContact(sender string) {
	rows := make([]store.AvailabilityRow, 0, 7)
	for wd := 1; wd <= 7; wd++ {
		rows = append(rows, store.AvailabilityRow{
			Identity: sender, Weekday: wd, Start: "08:00", End: "17:00",
		})
	}
	contact := &store.Contact{Identity: sender, Name: identity.Identity(sender).Local()}
	created, err := r.db.CreateContactIfAbsent(contact, rows)
	if err != nil {
		r.logger.Warn("provision contact failed", zap.String("contact", sender), zap.Error(err))
		return
	}
	if created {
		r.bus.Emit(bus.KindContactCreated, sender)
	}
}

// resolveBody picks and decrypts the right body variant. Group members
// read their own AltBodies entry; everything else falls back to Body.
func (r *Router) resolveBody(s *wire.Stanza) (string, bool) {
	if variant, ok := s.AltBodies[r.self.Local()]; ok {
		pt, err := r.vault.Decrypt(variant)
		if err != nil {
			return "", false
		}
		return pt, true
	}
	if s.HasFlag(wire.FlagEncrypted) && s.Body != "" {
		pt, err := r.vault.Decrypt(s.Body)
		if err != nil {
			return "", false
		}
		return pt, true
	}
	if s.HasFlag(wire.FlagEncrypted) && s.Body == "" {
		// Encrypted for other members only; nothing we can read.
		return "", false
	}
	return s.Body, true
}

// HandleChatState applies a direct chat liveness signal. Active and
// composing both double as the peer's read receipt: a peer typing in
// the conversation has necessarily seen it.
func (r *Router) HandleChatState(ctx context.Context, sc *wire.StateChange) {
	conversation := identity.Bare(sc.From)
	name, err := r.db.ContactName(conversation)
	if err != nil {
		name = conversation
	}
	if sc.State == wire.StateActive || sc.State == wire.StateComposing {
		r.tracker.ConversationRead(conversation)
	}
	r.liveness.Apply(conversation, conversation, name, sc.State)
}

// HandleRoomPresence translates a room status word back into liveness
// for the room's conversation.
func (r *Router) HandleRoomPresence(ctx context.Context, p *wire.Presence) {
	room := identity.Bare(p.From)
	member := identity.Resource(p.From)
	if member == "" || member == string(r.self) {
		return
	}
	state := delivery.ParseStatusWord(p.Status)
	if state == "" {
		return
	}
	name, err := r.db.ContactName(member)
	if err != nil {
		name = member
	}
	if state == wire.StateActive || state == wire.StateComposing {
		r.tracker.ConversationRead(room)
	}
	r.liveness.Apply(room, member, name, state)
}

// HandleInvite joins the room and materializes its conversation. A
// re-invite to a room already known locally only asks for history past
// the stored watermark.
func (r *Router) HandleInvite(ctx context.Context, inv *wire.Invite) {
	conv, err := r.db.GetConversation(inv.Room)
	if err != nil {
		r.logger.Error("conversation lookup failed", zap.String("room", inv.Room), zap.Error(err))
		return
	}
	since := timeutil.SinceLocal(r.now(), "", "")
	if conv != nil {
		since = timeutil.SinceLocal(r.now(), conv.LastMessageDate, conv.LastMessageTime)
	}
	if err := r.client.JoinRoom(ctx, inv.Room, r.self.Local(), since); err != nil {
		r.logger.Error("join after invite failed", zap.String("room", inv.Room), zap.Error(err))
		return
	}
	members, err := r.client.RoomMembers(ctx, inv.Room)
	if err != nil {
		r.logger.Warn("room members fetch failed", zap.String("room", inv.Room), zap.Error(err))
		members = []string{string(r.self), inv.From}
	} else if owners, ownErr := r.client.RoomOwners(ctx, inv.Room); ownErr == nil {
		// Owners are not always listed as members; the conversation
		// roster should carry both.
		seen := make(map[string]bool, len(members))
		for _, m := range members {
			seen[m] = true
		}
		for _, o := range owners {
			if !seen[o] {
				members = append(members, o)
			}
		}
	}
	for _, member := range members {
		if member == string(r.self) {
			continue
		}
		r.provisionContact(member)
	}
	if conv == nil {
		err = r.db.CreateConversation(&store.Conversation{
			Identity:    inv.Room,
			DisplayName: identity.Identity(inv.Room).Local(),
			IsGroup:     true,
			Members:     members,
			CreatedBy:   inv.From,
		})
		if err != nil {
			r.logger.Error("create room conversation failed", zap.String("room", inv.Room), zap.Error(err))
			return
		}
	}
	r.bus.Emit(bus.KindRoomJoined, inv.Room)
}

// ReplayOffline drains the server-side offline queue: fetch, store,
// then delete. Deletion happens after the whole batch is stored; a
// crash in between redelivers, and the id dedup absorbs the repeats.
func (r *Router) ReplayOffline(ctx context.Context) error {
	headers, err := r.client.OfflineHeaders(ctx)
	if err != nil {
		return err
	}
	if len(headers) == 0 {
		return nil
	}
	ids := make([]string, 0, len(headers))
	for _, h := range headers {
		ids = append(ids, h.ID)
	}
	stanzas, err := r.client.FetchOffline(ctx, ids)
	if err != nil {
		return err
	}
	for i := range stanzas {
		r.receive(ctx, &stanzas[i], true)
	}
	if err := r.client.DeleteOffline(ctx, ids); err != nil {
		return err
	}
	r.logger.Info("offline queue replayed", zap.Int("messages", len(stanzas)))
	return nil
}
