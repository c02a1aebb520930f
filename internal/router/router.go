// Package router carries messages between the wire and the store: the
// outbound send paths, the inbound resolution and dedup logic, offline
// replay, and room membership operations.
package router

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tapchat/tapd/internal/bus"
	"github.com/tapchat/tapd/internal/config"
	"github.com/tapchat/tapd/internal/delivery"
	"github.com/tapchat/tapd/internal/identity"
	"github.com/tapchat/tapd/internal/keyvault"
	"github.com/tapchat/tapd/internal/notify"
	"github.com/tapchat/tapd/internal/store"
	"github.com/tapchat/tapd/internal/timeutil"
	"github.com/tapchat/tapd/internal/wire"
	"github.com/tapchat/tapd/internal/worker"
)

// Stored in place of a body that did not decrypt, so the conversation
// keeps its place in history.
const undecryptableBody = "[encrypted message]"

// Router implements the send and receive paths. It is the session's
// Handler.
type Router struct {
	cfg      *config.Config
	client   wire.Client
	db       store.Storage
	vault    *keyvault.Vault
	tracker  *delivery.Tracker
	liveness *delivery.Liveness
	typist   *delivery.Typist
	policy   *notify.Policy
	pool     *worker.Pool
	bus      *bus.Bus
	logger   *zap.Logger
	self     identity.Identity

	now func() time.Time
}

func New(cfg *config.Config, client wire.Client, db store.Storage,
	vault *keyvault.Vault, tracker *delivery.Tracker, liveness *delivery.Liveness,
	policy *notify.Policy, pool *worker.Pool, b *bus.Bus, logger *zap.Logger) *Router {
	r := &Router{
		cfg:      cfg,
		client:   client,
		db:       db,
		vault:    vault,
		tracker:  tracker,
		liveness: liveness,
		policy:   policy,
		pool:     pool,
		bus:      b,
		logger:   logger,
		self:     identity.Identity(cfg.Identity),
		now:      time.Now,
	}
	r.typist = delivery.NewTypist(r.sendState, cfg.ShowTyping, cfg.ShowReadReceipts)
	return r
}

// Typist exposes the keystroke debouncer to the control surface.
func (r *Router) Typist() *delivery.Typist { return r.typist }

// sendState delivers a liveness signal: rooms get the status word,
// direct chats the chat state payload.
func (r *Router) sendState(conversation string, state wire.ChatState) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conv, err := r.db.GetConversation(conversation)
	if err == nil && conv != nil && conv.IsGroup {
		err = r.client.SendRoomStatus(ctx, conversation, delivery.StatusWord(state))
	} else {
		err = r.client.SendChatState(ctx, conversation, state)
	}
	if err != nil && !errors.Is(err, wire.ErrNotConnected) {
		r.logger.Debug("chat state send failed", zap.String("conversation", conversation), zap.Error(err))
	}
}

// SendDirect stores and sends a one-to-one message. The local copy is
// written before the wire send, so a crash between the two leaves a
// draft rather than a silently lost message. Returns the message id.
func (r *Router) SendDirect(ctx context.Context, to, body string, media bool) (string, error) {
	id := uuid.NewString()
	now := r.now()

	encrypted := false
	wireBody := body
	if r.cfg.EncryptMessages {
		ct, err := r.vault.Encrypt(ctx, to, body)
		switch {
		case err == nil:
			wireBody, encrypted = ct, true
		case errors.Is(err, keyvault.ErrKeyMissing):
			r.logger.Warn("no key for contact, sending cleartext", zap.String("contact", to))
		default:
			return "", err
		}
	}

	msg := &store.Message{
		MessageID:      id,
		ConversationID: to,
		Sender:         string(r.self),
		Recipient:      to,
		Date:           timeutil.Date(now),
		Time:           timeutil.Clock(now),
		Body:           body,
		Encrypted:      encrypted,
		Media:          media,
	}
	st := &store.MessageStatus{MessageID: id, Draft: true}
	if err := r.storeOutgoing(to, false, msg, st); err != nil {
		return "", err
	}

	stanza := &wire.Stanza{
		ID:        id,
		From:      string(r.self),
		To:        to,
		Type:      wire.StanzaChat,
		Body:      wireBody,
		Timestamp: now,
	}
	if encrypted {
		stanza.Flags = append(stanza.Flags, wire.FlagEncrypted)
	}
	if media {
		stanza.Flags = append(stanza.Flags, wire.FlagMedia)
	}
	r.submitSend(to, stanza)
	r.typist.Done(to, wire.StateActive)
	return id, nil
}

// SendGroup stores and sends a room message. With encryption on, the
// body is encrypted separately for every member who published a key
// and the cleartext is cleared from the wire form.
func (r *Router) SendGroup(ctx context.Context, room, body string, media bool) (string, error) {
	conv, err := r.db.GetConversation(room)
	if err != nil {
		return "", err
	}
	if conv == nil || !conv.IsGroup {
		return "", errors.New("not a group conversation: " + room)
	}

	id := uuid.NewString()
	now := r.now()

	wireBody := body
	var alt map[string]string
	encrypted := false
	if r.cfg.EncryptMessages {
		alt = map[string]string{}
		for _, member := range conv.Members {
			if member == string(r.self) {
				continue
			}
			ct, err := r.vault.Encrypt(ctx, member, body)
			if errors.Is(err, keyvault.ErrKeyMissing) {
				r.logger.Warn("no key for member, they get no variant",
					zap.String("room", room), zap.String("member", member))
				continue
			}
			if err != nil {
				return "", err
			}
			alt[identity.Identity(member).Local()] = ct
		}
		if len(alt) > 0 {
			wireBody, encrypted = "", true
		} else {
			alt = nil
		}
	}

	msg := &store.Message{
		MessageID:      id,
		ConversationID: room,
		Sender:         string(r.self),
		Recipient:      room,
		Date:           timeutil.Date(now),
		Time:           timeutil.Clock(now),
		Body:           body,
		Encrypted:      encrypted,
		Media:          media,
	}
	st := &store.MessageStatus{MessageID: id, Draft: true}
	if err := r.storeOutgoing(room, true, msg, st); err != nil {
		return "", err
	}

	stanza := &wire.Stanza{
		ID:        id,
		From:      identity.Identity(room).WithResource(string(r.self)),
		To:        room,
		Type:      wire.StanzaGroupChat,
		Body:      wireBody,
		AltBodies: alt,
		Timestamp: now,
	}
	if encrypted {
		stanza.Flags = append(stanza.Flags, wire.FlagEncrypted)
	}
	if media {
		stanza.Flags = append(stanza.Flags, wire.FlagMedia)
	}
	r.submitSend(room, stanza)
	r.typist.Done(room, wire.StateActive)
	return id, nil
}

func (r *Router) storeOutgoing(conversation string, isGroup bool, msg *store.Message, st *store.MessageStatus) error {
	exists, err := r.db.ConversationExists(conversation)
	if err != nil {
		return err
	}
	var inserted bool
	if exists {
		inserted, err = r.db.InsertMessageIfAbsent(msg, st)
	} else {
		name, nameErr := r.db.ContactName(conversation)
		if nameErr != nil {
			name = conversation
		}
		inserted, err = r.db.CreateConversationWithMessage(&store.Conversation{
			Identity:    conversation,
			DisplayName: name,
			IsGroup:     isGroup,
			Members:     []string{string(r.self), conversation},
			CreatedBy:   string(r.self),
		}, msg, st)
	}
	if err != nil {
		return err
	}
	if !inserted {
		return errors.New("duplicate message id " + msg.MessageID)
	}
	r.bus.Emit(bus.KindMessageStored, msg.MessageID)
	return nil
}

// submitSend queues the wire send on the conversation's shard so sends
// within one conversation keep their order.
func (r *Router) submitSend(conversation string, stanza *wire.Stanza) {
	r.pool.Submit(conversation, func(ctx context.Context) {
		sendCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
		defer cancel()
		if err := r.client.SendStanza(sendCtx, stanza); err != nil {
			r.logger.Warn("send failed", zap.String("message_id", stanza.ID), zap.Error(err))
			r.bus.Emit(bus.KindMessageSendFailed, stanza.ID)
			return
		}
		r.tracker.Sent(stanza.ID)
	})
}

// MarkConversationRead tells the peer their messages were read, when
// read receipts are enabled.
func (r *Router) MarkConversationRead(ctx context.Context, conversation string) error {
	if !r.cfg.ShowReadReceipts {
		return nil
	}
	conv, err := r.db.GetConversation(conversation)
	if err != nil {
		return err
	}
	if conv != nil && conv.IsGroup {
		return r.client.SendRoomStatus(ctx, conversation, delivery.WordRead)
	}
	return r.client.SendChatState(ctx, conversation, wire.StateActive)
}

// Keystroke reports local typing activity in a conversation.
func (r *Router) Keystroke(conversation string) {
	r.typist.Keystroke(conversation)
}
