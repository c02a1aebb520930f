// Package delivery tracks what happened to each message after it was
// stored: the sent/received/read progression, and the peer liveness
// signals that ride alongside real traffic.
package delivery

import (
	"go.uber.org/zap"

	"github.com/tapchat/tapd/internal/bus"
	"github.com/tapchat/tapd/internal/store"
)

// Tracker advances message status flags. Flags only ever turn on, so
// replayed or reordered receipts can never regress a message.
type Tracker struct {
	db     store.Storage
	bus    *bus.Bus
	logger *zap.Logger
}

func NewTracker(db store.Storage, b *bus.Bus, logger *zap.Logger) *Tracker {
	return &Tracker{db: db, bus: b, logger: logger}
}

// Sent records that the broker accepted the message.
func (t *Tracker) Sent(messageID string) {
	if err := t.db.MarkSent(messageID); err != nil {
		t.logger.Warn("mark sent failed", zap.String("message_id", messageID), zap.Error(err))
		return
	}
	t.bus.Emit(bus.KindMessageSent, messageID)
}

// Received records a delivery receipt from the peer's device.
func (t *Tracker) Received(messageID string) {
	if err := t.db.MarkReceived(messageID); err != nil {
		t.logger.Warn("mark received failed", zap.String("message_id", messageID), zap.Error(err))
		return
	}
	t.bus.Emit(bus.KindMessageReceipt, messageID)
}

// ConversationRead marks every outgoing message in the conversation
// read. Peers signal read state per conversation, not per message.
func (t *Tracker) ConversationRead(conversation string) {
	if err := t.db.MarkOutgoingRead(conversation); err != nil {
		t.logger.Warn("mark read failed", zap.String("conversation", conversation), zap.Error(err))
		return
	}
	t.bus.Emit(bus.KindMessageRead, conversation)
}
