package bus

import "time"

// Event represents a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}

// Event kinds. Subscribers filter by namespace prefix, so related kinds
// share a dotted prefix ("message.", "session.", ...).
const (
	KindSessionConnected    = "session.connected"
	KindSessionDisconnected = "session.disconnected"
	KindSessionAuthFailed   = "session.auth_failed"
	KindRosterSynced        = "session.roster_synced"

	KindMessageStored     = "message.stored"
	KindMessageDuplicate  = "message.duplicate"
	KindMessageSent       = "message.sent"
	KindMessageSendFailed = "message.send_failed"
	KindMessageReceipt    = "message.receipt"
	KindMessageRead       = "message.read"

	KindContactCreated = "contact.created"
	KindContactUpdated = "contact.updated"
	KindContactRemoved = "contact.removed"
	KindContactKey     = "contact.key_changed"

	KindPresenceChanged = "presence.changed"
	KindLivenessChanged = "presence.liveness"

	KindRoomCreated = "room.created"
	KindRoomJoined  = "room.joined"

	KindNotifyRequest = "notify.request"
)

// Emit publishes kind with the current timestamp. Most call sites have
// no use for a custom timestamp, so this is the common path.
func (b *Bus) Emit(kind string, payload any) {
	b.Publish(Event{Kind: kind, Timestamp: time.Now(), Payload: payload})
}
