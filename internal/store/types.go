package store

// User is the local account's own profile record.
type User struct {
	Identity string
	FullName string
	Email    string
	Phone    string
	Avatar   []byte
}

// Contact is a roster entry with its profile and status flags.
type Contact struct {
	Identity       string
	Name           string
	Email          string
	Phone          string
	Avatar         []byte
	PublicKey      string // base64 SPKI, empty until the directory delivers one
	Online         bool
	Available      bool
	Blocked        bool
	Muted          bool
	LastOnlineDate string
	LastOnlineTime string
}

// AvailabilityRow is one weekday's availability window for a contact or
// the local user. Weekday is 1 (Sunday) through 7 (Saturday).
type AvailabilityRow struct {
	RowID    int64
	Identity string
	Weekday  int
	Start    string
	End      string
}

// Conversation is a one-to-one or group thread, keyed by an identity.
type Conversation struct {
	Identity          string
	DisplayName       string
	IsGroup           bool
	IsSilenced        bool
	Members           []string
	AvatarURI         string
	CreatedBy         string
	CreatedAt         string
	PeerComposing     bool
	PeerComposingName string
	LastMessageDate   string
	LastMessageTime   string
}

// Message is one persisted message. Immutable once inserted except for
// its status row.
type Message struct {
	ID             int64
	MessageID      string
	ConversationID string
	Sender         string
	Recipient      string
	Incoming       bool
	Date           string
	Time           string
	Body           string
	Encrypted      bool
	Media          bool
}

// MessageStatus is the 1:1 lifecycle row for a message.
type MessageStatus struct {
	MessageID string
	Draft     bool
	Sent      bool
	Received  bool
	Read      bool
}
