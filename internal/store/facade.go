package store

// Storage is the persistence facade the core components consume. It is
// implemented by *DB; tests substitute fakes where a real database is
// not worth the setup.
type Storage interface {
	// Users.
	GetUser(identity string) (*User, error)
	PutUser(u *User) error
	UserAvailability(identity string) ([]AvailabilityRow, error)
	SetUserAvailability(identity string, rows []AvailabilityRow) error

	// Contacts.
	ContactExists(identity string) (bool, error)
	GetContact(identity string) (*Contact, error)
	ContactName(identity string) (string, error)
	CreateContactIfAbsent(c *Contact, avail []AvailabilityRow) (bool, error)
	UpdateContact(c *Contact) error
	DeleteContact(identity string) error
	AllContactIdentities() ([]string, error)
	ContactPublicKey(identity string) (string, error)
	SetContactPublicKey(identity, publicKey string) error
	SetContactPresence(identity string, online, available bool, date, clock string) error
	ContactAvailability(identity string) ([]AvailabilityRow, error)
	UpdateContactAvailability(rows []AvailabilityRow) error

	// Conversations.
	ConversationExists(identity string) (bool, error)
	GetConversation(identity string) (*Conversation, error)
	CreateConversation(c *Conversation) error
	DeleteConversation(identity string) error
	GroupConversationIDs() ([]string, error)
	SetSilenced(identity string, silenced bool) error
	SetPeerComposing(identity string, composing bool, name string) error

	// Messages.
	InsertMessageIfAbsent(m *Message, st *MessageStatus) (bool, error)
	CreateConversationWithMessage(c *Conversation, m *Message, st *MessageStatus) (bool, error)
	Messages(conversationID string, limit int) ([]Message, error)
	LastMessage(conversationID string) (*Message, error)
	MessageStatusFor(messageID string) (*MessageStatus, error)
	MarkSent(messageID string) error
	MarkReceived(messageID string) error
	MarkRead(messageID string) error
	MarkOutgoingRead(conversationID string) error
}

var _ Storage = (*DB)(nil)
