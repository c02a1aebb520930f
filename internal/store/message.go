package store

import (
	"database/sql"
	"fmt"
	"time"
)

// InsertMessageIfAbsent inserts a message and its status row, keyed for
// dedup on (conversation, message id). A message that already exists is
// left untouched and inserted=false is returned; this is the sole
// defense against offline-replay races and server resends.
func (db *DB) InsertMessageIfAbsent(m *Message, st *MessageStatus) (bool, error) {
	tx, err := db.Begin()
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback() }()

	inserted, err := insertMessageTx(tx, m, st)
	if err != nil {
		return false, err
	}
	if !inserted {
		return false, nil
	}
	return true, tx.Commit()
}

func insertMessageTx(tx *sql.Tx, m *Message, st *MessageStatus) (bool, error) {
	res, err := tx.Exec(`
		INSERT INTO messages (message_id, conversation_id, sender, recipient,
			is_incoming, date, time, body, is_encrypted, is_media, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(conversation_id, message_id) DO NOTHING`,
		m.MessageID, m.ConversationID, m.Sender, m.Recipient,
		m.Incoming, m.Date, m.Time, m.Body, m.Encrypted, m.Media, time.Now().UnixMilli())
	if err != nil {
		return false, fmt.Errorf("insert message: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 0 {
		return false, nil
	}

	if _, err := tx.Exec(`
		INSERT INTO message_status (message_id, is_draft, is_sent, is_received, is_read)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(message_id) DO NOTHING`,
		st.MessageID, st.Draft, st.Sent, st.Received, st.Read); err != nil {
		return false, fmt.Errorf("insert status: %w", err)
	}

	if _, err := tx.Exec(`
		UPDATE conversations SET last_message_date = ?, last_message_time = ?, updated_at = ?
		WHERE identity = ?`,
		m.Date, m.Time, time.Now().UnixMilli(), m.ConversationID); err != nil {
		return false, fmt.Errorf("touch conversation: %w", err)
	}
	return true, nil
}

// CreateConversationWithMessage creates a conversation and appends its
// first message in one transaction, so an inbound message for a new
// thread never leaves a half-provisioned conversation behind.
func (db *DB) CreateConversationWithMessage(c *Conversation, m *Message, st *MessageStatus) (bool, error) {
	members, err := normalizeMembers(c.Members)
	if err != nil {
		return false, err
	}

	tx, err := db.Begin()
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`
		INSERT INTO conversations (identity, display_name, is_group, is_silenced,
			members, avatar_uri, created_by, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(identity) DO NOTHING`,
		c.Identity, c.DisplayName, c.IsGroup, c.IsSilenced, string(members),
		c.AvatarURI, c.CreatedBy, c.CreatedAt, time.Now().UnixMilli()); err != nil {
		return false, err
	}

	inserted, err := insertMessageTx(tx, m, st)
	if err != nil {
		return false, err
	}
	if !inserted {
		return false, nil
	}
	return true, tx.Commit()
}

// Messages returns the newest messages of a conversation, most recent
// last, capped at limit.
func (db *DB) Messages(conversationID string, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.Query(`
		SELECT id, message_id, conversation_id, sender, recipient, is_incoming,
		       date, time, body, is_encrypted, is_media
		FROM (
			SELECT * FROM messages WHERE conversation_id = ? ORDER BY id DESC LIMIT ?
		) ORDER BY id ASC`, conversationID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.MessageID, &m.ConversationID, &m.Sender, &m.Recipient,
			&m.Incoming, &m.Date, &m.Time, &m.Body, &m.Encrypted, &m.Media); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// LastMessage returns the newest message of a conversation, or nil.
func (db *DB) LastMessage(conversationID string) (*Message, error) {
	var m Message
	err := db.QueryRow(`
		SELECT id, message_id, conversation_id, sender, recipient, is_incoming,
		       date, time, body, is_encrypted, is_media
		FROM messages WHERE conversation_id = ? ORDER BY id DESC LIMIT 1`, conversationID).
		Scan(&m.ID, &m.MessageID, &m.ConversationID, &m.Sender, &m.Recipient,
			&m.Incoming, &m.Date, &m.Time, &m.Body, &m.Encrypted, &m.Media)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// MessageStatusFor returns the status row for a message, or nil.
func (db *DB) MessageStatusFor(messageID string) (*MessageStatus, error) {
	var st MessageStatus
	err := db.QueryRow(`
		SELECT message_id, is_draft, is_sent, is_received, is_read
		FROM message_status WHERE message_id = ?`, messageID).
		Scan(&st.MessageID, &st.Draft, &st.Sent, &st.Received, &st.Read)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &st, nil
}

// MarkSent records wire transmission. Status bits only ever set; the
// lifecycle never moves backwards.
func (db *DB) MarkSent(messageID string) error {
	_, err := db.Exec(`UPDATE message_status SET is_sent = 1, is_draft = 0 WHERE message_id = ?`, messageID)
	return err
}

// MarkReceived records a delivery receipt from the peer.
func (db *DB) MarkReceived(messageID string) error {
	_, err := db.Exec(`UPDATE message_status SET is_received = 1 WHERE message_id = ?`, messageID)
	return err
}

// MarkRead records that the peer viewed the message.
func (db *DB) MarkRead(messageID string) error {
	_, err := db.Exec(`UPDATE message_status SET is_read = 1 WHERE message_id = ?`, messageID)
	return err
}

// MarkOutgoingRead marks every outgoing message of a conversation read.
// Applied when the peer signals active engagement with the thread.
func (db *DB) MarkOutgoingRead(conversationID string) error {
	_, err := db.Exec(`
		UPDATE message_status SET is_read = 1 WHERE message_id IN
			(SELECT message_id FROM messages WHERE conversation_id = ? AND is_incoming = 0)`,
		conversationID)
	return err
}
