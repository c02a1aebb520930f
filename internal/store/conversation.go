package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"slices"
	"time"
)

// ConversationExists reports whether a conversation row exists.
func (db *DB) ConversationExists(identity string) (bool, error) {
	var one int
	err := db.QueryRow(`SELECT 1 FROM conversations WHERE identity = ?`, identity).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}

// GetConversation returns a conversation by identity, or nil if absent.
func (db *DB) GetConversation(identity string) (*Conversation, error) {
	row := db.QueryRow(`
		SELECT identity, display_name, is_group, is_silenced, members, avatar_uri,
		       created_by, created_at, peer_composing, peer_composing_name,
		       last_message_date, last_message_time
		FROM conversations WHERE identity = ?`, identity)
	return scanConversation(row)
}

func scanConversation(row *sql.Row) (*Conversation, error) {
	var c Conversation
	var members string
	err := row.Scan(&c.Identity, &c.DisplayName, &c.IsGroup, &c.IsSilenced, &members,
		&c.AvatarURI, &c.CreatedBy, &c.CreatedAt, &c.PeerComposing, &c.PeerComposingName,
		&c.LastMessageDate, &c.LastMessageTime)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(members), &c.Members); err != nil {
		return nil, fmt.Errorf("members of %q: %w", c.Identity, err)
	}
	return &c, nil
}

// normalizeMembers deduplicates and sorts the member list; insertion
// order carries no meaning.
func normalizeMembers(members []string) ([]byte, error) {
	ms := slices.Clone(members)
	slices.Sort(ms)
	ms = slices.Compact(ms)
	if ms == nil {
		ms = []string{}
	}
	return json.Marshal(ms)
}

// CreateConversation inserts a conversation row. Exactly one row may
// exist per identity; creating an existing conversation is an error.
func (db *DB) CreateConversation(c *Conversation) error {
	members, err := normalizeMembers(c.Members)
	if err != nil {
		return err
	}
	_, err = db.Exec(`
		INSERT INTO conversations (identity, display_name, is_group, is_silenced,
			members, avatar_uri, created_by, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.Identity, c.DisplayName, c.IsGroup, c.IsSilenced, string(members),
		c.AvatarURI, c.CreatedBy, c.CreatedAt, time.Now().UnixMilli())
	return err
}

// DeleteConversation removes a conversation, its messages (cascade),
// and their status rows.
func (db *DB) DeleteConversation(identity string) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`
		DELETE FROM message_status WHERE message_id IN
			(SELECT message_id FROM messages WHERE conversation_id = ?)`, identity); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM conversations WHERE identity = ?`, identity); err != nil {
		return err
	}
	return tx.Commit()
}

// GroupConversationIDs returns the identities of all group conversations.
func (db *DB) GroupConversationIDs() ([]string, error) {
	rows, err := db.Query(`SELECT identity FROM conversations WHERE is_group = 1 ORDER BY identity`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// SetSilenced flips the conversation's silence flag.
func (db *DB) SetSilenced(identity string, silenced bool) error {
	_, err := db.Exec(`UPDATE conversations SET is_silenced = ?, updated_at = ? WHERE identity = ?`,
		silenced, time.Now().UnixMilli(), identity)
	return err
}

// SetPeerComposing materializes the current liveness state onto the
// conversation row. Only the current state is kept, never a history.
func (db *DB) SetPeerComposing(identity string, composing bool, name string) error {
	if !composing {
		name = ""
	}
	_, err := db.Exec(`
		UPDATE conversations SET peer_composing = ?, peer_composing_name = ?, updated_at = ?
		WHERE identity = ?`,
		composing, name, time.Now().UnixMilli(), identity)
	return err
}
