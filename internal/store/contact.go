package store

import (
	"database/sql"
	"fmt"
	"time"
)

// ContactExists reports whether a contact row exists for the identity.
func (db *DB) ContactExists(identity string) (bool, error) {
	var one int
	err := db.QueryRow(`SELECT 1 FROM contacts WHERE identity = ?`, identity).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}

// GetContact returns a contact by identity, or nil if absent.
func (db *DB) GetContact(identity string) (*Contact, error) {
	var c Contact
	err := db.QueryRow(`
		SELECT identity, name, email, phone, avatar, public_key,
		       is_online, is_available, is_blocked, is_muted,
		       last_online_date, last_online_time
		FROM contacts WHERE identity = ?`, identity).
		Scan(&c.Identity, &c.Name, &c.Email, &c.Phone, &c.Avatar, &c.PublicKey,
			&c.Online, &c.Available, &c.Blocked, &c.Muted,
			&c.LastOnlineDate, &c.LastOnlineTime)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// ContactName returns the contact's display name, falling back to the
// identity itself for unknown or unnamed contacts.
func (db *DB) ContactName(identity string) (string, error) {
	var name string
	err := db.QueryRow(`SELECT name FROM contacts WHERE identity = ?`, identity).Scan(&name)
	if err == sql.ErrNoRows || (err == nil && name == "") {
		return identity, nil
	}
	if err != nil {
		return "", err
	}
	return name, nil
}

// CreateContactIfAbsent inserts a contact and its availability rows.
// Both the roster-sync path and the unknown-sender path may race to
// create the same contact, so insertion is compare-and-create: the
// second caller sees created=false and no error.
func (db *DB) CreateContactIfAbsent(c *Contact, avail []AvailabilityRow) (bool, error) {
	tx, err := db.Begin()
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.Exec(`
		INSERT INTO contacts (identity, name, email, phone, avatar, public_key,
			last_online_date, last_online_time, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(identity) DO NOTHING`,
		c.Identity, c.Name, c.Email, c.Phone, c.Avatar, c.PublicKey,
		c.LastOnlineDate, c.LastOnlineTime, time.Now().UnixMilli())
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 0 {
		return false, nil
	}

	for _, r := range avail {
		if _, err := tx.Exec(`
			INSERT INTO contact_availability (identity, weekday, start_time, end_time)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(identity, weekday) DO NOTHING`,
			c.Identity, r.Weekday, r.Start, r.End); err != nil {
			return false, fmt.Errorf("availability for %q: %w", c.Identity, err)
		}
	}
	return true, tx.Commit()
}

// UpdateContact refreshes a contact's profile fields. Status flags and
// the public key are managed by their own setters and left untouched.
func (db *DB) UpdateContact(c *Contact) error {
	_, err := db.Exec(`
		UPDATE contacts SET name = ?, email = ?, phone = ?, avatar = ?, updated_at = ?
		WHERE identity = ?`,
		c.Name, c.Email, c.Phone, c.Avatar, time.Now().UnixMilli(), c.Identity)
	return err
}

// DeleteContact removes a contact; availability rows cascade.
func (db *DB) DeleteContact(identity string) error {
	_, err := db.Exec(`DELETE FROM contacts WHERE identity = ?`, identity)
	return err
}

// AllContactIdentities returns every roster contact's identity.
func (db *DB) AllContactIdentities() ([]string, error) {
	rows, err := db.Query(`SELECT identity FROM contacts ORDER BY identity`)
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

// ContactPublicKey returns the stored public key, "" when none is held.
func (db *DB) ContactPublicKey(identity string) (string, error) {
	var key string
	err := db.QueryRow(`SELECT public_key FROM contacts WHERE identity = ?`, identity).Scan(&key)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return key, err
}

// SetContactPublicKey records a directory-delivered public key.
func (db *DB) SetContactPublicKey(identity, publicKey string) error {
	_, err := db.Exec(`UPDATE contacts SET public_key = ?, updated_at = ? WHERE identity = ?`,
		publicKey, time.Now().UnixMilli(), identity)
	return err
}

// SetContactPresence updates the contact's online/available flags and
// last-online watermark.
func (db *DB) SetContactPresence(identity string, online, available bool, date, clock string) error {
	_, err := db.Exec(`
		UPDATE contacts SET is_online = ?, is_available = ?,
			last_online_date = ?, last_online_time = ?, updated_at = ?
		WHERE identity = ?`,
		online, available, date, clock, time.Now().UnixMilli(), identity)
	return err
}

// ContactAvailability returns the contact's availability rows in
// weekday order, Sunday first.
func (db *DB) ContactAvailability(identity string) ([]AvailabilityRow, error) {
	rows, err := db.Query(`
		SELECT row_id, identity, weekday, start_time, end_time
		FROM contact_availability WHERE identity = ? ORDER BY weekday`, identity)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return scanAvailability(rows)
}

// UpdateContactAvailability updates availability windows in place,
// matched by row id so remote profile refreshes never churn row
// identities.
func (db *DB) UpdateContactAvailability(avail []AvailabilityRow) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, r := range avail {
		if _, err := tx.Exec(`
			UPDATE contact_availability SET start_time = ?, end_time = ?
			WHERE row_id = ?`, r.Start, r.End, r.RowID); err != nil {
			return err
		}
	}
	return tx.Commit()
}
