package store

import "database/sql"

// GetUser returns the local user record, or nil if none is stored.
func (db *DB) GetUser(identity string) (*User, error) {
	var u User
	err := db.QueryRow(`SELECT identity, full_name, email, phone, avatar FROM users WHERE identity = ?`, identity).
		Scan(&u.Identity, &u.FullName, &u.Email, &u.Phone, &u.Avatar)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// PutUser inserts or updates the local user record and seeds its seven
// availability rows on first insert.
func (db *DB) PutUser(u *User) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`
		INSERT INTO users (identity, full_name, email, phone, avatar)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(identity) DO UPDATE SET
			full_name = excluded.full_name,
			email = excluded.email,
			phone = excluded.phone,
			avatar = excluded.avatar`,
		u.Identity, u.FullName, u.Email, u.Phone, u.Avatar); err != nil {
		return err
	}
	for weekday := 1; weekday <= 7; weekday++ {
		if _, err := tx.Exec(`
			INSERT INTO user_availability (identity, weekday) VALUES (?, ?)
			ON CONFLICT(identity, weekday) DO NOTHING`,
			u.Identity, weekday); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// UserAvailability returns the user's availability rows in weekday order.
func (db *DB) UserAvailability(identity string) ([]AvailabilityRow, error) {
	rows, err := db.Query(`
		SELECT row_id, identity, weekday, start_time, end_time
		FROM user_availability WHERE identity = ? ORDER BY weekday`, identity)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return scanAvailability(rows)
}

// SetUserAvailability updates availability rows in place by row id.
func (db *DB) SetUserAvailability(identity string, avail []AvailabilityRow) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, r := range avail {
		if _, err := tx.Exec(`
			UPDATE user_availability SET start_time = ?, end_time = ?
			WHERE row_id = ? AND identity = ?`,
			r.Start, r.End, r.RowID, identity); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func scanAvailability(rows *sql.Rows) ([]AvailabilityRow, error) {
	var out []AvailabilityRow
	for rows.Next() {
		var r AvailabilityRow
		if err := rows.Scan(&r.RowID, &r.Identity, &r.Weekday, &r.Start, &r.End); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
