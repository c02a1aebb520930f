package session

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/tapchat/tapd/internal/bus"
	"github.com/tapchat/tapd/internal/directory"
	"github.com/tapchat/tapd/internal/store"
)

func defaultAvailability(id string) []store.AvailabilityRow {
	rows := make([]store.AvailabilityRow, 0, 7)
	for wd := 1; wd <= 7; wd++ {
		rows = append(rows, store.AvailabilityRow{
			Identity: id, Weekday: wd, Start: "08:00", End: "17:00",
		})
	}
	return rows
}

// ensureProfile creates the local user record on first login and makes
// sure the directory carries the account's card.
func (m *Manager) ensureProfile(ctx context.Context) error {
	user, err := m.db.GetUser(m.cfg.Identity)
	if err != nil {
		return err
	}
	if user == nil {
		user = &store.User{Identity: m.cfg.Identity, FullName: m.localName()}
		if err := m.db.PutUser(user); err != nil {
			return err
		}
		return m.PublishProfile(ctx)
	}
	if _, err := m.profiles.FetchProfile(ctx, m.cfg.Identity); errors.Is(err, directory.ErrNotFound) {
		return m.PublishProfile(ctx)
	}
	return nil
}

// PublishProfile pushes the local user's card, including the seven
// availability windows, to the profile directory.
func (m *Manager) PublishProfile(ctx context.Context) error {
	user, err := m.db.GetUser(m.cfg.Identity)
	if err != nil {
		return err
	}
	if user == nil {
		return errors.New("no local user record")
	}
	avail, err := m.db.UserAvailability(m.cfg.Identity)
	if err != nil {
		return err
	}
	p := &directory.Profile{
		Identity: user.Identity,
		FullName: user.FullName,
		Email:    user.Email,
		Phone:    user.Phone,
	}
	for _, row := range avail {
		if row.Weekday >= 1 && row.Weekday <= 7 {
			p.Windows[row.Weekday-1] = directory.Window{Start: row.Start, End: row.End}
		}
	}
	return m.profiles.PublishProfile(ctx, p)
}

// SyncRoster reconciles local contacts against the server roster: new
// entries are created with their published profile and key, entries
// the server dropped are removed.
func (m *Manager) SyncRoster(ctx context.Context) error {
	entries, err := m.client.FetchRoster(ctx)
	if err != nil {
		return err
	}
	existing, err := m.db.AllContactIdentities()
	if err != nil {
		return err
	}
	stale := make(map[string]bool, len(existing))
	for _, id := range existing {
		stale[id] = true
	}

	for _, entry := range entries {
		name := entry.Name
		if name == "" {
			name = entry.Identity
		}
		created, err := m.db.CreateContactIfAbsent(
			&store.Contact{Identity: entry.Identity, Name: name},
			defaultAvailability(entry.Identity))
		if err != nil {
			m.logger.Warn("roster upsert failed", zap.String("contact", entry.Identity), zap.Error(err))
			continue
		}
		if created {
			m.bus.Emit(bus.KindContactCreated, entry.Identity)
		}
		m.watchContact(ctx, entry.Identity)
		if err := m.applyRemoteProfile(ctx, entry.Identity); err != nil {
			m.logger.Debug("profile fetch failed", zap.String("contact", entry.Identity), zap.Error(err))
		}
		delete(stale, entry.Identity)
	}

	for id := range stale {
		if err := m.db.DeleteContact(id); err != nil {
			m.logger.Warn("roster delete failed", zap.String("contact", id), zap.Error(err))
			continue
		}
		m.bus.Emit(bus.KindContactRemoved, id)
	}

	m.bus.Emit(bus.KindRosterSynced, len(entries))
	return nil
}

// watchContact subscribes to key rotations once per contact per
// process lifetime.
func (m *Manager) watchContact(ctx context.Context, id string) {
	m.mu.Lock()
	if m.watched == nil {
		m.watched = map[string]bool{}
	}
	if m.watched[id] {
		m.mu.Unlock()
		return
	}
	m.watched[id] = true
	m.mu.Unlock()

	err := m.vault.WatchContact(ctx, id, func(contact string) {
		m.bus.Emit(bus.KindContactKey, contact)
	})
	if err != nil {
		m.logger.Warn("key watch failed", zap.String("contact", id), zap.Error(err))
	}
}

// applyRemoteProfile copies the contact's published card into the
// local row: display name, email, phone, and the seven availability
// windows.
func (m *Manager) applyRemoteProfile(ctx context.Context, id string) error {
	p, err := m.profiles.FetchProfile(ctx, id)
	if errors.Is(err, directory.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	contact, err := m.db.GetContact(id)
	if err != nil || contact == nil {
		return err
	}
	dirty := false
	if p.FullName != "" && p.FullName != contact.Name {
		contact.Name = p.FullName
		dirty = true
	}
	if p.Email != "" && p.Email != contact.Email {
		contact.Email = p.Email
		dirty = true
	}
	if p.Phone != "" && p.Phone != contact.Phone {
		contact.Phone = p.Phone
		dirty = true
	}
	if dirty {
		if err := m.db.UpdateContact(contact); err != nil {
			return err
		}
		m.bus.Emit(bus.KindContactUpdated, id)
	}
	avail, err := m.db.ContactAvailability(id)
	if err != nil {
		return err
	}
	changed := false
	for i := range avail {
		wd := avail[i].Weekday
		if wd < 1 || wd > 7 {
			continue
		}
		win := p.Windows[wd-1]
		if win.Start == "" && win.End == "" {
			continue
		}
		if avail[i].Start != win.Start || avail[i].End != win.End {
			avail[i].Start, avail[i].End = win.Start, win.End
			changed = true
		}
	}
	if changed {
		return m.db.UpdateContactAvailability(avail)
	}
	return nil
}
