// Package directory is the federation-wide lookup service for public
// keys and user profiles. Peers publish under their own identity and
// read everyone else's; key changes fan out to watchers so a contact's
// key rotation is picked up without polling.
package directory

import (
	"context"
	"errors"
)

// ErrNotFound reports that the directory holds no record for the
// requested identity.
var ErrNotFound = errors.New("directory: not found")

// Window is one weekday's availability span, "HH:MM" bounds inclusive.
type Window struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// Profile is the published user card. Windows runs Sunday through
// Saturday; a profile always carries all seven.
type Profile struct {
	Identity  string    `json:"identity"`
	FullName  string    `json:"full_name,omitempty"`
	Email     string    `json:"email,omitempty"`
	Phone     string    `json:"phone,omitempty"`
	AvatarURI string    `json:"avatar_uri,omitempty"`
	Windows   [7]Window `json:"windows"`
}

// KeyDirectory stores base64-encoded public keys by identity.
type KeyDirectory interface {
	// PublishKey stores or replaces the caller's key.
	PublishKey(ctx context.Context, identity, key string) error
	// FetchKey returns the stored key, or ErrNotFound.
	FetchKey(ctx context.Context, identity string) (string, error)
	// WatchKey invokes fn with the new key each time identity's entry
	// changes, until ctx is done.
	WatchKey(ctx context.Context, identity string, fn func(key string)) error
}

// ProfileDirectory stores user cards by identity.
type ProfileDirectory interface {
	PublishProfile(ctx context.Context, p *Profile) error
	FetchProfile(ctx context.Context, identity string) (*Profile, error)
}
