package directory

import (
	"context"
	"sync"
)

// MemoryKeys is an in-process KeyDirectory. Used by tests and by the
// single-node development mode.
type MemoryKeys struct {
	mu       sync.Mutex
	keys     map[string]string
	watchers map[string][]func(string)
}

func NewMemoryKeys() *MemoryKeys {
	return &MemoryKeys{
		keys:     map[string]string{},
		watchers: map[string][]func(string){},
	}
}

func (m *MemoryKeys) PublishKey(ctx context.Context, identity, key string) error {
	m.mu.Lock()
	m.keys[identity] = key
	fns := append([]func(string){}, m.watchers[identity]...)
	m.mu.Unlock()
	for _, fn := range fns {
		fn(key)
	}
	return nil
}

func (m *MemoryKeys) FetchKey(ctx context.Context, identity string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key, ok := m.keys[identity]
	if !ok {
		return "", ErrNotFound
	}
	return key, nil
}

func (m *MemoryKeys) WatchKey(ctx context.Context, identity string, fn func(string)) error {
	m.mu.Lock()
	m.watchers[identity] = append(m.watchers[identity], fn)
	m.mu.Unlock()
	return nil
}

// MemoryProfiles is an in-process ProfileDirectory.
type MemoryProfiles struct {
	mu       sync.Mutex
	profiles map[string]Profile
}

func NewMemoryProfiles() *MemoryProfiles {
	return &MemoryProfiles{profiles: map[string]Profile{}}
}

func (m *MemoryProfiles) PublishProfile(ctx context.Context, p *Profile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.profiles[p.Identity] = *p
	return nil
}

func (m *MemoryProfiles) FetchProfile(ctx context.Context, identity string) (*Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.profiles[identity]
	if !ok {
		return nil, ErrNotFound
	}
	return &p, nil
}

var (
	_ KeyDirectory     = (*MemoryKeys)(nil)
	_ ProfileDirectory = (*MemoryProfiles)(nil)
)
