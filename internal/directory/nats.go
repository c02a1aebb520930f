package directory

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// Directory service subjects. Key updates additionally fan out on a
// per-identity update subject so watchers see rotations push-style.
const (
	subjKeyPut      = "tap.dir.key.put"
	subjKeyGet      = "tap.dir.key.get"
	keyUpdatePrefix = "tap.dir.key.update."

	subjProfilePut = "tap.dir.profile.put"
	subjProfileGet = "tap.dir.profile.get"
)

type keyRecord struct {
	Identity string `json:"identity"`
	Key      string `json:"key,omitempty"`
	Found    bool   `json:"found,omitempty"`
}

type profileRecord struct {
	Profile *Profile `json:"profile,omitempty"`
	Found   bool     `json:"found,omitempty"`
}

func flatten(identity string) string {
	return strings.ReplaceAll(identity, "@", ".")
}

// NATSKeys is the broker-backed KeyDirectory.
type NATSKeys struct {
	nc     *nats.Conn
	logger *zap.Logger
}

func NewNATSKeys(nc *nats.Conn, logger *zap.Logger) *NATSKeys {
	return &NATSKeys{nc: nc, logger: logger}
}

func (d *NATSKeys) PublishKey(ctx context.Context, identity, key string) error {
	data, err := json.Marshal(keyRecord{Identity: identity, Key: key})
	if err != nil {
		return err
	}
	if _, err := d.nc.RequestWithContext(ctx, subjKeyPut, data); err != nil {
		return fmt.Errorf("publish key: %w", err)
	}
	return d.nc.Publish(keyUpdatePrefix+flatten(identity), data)
}

func (d *NATSKeys) FetchKey(ctx context.Context, identity string) (string, error) {
	data, err := json.Marshal(keyRecord{Identity: identity})
	if err != nil {
		return "", err
	}
	msg, err := d.nc.RequestWithContext(ctx, subjKeyGet, data)
	if err != nil {
		return "", fmt.Errorf("fetch key: %w", err)
	}
	var rec keyRecord
	if err := json.Unmarshal(msg.Data, &rec); err != nil {
		return "", fmt.Errorf("decode key record: %w", err)
	}
	if !rec.Found {
		return "", ErrNotFound
	}
	return rec.Key, nil
}

func (d *NATSKeys) WatchKey(ctx context.Context, identity string, fn func(string)) error {
	sub, err := d.nc.Subscribe(keyUpdatePrefix+flatten(identity), func(m *nats.Msg) {
		var rec keyRecord
		if err := json.Unmarshal(m.Data, &rec); err != nil {
			d.logger.Warn("dropping undecodable key update", zap.Error(err))
			return
		}
		fn(rec.Key)
	})
	if err != nil {
		return fmt.Errorf("watch key: %w", err)
	}
	go func() {
		<-ctx.Done()
		_ = sub.Unsubscribe()
	}()
	return nil
}

// NATSProfiles is the broker-backed ProfileDirectory.
type NATSProfiles struct {
	nc *nats.Conn
}

func NewNATSProfiles(nc *nats.Conn) *NATSProfiles {
	return &NATSProfiles{nc: nc}
}

func (d *NATSProfiles) PublishProfile(ctx context.Context, p *Profile) error {
	data, err := json.Marshal(profileRecord{Profile: p})
	if err != nil {
		return err
	}
	if _, err := d.nc.RequestWithContext(ctx, subjProfilePut, data); err != nil {
		return fmt.Errorf("publish profile: %w", err)
	}
	return nil
}

func (d *NATSProfiles) FetchProfile(ctx context.Context, identity string) (*Profile, error) {
	data, err := json.Marshal(profileRecord{Profile: &Profile{Identity: identity}})
	if err != nil {
		return nil, err
	}
	msg, err := d.nc.RequestWithContext(ctx, subjProfileGet, data)
	if err != nil {
		return nil, fmt.Errorf("fetch profile: %w", err)
	}
	var rec profileRecord
	if err := json.Unmarshal(msg.Data, &rec); err != nil {
		return nil, fmt.Errorf("decode profile record: %w", err)
	}
	if !rec.Found || rec.Profile == nil {
		return nil, ErrNotFound
	}
	return rec.Profile, nil
}

var (
	_ KeyDirectory     = (*NATSKeys)(nil)
	_ ProfileDirectory = (*NATSProfiles)(nil)
)
