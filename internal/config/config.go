package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Window is one weekday's availability window, "HH:MM" bounds.
type Window struct {
	Start string `toml:"start"`
	End   string `toml:"end"`
}

// Availability holds one window per weekday. Positional order is
// Sunday through Saturday to match the profile directory's 14-field
// start/end layout.
type Availability struct {
	Sunday    Window `toml:"sunday"`
	Monday    Window `toml:"monday"`
	Tuesday   Window `toml:"tuesday"`
	Wednesday Window `toml:"wednesday"`
	Thursday  Window `toml:"thursday"`
	Friday    Window `toml:"friday"`
	Saturday  Window `toml:"saturday"`
}

// Windows returns the seven windows in weekday order, Sunday first.
func (a Availability) Windows() [7]Window {
	return [7]Window{a.Sunday, a.Monday, a.Tuesday, a.Wednesday, a.Thursday, a.Friday, a.Saturday}
}

// Config represents the per-profile config.toml.
type Config struct {
	// ServerURL is the middleware server to dial, e.g. nats://host:4222.
	ServerURL string `toml:"server_url"`
	// Domain is the federation domain this account lives under.
	Domain string `toml:"domain"`
	// Identity is the account address, local-part@domain.
	Identity string `toml:"identity"`
	// CredentialFile holds the opaque auth credential, one line.
	CredentialFile string `toml:"credential_file"`

	EncryptMessages   bool `toml:"encrypt_messages"`
	ShowTyping        bool `toml:"show_typing"`
	ShowReadReceipts  bool `toml:"show_read_receipts"`
	SilenceGroupChats bool `toml:"silence_group_chats"`

	// ReconnectDelaySeconds is the fixed delay between reconnect
	// attempts after an unintentional disconnect.
	ReconnectDelaySeconds int `toml:"reconnect_delay_seconds"`
	// ReconnectMaxAttempts bounds the reconnect loop; 0 retries forever.
	ReconnectMaxAttempts int `toml:"reconnect_max_attempts"`
	// KeepaliveIntervalSeconds is how often the prober pings the server.
	KeepaliveIntervalSeconds int `toml:"keepalive_interval_seconds"`

	Availability Availability `toml:"availability"`
}

// Default returns a config with the stock values: business-hours
// availability, typing and read receipts on, 30s fixed-delay infinite
// reconnect.
func Default() *Config {
	day := Window{Start: "08:00", End: "17:00"}
	return &Config{
		ShowTyping:               true,
		ShowReadReceipts:         true,
		ReconnectDelaySeconds:    30,
		KeepaliveIntervalSeconds: 60,
		Availability: Availability{
			Sunday: day, Monday: day, Tuesday: day, Wednesday: day,
			Thursday: day, Friday: day, Saturday: day,
		},
	}
}

// Load reads config from the given path, layering the file over the
// defaults so absent keys keep their stock values.
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	if cfg.Identity == "" {
		return nil, fmt.Errorf("config %s: identity is required", path)
	}
	return cfg, nil
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}

// Credential reads the opaque credential from CredentialFile.
func (c *Config) Credential() (string, error) {
	data, err := os.ReadFile(c.CredentialFile)
	if err != nil {
		return "", fmt.Errorf("read credential: %w", err)
	}
	cred := string(data)
	for len(cred) > 0 && (cred[len(cred)-1] == '\n' || cred[len(cred)-1] == '\r') {
		cred = cred[:len(cred)-1]
	}
	return cred, nil
}
