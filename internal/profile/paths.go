// Package profile resolves the on-disk layout for an account profile:
// config, database, log, key material, and the daemon lock all live
// under one directory keyed by the account's local-part.
package profile

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tapchat/tapd/internal/identity"
)

// BaseDir returns ~/.tapd.
func BaseDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".tapd")
}

// Name derives the profile name from an account identity.
func Name(id identity.Identity) string {
	return id.Local()
}

// Validate rejects profile names that would escape the profile tree or
// collide with path separators.
func Validate(name string) error {
	if name == "" {
		return fmt.Errorf("profile name is empty")
	}
	if strings.ContainsAny(name, "/\\ ") || name == "." || name == ".." {
		return fmt.Errorf("invalid profile name %q", name)
	}
	return nil
}

// Dir returns the profile-specific directory.
func Dir(name string) string {
	return filepath.Join(BaseDir(), "profiles", name)
}

// DBPath returns the profile's SQLite database path.
func DBPath(name string) string {
	return filepath.Join(Dir(name), "tapd.db")
}

// KeyPath returns the PEM file holding the profile's RSA private key.
func KeyPath(name string) string {
	return filepath.Join(Dir(name), "key.pem")
}

// LogDir returns the log directory for a profile.
func LogDir(name string) string {
	return filepath.Join(Dir(name), "logs")
}

// LogPath returns the daemon log file path.
func LogPath(name string) string {
	return filepath.Join(LogDir(name), "tapd.log")
}

// ConfigPath returns the profile's config file path.
func ConfigPath(name string) string {
	return filepath.Join(Dir(name), "config.toml")
}

// EnsureDir creates the profile directory tree with proper permissions.
func EnsureDir(name string) error {
	for _, d := range []string{Dir(name), LogDir(name)} {
		if err := os.MkdirAll(d, 0700); err != nil {
			return err
		}
	}
	return nil
}
