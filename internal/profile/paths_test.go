package profile

import (
	"strings"
	"testing"

	"github.com/tapchat/tapd/internal/identity"
)

func TestName(t *testing.T) {
	if got := Name(identity.MustParse("alice@example.com")); got != "alice" {
		t.Errorf("Name = %q, want alice", got)
	}
}

func TestValidate(t *testing.T) {
	for _, bad := range []string{"", "a/b", "a b", ".", ".."} {
		if err := Validate(bad); err == nil {
			t.Errorf("Validate(%q) accepted", bad)
		}
	}
	if err := Validate("alice"); err != nil {
		t.Errorf("Validate(alice) = %v", err)
	}
}

func TestPathsUnderProfileDir(t *testing.T) {
	dir := Dir("alice")
	for name, p := range map[string]string{
		"db":     DBPath("alice"),
		"key":    KeyPath("alice"),
		"log":    LogPath("alice"),
		"config": ConfigPath("alice"),
	} {
		if !strings.HasPrefix(p, dir) {
			t.Errorf("%s path %q not under %q", name, p, dir)
		}
	}
}
