package identity

import "testing"

func TestParse(t *testing.T) {
	tests := []struct {
		in      string
		want    Identity
		wantErr bool
	}{
		{"alice@example.com", "alice@example.com", false},
		{"Alice@Example.COM", "alice@example.com", false},
		{"team1@conference.example.com/bob@example.com", "team1@conference.example.com", false},
		{"alice", "", true},
		{"@example.com", "", true},
		{"alice@", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		got, err := Parse(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("Parse(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("Parse(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestResource(t *testing.T) {
	full := "team1@conference.example.com/bob@example.com"
	if got := Bare(full); got != "team1@conference.example.com" {
		t.Errorf("Bare = %q", got)
	}
	if got := Resource(full); got != "bob@example.com" {
		t.Errorf("Resource = %q", got)
	}
	if got := Resource("alice@example.com"); got != "" {
		t.Errorf("Resource without suffix = %q, want empty", got)
	}
}

func TestLocalDomain(t *testing.T) {
	id := MustParse("alice@example.com")
	if id.Local() != "alice" {
		t.Errorf("Local = %q", id.Local())
	}
	if id.Domain() != "example.com" {
		t.Errorf("Domain = %q", id.Domain())
	}
	if got := id.WithResource("phone"); got != "alice@example.com/phone" {
		t.Errorf("WithResource = %q", got)
	}
}
