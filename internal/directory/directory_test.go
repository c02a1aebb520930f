package directory

import (
	"context"
	"errors"
	"testing"
)

func TestMemoryKeys(t *testing.T) {
	ctx := context.Background()
	d := NewMemoryKeys()

	if _, err := d.FetchKey(ctx, "alice@example.com"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("FetchKey on empty directory = %v, want ErrNotFound", err)
	}

	var seen []string
	if err := d.WatchKey(ctx, "alice@example.com", func(k string) { seen = append(seen, k) }); err != nil {
		t.Fatal(err)
	}

	if err := d.PublishKey(ctx, "alice@example.com", "k1"); err != nil {
		t.Fatal(err)
	}
	if err := d.PublishKey(ctx, "alice@example.com", "k2"); err != nil {
		t.Fatal(err)
	}

	got, err := d.FetchKey(ctx, "alice@example.com")
	if err != nil {
		t.Fatal(err)
	}
	if got != "k2" {
		t.Errorf("FetchKey = %q, want k2", got)
	}
	if len(seen) != 2 || seen[0] != "k1" || seen[1] != "k2" {
		t.Errorf("watcher saw %v", seen)
	}
}

func TestMemoryProfiles(t *testing.T) {
	ctx := context.Background()
	d := NewMemoryProfiles()

	p := &Profile{Identity: "bob@example.com", FullName: "Bob"}
	for i := range p.Windows {
		p.Windows[i] = Window{Start: "08:00", End: "17:00"}
	}
	if err := d.PublishProfile(ctx, p); err != nil {
		t.Fatal(err)
	}

	got, err := d.FetchProfile(ctx, "bob@example.com")
	if err != nil {
		t.Fatal(err)
	}
	if got.FullName != "Bob" || got.Windows[6].End != "17:00" {
		t.Errorf("profile = %+v", got)
	}

	// Mutating the returned copy must not affect the stored record.
	got.FullName = "Mallory"
	again, _ := d.FetchProfile(ctx, "bob@example.com")
	if again.FullName != "Bob" {
		t.Error("stored profile aliased by fetch result")
	}

	if _, err := d.FetchProfile(ctx, "nobody@example.com"); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing profile = %v, want ErrNotFound", err)
	}
}
