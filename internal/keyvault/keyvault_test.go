package keyvault

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/tapchat/tapd/internal/directory"
	"github.com/tapchat/tapd/internal/store"
)

func testVault(t *testing.T, identity string, dir directory.KeyDirectory, db store.Storage) *Vault {
	t.Helper()
	v := New(identity, filepath.Join(t.TempDir(), "key.pem"), dir, db, zap.NewNop())
	if err := v.EnsureKeyPair(); err != nil {
		t.Fatal(err)
	}
	return v
}

func testStore(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestEnsureKeyPairStable(t *testing.T) {
	dir := directory.NewMemoryKeys()
	db := testStore(t)
	path := filepath.Join(t.TempDir(), "key.pem")

	v1 := New("me@example.com", path, dir, db, zap.NewNop())
	if err := v1.EnsureKeyPair(); err != nil {
		t.Fatal(err)
	}
	k1, err := v1.PublicKey()
	if err != nil {
		t.Fatal(err)
	}

	// Second load must reuse the persisted key, not regenerate.
	v2 := New("me@example.com", path, dir, db, zap.NewNop())
	if err := v2.EnsureKeyPair(); err != nil {
		t.Fatal(err)
	}
	k2, _ := v2.PublicKey()
	if k1 != k2 {
		t.Error("key changed across loads")
	}
}

func TestVerifyPublishedKey(t *testing.T) {
	ctx := context.Background()
	dir := directory.NewMemoryKeys()
	db := testStore(t)
	v := testVault(t, "me@example.com", dir, db)

	if err := v.VerifyPublishedKey(ctx); err != nil {
		t.Fatal(err)
	}
	local, _ := v.PublicKey()
	remote, err := dir.FetchKey(ctx, "me@example.com")
	if err != nil || remote != local {
		t.Fatalf("directory key = %q err=%v", remote, err)
	}

	// A stale directory entry gets replaced.
	if err := dir.PublishKey(ctx, "me@example.com", "stale"); err != nil {
		t.Fatal(err)
	}
	if err := v.VerifyPublishedKey(ctx); err != nil {
		t.Fatal(err)
	}
	remote, _ = dir.FetchKey(ctx, "me@example.com")
	if remote != local {
		t.Error("stale directory entry not replaced")
	}
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	ctx := context.Background()
	dir := directory.NewMemoryKeys()
	db := testStore(t)

	alice := testVault(t, "alice@example.com", dir, db)
	bob := testVault(t, "bob@example.com", dir, db)
	if err := bob.VerifyPublishedKey(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := db.CreateContactIfAbsent(&store.Contact{Identity: "bob@example.com"}, nil); err != nil {
		t.Fatal(err)
	}

	for _, body := range []string{
		"hi",
		strings.Repeat("long message ", 100), // spans multiple RSA blocks
		"",
	} {
		ct, err := alice.Encrypt(ctx, "bob@example.com", body)
		if err != nil {
			t.Fatal(err)
		}
		if body != "" && ct == body {
			t.Fatal("ciphertext equals plaintext")
		}
		pt, err := bob.Decrypt(ct)
		if err != nil {
			t.Fatal(err)
		}
		if pt != body {
			t.Errorf("round trip of %d bytes failed", len(body))
		}
	}

	// The directory hit must have been written back to the store.
	cached, err := db.ContactPublicKey("bob@example.com")
	if err != nil || cached == "" {
		t.Errorf("contact key not cached: %q err=%v", cached, err)
	}
}

func TestEncryptMissingKey(t *testing.T) {
	ctx := context.Background()
	db := testStore(t)
	v := testVault(t, "alice@example.com", directory.NewMemoryKeys(), db)
	if _, err := db.CreateContactIfAbsent(&store.Contact{Identity: "ghost@example.com"}, nil); err != nil {
		t.Fatal(err)
	}

	_, err := v.Encrypt(ctx, "ghost@example.com", "hello")
	if !errors.Is(err, ErrKeyMissing) {
		t.Errorf("Encrypt without key = %v, want ErrKeyMissing", err)
	}
}

func TestDecryptFailed(t *testing.T) {
	ctx := context.Background()
	dir := directory.NewMemoryKeys()
	db := testStore(t)

	alice := testVault(t, "alice@example.com", dir, db)
	bob := testVault(t, "bob@example.com", dir, db)
	carol := testVault(t, "carol@example.com", dir, db)
	if err := bob.VerifyPublishedKey(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := db.CreateContactIfAbsent(&store.Contact{Identity: "bob@example.com"}, nil); err != nil {
		t.Fatal(err)
	}

	ct, err := alice.Encrypt(ctx, "bob@example.com", "for bob only")
	if err != nil {
		t.Fatal(err)
	}

	for _, bad := range []string{ct, "!!not base64!!", "c2hvcnQ="} {
		if _, err := carol.Decrypt(bad); !errors.Is(err, ErrDecryptFailed) {
			t.Errorf("Decrypt(%.16q) = %v, want ErrDecryptFailed", bad, err)
		}
	}
}

func TestWatchContactPersistsRotation(t *testing.T) {
	ctx := context.Background()
	dir := directory.NewMemoryKeys()
	db := testStore(t)
	v := testVault(t, "alice@example.com", dir, db)
	if _, err := db.CreateContactIfAbsent(&store.Contact{Identity: "bob@example.com"}, nil); err != nil {
		t.Fatal(err)
	}

	var notified []string
	if err := v.WatchContact(ctx, "bob@example.com", func(c string) { notified = append(notified, c) }); err != nil {
		t.Fatal(err)
	}

	bob := testVault(t, "bob@example.com", dir, db)
	if err := bob.VerifyPublishedKey(ctx); err != nil {
		t.Fatal(err)
	}

	cached, err := db.ContactPublicKey("bob@example.com")
	if err != nil || cached == "" {
		t.Fatalf("rotated key not persisted: %q err=%v", cached, err)
	}
	if len(notified) != 1 || notified[0] != "bob@example.com" {
		t.Errorf("notifications = %v", notified)
	}
}
