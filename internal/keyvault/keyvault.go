// Package keyvault owns the profile's RSA identity key and the
// per-contact public keys used for end-to-end message encryption.
// Private keys never leave the profile directory; public keys travel
// through the federation key directory in base64 form.
package keyvault

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/tapchat/tapd/internal/directory"
	"github.com/tapchat/tapd/internal/store"
)

const keyBits = 2048

var (
	// ErrKeyMissing means the contact has no published public key, so
	// an encrypted message cannot be produced for them.
	ErrKeyMissing = errors.New("keyvault: no public key for contact")
	// ErrDecryptFailed means the ciphertext did not decrypt under the
	// local private key. Distinct from transport errors so callers can
	// store a placeholder instead of dropping the message.
	ErrDecryptFailed = errors.New("keyvault: decrypt failed")
)

// Vault holds the local keypair and resolves contact keys through the
// store, falling back to the directory on a miss.
type Vault struct {
	identity string
	path     string
	dir      directory.KeyDirectory
	db       store.Storage
	logger   *zap.Logger

	priv *rsa.PrivateKey
}

func New(identity, path string, dir directory.KeyDirectory, db store.Storage, logger *zap.Logger) *Vault {
	return &Vault{identity: identity, path: path, dir: dir, db: db, logger: logger}
}

// EnsureKeyPair loads the profile's private key, generating and
// persisting a fresh one on first run.
func (v *Vault) EnsureKeyPair() error {
	data, err := os.ReadFile(v.path)
	switch {
	case err == nil:
		block, _ := pem.Decode(data)
		if block == nil || block.Type != "RSA PRIVATE KEY" {
			return fmt.Errorf("key file %s is not a private key", v.path)
		}
		priv, err := x509.ParsePKCS1PrivateKey(block.Bytes)
		if err != nil {
			return fmt.Errorf("parse private key: %w", err)
		}
		v.priv = priv
		return nil
	case os.IsNotExist(err):
		priv, err := rsa.GenerateKey(rand.Reader, keyBits)
		if err != nil {
			return fmt.Errorf("generate keypair: %w", err)
		}
		pemData := pem.EncodeToMemory(&pem.Block{
			Type:  "RSA PRIVATE KEY",
			Bytes: x509.MarshalPKCS1PrivateKey(priv),
		})
		if err := os.WriteFile(v.path, pemData, 0o600); err != nil {
			return fmt.Errorf("write private key: %w", err)
		}
		v.priv = priv
		v.logger.Info("generated identity keypair", zap.String("path", v.path))
		return nil
	default:
		return fmt.Errorf("read private key: %w", err)
	}
}

// PublicKey returns the local public key in its wire form.
func (v *Vault) PublicKey() (string, error) {
	if v.priv == nil {
		return "", errors.New("keyvault: keypair not loaded")
	}
	der, err := x509.MarshalPKIXPublicKey(&v.priv.PublicKey)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(der), nil
}

// VerifyPublishedKey checks the directory entry for the local identity
// and republishes when it is missing or stale. Run on every connect so
// a wiped directory heals itself.
func (v *Vault) VerifyPublishedKey(ctx context.Context) error {
	local, err := v.PublicKey()
	if err != nil {
		return err
	}
	remote, err := v.dir.FetchKey(ctx, v.identity)
	if err == nil && remote == local {
		return nil
	}
	if err != nil && !errors.Is(err, directory.ErrNotFound) {
		return err
	}
	v.logger.Info("publishing public key", zap.String("identity", v.identity))
	return v.dir.PublishKey(ctx, v.identity, local)
}

// contactKey resolves the contact's public key, store first, directory
// on a miss. A directory hit is written back to the store.
func (v *Vault) contactKey(ctx context.Context, contact string) (*rsa.PublicKey, error) {
	enc, err := v.db.ContactPublicKey(contact)
	if err != nil {
		return nil, err
	}
	if enc == "" {
		enc, err = v.dir.FetchKey(ctx, contact)
		if errors.Is(err, directory.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrKeyMissing, contact)
		}
		if err != nil {
			return nil, err
		}
		if err := v.db.SetContactPublicKey(contact, enc); err != nil {
			return nil, err
		}
	}
	return parsePublicKey(enc)
}

func parsePublicKey(enc string) (*rsa.PublicKey, error) {
	der, err := base64.StdEncoding.DecodeString(enc)
	if err != nil {
		return nil, fmt.Errorf("decode public key: %w", err)
	}
	pub, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, fmt.Errorf("parse public key: %w", err)
	}
	rsaPub, ok := pub.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("public key is %T, want RSA", pub)
	}
	return rsaPub, nil
}

// Encrypt produces the wire ciphertext of plaintext for contact. Long
// bodies span multiple RSA blocks; the blocks are concatenated before
// the final base64 pass.
func (v *Vault) Encrypt(ctx context.Context, contact, plaintext string) (string, error) {
	pub, err := v.contactKey(ctx, contact)
	if err != nil {
		return "", err
	}
	max := pub.Size() - 11
	data := []byte(plaintext)
	var out []byte
	// An empty body still produces one block so the ciphertext is
	// never the empty string.
	for first := true; first || len(data) > 0; first = false {
		n := len(data)
		if n > max {
			n = max
		}
		block, err := rsa.EncryptPKCS1v15(rand.Reader, pub, data[:n])
		if err != nil {
			return "", fmt.Errorf("encrypt for %s: %w", contact, err)
		}
		out = append(out, block...)
		data = data[n:]
	}
	return base64.StdEncoding.EncodeToString(out), nil
}

// Decrypt reverses Encrypt under the local private key.
func (v *Vault) Decrypt(ciphertext string) (string, error) {
	if v.priv == nil {
		return "", errors.New("keyvault: keypair not loaded")
	}
	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", ErrDecryptFailed
	}
	size := v.priv.Size()
	if len(raw) == 0 || len(raw)%size != 0 {
		return "", ErrDecryptFailed
	}
	var out []byte
	for off := 0; off < len(raw); off += size {
		block, err := rsa.DecryptPKCS1v15(nil, v.priv, raw[off:off+size])
		if err != nil {
			return "", ErrDecryptFailed
		}
		out = append(out, block...)
	}
	return string(out), nil
}

// WatchContact tracks directory updates for one contact, persisting
// each new key as it lands.
func (v *Vault) WatchContact(ctx context.Context, contact string, changed func(contact string)) error {
	return v.dir.WatchKey(ctx, contact, func(key string) {
		if err := v.db.SetContactPublicKey(contact, key); err != nil {
			v.logger.Warn("persisting rotated key failed",
				zap.String("contact", contact), zap.Error(err))
			return
		}
		v.logger.Info("contact key rotated", zap.String("contact", contact))
		if changed != nil {
			changed(contact)
		}
	})
}
