// Package e2e seals and opens message content for the native messaging path.
package e2e

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"github.com/matheus3301/enterchat/internal/model"
	"github.com/matheus3301/enterchat/internal/securestore"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

const keyPrefix = "e2e/key/"

var ErrUnknownKey = errors.New("e2e: unknown key id")

// Cipher encrypts with XChaCha20-Poly1305 using per-key material held in a
// secure store. The key id is bound as additional data.
type Cipher struct {
	store securestore.Store
}

// New creates a cipher over store.
func New(store securestore.Store) *Cipher {
	return &Cipher{store: store}
}

// EnsureKey creates random key material for keyID unless it already exists.
func (c *Cipher) EnsureKey(keyID string) error {
	_, err := c.store.Read(keyPrefix + keyID)
	if err == nil {
		return nil
	}
	if !errors.Is(err, securestore.ErrNotFound) {
		return err
	}
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return fmt.Errorf("generate key: %w", err)
	}
	return c.store.Write(keyPrefix+keyID, base64.StdEncoding.EncodeToString(secret))
}

// Encrypt seals plaintext under keyID.
func (c *Cipher) Encrypt(plaintext []byte, keyID string) (*model.Envelope, error) {
	aead, err := c.aead(keyID)
	if err != nil {
		return nil, err
	}
	iv := make([]byte, aead.NonceSize())
	if _, err := rand.Read(iv); err != nil {
		return nil, fmt.Errorf("nonce: %w", err)
	}
	return &model.Envelope{
		Ciphertext: aead.Seal(nil, iv, plaintext, []byte(keyID)),
		IV:         iv,
	}, nil
}

// Decrypt opens ciphertext sealed under keyID.
func (c *Cipher) Decrypt(ciphertext, iv []byte, keyID string) ([]byte, error) {
	aead, err := c.aead(keyID)
	if err != nil {
		return nil, err
	}
	if len(iv) != aead.NonceSize() {
		return nil, fmt.Errorf("e2e: bad iv length %d", len(iv))
	}
	pt, err := aead.Open(nil, iv, ciphertext, []byte(keyID))
	if err != nil {
		return nil, fmt.Errorf("e2e: open: %w", err)
	}
	return pt, nil
}

// Open decrypts msg.Envelope into msg.Content and clears the envelope.
func (c *Cipher) Open(msg *model.Message) error {
	if msg.Envelope == nil {
		return nil
	}
	if msg.EncryptionKeyID == "" {
		return model.ErrMissingKeyID
	}
	pt, err := c.Decrypt(msg.Envelope.Ciphertext, msg.Envelope.IV, msg.EncryptionKeyID)
	if err != nil {
		return err
	}
	msg.Content = string(pt)
	msg.IsEncrypted = true
	msg.Envelope = nil
	return nil
}

func (c *Cipher) aead(keyID string) (cipher.AEAD, error) {
	raw, err := c.store.Read(keyPrefix + keyID)
	if errors.Is(err, securestore.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownKey, keyID)
	}
	if err != nil {
		return nil, err
	}
	secret, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("e2e: corrupt key %s: %w", keyID, err)
	}
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, nil, []byte("enterchat/e2e/"+keyID)), key); err != nil {
		return nil, fmt.Errorf("e2e: derive key: %w", err)
	}
	return chacha20poly1305.NewX(key)
}
