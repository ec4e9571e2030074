// Package roomcrypto derives per-conversation symmetric keys from a
// process-wide master secret and seals message bodies with AES-256-GCM.
// Derivation is deterministic per room so every node that holds the master
// key independently produces the same room key.
package roomcrypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

const keySize = 32

// ErrDecrypt indicates the ciphertext is malformed or was sealed with a
// different key. Callers treat this as a legacy plaintext row and fall back
// to the stored raw value; it is never surfaced to end users.
var ErrDecrypt = errors.New("ciphertext malformed or key mismatch")

// Codec encrypts and decrypts chat message bodies.
type Codec struct {
	masterKey []byte
}

// New constructs a codec from the configured master key. The key is required
// and must carry at least 32 bytes of material.
func New(masterKey string) (*Codec, error) {
	if len(masterKey) < keySize {
		return nil, fmt.Errorf("chat master key must be at least %d bytes", keySize)
	}
	return &Codec{masterKey: []byte(masterKey)}, nil
}

// DeriveRoomKey expands the master key into a 32-byte room key via
// HKDF-SHA256, bound to the room identifier.
func (c *Codec) DeriveRoomKey(roomID string) []byte {
	reader := hkdf.New(sha256.New, c.masterKey, nil, []byte("room:"+roomID))
	key := make([]byte, keySize)
	if _, err := io.ReadFull(reader, key); err != nil {
		// HKDF only fails when asked for more output than the hash supports;
		// 32 bytes is far under that limit.
		panic(fmt.Sprintf("hkdf expand failed: %v", err))
	}
	return key
}

// Encrypt seals the plaintext with AES-256-GCM under the given room key and
// returns base64(nonce || ciphertext).
func (c *Codec) Encrypt(plaintext string, key []byte) (string, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("nonce generation failed: %w", err)
	}

	sealed := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a payload produced by Encrypt. It returns ErrDecrypt when the
// payload is not valid base64, too short to carry a nonce, or fails GCM
// authentication; it never returns garbled plaintext.
func (c *Codec) Decrypt(encoded string, key []byte) (string, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return "", err
	}

	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecrypt, err)
	}

	if len(raw) < gcm.NonceSize() {
		return "", fmt.Errorf("%w: payload too short", ErrDecrypt)
	}

	nonce, ciphertext := raw[:gcm.NonceSize()], raw[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecrypt, err)
	}

	return string(plaintext), nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	if len(key) != keySize {
		return nil, fmt.Errorf("room key must be %d bytes, got %d", keySize, len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	return cipher.NewGCM(block)
}
