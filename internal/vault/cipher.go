package vault

import (
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// blobVersion prefixes every sealed blob so the format can change later.
const blobVersion byte = 1

// KeySize is the required key length in bytes.
const KeySize = chacha20poly1305.KeySize

// Cipher seals and opens credential maps.
//
// Blob layout (before base64): version(1) || nonce(24) || ciphertext+tag.
// The version byte is also bound as additional data.
//
// Thread Safety: safe for concurrent use.
type Cipher struct {
	aead cipher.AEAD
}

// NewCipher creates a Cipher from a 32-byte key.
func NewCipher(key []byte) (*Cipher, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("%w: want %d bytes, got %d", ErrInvalidKey, KeySize, len(key))
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidKey, err)
	}
	return &Cipher{aead: aead}, nil
}

// Encrypt seals plaintext and returns the base64 blob.
func (c *Cipher) Encrypt(plaintext map[string]string) (string, error) {
	if plaintext == nil {
		plaintext = map[string]string{}
	}
	data, err := json.Marshal(plaintext)
	if err != nil {
		return "", fmt.Errorf("encoding credential: %w", err)
	}

	nonce := make([]byte, c.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generating nonce: %w", err)
	}

	out := make([]byte, 0, 1+len(nonce)+len(data)+c.aead.Overhead())
	out = append(out, blobVersion)
	out = append(out, nonce...)
	out = c.aead.Seal(out, nonce, data, []byte{blobVersion})

	return base64.StdEncoding.EncodeToString(out), nil
}

// Decrypt opens a blob produced by Encrypt. Any failure, including a
// truncated blob or a key mismatch, is reported as ErrCredentialCorrupt.
func (c *Cipher) Decrypt(blob string) (map[string]string, error) {
	raw, err := base64.StdEncoding.DecodeString(blob)
	if err != nil {
		return nil, fmt.Errorf("%w: decoding blob: %w", ErrCredentialCorrupt, err)
	}

	nonceSize := c.aead.NonceSize()
	if len(raw) < 1+nonceSize+c.aead.Overhead() {
		return nil, fmt.Errorf("%w: blob too short", ErrCredentialCorrupt)
	}
	if raw[0] != blobVersion {
		return nil, fmt.Errorf("%w: unknown blob version %d", ErrCredentialCorrupt, raw[0])
	}

	nonce := raw[1 : 1+nonceSize]
	data, err := c.aead.Open(nil, nonce, raw[1+nonceSize:], []byte{blobVersion})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCredentialCorrupt, err)
	}

	var plaintext map[string]string
	if err := json.Unmarshal(data, &plaintext); err != nil {
		return nil, fmt.Errorf("%w: decoding payload: %w", ErrCredentialCorrupt, err)
	}
	if plaintext == nil {
		plaintext = map[string]string{}
	}
	return plaintext, nil
}
