package storage

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"
	"os"

	"golang.org/x/crypto/pbkdf2"
)

// Archive files are IV(12) || ciphertext || tag(16), AES-256-GCM. GCM
// appends the tag to the ciphertext, so the layout is the nonce followed by
// the sealed payload. The key derives from the configured secret via PBKDF2
// with a fixed salt; the secret itself must be high-entropy.

const (
	archiveNonceSize = 12
	archiveTagSize   = 16
	kdfIterations    = 100_000
)

var kdfSalt = []byte("botgrid-archive-v1")

// ArchiveCipher encrypts and decrypts backup archives. A nil cipher (no
// secret configured) passes data through unchanged.
type ArchiveCipher struct {
	aead cipher.AEAD
}

// NewArchiveCipher derives the archive key from the secret. An empty secret
// returns nil, which disables encryption.
func NewArchiveCipher(secret string) (*ArchiveCipher, error) {
	if secret == "" {
		return nil, nil
	}
	key := pbkdf2.Key([]byte(secret), kdfSalt, kdfIterations, 32, sha256.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &ArchiveCipher{aead: aead}, nil
}

// Encrypt seals plaintext into the archive container format
func (c *ArchiveCipher) Encrypt(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, archiveNonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	// Seal appends ciphertext||tag after the nonce prefix.
	return c.aead.Seal(nonce, nonce, plaintext, nil), nil
}

// Decrypt opens an archive container. Files shorter than nonce plus tag are
// rejected before any cipher work.
func (c *ArchiveCipher) Decrypt(data []byte) ([]byte, error) {
	if len(data) < archiveNonceSize+archiveTagSize {
		return nil, fmt.Errorf("archive too short: %d bytes", len(data))
	}
	nonce, sealed := data[:archiveNonceSize], data[archiveNonceSize:]
	plaintext, err := c.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("archive authentication failed: %w", err)
	}
	return plaintext, nil
}

// EncryptFile seals src into dst. With a nil cipher the file is copied.
func (c *ArchiveCipher) EncryptFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	if c == nil {
		return os.WriteFile(dst, data, 0600)
	}
	sealed, err := c.Encrypt(data)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, sealed, 0600)
}

// DecryptFile opens src into dst. With a nil cipher the file is copied.
func (c *ArchiveCipher) DecryptFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	if c == nil {
		return os.WriteFile(dst, data, 0600)
	}
	plaintext, err := c.Decrypt(data)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, plaintext, 0600)
}
