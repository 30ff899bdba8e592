package storage

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestArchiveCipherRoundTrip(t *testing.T) {
	cipher, err := NewArchiveCipher("test-secret")
	require.NoError(t, err)
	require.NotNil(t, cipher)

	plaintext := []byte("tenant archive payload")
	sealed, err := cipher.Encrypt(plaintext)
	require.NoError(t, err)
	assert.NotEqual(t, plaintext, sealed)
	assert.Len(t, sealed, len(plaintext)+archiveNonceSize+archiveTagSize)

	opened, err := cipher.Decrypt(sealed)
	require.NoError(t, err)
	assert.Equal(t, plaintext, opened)
}

func TestArchiveCipherRejectsTampering(t *testing.T) {
	cipher, err := NewArchiveCipher("test-secret")
	require.NoError(t, err)

	sealed, err := cipher.Encrypt([]byte("payload"))
	require.NoError(t, err)
	sealed[len(sealed)-1] ^= 0x01

	_, err = cipher.Decrypt(sealed)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "archive authentication failed")
}

func TestArchiveCipherRejectsWrongSecret(t *testing.T) {
	one, err := NewArchiveCipher("secret-one")
	require.NoError(t, err)
	two, err := NewArchiveCipher("secret-two")
	require.NoError(t, err)

	sealed, err := one.Encrypt([]byte("payload"))
	require.NoError(t, err)
	_, err = two.Decrypt(sealed)
	assert.Error(t, err)
}

func TestArchiveCipherRejectsShortInput(t *testing.T) {
	cipher, err := NewArchiveCipher("test-secret")
	require.NoError(t, err)

	_, err = cipher.Decrypt(make([]byte, archiveNonceSize+archiveTagSize-1))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "too short")
}

func TestArchiveCipherEmptySecretDisablesEncryption(t *testing.T) {
	cipher, err := NewArchiveCipher("")
	require.NoError(t, err)
	assert.Nil(t, cipher)
}

func TestArchiveCipherFileRoundTrip(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.tar.gz")
	sealed := filepath.Join(dir, "sealed.tar.gz")
	restored := filepath.Join(dir, "restored.tar.gz")
	require.NoError(t, os.WriteFile(src, []byte("archive bytes"), 0600))

	cipher, err := NewArchiveCipher("test-secret")
	require.NoError(t, err)
	require.NoError(t, cipher.EncryptFile(src, sealed))
	require.NoError(t, cipher.DecryptFile(sealed, restored))

	data, err := os.ReadFile(restored)
	require.NoError(t, err)
	assert.Equal(t, []byte("archive bytes"), data)
}

func TestNilArchiveCipherCopiesFiles(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.tar.gz")
	dst := filepath.Join(dir, "dst.tar.gz")
	require.NoError(t, os.WriteFile(src, []byte("plain bytes"), 0600))

	var cipher *ArchiveCipher
	require.NoError(t, cipher.EncryptFile(src, dst))
	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, []byte("plain bytes"), data)

	require.NoError(t, cipher.DecryptFile(dst, src))
}
