// Package secrets encrypts hub SMTP/IMAP credentials at rest with
// AES-256-GCM. Encrypted values carry an "enc:" prefix in storage; values
// without the prefix are treated as plaintext and returned unchanged, so
// deployments can roll encryption out hub by hub.
//
// The master key comes from HUB_SECRET_KEY (32 bytes as 64 hex characters).
// Decrypted credentials exist in memory only for the duration of an SMTP or
// IMAP connection and must never be logged.
package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"
)

const prefix = "enc:"

func masterKey() ([]byte, error) {
	keyHex := os.Getenv("HUB_SECRET_KEY")
	if len(keyHex) != 64 {
		return nil, fmt.Errorf("HUB_SECRET_KEY must be exactly 32 bytes (64 hex characters)")
	}
	key := make([]byte, 32)
	if _, err := hex.Decode(key, []byte(keyHex)); err != nil {
		return nil, fmt.Errorf("invalid HUB_SECRET_KEY format (must be hex): %w", err)
	}
	return key, nil
}

// Seal encrypts a credential for storage. A random nonce is prepended to
// the ciphertext; reusing a nonce under the same key would break GCM.
func Seal(plaintext string) (string, error) {
	key, err := masterKey()
	if err != nil {
		return "", err
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("create GCM: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	ciphertext := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return prefix + base64.StdEncoding.EncodeToString(ciphertext), nil
}

// Reveal returns the plaintext credential. Values without the "enc:" prefix
// pass through unchanged; prefixed values are decrypted and fail loudly when
// the key is missing or the ciphertext was tampered with.
func Reveal(stored string) (string, error) {
	if !strings.HasPrefix(stored, prefix) {
		return stored, nil
	}

	key, err := masterKey()
	if err != nil {
		return "", err
	}

	ciphertext, err := base64.StdEncoding.DecodeString(stored[len(prefix):])
	if err != nil {
		return "", fmt.Errorf("invalid base64 encoding: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("create GCM: %w", err)
	}

	if len(ciphertext) < gcm.NonceSize() {
		return "", fmt.Errorf("ciphertext shorter than nonce")
	}
	nonce, sealed := ciphertext[:gcm.NonceSize()], ciphertext[gcm.NonceSize():]

	plaintext, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("decrypt failed (wrong key or tampered data): %w", err)
	}
	return string(plaintext), nil
}
