package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/hkdf"
)

// EncryptionService encrypts memory content at rest. Each owner gets a key
// derived from the master key, so a leaked row from one owner never helps
// decrypt another owner's memories.
type EncryptionService struct {
	masterKey []byte
}

// NewEncryptionService creates a new encryption service with the given master key.
// masterKey should be a 32-byte hex-encoded string (64 characters).
func NewEncryptionService(masterKeyHex string) (*EncryptionService, error) {
	if masterKeyHex == "" {
		return nil, errors.New("encryption master key is required")
	}

	masterKey, err := hex.DecodeString(masterKeyHex)
	if err != nil {
		return nil, fmt.Errorf("invalid master key format (must be hex): %w", err)
	}

	if len(masterKey) != 32 {
		return nil, fmt.Errorf("master key must be 32 bytes (64 hex characters), got %d bytes", len(masterKey))
	}

	return &EncryptionService{
		masterKey: masterKey,
	}, nil
}

// deriveOwnerKey derives a unique encryption key for one owner using HKDF
func (e *EncryptionService) deriveOwnerKey(userID string) ([]byte, error) {
	if userID == "" {
		return nil, errors.New("user ID is required for key derivation")
	}

	hkdfReader := hkdf.New(sha256.New, e.masterKey, []byte(userID), []byte("engram-memory-content"))

	ownerKey := make([]byte, 32) // AES-256 requires 32-byte key
	if _, err := io.ReadFull(hkdfReader, ownerKey); err != nil {
		return nil, fmt.Errorf("failed to derive owner key: %w", err)
	}

	return ownerKey, nil
}

// EncryptString encrypts memory content using AES-256-GCM with an owner-specific
// key. Returns base64-encoded ciphertext (nonce prepended).
func (e *EncryptionService) EncryptString(userID, plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}

	ownerKey, err := e.deriveOwnerKey(userID)
	if err != nil {
		return "", err
	}

	block, err := aes.NewCipher(ownerKey)
	if err != nil {
		return "", fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("failed to create GCM: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	ciphertext := gcm.Seal(nonce, nonce, []byte(plaintext), nil)

	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

// DecryptString decrypts base64-encoded memory content using AES-256-GCM
func (e *EncryptionService) DecryptString(userID, ciphertextB64 string) (string, error) {
	if ciphertextB64 == "" {
		return "", nil
	}

	ciphertext, err := base64.StdEncoding.DecodeString(ciphertextB64)
	if err != nil {
		return "", fmt.Errorf("failed to decode ciphertext: %w", err)
	}

	ownerKey, err := e.deriveOwnerKey(userID)
	if err != nil {
		return "", err
	}

	block, err := aes.NewCipher(ownerKey)
	if err != nil {
		return "", fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("failed to create GCM: %w", err)
	}

	nonceSize := gcm.NonceSize()
	if len(ciphertext) < nonceSize {
		return "", errors.New("ciphertext too short")
	}

	nonce, ciphertext := ciphertext[:nonceSize], ciphertext[nonceSize:]

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt: %w", err)
	}

	return string(plaintext), nil
}

// LooksEncrypted reports whether stored content has the shape EncryptString
// produces: strict base64 of at least nonce+tag bytes, no whitespace.
// Natural-language memory content virtually always contains characters
// outside the base64 alphabet, so startup checks can use this to detect
// encrypted rows when no key is configured.
func LooksEncrypted(content string) bool {
	if len(content) < 40 || strings.ContainsAny(content, " \t\r\n") {
		return false
	}
	raw, err := base64.StdEncoding.Strict().DecodeString(content)
	if err != nil {
		return false
	}
	return len(raw) >= 28 // 12-byte GCM nonce + 16-byte auth tag
}

// GenerateMasterKey generates a new random 32-byte master key (for setup)
func GenerateMasterKey() (string, error) {
	key := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return "", fmt.Errorf("failed to generate key: %w", err)
	}
	return hex.EncodeToString(key), nil
}
