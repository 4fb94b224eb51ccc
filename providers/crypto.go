package providers

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
)

// EncryptedPrefix marks an API key stored as base64(nonce || AES-256-GCM ciphertext).
const EncryptedPrefix = "enc:"

// Decrypter turns stored API keys into plaintext right before use.
// Keys without EncryptedPrefix pass through unchanged.
type Decrypter struct {
	aead cipher.AEAD
}

// ParseMasterKey accepts a 32-byte key as 64 hex characters or standard base64.
// An empty string yields a nil key.
func ParseMasterKey(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	if key, err := hex.DecodeString(s); err == nil && len(key) == 32 {
		return key, nil
	}
	if key, err := base64.StdEncoding.DecodeString(s); err == nil && len(key) == 32 {
		return key, nil
	}
	return nil, ErrInvalidMasterKey
}

// NewDecrypter creates a Decrypter. A nil master key only passes plaintext keys.
func NewDecrypter(masterKey []byte) (*Decrypter, error) {
	if masterKey == nil {
		return &Decrypter{}, nil
	}
	if len(masterKey) != 32 {
		return nil, ErrInvalidMasterKey
	}
	block, err := aes.NewCipher(masterKey)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &Decrypter{aead: aead}, nil
}

// Decrypt returns the plaintext of a stored key.
func (d *Decrypter) Decrypt(stored string) (string, error) {
	encoded, ok := strings.CutPrefix(stored, EncryptedPrefix)
	if !ok {
		return stored, nil
	}
	if d.aead == nil {
		return "", ErrNoMasterKey
	}
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecrypt, err)
	}
	size := d.aead.NonceSize()
	if len(raw) < size {
		return "", fmt.Errorf("%w: ciphertext too short", ErrDecrypt)
	}
	plain, err := d.aead.Open(nil, raw[:size], raw[size:], nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecrypt, err)
	}
	return string(plain), nil
}

// Encrypt seals a plaintext key into its stored form.
func (d *Decrypter) Encrypt(plain string) (string, error) {
	if d.aead == nil {
		return "", ErrNoMasterKey
	}
	nonce := make([]byte, d.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	sealed := d.aead.Seal(nonce, nonce, []byte(plain), nil)
	return EncryptedPrefix + base64.StdEncoding.EncodeToString(sealed), nil
}
