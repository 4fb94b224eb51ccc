package providers

import "errors"

var (
	// ErrInvalidMasterKey is returned for master keys that are not 32 bytes.
	ErrInvalidMasterKey = errors.New("master key must be 32 bytes")

	// ErrNoMasterKey is returned when an encrypted key is found but no master key is configured.
	ErrNoMasterKey = errors.New("encrypted api key but no master key configured")

	// ErrDecrypt is returned when an encrypted key cannot be decrypted.
	ErrDecrypt = errors.New("api key decryption failed")
)
