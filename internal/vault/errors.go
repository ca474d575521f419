package vault

import "errors"

// Domain errors for the vault package.
var (
	// ErrCredentialNotFound is returned when no active credential exists for
	// the (user, service) pair.
	ErrCredentialNotFound = errors.New("vault: credential not found")

	// ErrCredentialCorrupt is returned when a stored blob fails to decode or
	// authenticate (tampered data or the wrong key).
	ErrCredentialCorrupt = errors.New("vault: credential corrupt")

	// ErrInvalidKey is returned when the encryption key has the wrong size
	// or encoding.
	ErrInvalidKey = errors.New("vault: invalid key")

	// ErrNoKey is returned when no key is configured and generation is disabled.
	ErrNoKey = errors.New("vault: no key configured")

	// ErrInvalidKind is returned for an unknown credential kind.
	ErrInvalidKind = errors.New("vault: invalid credential kind")

	// ErrInvalidStatus is returned for an unknown connection status.
	ErrInvalidStatus = errors.New("vault: invalid status")
)
