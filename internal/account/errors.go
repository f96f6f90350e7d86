package account

import "errors"

// Domain errors for the account package.
var (
	// ErrNotFound is returned when an entry ID does not exist.
	ErrNotFound = errors.New("account: not found")

	// ErrAlreadyConfigured is returned when an entry for the same account exists.
	ErrAlreadyConfigured = errors.New("account: already configured")

	// ErrInvalidEntry is returned when an entry fails validation.
	ErrInvalidEntry = errors.New("account: invalid entry")

	// ErrMigrationFailed is returned when a legacy entry cannot be upgraded.
	// The stored entry is left unchanged.
	ErrMigrationFailed = errors.New("account: migration failed")
)
