package host

import "errors"

// Host errors.
var (
	// ErrNotLoaded is returned when an entry has no running instance.
	ErrNotLoaded = errors.New("host: entry not loaded")

	// ErrAlreadyLoaded is returned by Setup for an entry that is running or
	// already being set up.
	ErrAlreadyLoaded = errors.New("host: entry already loaded")

	// ErrSetupFailed wraps the cause of a failed Setup.
	ErrSetupFailed = errors.New("host: setup failed")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("host: manager closed")
)
