package coordinator

import "errors"

// Coordinator errors. Refresh and Initialize wrap the gateway cause, so
// errors.Is matches both these and the lavviebot sentinels.
var (
	// ErrNotReady wraps any Initialize failure; the host should retry setup.
	ErrNotReady = errors.New("coordinator: not ready")

	// ErrAuthFailed means stored credentials were rejected and must be replaced.
	ErrAuthFailed = errors.New("coordinator: authentication failed")

	// ErrUpdateFailed means this tick produced no usable snapshot.
	ErrUpdateFailed = errors.New("coordinator: update failed")

	// ErrNotAvailable is returned by Current before the first accepted snapshot.
	ErrNotAvailable = errors.New("coordinator: snapshot not yet available")

	// ErrRefreshInProgress is returned when a refresh is already running.
	ErrRefreshInProgress = errors.New("coordinator: refresh already in progress")

	// ErrClosed is returned by every operation after Close.
	ErrClosed = errors.New("coordinator: closed")
)
