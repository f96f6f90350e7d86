package coordinator

import "time"

// FailureKind tags why a refresh produced no snapshot.
type FailureKind string

// Failure kinds.
const (
	FailureNone      FailureKind = "none"
	FailureAuth      FailureKind = "auth"
	FailureTransport FailureKind = "transport"
	FailureNoDevices FailureKind = "no_devices"
	FailureRateLimit FailureKind = "rate_limit"
)

// Failure records the most recent unsuccessful refresh.
type Failure struct {
	Kind    FailureKind `json:"kind"`
	Message string      `json:"message"`
	Err     error       `json:"-"`
	At      time.Time   `json:"at"`
}

// Error returns the wrapped coordinator error (ErrAuthFailed or
// ErrUpdateFailed joined with the gateway cause).
func (f Failure) Error() string {
	if f.Err == nil {
		return string(f.Kind)
	}
	return f.Err.Error()
}

// Unwrap exposes the classified error to errors.Is.
func (f Failure) Unwrap() error {
	return f.Err
}

// IsAuth reports whether the failure requires new credentials.
func (f Failure) IsAuth() bool {
	return f.Kind == FailureAuth
}
