package lavviebot

import "errors"

// Gateway error kinds. Returned errors wrap one of these; use errors.Is.
var (
	// ErrAuth indicates the cloud rejected the account credentials.
	ErrAuth = errors.New("lavviebot: authentication failed")

	// ErrRateLimit indicates the cloud is throttling this session.
	ErrRateLimit = errors.New("lavviebot: rate limited")

	// ErrTransport covers network errors, timeouts, unexpected HTTP status
	// codes and malformed responses.
	ErrTransport = errors.New("lavviebot: transport error")

	// ErrNoDevices indicates the account returned no litter boxes, scanners,
	// tags or cats.
	ErrNoDevices = errors.New("lavviebot: no devices found")

	// ErrSessionClosed is returned (wrapped in ErrTransport) by a closed Client.
	ErrSessionClosed = errors.New("lavviebot: session closed")
)
