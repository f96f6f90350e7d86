package lavviebot

import (
	"context"
	"fmt"

	"github.com/nerrad567/purrsong-bridge/internal/snapshot"
)

// Session is the part of Client the polling coordinator depends on.
type Session interface {
	FetchSnapshot(ctx context.Context) (*snapshot.Snapshot, error)
	ClearToken()
	Close() error
}

// Factory opens a new, unauthenticated session for an account.
type Factory func(creds Credentials) (Session, error)

// SessionFactory returns a Factory that builds Clients with opts.
func SessionFactory(opts Options) Factory {
	return func(creds Credentials) (Session, error) {
		if creds.Email == "" || creds.Password == "" {
			return nil, fmt.Errorf("%w: email and password are required", ErrAuth)
		}
		return NewClient(creds, opts), nil
	}
}

// ValidateCredentials checks an account before it is stored or updated.
//
// It logs in, fetches the device list, and rejects accounts with no devices
// of any kind. The temporary session is always closed.
//
// Parameters:
//   - ctx: Bounds the whole check
//   - opts: Client options (base URL, timeout)
//   - email, password: Account credentials
//
// Returns:
//   - string: The cloud's account identifier
//   - error: Wraps ErrAuth, ErrRateLimit, ErrTransport or ErrNoDevices
func ValidateCredentials(ctx context.Context, opts Options, email, password string) (string, error) {
	c := NewClient(Credentials{Email: email, Password: password}, opts)
	defer c.Close() //nolint:errcheck // Close never fails

	accountID, err := c.Login(ctx)
	if err != nil {
		return "", err
	}

	snap, err := c.FetchSnapshot(ctx)
	if err != nil {
		return "", err
	}
	if snap.IsEmpty() {
		return "", ErrNoDevices
	}
	return accountID, nil
}
