package account

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/nerrad567/purrsong-bridge/internal/lavviebot"
)

// Form error keys returned by ErrorKey.
const (
	KeyInvalidAuth       = "invalid_auth"
	KeyCannotConnect     = "cannot_connect"
	KeyNoDevices         = "no_devices"
	KeyAlreadyConfigured = "already_configured"
	KeyUnknown           = "unknown"
)

// Validator checks credentials against the cloud and returns the account ID.
type Validator func(ctx context.Context, email, password string) (string, error)

// NewValidator returns a Validator that runs lavviebot.ValidateCredentials with opts.
func NewValidator(opts lavviebot.Options) Validator {
	return func(ctx context.Context, email, password string) (string, error) {
		return lavviebot.ValidateCredentials(ctx, opts, email, password)
	}
}

// ReauthHandler receives replacement credentials for a loaded entry.
// *host.Manager satisfies it.
type ReauthHandler interface {
	Reauthenticate(ctx context.Context, id string, creds lavviebot.Credentials) error
}

// Logger is the logging interface used by Flow.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// FlowOptions configures a Flow.
type FlowOptions struct {
	// Repository stores entries. Required.
	Repository Repository

	// Validate checks credentials. Required.
	Validate Validator

	// Host is told about new credentials after a successful re-authentication.
	// Optional; when nil only the stored entry changes.
	Host ReauthHandler

	// Logger for flow events. Default: discard.
	Logger Logger

	// NewID generates entry IDs. Default: uuid.NewString.
	NewID func() string
}

// Flow runs the user-facing setup, re-authentication and migration steps.
type Flow struct {
	repo     Repository
	validate Validator
	host     ReauthHandler
	logger   Logger
	newID    func() string
}

// NewFlow creates a Flow.
func NewFlow(opts FlowOptions) (*Flow, error) {
	if opts.Repository == nil {
		return nil, errors.New("account: repository is required")
	}
	if opts.Validate == nil {
		return nil, errors.New("account: validator is required")
	}
	if opts.Logger == nil {
		opts.Logger = noopLogger{}
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	return &Flow{
		repo:     opts.Repository,
		validate: opts.Validate,
		host:     opts.Host,
		logger:   opts.Logger,
		newID:    opts.NewID,
	}, nil
}

// SetHost sets the handler told about re-authenticated credentials.
// It must be called before the Flow is shared.
func (f *Flow) SetHost(h ReauthHandler) {
	f.host = h
}

// Create validates credentials and stores a new entry.
//
// Parameters:
//   - ctx: Bounds validation and storage
//   - email, password: Account credentials entered by the user
//
// Returns:
//   - *Entry: The stored version 3 entry
//   - error: ErrAlreadyConfigured for a known account, otherwise the
//     validation error (classify with ErrorKey)
func (f *Flow) Create(ctx context.Context, email, password string) (*Entry, error) {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return nil, fmt.Errorf("%w: email and password are required", ErrInvalidEntry)
	}

	uniqueID := UniqueIDFor(email)
	if _, err := f.repo.GetByUniqueID(ctx, uniqueID); err == nil {
		return nil, ErrAlreadyConfigured
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	if _, err := f.validate(ctx, email, password); err != nil {
		f.logger.Warn("account validation failed", "email", email, "reason", ErrorKey(err))
		return nil, err
	}

	e := &Entry{
		ID:       f.newID(),
		Version:  CurrentVersion,
		Title:    DefaultTitle,
		Email:    email,
		Password: password,
		UniqueID: uniqueID,
		State:    StateNotLoaded,
	}
	if err := f.repo.Create(ctx, e); err != nil {
		return nil, err
	}

	f.logger.Info("account created", "entry_id", e.ID, "email", email)
	return e, nil
}

// Reauthenticate validates replacement credentials for an existing entry,
// updates it in place and hands the credentials to the host.
//
// Parameters:
//   - ctx: Bounds validation and storage
//   - id: Entry to update
//   - email, password: Replacement credentials
//
// Returns:
//   - *Entry: The updated entry
//   - error: ErrNotFound, ErrAlreadyConfigured when the e-mail belongs to
//     another entry, or the validation error
func (f *Flow) Reauthenticate(ctx context.Context, id, email, password string) (*Entry, error) {
	e, err := f.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return nil, fmt.Errorf("%w: email and password are required", ErrInvalidEntry)
	}

	uniqueID := UniqueIDFor(email)
	if other, err := f.repo.GetByUniqueID(ctx, uniqueID); err == nil && other.ID != id {
		return nil, ErrAlreadyConfigured
	} else if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	if _, err := f.validate(ctx, email, password); err != nil {
		f.logger.Warn("re-authentication failed", "entry_id", id, "email", email, "reason", ErrorKey(err))
		return nil, err
	}

	e.Version = CurrentVersion
	e.Title = DefaultTitle
	e.Email = email
	e.Username = ""
	e.Password = password
	e.UniqueID = uniqueID
	e.LastError = ""
	if e.State == StateReauthRequired {
		e.State = StateNotLoaded
	}
	if err := f.repo.Update(ctx, e); err != nil {
		return nil, err
	}

	f.logger.Info("account re-authenticated", "entry_id", id, "email", email)

	if f.host != nil {
		if err := f.host.Reauthenticate(ctx, id, e.Credentials()); err != nil {
			return e, fmt.Errorf("applying new credentials: %w", err)
		}
	}
	return e, nil
}

// Migrate upgrades a version 1 or 2 entry to the current version.
//
// The stored credentials are validated first. On failure the entry is left
// untouched, both in memory and in the repository.
//
// Returns:
//   - bool: true when the entry was rewritten
//   - error: Wraps ErrMigrationFailed and the validation cause
func (f *Flow) Migrate(ctx context.Context, e *Entry) (bool, error) {
	if !e.NeedsMigration() {
		return false, nil
	}

	email := strings.TrimSpace(e.LoginEmail())
	if email == "" || e.Password == "" {
		return false, fmt.Errorf("%w: entry %s has no stored credentials", ErrMigrationFailed, e.ID)
	}

	if _, err := f.validate(ctx, email, e.Password); err != nil {
		f.logger.Warn("account migration failed", "entry_id", e.ID, "from_version", e.Version, "reason", ErrorKey(err))
		return false, fmt.Errorf("%w: %w", ErrMigrationFailed, err)
	}

	migrated := *e
	migrated.Version = CurrentVersion
	migrated.Title = DefaultTitle
	migrated.Email = email
	migrated.Username = ""
	migrated.UniqueID = UniqueIDFor(email)
	if err := f.repo.Update(ctx, &migrated); err != nil {
		return false, fmt.Errorf("%w: %w", ErrMigrationFailed, err)
	}

	f.logger.Info("account migrated", "entry_id", e.ID, "from_version", e.Version, "to_version", CurrentVersion)
	*e = migrated
	return true, nil
}

// ErrorKey maps a validation error to the form key shown to the user.
func ErrorKey(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrAlreadyConfigured):
		return KeyAlreadyConfigured
	case errors.Is(err, lavviebot.ErrAuth):
		return KeyInvalidAuth
	case errors.Is(err, lavviebot.ErrNoDevices):
		return KeyNoDevices
	case errors.Is(err, lavviebot.ErrTransport),
		errors.Is(err, lavviebot.ErrRateLimit),
		errors.Is(err, context.DeadlineExceeded):
		return KeyCannotConnect
	default:
		return KeyUnknown
	}
}
