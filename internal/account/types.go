package account

import (
	"fmt"
	"strings"
	"time"

	"github.com/nerrad567/purrsong-bridge/internal/lavviebot"
)

// CurrentVersion is the entry schema version written by this code.
const CurrentVersion = 3

// DefaultTitle is the display title of every current entry.
const DefaultTitle = "PurrSong"

// State is the lifecycle state of an entry within the host.
type State string

// Entry states.
const (
	StateNotLoaded      State = "not_loaded"
	StateLoaded         State = "loaded"
	StateSetupRetry     State = "setup_retry"
	StateSetupError     State = "setup_error"
	StateReauthRequired State = "reauth_required"
)

// Entry is one configured PurrSong account.
type Entry struct {
	ID      string `json:"id" yaml:"id"`
	Version int    `json:"version" yaml:"version"`
	Title   string `json:"title" yaml:"title"`
	Email   string `json:"email" yaml:"email"`

	// Username is the login of a version 1 entry. Empty afterwards.
	Username string `json:"-" yaml:"-"`
	Password string `json:"-" yaml:"-"`

	UniqueID  string    `json:"unique_id,omitempty" yaml:"unique_id,omitempty"`
	State     State     `json:"state" yaml:"state"`
	LastError string    `json:"last_error,omitempty" yaml:"last_error,omitempty"`
	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
	UpdatedAt time.Time `json:"updated_at" yaml:"updated_at"`
}

// LoginEmail returns the address used to log in, whatever the entry version.
func (e *Entry) LoginEmail() string {
	if e.Version <= 1 && e.Username != "" {
		return e.Username
	}
	return e.Email
}

// Credentials returns the gateway credentials stored in the entry.
func (e *Entry) Credentials() lavviebot.Credentials {
	return lavviebot.Credentials{Email: e.LoginEmail(), Password: e.Password}
}

// NeedsMigration reports whether the entry predates CurrentVersion.
func (e *Entry) NeedsMigration() bool {
	return e.Version < CurrentVersion
}

// Validate checks the fields every stored entry must have.
func (e *Entry) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidEntry)
	}
	if e.LoginEmail() == "" {
		return fmt.Errorf("%w: email is required", ErrInvalidEntry)
	}
	if e.Password == "" {
		return fmt.Errorf("%w: password is required", ErrInvalidEntry)
	}
	if e.Version < 1 || e.Version > CurrentVersion {
		return fmt.Errorf("%w: unsupported version %d", ErrInvalidEntry, e.Version)
	}
	return nil
}

// UniqueIDFor returns the unique ID for an account e-mail.
// Addresses are compared case-insensitively.
func UniqueIDFor(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
