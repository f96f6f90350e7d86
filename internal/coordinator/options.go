package coordinator

import (
	"time"

	"github.com/nerrad567/purrsong-bridge/internal/lavviebot"
)

// Defaults applied by New when an Options field is zero.
const (
	DefaultInterval            = 60 * time.Second
	DefaultTimeout             = 8 * time.Second
	DefaultMaxRateLimitRetries = 1

	// MaxRateLimitRetries is the hard cap on session resets within one refresh.
	MaxRateLimitRetries = 3
)

// Logger is the logging interface used by the coordinator.
// *logging.Logger satisfies it.
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

// Clock abstracts time so tests can drive ticks by hand.
type Clock interface {
	Now() time.Time

	// Ticker returns a channel that fires every d and a stop function.
	Ticker(d time.Duration) (<-chan time.Time, func())
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) Ticker(d time.Duration) (<-chan time.Time, func()) {
	t := time.NewTicker(d)
	return t.C, t.Stop
}

// Options configures a Coordinator.
type Options struct {
	// Credentials for the account being polled. Required.
	Credentials lavviebot.Credentials

	// NewSession opens gateway sessions. Required.
	NewSession lavviebot.Factory

	// Interval between scheduled refreshes. Default: 60s.
	Interval time.Duration

	// Timeout bounds each gateway fetch. Default: 8s.
	Timeout time.Duration

	// MaxRateLimitRetries is how many fresh sessions one refresh may open
	// after rate limiting. Default: 1. Values above 3 are clamped.
	MaxRateLimitRetries int

	// Logger for coordinator events. Default: discard.
	Logger Logger

	// Clock for timestamps and the Run ticker. Default: wall clock.
	Clock Clock
}

func (o *Options) applyDefaults() {
	if o.Interval <= 0 {
		o.Interval = DefaultInterval
	}
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	if o.MaxRateLimitRetries <= 0 {
		o.MaxRateLimitRetries = DefaultMaxRateLimitRetries
	}
	if o.MaxRateLimitRetries > MaxRateLimitRetries {
		o.MaxRateLimitRetries = MaxRateLimitRetries
	}
	if o.Logger == nil {
		o.Logger = noopLogger{}
	}
	if o.Clock == nil {
		o.Clock = realClock{}
	}
}
