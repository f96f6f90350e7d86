package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/purrsong-bridge/internal/lavviebot"
	"github.com/nerrad567/purrsong-bridge/internal/snapshot"
)

// Update is delivered to listeners after every refresh that ran.
// Exactly one of Snapshot and Failure is set.
type Update struct {
	Snapshot *snapshot.Snapshot
	Failure  *Failure
}

// Listener receives updates. It is called synchronously from the refreshing
// goroutine and must not call Refresh.
type Listener func(Update)

// Stats are cumulative counters for one Coordinator.
type Stats struct {
	Ticks               uint64    `json:"ticks"`
	SkippedTicks        uint64    `json:"skipped_ticks"`
	Successes           uint64    `json:"successes"`
	Failures            uint64    `json:"failures"`
	RateLimitRecoveries uint64    `json:"rate_limit_recoveries"`
	LastSuccess         time.Time `json:"last_success,omitzero"`
}

// Coordinator polls one account and holds its latest accepted snapshot.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
//   - Current never blocks and never observes a partially built snapshot.
type Coordinator struct {
	opts Options

	current  atomic.Pointer[snapshot.Snapshot]
	failure  atomic.Pointer[Failure]
	inFlight atomic.Bool
	closed   atomic.Bool

	// awaitingReauth is set by an accepted auth failure and cleared by
	// Reauthenticate or a successful refresh. Run skips ticks while set.
	awaitingReauth atomic.Bool

	// sessMu guards session, creds and generation. It is never held
	// across a fetch.
	sessMu  sync.Mutex
	session lavviebot.Session
	creds   lavviebot.Credentials

	// generation increments whenever credentials are replaced, so a fetch
	// started with the old credentials can be recognised when it returns.
	generation uint64

	listenersMu sync.RWMutex
	listeners   map[uint64]Listener
	nextID      uint64

	ticks, skipped, successes, failures, recoveries atomic.Uint64
	lastSuccess                                     atomic.Int64

	done      chan struct{}
	closeOnce sync.Once
}

// New creates a Coordinator. No request is made until Initialize.
//
// Returns:
//   - *Coordinator: Ready for Initialize
//   - error: If credentials or the session factory are missing
func New(opts Options) (*Coordinator, error) {
	if opts.NewSession == nil {
		return nil, errors.New("coordinator: session factory is required")
	}
	if opts.Credentials.Email == "" || opts.Credentials.Password == "" {
		return nil, errors.New("coordinator: email and password are required")
	}
	opts.applyDefaults()

	return &Coordinator{
		opts:      opts,
		creds:     opts.Credentials,
		listeners: make(map[uint64]Listener),
		done:      make(chan struct{}),
	}, nil
}

// Initialize performs the first, blocking refresh.
//
// Any failure is returned wrapped in ErrNotReady together with the
// classified cause, so errors.Is(err, ErrAuthFailed) still identifies
// rejected credentials.
func (c *Coordinator) Initialize(ctx context.Context) error {
	if _, err := c.Refresh(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrNotReady, err)
	}
	return nil
}

// Refresh fetches a new snapshot now.
//
// If another refresh is running it returns ErrRefreshInProgress without
// touching the gateway. On success the snapshot is accepted and any held
// failure is cleared. On failure the previous snapshot stays current.
//
// An auth failure from credentials that Reauthenticate replaced while the
// fetch was running is returned but not recorded. Nothing is recorded or
// delivered once Close has been called.
//
// Returns:
//   - *snapshot.Snapshot: The newly accepted snapshot
//   - error: ErrAuthFailed, ErrUpdateFailed, ErrRefreshInProgress or ErrClosed
func (c *Coordinator) Refresh(ctx context.Context) (*snapshot.Snapshot, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}
	if !c.inFlight.CompareAndSwap(false, true) {
		c.skipped.Add(1)
		return nil, ErrRefreshInProgress
	}
	defer c.inFlight.Store(false)

	c.ticks.Add(1)

	snap, failure, gen := c.poll(ctx)
	if c.closed.Load() {
		return nil, ErrClosed
	}
	if failure != nil {
		if !c.holdFailure(failure, gen) {
			c.opts.Logger.Debug("discarding auth failure from replaced credentials")
			return nil, failure.Err
		}
		c.failures.Add(1)
		c.logFailure(failure)
		c.notify(Update{Failure: failure})
		return nil, failure.Err
	}

	c.current.Store(snap)
	c.failure.Store(nil)
	c.awaitingReauth.Store(false)
	c.successes.Add(1)
	c.lastSuccess.Store(snap.FetchedAt().UnixNano())
	c.opts.Logger.Debug("snapshot accepted", "devices", snap.DeviceCount())
	c.notify(Update{Snapshot: snap})
	return snap, nil
}

// poll runs one refresh, absorbing up to MaxRateLimitRetries session resets.
// It also returns the credentials generation of the last session used.
func (c *Coordinator) poll(ctx context.Context) (*snapshot.Snapshot, *Failure, uint64) {
	for attempt := 0; ; attempt++ {
		session, gen, err := c.acquireSession()
		if err != nil {
			return nil, c.newFailure(FailureTransport, ErrUpdateFailed, err), gen
		}

		fetchCtx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
		snap, err := session.FetchSnapshot(fetchCtx)
		cancel()

		switch {
		case err == nil:
			if snap == nil || snap.IsEmpty() {
				return nil, c.newFailure(FailureNoDevices, ErrUpdateFailed, lavviebot.ErrNoDevices), gen
			}
			return snap, nil, gen

		case errors.Is(err, lavviebot.ErrAuth):
			return nil, c.newFailure(FailureAuth, ErrAuthFailed, err), gen

		case errors.Is(err, lavviebot.ErrRateLimit):
			if attempt >= c.opts.MaxRateLimitRetries {
				return nil, c.newFailure(FailureRateLimit, ErrUpdateFailed, err), gen
			}
			c.opts.Logger.Debug("rate limited, starting new session", "attempt", attempt+1)
			c.resetSession(session)
			c.recoveries.Add(1)

		default:
			return nil, c.newFailure(FailureTransport, ErrUpdateFailed, err), gen
		}
	}
}

func (c *Coordinator) newFailure(kind FailureKind, sentinel, cause error) *Failure {
	err := fmt.Errorf("%w: %w", sentinel, cause)
	return &Failure{
		Kind:    kind,
		Message: cause.Error(),
		Err:     err,
		At:      c.opts.Clock.Now(),
	}
}

// acquireSession returns the current session, opening one if needed, and
// the credentials generation it belongs to.
func (c *Coordinator) acquireSession() (lavviebot.Session, uint64, error) {
	c.sessMu.Lock()
	defer c.sessMu.Unlock()

	if c.closed.Load() {
		return nil, c.generation, ErrClosed
	}
	if c.session == nil {
		s, err := c.opts.NewSession(c.creds)
		if err != nil {
			return nil, c.generation, fmt.Errorf("opening session: %w", err)
		}
		c.session = s
	}
	return c.session, c.generation, nil
}

// holdFailure records f as the current failure. An auth failure is held
// only if it came from the current credentials, and it suspends scheduled
// refreshes. The check and the store share sessMu with Reauthenticate.
func (c *Coordinator) holdFailure(f *Failure, gen uint64) bool {
	if !f.IsAuth() {
		c.failure.Store(f)
		return true
	}

	c.sessMu.Lock()
	defer c.sessMu.Unlock()
	if gen != c.generation {
		return false
	}
	c.failure.Store(f)
	c.awaitingReauth.Store(true)
	return true
}

// resetSession discards old (if it is still current) so the next
// acquireSession opens a fresh one with no cached token.
func (c *Coordinator) resetSession(old lavviebot.Session) {
	c.sessMu.Lock()
	defer c.sessMu.Unlock()

	old.ClearToken()
	if err := old.Close(); err != nil {
		c.opts.Logger.Warn("closing rate-limited session", "error", err)
	}
	if c.session == old {
		c.session = nil
	}
}

// Current returns the last accepted snapshot.
func (c *Coordinator) Current() (*snapshot.Snapshot, error) {
	snap := c.current.Load()
	if snap == nil {
		return nil, ErrNotAvailable
	}
	return snap, nil
}

// Ready reports whether a snapshot has ever been accepted.
func (c *Coordinator) Ready() bool {
	return c.current.Load() != nil
}

// LastFailure returns the failure recorded by the most recent refresh, or
// false if that refresh succeeded (or none has run).
func (c *Coordinator) LastFailure() (Failure, bool) {
	f := c.failure.Load()
	if f == nil {
		return Failure{}, false
	}
	return *f, true
}

// Session returns the session currently owned by the coordinator, or nil
// if none is open.
func (c *Coordinator) Session() lavviebot.Session {
	c.sessMu.Lock()
	defer c.sessMu.Unlock()
	return c.session
}

// Interval returns the scheduled refresh interval.
func (c *Coordinator) Interval() time.Duration {
	return c.opts.Interval
}

// AwaitingReauth reports whether scheduled refreshes are suspended because
// the cloud rejected the credentials.
func (c *Coordinator) AwaitingReauth() bool {
	return c.awaitingReauth.Load()
}

// Reauthenticate swaps in new credentials. The current session is closed
// and a new one opens on the next refresh; the held snapshot and the
// Coordinator itself are kept. Any recorded failure is cleared.
func (c *Coordinator) Reauthenticate(creds lavviebot.Credentials) error {
	if creds.Email == "" || creds.Password == "" {
		return errors.New("coordinator: email and password are required")
	}

	c.sessMu.Lock()
	defer c.sessMu.Unlock()

	if c.closed.Load() {
		return ErrClosed
	}
	if c.session != nil {
		if err := c.session.Close(); err != nil {
			c.opts.Logger.Warn("closing session for reauthentication", "error", err)
		}
		c.session = nil
	}
	c.creds = creds
	c.generation++
	c.failure.Store(nil)
	c.awaitingReauth.Store(false)
	c.opts.Logger.Info("credentials replaced")
	return nil
}

// Subscribe registers l for updates. The returned function unregisters it
// and is safe to call more than once.
func (c *Coordinator) Subscribe(l Listener) (cancel func()) {
	c.listenersMu.Lock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = l
	c.listenersMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.listenersMu.Lock()
			delete(c.listeners, id)
			c.listenersMu.Unlock()
		})
	}
}

func (c *Coordinator) notify(u Update) {
	c.listenersMu.RLock()
	ls := make([]Listener, 0, len(c.listeners))
	for _, l := range c.listeners {
		ls = append(ls, l)
	}
	c.listenersMu.RUnlock()

	for _, l := range ls {
		l(u)
	}
}

// Run refreshes every Interval until ctx is cancelled or Close is called.
// Ticks that find a refresh still running are skipped, as are ticks while
// the coordinator awaits new credentials: rejected credentials are never
// retried on a schedule.
func (c *Coordinator) Run(ctx context.Context) {
	ticks, stop := c.opts.Clock.Ticker(c.opts.Interval)
	defer stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		case <-ticks:
			if c.awaitingReauth.Load() {
				c.skipped.Add(1)
				c.opts.Logger.Debug("tick skipped, awaiting re-authentication")
				continue
			}
			if _, err := c.Refresh(ctx); errors.Is(err, ErrRefreshInProgress) {
				c.opts.Logger.Debug("tick skipped, refresh still running")
			}
		}
	}
}

// Stats returns a copy of the coordinator's counters.
func (c *Coordinator) Stats() Stats {
	s := Stats{
		Ticks:               c.ticks.Load(),
		SkippedTicks:        c.skipped.Load(),
		Successes:           c.successes.Load(),
		Failures:            c.failures.Load(),
		RateLimitRecoveries: c.recoveries.Load(),
	}
	if ns := c.lastSuccess.Load(); ns != 0 {
		s.LastSuccess = time.Unix(0, ns)
	}
	return s
}

// Close stops Run and closes the session. Safe to call multiple times;
// only the first call closes anything.
func (c *Coordinator) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		close(c.done)

		c.sessMu.Lock()
		defer c.sessMu.Unlock()
		if c.session != nil {
			err = c.session.Close()
			c.session = nil
		}
	})
	return err
}

func (c *Coordinator) logFailure(f *Failure) {
	switch f.Kind {
	case FailureAuth:
		c.opts.Logger.Error("authentication rejected", "error", f.Message)
	default:
		c.opts.Logger.Warn("refresh failed", "kind", f.Kind, "error", f.Message)
	}
}
