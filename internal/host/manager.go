package host

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/nerrad567/purrsong-bridge/internal/account"
	"github.com/nerrad567/purrsong-bridge/internal/coordinator"
	"github.com/nerrad567/purrsong-bridge/internal/infrastructure/logging"
	"github.com/nerrad567/purrsong-bridge/internal/lavviebot"
)

// DefaultSetupRetryDelay is used when Options.SetupRetryDelay is zero.
const DefaultSetupRetryDelay = 30 * time.Second

// reauthRefreshBackoff is how long Reauthenticate waits before retrying a
// refresh that found another refresh in progress.
const reauthRefreshBackoff = 50 * time.Millisecond

// Options configures a Manager.
type Options struct {
	// Repository holds the config entries. Required.
	Repository account.Repository

	// NewSession opens gateway sessions for coordinators. Required.
	NewSession lavviebot.Factory

	// Flow migrates legacy entries during Start. Optional.
	Flow *account.Flow

	// Coordinator settings. Zero values use the coordinator defaults.
	Interval            time.Duration
	Timeout             time.Duration
	MaxRateLimitRetries int
	Clock               coordinator.Clock

	// SetupRetryDelay is the wait before retrying a transient setup failure.
	// Default: 30s.
	SetupRetryDelay time.Duration

	// Observers are attached to every instance.
	Observers []Observer

	// Logger for host events. Default: discard.
	Logger *logging.Logger
}

// Manager owns the running instances, one per loaded entry.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
type Manager struct {
	opts   Options
	logger *logging.Logger

	mu        sync.Mutex
	baseCtx   context.Context
	instances map[string]*Instance
	starting  map[string]struct{}
	retries   map[string]*time.Timer
	observers []Observer
	closed    bool
}

// New creates a Manager. Nothing is loaded until Start or Setup.
func New(opts Options) (*Manager, error) {
	if opts.Repository == nil {
		return nil, errors.New("host: repository is required")
	}
	if opts.NewSession == nil {
		return nil, errors.New("host: session factory is required")
	}
	if opts.SetupRetryDelay <= 0 {
		opts.SetupRetryDelay = DefaultSetupRetryDelay
	}
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}

	return &Manager{
		opts:      opts,
		logger:    opts.Logger.Component("host"),
		baseCtx:   context.Background(),
		instances: make(map[string]*Instance),
		starting:  make(map[string]struct{}),
		retries:   make(map[string]*time.Timer),
		observers: slices.Clone(opts.Observers),
	}, nil
}

// Start migrates legacy entries and sets up every stored entry.
//
// ctx becomes the parent of every run loop, so cancelling it stops polling.
// Setup failures are recorded on the entries and do not fail Start.
//
// Returns:
//   - error: If the entries cannot be listed
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	m.baseCtx = ctx
	m.mu.Unlock()

	entries, err := m.opts.Repository.List(ctx)
	if err != nil {
		return fmt.Errorf("listing accounts: %w", err)
	}

	for i := range entries {
		e := &entries[i]
		if e.NeedsMigration() {
			if err := m.migrate(ctx, e); err != nil {
				continue
			}
		}
		if err := m.Setup(ctx, e.ID); err != nil {
			m.logger.Warn("account setup failed", "entry_id", e.ID, "error", err)
		}
	}

	m.logger.Info("host started", "accounts", len(entries), "loaded", len(m.Instances()))
	return nil
}

func (m *Manager) migrate(ctx context.Context, e *account.Entry) error {
	if m.opts.Flow == nil {
		err := fmt.Errorf("%w: no migration flow configured", account.ErrMigrationFailed)
		m.recordState(ctx, *e, account.StateSetupError, err.Error())
		return err
	}
	if _, err := m.opts.Flow.Migrate(ctx, e); err != nil {
		m.recordState(ctx, *e, account.StateSetupError, err.Error())
		return err
	}
	return nil
}

// Setup loads an entry: it builds a coordinator, runs the first refresh and
// starts the run loop.
//
// Rejected credentials leave the entry in reauth_required. Any other
// failure leaves it in setup_retry and schedules another Setup after
// SetupRetryDelay.
//
// Parameters:
//   - ctx: Bounds the first refresh
//   - id: Entry to load
//
// Returns:
//   - error: ErrAlreadyLoaded, account.ErrNotFound, or ErrSetupFailed
//     wrapping the coordinator error
func (m *Manager) Setup(ctx context.Context, id string) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	if _, ok := m.instances[id]; ok {
		m.mu.Unlock()
		return ErrAlreadyLoaded
	}
	if _, ok := m.starting[id]; ok {
		m.mu.Unlock()
		return ErrAlreadyLoaded
	}
	m.starting[id] = struct{}{}
	m.stopRetryLocked(id)
	baseCtx := m.baseCtx
	observers := slices.Clone(m.observers)
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		delete(m.starting, id)
		m.mu.Unlock()
	}()

	entry, err := m.opts.Repository.Get(ctx, id)
	if err != nil {
		return err
	}

	coord, err := coordinator.New(coordinator.Options{
		Credentials:         entry.Credentials(),
		NewSession:          m.opts.NewSession,
		Interval:            m.opts.Interval,
		Timeout:             m.opts.Timeout,
		MaxRateLimitRetries: m.opts.MaxRateLimitRetries,
		Clock:               m.opts.Clock,
		Logger:              m.opts.Logger.Component("coordinator").With("entry_id", id),
	})
	if err != nil {
		m.recordState(ctx, *entry, account.StateSetupError, err.Error())
		return fmt.Errorf("%w: %w", ErrSetupFailed, err)
	}

	if err := coord.Initialize(ctx); err != nil {
		coord.Close() //nolint:errcheck // Nothing was started
		if errors.Is(err, coordinator.ErrAuthFailed) {
			m.recordState(ctx, *entry, account.StateReauthRequired, err.Error())
		} else {
			m.recordState(ctx, *entry, account.StateSetupRetry, err.Error())
			m.scheduleRetry(id)
		}
		return fmt.Errorf("%w: %w", ErrSetupFailed, err)
	}

	entry.State = account.StateLoaded
	entry.LastError = ""

	runCtx, cancel := context.WithCancel(baseCtx)
	inst := &Instance{
		coord:  coord,
		entry:  *entry,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	inst.unsubscribe = coord.Subscribe(m.listener(inst))

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		inst.unsubscribe()
		cancel()
		coord.Close() //nolint:errcheck // Manager shut down during setup
		return ErrClosed
	}
	m.instances[id] = inst
	m.mu.Unlock()

	if err := m.opts.Repository.UpdateState(ctx, id, account.StateLoaded, ""); err != nil {
		m.logger.Warn("persisting account state failed", "entry_id", id, "error", err)
	}
	for _, o := range observers {
		o.Attach(*entry, coord)
		o.AccountState(*entry)
	}

	go func() {
		defer close(inst.done)
		coord.Run(runCtx)
	}()

	m.logger.Info("account loaded", "entry_id", id, "email", entry.Email,
		"devices", currentDeviceCount(coord))
	return nil
}

// listener keeps the entry state in step with the coordinator.
func (m *Manager) listener(inst *Instance) coordinator.Listener {
	return func(u coordinator.Update) {
		switch {
		case u.Failure != nil && u.Failure.IsAuth():
			m.setInstanceState(inst, account.StateReauthRequired, u.Failure.Message)
		case u.Snapshot != nil:
			m.setInstanceState(inst, account.StateLoaded, "")
		}
	}
}

func (m *Manager) setInstanceState(inst *Instance, state account.State, lastError string) {
	entry, changed := inst.setState(state, lastError)
	if !changed {
		return
	}
	if state == account.StateReauthRequired {
		m.logger.Error("account needs re-authentication", "entry_id", entry.ID, "email", entry.Email)
	}
	m.persistAndNotify(context.Background(), entry)
}

// recordState stores a state for an entry without a running instance.
func (m *Manager) recordState(ctx context.Context, entry account.Entry, state account.State, lastError string) {
	entry.State = state
	entry.LastError = lastError
	m.persistAndNotify(ctx, entry)
}

func (m *Manager) persistAndNotify(ctx context.Context, entry account.Entry) {
	err := m.opts.Repository.UpdateState(ctx, entry.ID, entry.State, entry.LastError)
	if err != nil && !errors.Is(err, account.ErrNotFound) {
		m.logger.Warn("persisting account state failed", "entry_id", entry.ID, "error", err)
	}

	m.mu.Lock()
	observers := slices.Clone(m.observers)
	m.mu.Unlock()
	for _, o := range observers {
		o.AccountState(entry)
	}
}

func (m *Manager) scheduleRetry(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.stopRetryLocked(id)
	m.retries[id] = time.AfterFunc(m.opts.SetupRetryDelay, func() {
		m.mu.Lock()
		ctx := m.baseCtx
		delete(m.retries, id)
		m.mu.Unlock()

		if err := m.Setup(ctx, id); err != nil && !errors.Is(err, ErrClosed) {
			m.logger.Warn("account setup retry failed", "entry_id", id, "error", err)
		}
	})
	m.logger.Info("account setup retry scheduled", "entry_id", id, "delay", m.opts.SetupRetryDelay)
}

func (m *Manager) stopRetryLocked(id string) bool {
	t, ok := m.retries[id]
	if ok {
		t.Stop()
		delete(m.retries, id)
	}
	return ok
}

// Unload stops an entry's instance.
//
// The run loop is cancelled and awaited before the coordinator is closed,
// so no refresh is in flight once Unload returns. A pending setup retry is
// cancelled as well.
//
// Returns:
//   - error: ErrNotLoaded if nothing was running or pending
func (m *Manager) Unload(ctx context.Context, id string) error {
	m.mu.Lock()
	hadRetry := m.stopRetryLocked(id)
	inst, ok := m.instances[id]
	if ok {
		delete(m.instances, id)
	}
	observers := slices.Clone(m.observers)
	m.mu.Unlock()

	if !ok {
		if hadRetry {
			return nil
		}
		return ErrNotLoaded
	}

	inst.unsubscribe()
	inst.cancel()
	<-inst.done
	if err := inst.coord.Close(); err != nil {
		m.logger.Warn("closing coordinator", "entry_id", id, "error", err)
	}

	for _, o := range observers {
		o.Detach(id)
	}
	entry, _ := inst.setState(account.StateNotLoaded, "")
	m.persistAndNotify(ctx, entry)

	m.logger.Info("account unloaded", "entry_id", id)
	return nil
}

// Reload unloads an entry if it is running and sets it up again.
func (m *Manager) Reload(ctx context.Context, id string) error {
	if err := m.Unload(ctx, id); err != nil && !errors.Is(err, ErrNotLoaded) {
		return err
	}
	return m.Setup(ctx, id)
}

// Remove unloads an entry and deletes it from the repository.
func (m *Manager) Remove(ctx context.Context, id string) error {
	if err := m.Unload(ctx, id); err != nil && !errors.Is(err, ErrNotLoaded) {
		return err
	}
	if err := m.opts.Repository.Delete(ctx, id); err != nil {
		return err
	}
	m.logger.Info("account removed", "entry_id", id)
	return nil
}

// Reauthenticate applies replacement credentials to an entry.
//
// A running instance keeps its coordinator: the credentials are swapped in
// and a refresh runs immediately, waiting out any refresh already in flight. An entry that is not running (for example
// one that failed setup with rejected credentials) is set up afresh from
// the repository, which must already hold the new credentials.
//
// Parameters:
//   - ctx: Bounds the refresh or setup
//   - id: Entry to update
//   - creds: The validated replacement credentials
//
// Returns:
//   - error: The refresh or setup error
func (m *Manager) Reauthenticate(ctx context.Context, id string, creds lavviebot.Credentials) error {
	inst, ok := m.Instance(id)
	if !ok {
		return m.Setup(ctx, id)
	}

	if err := inst.coord.Reauthenticate(creds); err != nil {
		return err
	}
	inst.mu.Lock()
	inst.entry.Email = creds.Email
	inst.entry.Password = creds.Password
	inst.mu.Unlock()

	// A refresh already in flight may still be using the old credentials,
	// so wait for it and poll again with the new ones.
	for {
		_, err := inst.coord.Refresh(ctx)
		if !errors.Is(err, coordinator.ErrRefreshInProgress) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(reauthRefreshBackoff):
		}
	}
}

// Instance returns the running instance for id.
func (m *Manager) Instance(id string) (*Instance, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inst, ok := m.instances[id]
	return inst, ok
}

// Coordinator returns the coordinator of the running instance for id.
func (m *Manager) Coordinator(id string) (*coordinator.Coordinator, bool) {
	inst, ok := m.Instance(id)
	if !ok {
		return nil, false
	}
	return inst.coord, true
}

// Instances returns the running instances ordered by entry ID.
func (m *Manager) Instances() []*Instance {
	m.mu.Lock()
	out := make([]*Instance, 0, len(m.instances))
	for _, inst := range m.instances {
		out = append(out, inst)
	}
	m.mu.Unlock()

	slices.SortFunc(out, func(a, b *Instance) int {
		return strings.Compare(a.ID(), b.ID())
	})
	return out
}

// Close unloads every instance and cancels pending retries.
// Later calls return ErrClosed.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	m.closed = true
	for id := range m.retries {
		m.stopRetryLocked(id)
	}
	ids := make([]string, 0, len(m.instances))
	for id := range m.instances {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	for _, id := range ids {
		if err := m.Unload(ctx, id); err != nil && !errors.Is(err, ErrNotLoaded) {
			m.logger.Warn("unloading account", "entry_id", id, "error", err)
		}
	}
	m.logger.Info("host stopped", "unloaded", len(ids))
	return nil
}

func currentDeviceCount(c *coordinator.Coordinator) int {
	snap, err := c.Current()
	if err != nil {
		return 0
	}
	return snap.DeviceCount()
}
