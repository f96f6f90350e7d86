package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nerrad567/purrsong-bridge/internal/lavviebot"
	"github.com/nerrad567/purrsong-bridge/internal/snapshot"
)

// response is one scripted gateway answer.
type response struct {
	snap *snapshot.Snapshot
	err  error
}

// fakeGateway hands out fakeSessions that consume a shared script.
type fakeGateway struct {
	mu       sync.Mutex
	script   []response
	fallback response
	sessions []*fakeSession
	creds    []lavviebot.Credentials

	// fetchHook, when set, runs inside every fetch before the script is read.
	fetchHook func(ctx context.Context)

	inFlight    atomic.Int32
	maxInFlight atomic.Int32
	fetches     atomic.Int32
}

func (g *fakeGateway) factory(creds lavviebot.Credentials) (lavviebot.Session, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	s := &fakeSession{gw: g, id: len(g.sessions)}
	g.sessions = append(g.sessions, s)
	g.creds = append(g.creds, creds)
	return s, nil
}

func (g *fakeGateway) next() response {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.script) == 0 {
		return g.fallback
	}
	r := g.script[0]
	g.script = g.script[1:]
	return r
}

func (g *fakeGateway) sessionCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.sessions)
}

type fakeSession struct {
	gw      *fakeGateway
	id      int
	closed  atomic.Bool
	cleared atomic.Bool
}

func (s *fakeSession) FetchSnapshot(ctx context.Context) (*snapshot.Snapshot, error) {
	g := s.gw
	n := g.inFlight.Add(1)
	defer g.inFlight.Add(-1)
	for {
		m := g.maxInFlight.Load()
		if n <= m || g.maxInFlight.CompareAndSwap(m, n) {
			break
		}
	}
	g.fetches.Add(1)

	if s.closed.Load() {
		return nil, fmt.Errorf("%w: %w", lavviebot.ErrTransport, lavviebot.ErrSessionClosed)
	}
	if g.fetchHook != nil {
		g.fetchHook(ctx)
	}
	r := g.next()
	return r.snap, r.err
}

func (s *fakeSession) ClearToken() { s.cleared.Store(true) }

func (s *fakeSession) Close() error {
	s.closed.Store(true)
	return nil
}

func litterBoxSnapshot(topLitterStatus int) *snapshot.Snapshot {
	return snapshot.New(snapshot.Data{
		LitterBoxes: map[string]snapshot.LitterBox{
			"lb-1": {DeviceID: "lb-1", Name: "Hallway", TopLitterStatus: topLitterStatus},
		},
	}, time.Now())
}

var testCreds = lavviebot.Credentials{Email: "owner@example.com", Password: "secret"}

func newTestCoordinator(t *testing.T, gw *fakeGateway, mutate func(*Options)) *Coordinator {
	t.Helper()
	opts := Options{
		Credentials: testCreds,
		NewSession:  gw.factory,
		Timeout:     time.Second,
	}
	if mutate != nil {
		mutate(&opts)
	}
	c, err := New(opts)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { c.Close() }) //nolint:errcheck // test cleanup
	return c
}

func TestNew_Validation(t *testing.T) {
	gw := &fakeGateway{}
	tests := []struct {
		name string
		opts Options
	}{
		{"missing factory", Options{Credentials: testCreds}},
		{"missing email", Options{Credentials: lavviebot.Credentials{Password: "x"}, NewSession: gw.factory}},
		{"missing password", Options{Credentials: lavviebot.Credentials{Email: "x"}, NewSession: gw.factory}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.opts); err == nil {
				t.Error("New() expected error")
			}
		})
	}
}

func TestOptions_Defaults(t *testing.T) {
	opts := Options{MaxRateLimitRetries: 10}
	opts.applyDefaults()

	if opts.Interval != DefaultInterval || opts.Timeout != DefaultTimeout {
		t.Errorf("interval/timeout = %v/%v", opts.Interval, opts.Timeout)
	}
	if opts.MaxRateLimitRetries != MaxRateLimitRetries {
		t.Errorf("MaxRateLimitRetries = %d, want clamp to %d", opts.MaxRateLimitRetries, MaxRateLimitRetries)
	}
}

func TestCurrent_BeforeInitialize(t *testing.T) {
	c := newTestCoordinator(t, &fakeGateway{}, nil)
	if _, err := c.Current(); !errors.Is(err, ErrNotAvailable) {
		t.Errorf("Current() error = %v, want ErrNotAvailable", err)
	}
	if c.Ready() {
		t.Error("Ready() = true before Initialize")
	}
}

func TestInitialize(t *testing.T) {
	tests := []struct {
		name     string
		resp     response
		wantErrs []error
	}{
		{name: "success", resp: response{snap: litterBoxSnapshot(2)}},
		{
			name:     "auth failure",
			resp:     response{err: fmt.Errorf("%w: HTTP 401", lavviebot.ErrAuth)},
			wantErrs: []error{ErrNotReady, ErrAuthFailed, lavviebot.ErrAuth},
		},
		{
			name:     "transport failure",
			resp:     response{err: fmt.Errorf("%w: dial tcp", lavviebot.ErrTransport)},
			wantErrs: []error{ErrNotReady, ErrUpdateFailed, lavviebot.ErrTransport},
		},
		{
			name:     "empty snapshot",
			resp:     response{snap: snapshot.New(snapshot.Data{}, time.Now())},
			wantErrs: []error{ErrNotReady, ErrUpdateFailed, lavviebot.ErrNoDevices},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gw := &fakeGateway{script: []response{tt.resp}}
			c := newTestCoordinator(t, gw, nil)

			err := c.Initialize(context.Background())
			if len(tt.wantErrs) == 0 {
				if err != nil {
					t.Fatalf("Initialize() error = %v", err)
				}
				if !c.Ready() {
					t.Error("Ready() = false after successful Initialize")
				}
				return
			}
			for _, want := range tt.wantErrs {
				if !errors.Is(err, want) {
					t.Errorf("Initialize() error = %v, want errors.Is %v", err, want)
				}
			}
			if c.Ready() {
				t.Error("Ready() = true after failed Initialize")
			}
		})
	}
}

func TestRefresh_EmptySnapshotRejected(t *testing.T) {
	gw := &fakeGateway{script: []response{
		{snap: litterBoxSnapshot(2)},
		{snap: snapshot.New(snapshot.Data{
			LitterBoxes: map[string]snapshot.LitterBox{},
			Scanners:    map[string]snapshot.Scanner{},
			Tags:        map[string]snapshot.Tag{},
			Cats:        map[string]snapshot.Cat{},
		}, time.Now())},
	}}
	c := newTestCoordinator(t, gw, nil)

	first, err := c.Refresh(context.Background())
	if err != nil {
		t.Fatalf("first Refresh() error = %v", err)
	}

	snap, err := c.Refresh(context.Background())
	if snap != nil {
		t.Error("empty snapshot returned as success")
	}
	if !errors.Is(err, ErrUpdateFailed) || !errors.Is(err, lavviebot.ErrNoDevices) {
		t.Errorf("Refresh() error = %v, want ErrUpdateFailed+ErrNoDevices", err)
	}

	f, ok := c.LastFailure()
	if !ok || f.Kind != FailureNoDevices {
		t.Errorf("LastFailure() = %+v, %v; want kind no_devices", f, ok)
	}
	if cur, _ := c.Current(); cur != first {
		t.Error("empty snapshot replaced the current one")
	}
}

func TestRefresh_AuthFailureKeepsSnapshot(t *testing.T) {
	gw := &fakeGateway{script: []response{
		{snap: litterBoxSnapshot(2)},
		{err: fmt.Errorf("%w: HTTP 401", lavviebot.ErrAuth)},
	}}
	c := newTestCoordinator(t, gw, nil)

	good, err := c.Refresh(context.Background())
	if err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}

	_, err = c.Refresh(context.Background())
	if !errors.Is(err, ErrAuthFailed) {
		t.Fatalf("Refresh() error = %v, want ErrAuthFailed", err)
	}
	if errors.Is(err, ErrUpdateFailed) {
		t.Error("auth failure also classified as update failure")
	}

	cur, err := c.Current()
	if err != nil || cur != good {
		t.Errorf("Current() = %p, %v; want prior snapshot %p", cur, err, good)
	}

	f, ok := c.LastFailure()
	if !ok || !f.IsAuth() {
		t.Errorf("LastFailure() = %+v, want auth failure", f)
	}
	if gw.sessionCount() != 1 {
		t.Errorf("auth failure opened %d sessions, want no retry", gw.sessionCount())
	}
}

func TestRefresh_RateLimitRecoveredTransparently(t *testing.T) {
	want := litterBoxSnapshot(1)
	gw := &fakeGateway{script: []response{
		{err: fmt.Errorf("%w: HTTP 429", lavviebot.ErrRateLimit)},
		{snap: want},
	}}
	c := newTestCoordinator(t, gw, nil)

	// Open the first session so there is a handle to compare.
	before, _, err := c.acquireSession()
	if err != nil {
		t.Fatalf("acquireSession() error = %v", err)
	}

	var updates []Update
	c.Subscribe(func(u Update) { updates = append(updates, u) })

	got, err := c.Refresh(context.Background())
	if err != nil {
		t.Fatalf("Refresh() error = %v, want transparent recovery", err)
	}
	if got != want {
		t.Error("Refresh() did not return the post-recovery snapshot")
	}

	after := c.Session()
	if after == nil || after == before {
		t.Error("session handle was not replaced during rate-limit recovery")
	}
	old := before.(*fakeSession)
	if !old.closed.Load() || !old.cleared.Load() {
		t.Errorf("old session closed=%v cleared=%v, want both", old.closed.Load(), old.cleared.Load())
	}

	if _, ok := c.LastFailure(); ok {
		t.Error("recovered refresh left a failure recorded")
	}
	if len(updates) != 1 || updates[0].Snapshot != want {
		t.Errorf("listeners saw %d updates, want exactly one success", len(updates))
	}

	stats := c.Stats()
	if stats.Ticks != 1 || stats.RateLimitRecoveries != 1 || stats.Failures != 0 {
		t.Errorf("Stats() = %+v", stats)
	}
}

func TestRefresh_RateLimitBounded(t *testing.T) {
	tests := []struct {
		retries      int
		wantSessions int
	}{
		{retries: 1, wantSessions: 2},
		{retries: 3, wantSessions: 4},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("retries=%d", tt.retries), func(t *testing.T) {
			gw := &fakeGateway{fallback: response{err: fmt.Errorf("%w: HTTP 429", lavviebot.ErrRateLimit)}}
			c := newTestCoordinator(t, gw, func(o *Options) { o.MaxRateLimitRetries = tt.retries })

			_, err := c.Refresh(context.Background())
			if !errors.Is(err, ErrUpdateFailed) || !errors.Is(err, lavviebot.ErrRateLimit) {
				t.Fatalf("Refresh() error = %v, want ErrUpdateFailed+ErrRateLimit", err)
			}
			if f, _ := c.LastFailure(); f.Kind != FailureRateLimit {
				t.Errorf("failure kind = %q, want rate_limit", f.Kind)
			}
			if got := gw.sessionCount(); got != tt.wantSessions {
				t.Errorf("sessions opened = %d, want %d", got, tt.wantSessions)
			}
		})
	}
}

func TestRefresh_TransportFailureThenRecovery(t *testing.T) {
	good := litterBoxSnapshot(2)
	next := litterBoxSnapshot(1)
	gw := &fakeGateway{script: []response{
		{snap: good},
		{err: fmt.Errorf("%w: %w", lavviebot.ErrTransport, context.DeadlineExceeded)},
		{snap: next},
	}}
	c := newTestCoordinator(t, gw, nil)
	ctx := context.Background()

	if _, err := c.Refresh(ctx); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}

	_, err := c.Refresh(ctx)
	if !errors.Is(err, ErrUpdateFailed) || !errors.Is(err, lavviebot.ErrTransport) {
		t.Fatalf("Refresh() error = %v, want ErrUpdateFailed+ErrTransport", err)
	}
	if cur, _ := c.Current(); cur != good {
		t.Error("transport failure replaced the current snapshot")
	}
	if f, ok := c.LastFailure(); !ok || f.Kind != FailureTransport {
		t.Errorf("LastFailure() = %+v, %v", f, ok)
	}

	// The next scheduled tick retries without intervention.
	if _, err := c.Refresh(ctx); err != nil {
		t.Fatalf("recovery Refresh() error = %v", err)
	}
	if cur, _ := c.Current(); cur != next {
		t.Error("recovered snapshot not accepted")
	}
	if _, ok := c.LastFailure(); ok {
		t.Error("failure not cleared by successful refresh")
	}
}

func TestRefresh_TimeoutBoundsFetch(t *testing.T) {
	gw := &fakeGateway{
		fetchHook: func(ctx context.Context) { <-ctx.Done() },
		fallback:  response{err: fmt.Errorf("%w: %w", lavviebot.ErrTransport, context.DeadlineExceeded)},
	}
	c := newTestCoordinator(t, gw, func(o *Options) { o.Timeout = 20 * time.Millisecond })

	start := time.Now()
	_, err := c.Refresh(context.Background())
	if !errors.Is(err, ErrUpdateFailed) {
		t.Fatalf("Refresh() error = %v, want ErrUpdateFailed", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("Refresh() took %v, timeout not applied", elapsed)
	}
}

func TestRefresh_SkipsWhenInFlight(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once

	gw := &fakeGateway{
		fallback: response{snap: litterBoxSnapshot(2)},
		fetchHook: func(context.Context) {
			once.Do(func() { close(started) })
			<-release
		},
	}
	c := newTestCoordinator(t, gw, nil)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if _, err := c.Refresh(context.Background()); err != nil {
			t.Errorf("first Refresh() error = %v", err)
		}
	}()

	<-started
	for i := 0; i < 5; i++ {
		if _, err := c.Refresh(context.Background()); !errors.Is(err, ErrRefreshInProgress) {
			t.Errorf("concurrent Refresh() error = %v, want ErrRefreshInProgress", err)
		}
	}
	close(release)
	wg.Wait()

	if got := gw.maxInFlight.Load(); got != 1 {
		t.Errorf("max concurrent fetches = %d, want 1", got)
	}
	if got := gw.fetches.Load(); got != 1 {
		t.Errorf("fetches = %d, want 1 (skipped ticks must not queue)", got)
	}
	if s := c.Stats(); s.SkippedTicks != 5 || s.Ticks != 1 {
		t.Errorf("Stats() = %+v, want 5 skipped, 1 tick", s)
	}
}

func TestReauthenticate(t *testing.T) {
	gw := &fakeGateway{script: []response{
		{snap: litterBoxSnapshot(2)},
		{err: fmt.Errorf("%w: HTTP 401", lavviebot.ErrAuth)},
		{snap: litterBoxSnapshot(0)},
	}}
	c := newTestCoordinator(t, gw, nil)
	ctx := context.Background()

	good, _ := c.Refresh(ctx)
	if _, err := c.Refresh(ctx); !errors.Is(err, ErrAuthFailed) {
		t.Fatalf("Refresh() error = %v, want ErrAuthFailed", err)
	}
	oldSession := c.Session().(*fakeSession)

	newCreds := lavviebot.Credentials{Email: "owner@example.com", Password: "new-secret"}
	if err := c.Reauthenticate(newCreds); err != nil {
		t.Fatalf("Reauthenticate() error = %v", err)
	}

	if !oldSession.closed.Load() {
		t.Error("old session not closed on reauthentication")
	}
	if _, ok := c.LastFailure(); ok {
		t.Error("failure not cleared by Reauthenticate")
	}
	if cur, _ := c.Current(); cur != good {
		t.Error("Reauthenticate dropped the held snapshot")
	}

	if _, err := c.Refresh(ctx); err != nil {
		t.Fatalf("Refresh() after reauth error = %v", err)
	}
	gw.mu.Lock()
	last := gw.creds[len(gw.creds)-1]
	gw.mu.Unlock()
	if last != newCreds {
		t.Errorf("new session opened with %+v, want new credentials", last)
	}

	if err := c.Reauthenticate(lavviebot.Credentials{Email: "x"}); err == nil {
		t.Error("Reauthenticate() accepted empty password")
	}
}

func TestSubscribe(t *testing.T) {
	gw := &fakeGateway{script: []response{
		{snap: litterBoxSnapshot(2)},
		{err: fmt.Errorf("%w: boom", lavviebot.ErrTransport)},
	}}
	c := newTestCoordinator(t, gw, nil)

	var got []Update
	cancel := c.Subscribe(func(u Update) { got = append(got, u) })

	_, _ = c.Refresh(context.Background()) //nolint:errcheck // outcome checked via listener
	_, _ = c.Refresh(context.Background()) //nolint:errcheck // outcome checked via listener

	if len(got) != 2 {
		t.Fatalf("updates = %d, want 2", len(got))
	}
	if got[0].Snapshot == nil || got[0].Failure != nil {
		t.Errorf("first update = %+v, want snapshot", got[0])
	}
	if got[1].Failure == nil || got[1].Failure.Kind != FailureTransport {
		t.Errorf("second update = %+v, want transport failure", got[1])
	}

	cancel()
	cancel()
	_, _ = c.Refresh(context.Background()) //nolint:errcheck // listener removed
	if len(got) != 2 {
		t.Error("listener called after cancel")
	}
}

// manualClock delivers ticks only when the test sends them.
type manualClock struct {
	ticks   chan time.Time
	stopped atomic.Bool
}

func (m *manualClock) Now() time.Time { return time.Now() }

func (m *manualClock) Ticker(time.Duration) (<-chan time.Time, func()) {
	return m.ticks, func() { m.stopped.Store(true) }
}

func TestRun_TicksUntilClosed(t *testing.T) {
	clock := &manualClock{ticks: make(chan time.Time)}
	gw := &fakeGateway{fallback: response{snap: litterBoxSnapshot(2)}}
	c := newTestCoordinator(t, gw, func(o *Options) { o.Clock = clock })

	refreshed := make(chan struct{}, 4)
	c.Subscribe(func(Update) { refreshed <- struct{}{} })

	done := make(chan struct{})
	go func() {
		c.Run(context.Background())
		close(done)
	}()

	for i := 0; i < 2; i++ {
		clock.ticks <- time.Now()
		select {
		case <-refreshed:
		case <-time.After(2 * time.Second):
			t.Fatalf("tick %d did not refresh", i)
		}
	}

	if err := c.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after Close")
	}
	if !clock.stopped.Load() {
		t.Error("ticker not stopped when Run returned")
	}
	if got := c.Stats().Successes; got != 2 {
		t.Errorf("Successes = %d, want 2", got)
	}
}

func TestRun_StopsOnContextCancel(t *testing.T) {
	clock := &manualClock{ticks: make(chan time.Time)}
	c := newTestCoordinator(t, &fakeGateway{}, func(o *Options) { o.Clock = clock })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestClose(t *testing.T) {
	gw := &fakeGateway{fallback: response{snap: litterBoxSnapshot(2)}}
	c := newTestCoordinator(t, gw, nil)

	if _, err := c.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	session := c.Session().(*fakeSession)

	if err := c.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := c.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
	if !session.closed.Load() {
		t.Error("session not closed")
	}
	if _, err := c.Refresh(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("Refresh() after Close error = %v, want ErrClosed", err)
	}
	if err := c.Reauthenticate(testCreds); !errors.Is(err, ErrClosed) {
		t.Errorf("Reauthenticate() after Close error = %v, want ErrClosed", err)
	}
}

// updateLog collects listener updates delivered from any goroutine.
type updateLog struct {
	mu      sync.Mutex
	updates []Update
}

func (l *updateLog) record(u Update) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.updates = append(l.updates, u)
}

func (l *updateLog) failures(kind FailureKind) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, u := range l.updates {
		if u.Failure != nil && u.Failure.Kind == kind {
			n++
		}
	}
	return n
}

func (l *updateLog) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.updates)
}

func TestRun_AuthFailureSuspendsScheduledRefresh(t *testing.T) {
	clock := &manualClock{ticks: make(chan time.Time)}
	gw := &fakeGateway{
		script:   []response{{err: fmt.Errorf("%w: HTTP 401", lavviebot.ErrAuth)}},
		fallback: response{snap: litterBoxSnapshot(2)},
	}
	c := newTestCoordinator(t, gw, func(o *Options) { o.Clock = clock })

	updates := make(chan Update, 8)
	c.Subscribe(func(u Update) { updates <- u })

	go c.Run(context.Background())

	clock.ticks <- time.Now()
	select {
	case u := <-updates:
		if u.Failure == nil || !u.Failure.IsAuth() {
			t.Fatalf("first update = %+v, want auth failure", u)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("first tick did not refresh")
	}
	if !c.AwaitingReauth() {
		t.Fatal("AwaitingReauth() = false after auth failure")
	}

	for i := 0; i < 3; i++ {
		clock.ticks <- time.Now()
	}
	deadline := time.Now().Add(2 * time.Second)
	for c.Stats().SkippedTicks < 3 {
		if time.Now().After(deadline) {
			t.Fatalf("SkippedTicks = %d, want 3", c.Stats().SkippedTicks)
		}
		time.Sleep(5 * time.Millisecond)
	}
	if got := gw.fetches.Load(); got != 1 {
		t.Errorf("fetches = %d, want 1 (rejected credentials must not be resent)", got)
	}
	if got := c.Stats().Failures; got != 1 {
		t.Errorf("Failures = %d, want 1", got)
	}
	select {
	case u := <-updates:
		t.Errorf("unexpected update while awaiting reauth: %+v", u)
	default:
	}

	if err := c.Reauthenticate(lavviebot.Credentials{Email: "owner@example.com", Password: "new-secret"}); err != nil {
		t.Fatalf("Reauthenticate() error = %v", err)
	}
	if c.AwaitingReauth() {
		t.Error("AwaitingReauth() = true after Reauthenticate")
	}

	clock.ticks <- time.Now()
	select {
	case u := <-updates:
		if u.Snapshot == nil {
			t.Fatalf("update after reauth = %+v, want snapshot", u)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("tick after Reauthenticate did not refresh")
	}
	if got := gw.fetches.Load(); got != 2 {
		t.Errorf("fetches = %d, want 2", got)
	}
}

func TestRefresh_AuthFailureFromReplacedCredentialsDiscarded(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})

	gw := &fakeGateway{
		script: []response{
			{snap: litterBoxSnapshot(2)},
			{err: fmt.Errorf("%w: HTTP 401", lavviebot.ErrAuth)},
			{snap: litterBoxSnapshot(0)},
		},
	}
	gw.fetchHook = func(context.Context) {
		if gw.fetches.Load() == 2 {
			close(started)
			<-release
		}
	}
	c := newTestCoordinator(t, gw, nil)
	ctx := context.Background()

	if _, err := c.Refresh(ctx); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	seen := &updateLog{}
	c.Subscribe(seen.record)

	errc := make(chan error, 1)
	go func() {
		_, err := c.Refresh(ctx)
		errc <- err
	}()

	<-started
	newCreds := lavviebot.Credentials{Email: "owner@example.com", Password: "new-secret"}
	if err := c.Reauthenticate(newCreds); err != nil {
		t.Fatalf("Reauthenticate() error = %v", err)
	}
	close(release)

	if err := <-errc; !errors.Is(err, ErrAuthFailed) {
		t.Fatalf("in-flight Refresh() error = %v, want ErrAuthFailed", err)
	}
	if f, ok := c.LastFailure(); ok {
		t.Errorf("LastFailure() = %+v, want none for replaced credentials", f)
	}
	if c.AwaitingReauth() {
		t.Error("stale auth failure suspended scheduled refresh")
	}
	if got := seen.failures(FailureAuth); got != 0 {
		t.Errorf("auth failures delivered = %d, want 0", got)
	}
	if got := c.Stats().Failures; got != 0 {
		t.Errorf("Failures = %d, want 0", got)
	}

	if _, err := c.Refresh(ctx); err != nil {
		t.Fatalf("Refresh() with new credentials error = %v", err)
	}
	gw.mu.Lock()
	last := gw.creds[len(gw.creds)-1]
	gw.mu.Unlock()
	if last != newCreds {
		t.Errorf("session opened with %+v, want new credentials", last)
	}
}

func TestRefresh_ClosedDuringFetchRecordsNothing(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once

	gw := &fakeGateway{
		fallback: response{err: fmt.Errorf("%w: connection reset", lavviebot.ErrTransport)},
		fetchHook: func(context.Context) {
			once.Do(func() { close(started) })
			<-release
		},
	}
	c := newTestCoordinator(t, gw, nil)
	seen := &updateLog{}
	c.Subscribe(seen.record)

	errc := make(chan error, 1)
	go func() {
		_, err := c.Refresh(context.Background())
		errc <- err
	}()

	<-started
	if err := c.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	close(release)

	if err := <-errc; !errors.Is(err, ErrClosed) {
		t.Errorf("Refresh() error = %v, want ErrClosed", err)
	}
	if f, ok := c.LastFailure(); ok {
		t.Errorf("LastFailure() = %+v, want none after Close", f)
	}
	if n := seen.len(); n != 0 {
		t.Errorf("updates after Close = %d, want 0", n)
	}
	if got := c.Stats().Failures; got != 0 {
		t.Errorf("Failures = %d, want 0", got)
	}
}
