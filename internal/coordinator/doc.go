// Package coordinator polls one PurrSong account and holds the latest
// accepted device snapshot.
//
// A Coordinator owns exactly one gateway session. On every tick it fetches a
// snapshot, classifies the outcome, and either swaps in the new snapshot
// atomically or records a failure while leaving the previous snapshot in
// place. Readers call Current at any time without locking.
//
// # Failure classification
//
// In priority order, first match wins:
//
//  1. Authentication rejected: ErrAuthFailed. Never retried: Run skips its
//     ticks until Reauthenticate supplies new credentials. A rejection that
//     arrives after the credentials were already replaced is discarded.
//  2. Rate limited: the session is discarded and a fresh one opened, then the
//     same refresh tries again. Bounded by Options.MaxRateLimitRetries; the
//     caller sees nothing unless the bound is exhausted.
//  3. Any other gateway error (timeout, network, malformed response):
//     ErrUpdateFailed. The next scheduled tick retries.
//  4. A fetch that returns no litter boxes, scanners, tags or cats:
//     ErrUpdateFailed with kind no_devices.
//
// # Concurrency
//
// At most one fetch is in flight. A Refresh that arrives while another is
// running returns ErrRefreshInProgress immediately; it is neither queued nor
// run in parallel. Once Close has been called, a fetch that was still
// running is neither recorded nor delivered to listeners.
//
// # Usage
//
//	c, err := coordinator.New(coordinator.Options{
//	    Credentials: creds,
//	    NewSession:  lavviebot.SessionFactory(opts),
//	})
//	if err := c.Initialize(ctx); err != nil {
//	    // setup failed; errors.Is(err, coordinator.ErrAuthFailed) means reauth
//	}
//	go c.Run(ctx)
//	snap, _ := c.Current()
package coordinator
