package host

import (
	"context"
	"sync"

	"github.com/nerrad567/purrsong-bridge/internal/account"
	"github.com/nerrad567/purrsong-bridge/internal/coordinator"
)

// Observer is told about coordinators coming and going and about entry
// state changes. Implementations must be safe for concurrent use.
type Observer interface {
	// Attach is called after a coordinator's first successful refresh and
	// before its run loop starts.
	Attach(entry account.Entry, c *coordinator.Coordinator)

	// Detach is called after the coordinator has been stopped and closed.
	Detach(entryID string)

	// AccountState is called whenever an entry's state or last error changes.
	AccountState(entry account.Entry)
}

// Instance is one loaded entry and the coordinator polling it.
type Instance struct {
	coord *coordinator.Coordinator

	mu    sync.RWMutex
	entry account.Entry

	cancel      context.CancelFunc
	done        chan struct{}
	unsubscribe func()
}

// ID returns the entry ID.
func (i *Instance) ID() string {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.entry.ID
}

// Entry returns a copy of the entry as last recorded.
func (i *Instance) Entry() account.Entry {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.entry
}

// Coordinator returns the instance's coordinator.
func (i *Instance) Coordinator() *coordinator.Coordinator {
	return i.coord
}

// setState updates the in-memory state and reports whether it changed.
func (i *Instance) setState(state account.State, lastError string) (account.Entry, bool) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.entry.State == state && i.entry.LastError == lastError {
		return i.entry, false
	}
	i.entry.State = state
	i.entry.LastError = lastError
	return i.entry, true
}
