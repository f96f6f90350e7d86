package history

import (
	"sync"
	"time"

	"github.com/nerrad567/purrsong-bridge/internal/account"
	"github.com/nerrad567/purrsong-bridge/internal/coordinator"
	"github.com/nerrad567/purrsong-bridge/internal/infrastructure/logging"
	"github.com/nerrad567/purrsong-bridge/internal/projection"
	"github.com/nerrad567/purrsong-bridge/internal/snapshot"
)

// Measurement names.
const (
	MeasurementEntity = "purrsong_entity"
	MeasurementPoll   = "purrsong_poll"
)

// Writer accepts points. *influxdb.Client satisfies it.
type Writer interface {
	WritePointWithTime(measurement string, tags map[string]string, fields map[string]any, ts time.Time)
}

// Recorder writes snapshot history for every attached account.
// It implements host.Observer.
type Recorder struct {
	writer Writer
	logger *logging.Logger

	mu       sync.Mutex
	accounts map[string]func()
}

// NewRecorder creates a Recorder writing to w. A nil logger discards.
func NewRecorder(w Writer, logger *logging.Logger) *Recorder {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Recorder{
		writer:   w,
		logger:   logger.Component("history"),
		accounts: make(map[string]func()),
	}
}

// Attach records the coordinator's current snapshot and every later update.
func (r *Recorder) Attach(entry account.Entry, c *coordinator.Coordinator) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if unsubscribe, ok := r.accounts[entry.ID]; ok {
		unsubscribe()
	}
	id := entry.ID
	r.accounts[id] = c.Subscribe(func(u coordinator.Update) {
		r.record(id, u)
	})

	if snap, err := c.Current(); err == nil {
		r.recordSnapshot(id, snap)
	}
}

// Detach stops recording an account.
func (r *Recorder) Detach(entryID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if unsubscribe, ok := r.accounts[entryID]; ok {
		unsubscribe()
		delete(r.accounts, entryID)
	}
}

// AccountState is a no-op; entry state is not time-series data.
func (r *Recorder) AccountState(account.Entry) {}

func (r *Recorder) record(entryID string, u coordinator.Update) {
	if u.Failure != nil {
		r.writer.WritePointWithTime(MeasurementPoll,
			map[string]string{"entry_id": entryID},
			map[string]any{
				"ok":           false,
				"devices":      0,
				"failure_kind": string(u.Failure.Kind),
			},
			u.Failure.At)
		r.logger.Debug("recorded failed poll", "entry_id", entryID, "kind", u.Failure.Kind)
		return
	}
	if u.Snapshot != nil {
		r.recordSnapshot(entryID, u.Snapshot)
	}
}

func (r *Recorder) recordSnapshot(entryID string, snap *snapshot.Snapshot) {
	at := snap.FetchedAt()
	points := 0
	for _, d := range projection.Catalogue {
		for _, deviceID := range snap.IDs(d.Kind) {
			v, ok := d.Read(snap, deviceID)
			if !ok {
				continue
			}
			value, ok := projection.Numeric(v)
			if !ok {
				continue
			}
			r.writer.WritePointWithTime(MeasurementEntity,
				map[string]string{
					"entry_id":  entryID,
					"device_id": deviceID,
					"kind":      string(d.Kind),
					"entity":    d.Key,
				},
				map[string]any{"value": value},
				at)
			points++
		}
	}

	r.writer.WritePointWithTime(MeasurementPoll,
		map[string]string{"entry_id": entryID},
		map[string]any{
			"ok":           true,
			"devices":      snap.DeviceCount(),
			"failure_kind": string(coordinator.FailureNone),
		},
		at)
	r.logger.Debug("recorded snapshot", "entry_id", entryID, "points", points)
}
