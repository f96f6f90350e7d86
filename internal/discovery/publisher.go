package discovery

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/nerrad567/purrsong-bridge/internal/account"
	"github.com/nerrad567/purrsong-bridge/internal/coordinator"
	"github.com/nerrad567/purrsong-bridge/internal/infrastructure/logging"
	"github.com/nerrad567/purrsong-bridge/internal/infrastructure/mqtt"
	"github.com/nerrad567/purrsong-bridge/internal/projection"
	"github.com/nerrad567/purrsong-bridge/internal/snapshot"
)

// Transport is the part of the MQTT client the Publisher uses.
// *mqtt.Client satisfies it.
type Transport interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
}

// Options configures a Publisher.
type Options struct {
	// Topics builds every topic. Required.
	Topics mqtt.Topics

	// QoS for all publishes. Default: 0.
	QoS byte

	// Version is reported as the origin sw_version in discovery configs.
	Version string

	// Logger for publish failures. Default: discard.
	Logger *logging.Logger
}

// Publisher mirrors loaded accounts onto MQTT. It implements host.Observer.
//
// Thread Safety:
//   - All methods are safe for concurrent use. Publishes are serialised.
type Publisher struct {
	transport Transport
	topics    mqtt.Topics
	qos       byte
	origin    origin
	logger    *logging.Logger

	mu       sync.Mutex
	accounts map[string]*accountState
}

// accountState is what the Publisher last sent for one account.
type accountState struct {
	entry       account.Entry
	coord       *coordinator.Coordinator
	unsubscribe func()

	// Payload caches keyed by topic. Only changed payloads are published.
	configs      map[string][]byte
	states       map[string][]byte
	availability string
	status       []byte
}

// NewPublisher creates a Publisher writing through t.
func NewPublisher(t Transport, opts Options) *Publisher {
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}
	return &Publisher{
		transport: t,
		topics:    opts.Topics,
		qos:       opts.QoS,
		origin:    origin{Name: logging.ServiceName, SWVersion: opts.Version},
		logger:    opts.Logger.Component("discovery"),
		accounts:  make(map[string]*accountState),
	}
}

// Start subscribes to Home Assistant's status topic so every config and
// state is published again when Home Assistant comes back online.
func (p *Publisher) Start() error {
	err := p.transport.Subscribe(p.topics.HomeAssistantStatus(), p.qos, func(_ string, payload []byte) error {
		if string(bytes.TrimSpace(payload)) == PayloadOnline {
			p.Republish()
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("subscribing to home assistant status: %w", err)
	}
	return nil
}

// Attach starts mirroring a coordinator. It implements host.Observer.
func (p *Publisher) Attach(entry account.Entry, c *coordinator.Coordinator) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if old, ok := p.accounts[entry.ID]; ok {
		old.unsubscribe()
	}
	st := &accountState{
		entry:   entry,
		coord:   c,
		configs: make(map[string][]byte),
		states:  make(map[string][]byte),
	}
	// The listener takes p.mu, so updates wait until this first pass is done.
	st.unsubscribe = c.Subscribe(func(u coordinator.Update) {
		p.handleUpdate(entry.ID, u)
	})
	p.accounts[entry.ID] = st

	if snap, err := c.Current(); err == nil {
		p.publishSnapshotLocked(st, snap)
		p.publishAvailabilityLocked(st, PayloadOnline)
	}
	p.publishStatusLocked(st)
}

// Detach stops mirroring an account and marks it offline.
// Retained configs and states are left in place.
func (p *Publisher) Detach(entryID string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	st, ok := p.accounts[entryID]
	if !ok {
		return
	}
	st.unsubscribe()
	p.publishAvailabilityLocked(st, PayloadOffline)
	delete(p.accounts, entryID)
}

// AccountState publishes an entry's state. Entries that need
// re-authentication are marked offline. It implements host.Observer.
func (p *Publisher) AccountState(entry account.Entry) {
	p.mu.Lock()
	defer p.mu.Unlock()

	st, ok := p.accounts[entry.ID]
	if !ok {
		// Not attached, for example setup failed. Publish status only.
		st = &accountState{entry: entry}
		p.publishStatusLocked(st)
		if entry.State == account.StateReauthRequired || entry.State == account.StateSetupError {
			p.publishAvailabilityLocked(st, PayloadOffline)
		}
		return
	}

	st.entry = entry
	if entry.State == account.StateReauthRequired {
		p.publishAvailabilityLocked(st, PayloadOffline)
	}
	p.publishStatusLocked(st)
}

// Republish forgets every cached payload and publishes all configs, states,
// availability and status again.
func (p *Publisher) Republish() {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, st := range p.accounts {
		st.configs = make(map[string][]byte)
		st.states = make(map[string][]byte)
		st.status = nil
		availability := st.availability
		st.availability = ""

		if snap, err := st.coord.Current(); err == nil {
			p.publishSnapshotLocked(st, snap)
		}
		if availability != "" {
			p.publishAvailabilityLocked(st, availability)
		}
		p.publishStatusLocked(st)
	}
	p.logger.Info("discovery republished", "accounts", len(p.accounts))
}

func (p *Publisher) handleUpdate(entryID string, u coordinator.Update) {
	p.mu.Lock()
	defer p.mu.Unlock()

	st, ok := p.accounts[entryID]
	if !ok {
		return
	}

	switch {
	case u.Snapshot != nil:
		p.publishSnapshotLocked(st, u.Snapshot)
		p.publishAvailabilityLocked(st, PayloadOnline)
	case u.Failure != nil:
		p.publishAvailabilityLocked(st, PayloadOffline)
	}
	p.publishStatusLocked(st)
}

// publishSnapshotLocked publishes changed configs and states for snap.
func (p *Publisher) publishSnapshotLocked(st *accountState, snap *snapshot.Snapshot) {
	entities, err := projection.Build(fixedSource{snap})
	if err != nil {
		return
	}

	for _, e := range entities {
		stateTopic := p.topics.EntityState(st.entry.ID, e.DeviceID, e.Descriptor.Key)

		cfgTopic := p.topics.DiscoveryConfig(string(e.Descriptor.Platform), e.UniqueID())
		if cfg, err := p.buildConfig(st, e, stateTopic); err != nil {
			p.logger.Warn("encoding discovery config", "unique_id", e.UniqueID(), "error", err)
		} else {
			p.publishChangedLocked(st.configs, cfgTopic, cfg)
		}

		p.publishChangedLocked(st.states, stateTopic, encodeState(e.State()))
	}
}

func (p *Publisher) buildConfig(st *accountState, e projection.Entity, stateTopic string) ([]byte, error) {
	d := e.Descriptor
	device, _ := e.Device()

	cfg := entityConfig{
		Name:                d.Name,
		UniqueID:            e.UniqueID(),
		ObjectID:            mqtt.Segment(device.Name + "_" + d.Key),
		StateTopic:          stateTopic,
		AvailabilityTopic:   p.topics.Availability(st.entry.ID),
		PayloadAvailable:    PayloadOnline,
		PayloadNotAvailable: PayloadOffline,
		DeviceClass:         d.DeviceClass,
		StateClass:          d.StateClass,
		Unit:                d.Unit,
		EntityCategory:      string(d.Category),
		Icon:                e.Icon(),
		Device:              device,
		Origin:              p.origin,
	}
	if d.Platform == projection.PlatformBinarySensor {
		cfg.PayloadOn = payloadOn
		cfg.PayloadOff = payloadOff
	}
	return json.Marshal(cfg)
}

func (p *Publisher) publishAvailabilityLocked(st *accountState, payload string) {
	if st.availability == payload {
		return
	}
	if p.publish(p.topics.Availability(st.entry.ID), []byte(payload)) {
		st.availability = payload
	}
}

func (p *Publisher) publishStatusLocked(st *accountState) {
	status := Status{
		EntryID: st.entry.ID,
		Title:   st.entry.Title,
		State:   st.entry.State,
		Error:   st.entry.LastError,
	}
	if st.coord != nil {
		if snap, err := st.coord.Current(); err == nil {
			status.Devices = snap.DeviceCount()
		}
		if f, failed := st.coord.LastFailure(); failed {
			status.FailureKind = f.Kind
			status.Error = f.Message
			if f.IsAuth() {
				status.State = account.StateReauthRequired
			}
		}
		status.LastSuccess = st.coord.Stats().LastSuccess
	}

	payload, err := json.Marshal(status)
	if err != nil {
		p.logger.Warn("encoding account status", "entry_id", st.entry.ID, "error", err)
		return
	}
	if bytes.Equal(st.status, payload) {
		return
	}
	if p.publish(p.topics.AccountStatus(st.entry.ID), payload) {
		st.status = payload
	}
}

func (p *Publisher) publishChangedLocked(cache map[string][]byte, topic string, payload []byte) {
	if prev, ok := cache[topic]; ok && bytes.Equal(prev, payload) {
		return
	}
	if p.publish(topic, payload) {
		cache[topic] = payload
	}
}

// publish sends one retained message and reports success.
// Failed payloads are not cached, so the next update retries them.
func (p *Publisher) publish(topic string, payload []byte) bool {
	if err := p.transport.Publish(topic, payload, p.qos, true); err != nil {
		level := p.logger.Warn
		if errors.Is(err, mqtt.ErrNotConnected) {
			level = p.logger.Debug
		}
		level("mqtt publish failed", "topic", topic, "error", err)
		return false
	}
	return true
}

// fixedSource serves one snapshot so a publish pass reads a consistent view.
type fixedSource struct {
	snap *snapshot.Snapshot
}

func (s fixedSource) Current() (*snapshot.Snapshot, error) {
	return s.snap, nil
}
