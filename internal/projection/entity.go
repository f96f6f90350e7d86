package projection

import (
	"fmt"

	"github.com/nerrad567/purrsong-bridge/internal/snapshot"
)

// Source supplies the currently accepted snapshot.
// *coordinator.Coordinator satisfies it.
type Source interface {
	Current() (*snapshot.Snapshot, error)
}

// Entity is one projection bound to one device. It holds only the
// descriptor, the device key and the source; every read goes back to the
// source's current snapshot.
type Entity struct {
	Descriptor *Descriptor
	DeviceID   string
	source     Source
}

// NewEntity binds d to a device of the source.
func NewEntity(d *Descriptor, deviceID string, src Source) Entity {
	return Entity{Descriptor: d, DeviceID: deviceID, source: src}
}

// UniqueID is the stable host-side identifier: device ID plus key.
func (e Entity) UniqueID() string {
	return e.DeviceID + "_" + e.Descriptor.Key
}

// State reads the current value. ok is false when no snapshot is available
// or the device is no longer present.
func (e Entity) State() (value any, ok bool) {
	snap, err := e.source.Current()
	if err != nil {
		return nil, false
	}
	return e.Descriptor.Read(snap, e.DeviceID)
}

// Icon returns the icon for the current state.
func (e Entity) Icon() string {
	snap, err := e.source.Current()
	if err != nil {
		return e.Descriptor.Icon
	}
	return e.Descriptor.IconFor(snap, e.DeviceID)
}

// Device returns registry information for the entity's device.
func (e Entity) Device() (DeviceInfo, bool) {
	snap, err := e.source.Current()
	if err != nil {
		return DeviceInfo{}, false
	}
	return DeviceInfoFor(snap, e.Descriptor.Kind, e.DeviceID)
}

// Build enumerates one Entity per catalogue entry per device in the
// source's current snapshot.
//
// Returns:
//   - []Entity: In catalogue order, devices sorted by ID within each entry
//   - error: If the source has no snapshot yet
func Build(src Source) ([]Entity, error) {
	snap, err := src.Current()
	if err != nil {
		return nil, fmt.Errorf("building entities: %w", err)
	}

	var entities []Entity
	for _, d := range Catalogue {
		for _, id := range snap.IDs(d.Kind) {
			entities = append(entities, NewEntity(d, id, src))
		}
	}
	return entities, nil
}
