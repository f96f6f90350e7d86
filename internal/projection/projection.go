package projection

import (
	"github.com/nerrad567/purrsong-bridge/internal/snapshot"
)

// Platform is the host entity platform a projection is exposed on.
type Platform string

// Entity platforms.
const (
	PlatformBinarySensor Platform = "binary_sensor"
	PlatformSensor       Platform = "sensor"
	PlatformUpdate       Platform = "update"
)

// Category groups entities in the host UI. Empty means a primary entity.
type Category string

// CategoryDiagnostic marks entities shown under diagnostics.
const CategoryDiagnostic Category = "diagnostic"

// Units used by the catalogue.
const (
	UnitPercent = "%"
	UnitCelsius = "°C"
	UnitPounds  = "lb"
	UnitSeconds = "s"
	UnitMinutes = "min"
)

// Unknown is the state of a coded field whose code has no label.
const Unknown = "Unknown"

// Projection reads one value for one device out of a snapshot.
// ok is false when the device is not present in snap.
type Projection interface {
	Read(snap *snapshot.Snapshot, deviceID string) (value any, ok bool)
}

// UpdateState is the value of an update-platform projection.
type UpdateState struct {
	InstalledVersion string `json:"installed_version"`
	LatestVersion    string `json:"latest_version"`
}

// Available reports whether a newer firmware is published.
func (u UpdateState) Available() bool {
	return u.LatestVersion != "" && u.LatestVersion != u.InstalledVersion
}

type readFunc func(snap *snapshot.Snapshot, deviceID string) (any, bool)

type iconFunc func(snap *snapshot.Snapshot, deviceID string) string

// Descriptor describes one observable attribute of one device kind.
// It implements Projection.
type Descriptor struct {
	// Key is appended to the device ID to form the entity unique ID.
	Key  string
	Name string

	Platform    Platform
	Kind        snapshot.Kind
	DeviceClass string
	StateClass  string
	Unit        string
	Category    Category

	// Icon is used when the icon does not depend on state.
	Icon string

	read   readFunc
	iconOf iconFunc
}

// Read implements Projection.
func (d *Descriptor) Read(snap *snapshot.Snapshot, deviceID string) (any, bool) {
	if snap == nil {
		return nil, false
	}
	return d.read(snap, deviceID)
}

// IconFor returns the icon for the device's current state.
func (d *Descriptor) IconFor(snap *snapshot.Snapshot, deviceID string) string {
	if d.iconOf != nil && snap != nil {
		return d.iconOf(snap, deviceID)
	}
	return d.Icon
}

// StateDependentIcon reports whether the icon changes with state.
func (d *Descriptor) StateDependentIcon() bool {
	return d.iconOf != nil
}

// Numeric converts a projection value to a float for time-series storage.
// Booleans map to 0 and 1. Strings, timestamps and update states are not
// numeric.
func Numeric(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case bool:
		if n {
			return 1, true
		}
		return 0, true
	default:
		return 0, false
	}
}
