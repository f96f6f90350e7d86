package projection

import (
	"fmt"
	"math"
	"time"

	"github.com/nerrad567/purrsong-bridge/internal/snapshot"
)

// Coded field labels. Codes not listed read as Unknown.
var (
	litterTypes = map[int]string{
		0: "Bentonite",
		1: "Natural",
	}

	storageStatuses = map[int]string{
		0: "Refill Needed",
		1: "Almost Empty",
		2: "Full",
	}

	wasteStatuses = map[int]string{
		0: "Full",
		1: "Almost Full",
		2: "Empty or Piled",
	}
)

// Catalogue is every projection, cats first, then litter boxes, scanners
// and tags. Order is stable and is the order Build emits entities in.
var Catalogue = []*Descriptor{
	// Cats
	{
		Key: "weight", Name: "Weight", Platform: PlatformSensor, Kind: snapshot.KindCat,
		StateClass: "measurement", Unit: UnitPounds, Icon: "mdi:scale",
		read: cat(func(c snapshot.Cat) any { return round1(c.WeightLbs) }),
	},
	{
		Key: "litter_box_duration", Name: "Today's average use duration", Platform: PlatformSensor, Kind: snapshot.KindCat,
		Unit: UnitSeconds, Icon: "mdi:clock-outline",
		read: cat(func(c snapshot.Cat) any { return round1(c.Duration) }),
	},
	{
		Key: "litter_box_use_count", Name: "Litter box use count", Platform: PlatformSensor, Kind: snapshot.KindCat,
		StateClass: "total_increasing", Icon: "mdi:numeric",
		read: cat(func(c snapshot.Cat) any { return c.UseCount }),
	},

	// Litter boxes: binary sensors
	{
		Key: "storage_refill_needed", Name: "Storage refill needed", Platform: PlatformBinarySensor, Kind: snapshot.KindLitterBox,
		read:   litterBox(func(lb snapshot.LitterBox) any { return lb.TopLitterStatus == 0 }),
		iconOf: alertIcon(func(lb snapshot.LitterBox) int { return lb.TopLitterStatus }),
	},
	{
		Key: "waste_emptying_needed", Name: "Waste drawer full", Platform: PlatformBinarySensor, Kind: snapshot.KindLitterBox,
		read:   litterBox(func(lb snapshot.LitterBox) any { return lb.WasteDrawerStatus == 0 }),
		iconOf: alertIcon(func(lb snapshot.LitterBox) int { return lb.WasteDrawerStatus }),
	},

	// Litter boxes: sensors
	{
		Key: "humidity", Name: "Humidity", Platform: PlatformSensor, Kind: snapshot.KindLitterBox,
		DeviceClass: "humidity", StateClass: "measurement", Unit: UnitPercent,
		read: litterBox(func(lb snapshot.LitterBox) any { return lb.Humidity }),
	},
	{
		Key: "temperature", Name: "Temperature", Platform: PlatformSensor, Kind: snapshot.KindLitterBox,
		DeviceClass: "temperature", StateClass: "measurement", Unit: UnitCelsius,
		read: litterBox(func(lb snapshot.LitterBox) any { return lb.TemperatureC }),
	},
	{
		Key: "beacon_battery", Name: "Beacon battery", Platform: PlatformSensor, Kind: snapshot.KindLitterBox,
		DeviceClass: "battery", StateClass: "measurement", Unit: UnitPercent, Category: CategoryDiagnostic,
		read: litterBox(func(lb snapshot.LitterBox) any { return lb.BeaconBattery }),
	},
	{
		Key: "last_cat_used", Name: "Last cat used", Platform: PlatformSensor, Kind: snapshot.KindLitterBox,
		Icon: "mdi:cat",
		read: litterBox(func(lb snapshot.LitterBox) any { return lb.LastCatUsedName }),
	},
	{
		Key: "last_seen", Name: "Last seen", Platform: PlatformSensor, Kind: snapshot.KindLitterBox,
		DeviceClass: "timestamp", Category: CategoryDiagnostic, Icon: "mdi:web",
		read: litterBox(func(lb snapshot.LitterBox) any { return timestamp(lb.LastSeen) }),
	},
	{
		Key: "last_used", Name: "Last used", Platform: PlatformSensor, Kind: snapshot.KindLitterBox,
		DeviceClass: "timestamp",
		read:        litterBox(func(lb snapshot.LitterBox) any { return timestamp(lb.LastUsed) }),
	},
	{
		Key: "last_used_duration", Name: "Last used duration", Platform: PlatformSensor, Kind: snapshot.KindLitterBox,
		StateClass: "measurement", Unit: UnitSeconds, Icon: "mdi:clock-outline",
		read: litterBox(func(lb snapshot.LitterBox) any { return round1(lb.LastUsedDuration) }),
	},
	{
		Key: "litter_bottom_amnt", Name: "Litter bottom amount", Platform: PlatformSensor, Kind: snapshot.KindLitterBox,
		StateClass: "measurement", Unit: UnitPounds, Icon: "mdi:scale",
		read: litterBox(func(lb snapshot.LitterBox) any { return round1(lb.LitterBottomAmountLbs) }),
	},
	{
		Key: "litter_type", Name: "Litter type", Platform: PlatformSensor, Kind: snapshot.KindLitterBox,
		Category: CategoryDiagnostic, Icon: "mdi:tray",
		read: litterBox(func(lb snapshot.LitterBox) any { return label(litterTypes, lb.LitterType) }),
	},
	{
		Key: "min_bottom_weight", Name: "Minimum bottom weight", Platform: PlatformSensor, Kind: snapshot.KindLitterBox,
		StateClass: "measurement", Unit: UnitPounds, Category: CategoryDiagnostic, Icon: "mdi:scale",
		read: litterBox(func(lb snapshot.LitterBox) any { return round1(lb.MinBottomWeightLbs) }),
	},
	{
		Key: "storage_status", Name: "Storage status", Platform: PlatformSensor, Kind: snapshot.KindLitterBox,
		read: litterBox(func(lb snapshot.LitterBox) any { return label(storageStatuses, lb.TopLitterStatus) }),
		iconOf: gaugeIcon(func(lb snapshot.LitterBox) int { return lb.TopLitterStatus }, map[int]string{
			2: "mdi:gauge-full",
			1: "mdi:gauge",
			0: "mdi:gauge-empty",
		}),
	},
	{
		Key: "wait_time", Name: "Wait time", Platform: PlatformSensor, Kind: snapshot.KindLitterBox,
		Unit: UnitMinutes, Category: CategoryDiagnostic, Icon: "mdi:clock-outline",
		read: litterBox(func(lb snapshot.LitterBox) any { return lb.WaitTime }),
	},
	{
		Key: "waste_status", Name: "Waste status", Platform: PlatformSensor, Kind: snapshot.KindLitterBox,
		read: litterBox(func(lb snapshot.LitterBox) any { return label(wasteStatuses, lb.WasteDrawerStatus) }),
		iconOf: gaugeIcon(func(lb snapshot.LitterBox) int { return lb.WasteDrawerStatus }, map[int]string{
			2: "mdi:gauge-empty",
			1: "mdi:gauge",
			0: "mdi:gauge-full",
		}),
	},
	{
		Key: "last_error", Name: "Last error", Platform: PlatformSensor, Kind: snapshot.KindLitterBox,
		Category: CategoryDiagnostic, Icon: "mdi:alert-circle-outline",
		read: litterBox(func(lb snapshot.LitterBox) any {
			e, ok := lb.LastError()
			if !ok {
				return nil
			}
			if e.Code == "" {
				return e.Message
			}
			return fmt.Sprintf("%s: %s", e.Code, e.Message)
		}),
	},

	// Litter boxes: firmware
	{
		Key: "firmware_update", Name: "Firmware update", Platform: PlatformUpdate, Kind: snapshot.KindLitterBox,
		DeviceClass: "firmware",
		read: litterBox(func(lb snapshot.LitterBox) any {
			return UpdateState{InstalledVersion: lb.CurrentFirmware, LatestVersion: lb.LatestFirmware}
		}),
	},

	// Scanners
	{
		Key: "scanner_wifi_status", Name: "WiFi status", Platform: PlatformBinarySensor, Kind: snapshot.KindScanner,
		DeviceClass: "problem", Icon: "mdi:wifi",
		read: scanner(func(s snapshot.Scanner) any { return !s.WiFiStatus }),
	},
	{
		Key: "scanner_firmware_update", Name: "Firmware update", Platform: PlatformUpdate, Kind: snapshot.KindScanner,
		DeviceClass: "firmware",
		read: scanner(func(s snapshot.Scanner) any {
			return UpdateState{InstalledVersion: s.CurrentFirmware, LatestVersion: s.LatestFirmware}
		}),
	},

	// Tags
	{
		Key: "tag_battery", Name: "Battery", Platform: PlatformSensor, Kind: snapshot.KindTag,
		DeviceClass: "battery", StateClass: "measurement", Unit: UnitPercent, Category: CategoryDiagnostic,
		read: tag(func(t snapshot.Tag) any { return t.Battery }),
	},
	{
		Key: "tag_firmware_update", Name: "Firmware update", Platform: PlatformUpdate, Kind: snapshot.KindTag,
		DeviceClass: "firmware",
		read: tag(func(t snapshot.Tag) any {
			return UpdateState{InstalledVersion: t.CurrentFirmware, LatestVersion: t.LatestFirmware}
		}),
	},
}

// Lookup returns the catalogue entry with the given key.
func Lookup(key string) (*Descriptor, bool) {
	for _, d := range Catalogue {
		if d.Key == key {
			return d, true
		}
	}
	return nil, false
}

func litterBox(f func(snapshot.LitterBox) any) readFunc {
	return func(s *snapshot.Snapshot, id string) (any, bool) {
		lb, ok := s.LitterBox(id)
		if !ok {
			return nil, false
		}
		return f(lb), true
	}
}

func scanner(f func(snapshot.Scanner) any) readFunc {
	return func(s *snapshot.Snapshot, id string) (any, bool) {
		sc, ok := s.Scanner(id)
		if !ok {
			return nil, false
		}
		return f(sc), true
	}
}

func tag(f func(snapshot.Tag) any) readFunc {
	return func(s *snapshot.Snapshot, id string) (any, bool) {
		t, ok := s.Tag(id)
		if !ok {
			return nil, false
		}
		return f(t), true
	}
}

func cat(f func(snapshot.Cat) any) readFunc {
	return func(s *snapshot.Snapshot, id string) (any, bool) {
		c, ok := s.Cat(id)
		if !ok {
			return nil, false
		}
		return f(c), true
	}
}

// alertIcon shows an alert while the status code is 0.
func alertIcon(status func(snapshot.LitterBox) int) iconFunc {
	return func(s *snapshot.Snapshot, id string) string {
		lb, ok := s.LitterBox(id)
		if ok && status(lb) == 0 {
			return "mdi:alert-octagram"
		}
		return "mdi:octagram-outline"
	}
}

// gaugeIcon picks an icon by status code; unknown codes get no icon.
func gaugeIcon(status func(snapshot.LitterBox) int, icons map[int]string) iconFunc {
	return func(s *snapshot.Snapshot, id string) string {
		lb, ok := s.LitterBox(id)
		if !ok {
			return ""
		}
		return icons[status(lb)]
	}
}

func label(labels map[int]string, code int) string {
	if l, ok := labels[code]; ok {
		return l
	}
	return Unknown
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

// timestamp returns nil for the zero time so the host shows it as unknown.
func timestamp(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC()
}
