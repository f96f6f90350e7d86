package projection

import "github.com/nerrad567/purrsong-bridge/internal/snapshot"

// Manufacturer is reported for every device.
const Manufacturer = "PurrSong"

// Device models by kind.
var models = map[snapshot.Kind]string{
	snapshot.KindLitterBox: "Lavviebot S",
	snapshot.KindScanner:   "LavvieScanner",
	snapshot.KindTag:       "LavvieTag",
	snapshot.KindCat:       "Cat",
}

// DeviceInfo is the host device-registry record for one device.
type DeviceInfo struct {
	Identifiers  []string `json:"identifiers"`
	Name         string   `json:"name"`
	Manufacturer string   `json:"manufacturer"`
	Model        string   `json:"model"`
	SWVersion    string   `json:"sw_version,omitempty"`
}

// DeviceInfoFor builds registry information for a device in snap.
// Hardware devices are identified by both device ID and IoT code tail.
func DeviceInfoFor(snap *snapshot.Snapshot, kind snapshot.Kind, id string) (DeviceInfo, bool) {
	info := DeviceInfo{Manufacturer: Manufacturer, Model: models[kind]}

	switch kind {
	case snapshot.KindLitterBox:
		lb, ok := snap.LitterBox(id)
		if !ok {
			return DeviceInfo{}, false
		}
		info.Identifiers = identifiers(lb.DeviceID, lb.IoTCodeTail)
		info.Name = lb.Name
		info.SWVersion = lb.CurrentFirmware
	case snapshot.KindScanner:
		sc, ok := snap.Scanner(id)
		if !ok {
			return DeviceInfo{}, false
		}
		info.Identifiers = identifiers(sc.DeviceID, sc.IoTCodeTail)
		info.Name = sc.Name
		info.SWVersion = sc.CurrentFirmware
	case snapshot.KindTag:
		t, ok := snap.Tag(id)
		if !ok {
			return DeviceInfo{}, false
		}
		info.Identifiers = identifiers(t.DeviceID, t.IoTCodeTail)
		info.Name = t.Name
		info.SWVersion = t.CurrentFirmware
	case snapshot.KindCat:
		c, ok := snap.Cat(id)
		if !ok {
			return DeviceInfo{}, false
		}
		info.Identifiers = []string{c.CatID}
		info.Name = c.Name
	default:
		return DeviceInfo{}, false
	}
	return info, true
}

func identifiers(deviceID, iotCodeTail string) []string {
	if iotCodeTail == "" {
		return []string{deviceID}
	}
	return []string{deviceID, iotCodeTail}
}
