package snapshot

import "time"

// Kind partitions device records within a Snapshot.
type Kind string

// Device kinds reported by the PurrSong cloud.
const (
	KindLitterBox Kind = "litter_box"
	KindScanner   Kind = "scanner"
	KindTag       Kind = "tag"
	KindCat       Kind = "cat"
)

// Kinds lists every Kind in presentation order.
var Kinds = []Kind{KindLitterBox, KindScanner, KindTag, KindCat}

// LitterBox is one Lavviebot S litter box.
type LitterBox struct {
	DeviceID        string `json:"device_id" yaml:"device_id"`
	IoTCodeTail     string `json:"iot_code_tail" yaml:"iot_code_tail"`
	Name            string `json:"name" yaml:"name"`
	CurrentFirmware string `json:"current_firmware" yaml:"current_firmware"`
	LatestFirmware  string `json:"latest_firmware" yaml:"latest_firmware"`

	// Environment
	Humidity      float64 `json:"humidity" yaml:"humidity"`           // percent
	TemperatureC  float64 `json:"temperature_c" yaml:"temperature_c"` // Celsius
	BeaconBattery int     `json:"beacon_battery" yaml:"beacon_battery"`

	// Usage
	LastCatUsedName  string    `json:"last_cat_used_name" yaml:"last_cat_used_name"`
	LastSeen         time.Time `json:"last_seen" yaml:"last_seen"`
	LastUsed         time.Time `json:"last_used" yaml:"last_used"`
	LastUsedDuration float64   `json:"last_used_duration" yaml:"last_used_duration"` // seconds

	// Litter
	LitterBottomAmountLbs float64 `json:"litter_bottom_amount_lbs" yaml:"litter_bottom_amount_lbs"`
	LitterType            int     `json:"litter_type" yaml:"litter_type"`
	MinBottomWeightLbs    float64 `json:"min_bottom_weight_lbs" yaml:"min_bottom_weight_lbs"`

	// TopLitterStatus is the storage hopper level: 0 refill needed, 1 almost empty, 2 full.
	TopLitterStatus int `json:"top_litter_status" yaml:"top_litter_status"`

	// WasteDrawerStatus: 0 full, 1 almost full, 2 empty or piled.
	WasteDrawerStatus int `json:"waste_drawer_status" yaml:"waste_drawer_status"`

	WaitTime int             `json:"wait_time" yaml:"wait_time"` // minutes
	ErrorLog []ErrorLogEntry `json:"error_log,omitempty" yaml:"error_log,omitempty"`
}

// ErrorLogEntry is one fault reported by a litter box.
type ErrorLogEntry struct {
	Code    string    `json:"code" yaml:"code"`
	Message string    `json:"message" yaml:"message"`
	At      time.Time `json:"at" yaml:"at"`
}

// Scanner is a LavvieScanner motion/ID scanner.
type Scanner struct {
	DeviceID        string    `json:"device_id" yaml:"device_id"`
	IoTCodeTail     string    `json:"iot_code_tail" yaml:"iot_code_tail"`
	Name            string    `json:"name" yaml:"name"`
	CurrentFirmware string    `json:"current_firmware" yaml:"current_firmware"`
	LatestFirmware  string    `json:"latest_firmware" yaml:"latest_firmware"`
	WiFiStatus      bool      `json:"wifi_status" yaml:"wifi_status"`
	LastSeen        time.Time `json:"last_seen" yaml:"last_seen"`
}

// Tag is a LavvieTag wearable.
type Tag struct {
	DeviceID        string    `json:"device_id" yaml:"device_id"`
	IoTCodeTail     string    `json:"iot_code_tail" yaml:"iot_code_tail"`
	Name            string    `json:"name" yaml:"name"`
	CurrentFirmware string    `json:"current_firmware" yaml:"current_firmware"`
	LatestFirmware  string    `json:"latest_firmware" yaml:"latest_firmware"`
	Battery         int       `json:"battery" yaml:"battery"`
	LastSeen        time.Time `json:"last_seen" yaml:"last_seen"`
}

// Cat is a companion animal registered on the account.
type Cat struct {
	CatID     string  `json:"cat_id" yaml:"cat_id"`
	Name      string  `json:"name" yaml:"name"`
	WeightLbs float64 `json:"weight_lbs" yaml:"weight_lbs"`
	Duration  float64 `json:"duration" yaml:"duration"` // today's average use, seconds
	UseCount  int     `json:"use_count" yaml:"use_count"`
}

// Data is the mutable input to New and the value returned by Snapshot.Data.
// Maps are keyed by device (or cat) ID.
type Data struct {
	LitterBoxes map[string]LitterBox `json:"litter_boxes" yaml:"litter_boxes"`
	Scanners    map[string]Scanner   `json:"scanners" yaml:"scanners"`
	Tags        map[string]Tag       `json:"tags" yaml:"tags"`
	Cats        map[string]Cat       `json:"cats" yaml:"cats"`
}

// DeepCopy returns a copy of d that shares no maps or slices with it.
func (d Data) DeepCopy() Data {
	cpy := Data{
		LitterBoxes: make(map[string]LitterBox, len(d.LitterBoxes)),
		Scanners:    make(map[string]Scanner, len(d.Scanners)),
		Tags:        make(map[string]Tag, len(d.Tags)),
		Cats:        make(map[string]Cat, len(d.Cats)),
	}
	for id, lb := range d.LitterBoxes {
		cpy.LitterBoxes[id] = lb.DeepCopy()
	}
	for id, s := range d.Scanners {
		cpy.Scanners[id] = s
	}
	for id, t := range d.Tags {
		cpy.Tags[id] = t
	}
	for id, c := range d.Cats {
		cpy.Cats[id] = c
	}
	return cpy
}

// DeepCopy returns a copy of the litter box with its own error log slice.
func (lb LitterBox) DeepCopy() LitterBox {
	if lb.ErrorLog != nil {
		log := make([]ErrorLogEntry, len(lb.ErrorLog))
		copy(log, lb.ErrorLog)
		lb.ErrorLog = log
	}
	return lb
}

// LastError returns the most recent error log entry, if any.
func (lb LitterBox) LastError() (ErrorLogEntry, bool) {
	var latest ErrorLogEntry
	found := false
	for _, e := range lb.ErrorLog {
		if !found || e.At.After(latest.At) {
			latest = e
			found = true
		}
	}
	return latest, found
}
