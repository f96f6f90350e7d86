package lavviebot

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nerrad567/purrsong-bridge/internal/snapshot"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token  string `json:"token"`
	UserID string `json:"user_id"`
}

// devicesResponse is the body of GET /v1/devices.
type devicesResponse struct {
	LitterBoxes []wireLitterBox `json:"litterboxes"`
	Scanners    []wireScanner   `json:"lavvie_scanners"`
	Tags        []wireTag       `json:"lavvie_tags"`
	Cats        []wireCat       `json:"cats"`
}

type wireLitterBox struct {
	DeviceID              string         `json:"device_id"`
	IoTCodeTail           string         `json:"iot_code_tail"`
	DeviceName            string         `json:"device_name"`
	CurrentFirmware       string         `json:"current_firmware"`
	LatestFirmware        string         `json:"latest_firmware"`
	Humidity              float64        `json:"humidity"`
	TemperatureC          float64        `json:"temperature_c"`
	BeaconBattery         int            `json:"beacon_battery"`
	LastCatUsedName       string         `json:"last_cat_used_name"`
	LastSeen              timestamp      `json:"last_seen"`
	LastUsed              timestamp      `json:"last_used"`
	LastUsedDuration      float64        `json:"last_used_duration"`
	LitterBottomAmountLbs float64        `json:"litter_bottom_amount_pnds"`
	LitterType            int            `json:"litter_type"`
	MinBottomWeightLbs    float64        `json:"min_bottom_weight_pnds"`
	TopLitterStatus       int            `json:"top_litter_status"`
	WasteDrawerStatus     int            `json:"waste_drawer_status"`
	WaitTime              int            `json:"wait_time"`
	ErrorLog              []wireErrorLog `json:"error_log"`
}

type wireErrorLog struct {
	Code    string    `json:"error_code"`
	Message string    `json:"error_message"`
	At      timestamp `json:"created_at"`
}

type wireScanner struct {
	DeviceID        string    `json:"device_id"`
	IoTCodeTail     string    `json:"iot_code_tail"`
	DeviceName      string    `json:"device_name"`
	CurrentFirmware string    `json:"current_firmware"`
	LatestFirmware  string    `json:"latest_firmware"`
	WiFiStatus      bool      `json:"wifi_status"`
	LastSeen        timestamp `json:"last_seen"`
}

type wireTag struct {
	DeviceID        string    `json:"device_id"`
	IoTCodeTail     string    `json:"iot_code_tail"`
	DeviceName      string    `json:"device_name"`
	CurrentFirmware string    `json:"current_firmware"`
	LatestFirmware  string    `json:"latest_firmware"`
	Battery         int       `json:"battery"`
	LastSeen        timestamp `json:"last_seen"`
}

type wireCat struct {
	CatID     string  `json:"cat_id"`
	CatName   string  `json:"cat_name"`
	WeightLbs float64 `json:"cat_weight_pnds"`
	Duration  float64 `json:"duration"`
	PoopCount int     `json:"poop_count"`
}

// timestamp accepts RFC 3339 strings, empty strings and null.
type timestamp struct {
	time.Time
}

func (t *timestamp) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) || bytes.Equal(b, []byte(`""`)) {
		t.Time = time.Time{}
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("timestamp: %w", err)
	}
	parsed, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return fmt.Errorf("timestamp %q: %w", s, err)
	}
	t.Time = parsed
	return nil
}

// toData converts a decoded response into snapshot input. Records with an
// empty ID are dropped; they cannot be addressed by any entity.
func (r devicesResponse) toData() snapshot.Data {
	d := snapshot.Data{
		LitterBoxes: make(map[string]snapshot.LitterBox, len(r.LitterBoxes)),
		Scanners:    make(map[string]snapshot.Scanner, len(r.Scanners)),
		Tags:        make(map[string]snapshot.Tag, len(r.Tags)),
		Cats:        make(map[string]snapshot.Cat, len(r.Cats)),
	}

	for _, w := range r.LitterBoxes {
		if w.DeviceID == "" {
			continue
		}
		lb := snapshot.LitterBox{
			DeviceID:              w.DeviceID,
			IoTCodeTail:           w.IoTCodeTail,
			Name:                  w.DeviceName,
			CurrentFirmware:       w.CurrentFirmware,
			LatestFirmware:        w.LatestFirmware,
			Humidity:              w.Humidity,
			TemperatureC:          w.TemperatureC,
			BeaconBattery:         w.BeaconBattery,
			LastCatUsedName:       w.LastCatUsedName,
			LastSeen:              w.LastSeen.Time,
			LastUsed:              w.LastUsed.Time,
			LastUsedDuration:      w.LastUsedDuration,
			LitterBottomAmountLbs: w.LitterBottomAmountLbs,
			LitterType:            w.LitterType,
			MinBottomWeightLbs:    w.MinBottomWeightLbs,
			TopLitterStatus:       w.TopLitterStatus,
			WasteDrawerStatus:     w.WasteDrawerStatus,
			WaitTime:              w.WaitTime,
		}
		for _, e := range w.ErrorLog {
			lb.ErrorLog = append(lb.ErrorLog, snapshot.ErrorLogEntry{
				Code:    e.Code,
				Message: e.Message,
				At:      e.At.Time,
			})
		}
		d.LitterBoxes[w.DeviceID] = lb
	}

	for _, w := range r.Scanners {
		if w.DeviceID == "" {
			continue
		}
		d.Scanners[w.DeviceID] = snapshot.Scanner{
			DeviceID:        w.DeviceID,
			IoTCodeTail:     w.IoTCodeTail,
			Name:            w.DeviceName,
			CurrentFirmware: w.CurrentFirmware,
			LatestFirmware:  w.LatestFirmware,
			WiFiStatus:      w.WiFiStatus,
			LastSeen:        w.LastSeen.Time,
		}
	}

	for _, w := range r.Tags {
		if w.DeviceID == "" {
			continue
		}
		d.Tags[w.DeviceID] = snapshot.Tag{
			DeviceID:        w.DeviceID,
			IoTCodeTail:     w.IoTCodeTail,
			Name:            w.DeviceName,
			CurrentFirmware: w.CurrentFirmware,
			LatestFirmware:  w.LatestFirmware,
			Battery:         w.Battery,
			LastSeen:        w.LastSeen.Time,
		}
	}

	for _, w := range r.Cats {
		if w.CatID == "" {
			continue
		}
		d.Cats[w.CatID] = snapshot.Cat{
			CatID:     w.CatID,
			Name:      w.CatName,
			WeightLbs: w.WeightLbs,
			Duration:  w.Duration,
			UseCount:  w.PoopCount,
		}
	}

	return d
}
