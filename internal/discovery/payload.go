package discovery

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/nerrad567/purrsong-bridge/internal/account"
	"github.com/nerrad567/purrsong-bridge/internal/coordinator"
	"github.com/nerrad567/purrsong-bridge/internal/projection"
)

// Availability payloads.
const (
	PayloadOnline  = "online"
	PayloadOffline = "offline"
)

// Binary sensor and unknown-state payloads.
const (
	payloadOn      = "ON"
	payloadOff     = "OFF"
	payloadUnknown = "None"
)

// entityConfig is a Home Assistant MQTT discovery config.
type entityConfig struct {
	Name                string                `json:"name"`
	UniqueID            string                `json:"unique_id"`
	ObjectID            string                `json:"object_id"`
	StateTopic          string                `json:"state_topic"`
	AvailabilityTopic   string                `json:"availability_topic"`
	PayloadAvailable    string                `json:"payload_available"`
	PayloadNotAvailable string                `json:"payload_not_available"`
	PayloadOn           string                `json:"payload_on,omitempty"`
	PayloadOff          string                `json:"payload_off,omitempty"`
	DeviceClass         string                `json:"device_class,omitempty"`
	StateClass          string                `json:"state_class,omitempty"`
	Unit                string                `json:"unit_of_measurement,omitempty"`
	EntityCategory      string                `json:"entity_category,omitempty"`
	Icon                string                `json:"icon,omitempty"`
	Device              projection.DeviceInfo `json:"device"`
	Origin              origin                `json:"origin"`
}

type origin struct {
	Name       string `json:"name"`
	SWVersion  string `json:"sw_version,omitempty"`
	SupportURL string `json:"support_url,omitempty"`
}

// Status is the JSON document published on an account's status topic.
type Status struct {
	EntryID     string                  `json:"entry_id"`
	Title       string                  `json:"title"`
	State       account.State           `json:"state"`
	Error       string                  `json:"error,omitempty"`
	FailureKind coordinator.FailureKind `json:"failure_kind,omitempty"`
	Devices     int                     `json:"devices"`
	LastSuccess time.Time               `json:"last_success,omitzero"`
}

// encodeState renders a projection value as an MQTT state payload.
func encodeState(v any, ok bool) []byte {
	if !ok || v == nil {
		return []byte(payloadUnknown)
	}
	switch s := v.(type) {
	case bool:
		if s {
			return []byte(payloadOn)
		}
		return []byte(payloadOff)
	case float64:
		return []byte(strconv.FormatFloat(s, 'f', -1, 64))
	case int:
		return []byte(strconv.Itoa(s))
	case string:
		return []byte(s)
	case time.Time:
		return []byte(s.UTC().Format(time.RFC3339))
	default:
		// Update entities publish {"installed_version":...,"latest_version":...}.
		b, err := json.Marshal(s)
		if err != nil {
			return []byte(payloadUnknown)
		}
		return b
	}
}
