package mqtt

import (
	"fmt"
	"strings"

	"github.com/nerrad567/purrsong-bridge/internal/infrastructure/config"
)

// Default topic roots, used when the config leaves them empty.
const (
	// DefaultTopicPrefix is the root for bridge, availability and state topics.
	DefaultTopicPrefix = "purrsong"

	// DefaultDiscoveryPrefix is Home Assistant's default discovery prefix.
	DefaultDiscoveryPrefix = "homeassistant"
)

// Topics builds the bridge's MQTT topics.
// Using these helpers ensures consistent topic naming across the codebase.
//
//	topics := mqtt.NewTopics(cfg.MQTT)
//	topics.EntityState("3f2c", "lb-1", "humidity")
//	// Returns: "purrsong/3f2c/lb-1/humidity"
type Topics struct {
	// Prefix is the root of every non-discovery topic.
	Prefix string

	// DiscoveryPrefix is the Home Assistant discovery root.
	DiscoveryPrefix string
}

// NewTopics returns the topic builder for cfg.
func NewTopics(cfg config.MQTTConfig) Topics {
	t := Topics{Prefix: cfg.TopicPrefix, DiscoveryPrefix: cfg.DiscoveryPrefix}
	if t.Prefix == "" {
		t.Prefix = DefaultTopicPrefix
	}
	if t.DiscoveryPrefix == "" {
		t.DiscoveryPrefix = DefaultDiscoveryPrefix
	}
	return t
}

// =============================================================================
// Bridge Topics
// =============================================================================

// BridgeStatus returns the bridge's own status topic, also used as its LWT.
//
// Example: purrsong/bridge/status
func (t Topics) BridgeStatus() string {
	return fmt.Sprintf("%s/bridge/status", t.Prefix)
}

// =============================================================================
// Account Topics
// =============================================================================

// Availability returns the online/offline topic for an account's entities.
//
// Example: purrsong/3f2c/availability
func (t Topics) Availability(entryID string) string {
	return fmt.Sprintf("%s/%s/availability", t.Prefix, Segment(entryID))
}

// AccountStatus returns the JSON status topic for an account.
//
// Example: purrsong/3f2c/status
func (t Topics) AccountStatus(entryID string) string {
	return fmt.Sprintf("%s/%s/status", t.Prefix, Segment(entryID))
}

// EntityState returns the state topic for one entity of one device.
//
// Example: purrsong/3f2c/lb-1/humidity
func (t Topics) EntityState(entryID, deviceID, key string) string {
	return fmt.Sprintf("%s/%s/%s/%s", t.Prefix, Segment(entryID), Segment(deviceID), Segment(key))
}

// =============================================================================
// Home Assistant Topics
// =============================================================================

// DiscoveryConfig returns the retained discovery config topic for an entity.
//
// Example: homeassistant/sensor/lb-1_humidity/config
func (t Topics) DiscoveryConfig(platform, uniqueID string) string {
	return fmt.Sprintf("%s/%s/%s/config", t.DiscoveryPrefix, Segment(platform), Segment(uniqueID))
}

// HomeAssistantStatus returns the topic Home Assistant publishes its birth
// and will messages on.
//
// Example: homeassistant/status
func (t Topics) HomeAssistantStatus() string {
	return fmt.Sprintf("%s/status", t.DiscoveryPrefix)
}

// Segment makes s safe for use as one topic level and as a Home Assistant
// object ID. Anything outside [A-Za-z0-9_-] becomes '_'.
func Segment(s string) string {
	if s == "" {
		return "_"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			return r
		default:
			return '_'
		}
	}, s)
}
