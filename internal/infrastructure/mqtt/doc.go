// Package mqtt provides MQTT broker connectivity for the PurrSong bridge.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Message publishing with QoS guarantees
//   - Topic subscriptions with wildcard support
//   - Last Will and Testament (LWT) for offline detection
//   - Topic naming for bridge, account, entity and discovery topics
//
// # Architecture
//
// The bridge presents PurrSong devices to Home Assistant through MQTT
// discovery. The broker decouples the bridge from Home Assistant restarts:
// configs, states and availability are retained.
//
//	PurrSong cloud -> bridge -> MQTT broker -> Home Assistant
//
// # Security Considerations
//
//   - TLS should be enabled when the broker is not on localhost (cfg.Broker.TLS=true)
//   - Anonymous access is only for local development
//   - Account credentials are never published
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	topic := client.Topics().Availability(entryID)
//	client.Publish(topic, []byte("online"), 1, true)
package mqtt
