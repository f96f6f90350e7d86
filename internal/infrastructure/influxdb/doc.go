// Package influxdb provides InfluxDB connectivity for the PurrSong bridge.
//
// It wraps the official influxdb-client-go v2 library with connection
// management, batched point writes and health monitoring. The history
// package decides what to record; this package only moves points.
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	client.WritePoint("purrsong_poll",
//	    map[string]string{"entry_id": id},
//	    map[string]any{"ok": true, "devices": 3})
//
// # Thread Safety
//
// All methods are safe for concurrent use from multiple goroutines.
// The underlying write API uses non-blocking batched writes.
//
// # Error Handling
//
// Write failures arrive asynchronously through the SetOnError callback.
// Connection and health check errors are returned directly.
package influxdb
