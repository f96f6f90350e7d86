// Package history records polled values as time-series points.
//
// A Recorder observes loaded accounts the same way the MQTT publisher does.
// Every accepted snapshot becomes one purrsong_entity point per numeric
// entity, and every refresh (good or bad) becomes one purrsong_poll point.
// Points are written through a Writer; *influxdb.Client is the production
// implementation.
//
// Measurements:
//
//	purrsong_entity  tags: entry_id, device_id, kind, entity  fields: value
//	purrsong_poll    tags: entry_id                           fields: ok, devices, failure_kind
package history
