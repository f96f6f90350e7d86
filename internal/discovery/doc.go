// Package discovery presents loaded PurrSong accounts to Home Assistant
// through MQTT discovery.
//
// For every entity the Publisher writes a retained discovery config and a
// retained state. Per account it maintains an availability topic and a JSON
// status topic:
//
//	<discovery_prefix>/<platform>/<unique_id>/config
//	<topic_prefix>/<entry_id>/<device_id>/<key>
//	<topic_prefix>/<entry_id>/availability    online | offline
//	<topic_prefix>/<entry_id>/status          {"state":"loaded",...}
//
// A failed refresh marks the account offline but leaves retained states in
// place, so Home Assistant shows the last values as unavailable rather than
// blank. The next accepted snapshot marks it online again.
package discovery
