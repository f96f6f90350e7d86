package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// WritePoint writes a point stamped with the current time.
//
// The write is non-blocking; points are batched and sent asynchronously.
// Failures are reported through the SetOnError callback.
//
// Parameters:
//   - measurement: The measurement name (e.g. "purrsong_poll")
//   - tags: Indexed, low-cardinality labels
//   - fields: The recorded values
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]any) {
	c.WritePointWithTime(measurement, tags, fields, time.Now())
}

// WritePointWithTime writes a point with an explicit timestamp.
//
// The bridge stamps entity values with the snapshot fetch time so that
// retried or delayed writes land where the reading was taken.
//
// Example:
//
//	client.WritePointWithTime("purrsong_entity",
//	    map[string]string{"entry_id": id, "device_id": "lb-1", "entity": "humidity"},
//	    map[string]any{"value": 48.5},
//	    snap.FetchedAt())
func (c *Client) WritePointWithTime(measurement string, tags map[string]string, fields map[string]any, timestamp time.Time) {
	if !c.IsConnected() || len(fields) == 0 {
		return
	}

	point := write.NewPoint(measurement, tags, fields, timestamp)
	c.writeAPI.WritePoint(point)
}
