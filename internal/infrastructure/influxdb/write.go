package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// WriteCounterReading mirrors one decoded counter reading to InfluxDB.
//
// The write is non-blocking; data is batched and sent asynchronously.
// The point timestamp is the reading's own timestamp, not the wall clock,
// so late uplinks land in the right place.
//
// Parameters:
//   - sid: Sensor id the reading belongs to
//   - rid: Reset id of the counter
//   - unit: Engineering unit of the reading (e.g. "Wh")
//   - value: The counter snapshot
//   - ts: Reading timestamp
//
// Example:
//
//	client.WriteCounterReading("0123ab", 0, "Wh", 152399.0, ts)
func (c *Client) WriteCounterReading(sid string, rid int, unit string, value float64, ts time.Time) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"counter",
		map[string]string{
			"sensor": sid,
			"unit":   unit,
		},
		map[string]interface{}{
			"value": value,
			"rid":   rid,
		},
		ts,
	)

	c.writeAPI.WritePoint(point)
}
