package uplink

import (
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"
)

// CounterSlots maps the nine payload counters to sensor slot indices in the
// device registry. The order is fixed by the gateway firmware.
var CounterSlots = [9]int{1, 2, 13, 14, 25, 26, 37, 38, 39}

// payloadSize is the raw payload length: nine big-endian u32 counters.
const payloadSize = 9 * 4

// Uplink is one decoded gateway uplink.
type Uplink struct {
	// DevID is the device serial that produced the readings.
	DevID string

	// Time is the gateway receive timestamp as a UNIX second.
	Time uint32

	// Counters holds the nine counter snapshots, in CounterSlots order.
	// A zero entry means no reading for that slot.
	Counters [9]uint32
}

// wire is the JSON envelope published by the uplink gateway.
type wire struct {
	DevID    string `json:"dev_id"`
	Metadata struct {
		Time string `json:"time"`
	} `json:"metadata"`
	PayloadRaw string `json:"payload_raw"`
}

// Decode parses an uplink envelope.
//
// Returns an error if the JSON is malformed, the timestamp does not parse as
// ISO-8601, or the payload is not exactly nine big-endian u32 counters.
func Decode(payload []byte) (*Uplink, error) {
	var w wire
	if err := json.Unmarshal(payload, &w); err != nil {
		return nil, fmt.Errorf("uplink: decoding envelope: %w", err)
	}
	if w.DevID == "" {
		return nil, fmt.Errorf("uplink: missing dev_id")
	}

	ts, err := time.Parse(time.RFC3339Nano, w.Metadata.Time)
	if err != nil {
		return nil, fmt.Errorf("uplink: parsing timestamp %q: %w", w.Metadata.Time, err)
	}

	raw, err := base64.StdEncoding.DecodeString(w.PayloadRaw)
	if err != nil {
		return nil, fmt.Errorf("uplink: decoding payload: %w", err)
	}
	if len(raw) != payloadSize {
		return nil, fmt.Errorf("uplink: payload is %d bytes, want %d", len(raw), payloadSize)
	}

	u := &Uplink{
		DevID: w.DevID,
		Time:  uint32(ts.Unix()),
	}
	for i := range u.Counters {
		u.Counters[i] = binary.BigEndian.Uint32(raw[i*4:])
	}
	return u, nil
}
