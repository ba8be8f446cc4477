package uplink

import (
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"testing"
)

// envelope builds an uplink JSON payload.
func envelope(t *testing.T, devID, ts string, counters [9]uint32) []byte {
	t.Helper()
	raw := make([]byte, 36)
	for i, c := range counters {
		binary.BigEndian.PutUint32(raw[i*4:], c)
	}
	env := map[string]any{
		"dev_id":      devID,
		"metadata":    map[string]any{"time": ts},
		"payload_raw": base64.StdEncoding.EncodeToString(raw),
	}
	payload, err := json.Marshal(env)
	if err != nil {
		t.Fatal(err)
	}
	return payload
}

func TestDecode(t *testing.T) {
	counters := [9]uint32{100, 0, 300, 0, 500, 0, 700, 0, 900}
	payload := envelope(t, "00112233445566778899aabbccddeeff", "2023-11-14T22:13:20Z", counters)

	u, err := Decode(payload)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if u.DevID != "00112233445566778899aabbccddeeff" {
		t.Errorf("DevID = %q", u.DevID)
	}
	if u.Time != 1700000000 {
		t.Errorf("Time = %d, want 1700000000", u.Time)
	}
	if u.Counters != counters {
		t.Errorf("Counters = %v, want %v", u.Counters, counters)
	}
}

func TestDecodeFractionalTimestamp(t *testing.T) {
	payload := envelope(t, "0011", "2023-11-14T22:13:20.123456Z", [9]uint32{})
	u, err := Decode(payload)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if u.Time != 1700000000 {
		t.Errorf("Time = %d, want 1700000000", u.Time)
	}
}

func TestDecodeErrors(t *testing.T) {
	tests := []struct {
		name    string
		payload []byte
	}{
		{"malformed json", []byte(`{`)},
		{"missing dev_id", []byte(`{"metadata":{"time":"2023-11-14T22:13:20Z"},"payload_raw":""}`)},
		{"bad timestamp", []byte(`{"dev_id":"x","metadata":{"time":"yesterday"},"payload_raw":""}`)},
		{"bad base64", []byte(`{"dev_id":"x","metadata":{"time":"2023-11-14T22:13:20Z"},"payload_raw":"!!!"}`)},
		{"short payload", []byte(`{"dev_id":"x","metadata":{"time":"2023-11-14T22:13:20Z"},"payload_raw":"AAAA"}`)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Decode(tt.payload); err == nil {
				t.Errorf("Decode() accepted %s", tt.name)
			}
		})
	}
}

func TestCounterSlots(t *testing.T) {
	// The slot order is fixed by the gateway firmware; a change here breaks
	// every deployed registry file.
	want := [9]int{1, 2, 13, 14, 25, 26, 37, 38, 39}
	if CounterSlots != want {
		t.Errorf("CounterSlots = %v, want %v", CounterSlots, want)
	}
}
