package mqtt

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestStatusPayload(t *testing.T) {
	var status struct {
		Status    string `json:"status"`
		ClientID  string `json:"client_id"`
		Reason    string `json:"reason"`
		Timestamp string `json:"timestamp"`
	}

	if err := json.Unmarshal(statusPayload("tmpod", "online", ""), &status); err != nil {
		t.Fatalf("statusPayload() produced invalid JSON: %v", err)
	}
	if status.Status != "online" || status.ClientID != "tmpod" {
		t.Errorf("online payload = %+v", status)
	}
	if status.Reason != "" {
		t.Errorf("online payload carries reason %q, want none", status.Reason)
	}

	if err := json.Unmarshal(statusPayload("tmpod", "offline", "graceful_shutdown"), &status); err != nil {
		t.Fatalf("statusPayload() produced invalid JSON: %v", err)
	}
	if status.Reason != "graceful_shutdown" {
		t.Errorf("offline payload reason = %q, want graceful_shutdown", status.Reason)
	}
}

func TestBindRequiresAllHandlers(t *testing.T) {
	c := &Client{}

	tests := []struct {
		name string
		h    Handlers
	}{
		{"no handlers", Handlers{}},
		{"missing tick", Handlers{Sync: func([]byte) {}, Uplink: func([]byte, bool) {}}},
		{"missing sync", Handlers{Tick: func() {}, Uplink: func([]byte, bool) {}}},
		{"missing uplink", Handlers{Tick: func() {}, Sync: func([]byte) {}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := c.Bind("00112233445566778899aabbccddeeff", tt.h)
			if !errors.Is(err, ErrSubscribeFailed) {
				t.Errorf("Bind() error = %v, want ErrSubscribeFailed", err)
			}
		})
	}
}
