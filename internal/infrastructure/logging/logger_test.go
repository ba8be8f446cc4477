package logging

import (
	"log/slog"
	"testing"

	"github.com/meterlog/tmpod/internal/infrastructure/config"
)

func TestLevelFallback(t *testing.T) {
	tests := []struct {
		level string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"warning", slog.LevelWarn},
		{"ERROR", slog.LevelError},
		{"bogus", slog.LevelInfo},
		{"", slog.LevelInfo},
	}

	for _, tt := range tests {
		log := New(config.LoggingConfig{Level: tt.level, Format: "text", Output: "stderr"}, "test")
		if got := log.Enabled(nil, tt.want); !got {
			t.Errorf("New(level=%q) does not enable %v", tt.level, tt.want)
		}
		if tt.want > slog.LevelDebug && log.Enabled(nil, tt.want-4) {
			t.Errorf("New(level=%q) enables %v, want filtered", tt.level, tt.want-4)
		}
	}
}

func TestWithSensor(t *testing.T) {
	log := New(config.LoggingConfig{Level: "error", Format: "text", Output: "stderr"}, "test")

	child := log.WithSensor("0123ab", 2)
	if child == nil || child == log {
		t.Fatal("WithSensor() should return a new logger")
	}
	// Must not panic with a block attribute group mixed into the args.
	child.Debug("compacted", Block(12, 1700003840), "inputs", 16)
}

func TestWithComponent(t *testing.T) {
	log := Default()
	if child := log.WithComponent("store"); child == nil || child == log {
		t.Error("WithComponent() should return a new logger")
	}
}

func TestBlockAttr(t *testing.T) {
	attr := Block(8, 1700000000)
	if attr.Key != "block" {
		t.Errorf("Block().Key = %q, want %q", attr.Key, "block")
	}
	group := attr.Value.Group()
	if len(group) != 2 {
		t.Fatalf("Block() group has %d attrs, want 2", len(group))
	}
	if group[0].Key != "lvl" || group[0].Value.Int64() != 8 {
		t.Errorf("lvl attr = %v", group[0])
	}
	if group[1].Key != "bid" || group[1].Value.Uint64() != 1700000000 {
		t.Errorf("bid attr = %v", group[1])
	}
}
