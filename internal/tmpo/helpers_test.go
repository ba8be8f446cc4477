package tmpo

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/meterlog/tmpod/internal/infrastructure/config"
	"github.com/meterlog/tmpod/internal/infrastructure/logging"
	"github.com/meterlog/tmpod/internal/infrastructure/mqtt"
	"github.com/meterlog/tmpod/internal/sensor"
	"github.com/meterlog/tmpod/internal/store"
)

// fakeClock is a settable wall clock.
type fakeClock struct {
	now uint32
}

func (c *fakeClock) fn() func() uint32 {
	return func() uint32 { return c.now }
}

// fakeBus records block publishes and accepts any binding.
type fakeBus struct {
	topics []string
	err    error // returned by PublishBlock when set
}

func (b *fakeBus) PublishBlock(sid string, rid, lvl int, bid uint32, payload []byte) error {
	if b.err != nil {
		return b.err
	}
	b.topics = append(b.topics, mqtt.Topics{}.SensorBlock(sid, rid, lvl, bid))
	return nil
}

func (b *fakeBus) Bind(deviceID string, h mqtt.Handlers) error {
	return nil
}

// fakeSpace reports fixed filesystem capacity.
type fakeSpace struct {
	free  uint64
	total uint64
}

func (s *fakeSpace) FreeBlocks() uint64  { return s.free }
func (s *fakeSpace) TotalBlocks() uint64 { return s.total }

// registryYAML is the sensor registry used across engine tests.
const registryYAML = `
devices:
  "00112233445566778899aabbccddeeff":
    sensors:
      1:
        id: "0123ab"
        rid: 0
        data_type: counter
        unit: Wh
        enable: 1
        tmpo: 1
      2:
        id: "45cd"
        rid: 3
        data_type: counter
        unit: L
        enable: 1
      13:
        id: "67ef"
        rid: 0
        data_type: counter
        unit: Wh
        enable: 1
`

// testRegistry loads the shared test registry from a temp file.
func testRegistry(t *testing.T) *sensor.Registry {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sensors.yaml")
	if err := os.WriteFile(path, []byte(registryYAML), 0640); err != nil {
		t.Fatal(err)
	}
	reg, err := sensor.Load(path)
	if err != nil {
		t.Fatalf("sensor.Load() error = %v", err)
	}
	return reg
}

// testLogger returns a quiet logger for tests.
func testLogger() *logging.Logger {
	return logging.New(config.LoggingConfig{Level: "error", Format: "text", Output: "stderr"}, "test")
}

// testEngine assembles an engine over a fresh temp store, a fake bus and a
// fake clock.
func testEngine(t *testing.T, clock *fakeClock) (*Engine, *fakeBus, *store.Store) {
	t.Helper()

	st := store.New(t.TempDir(), testLogger())
	bus := &fakeBus{}

	e, err := New(Options{
		Store:    st,
		Registry: testRegistry(t),
		Bus:      bus,
		Logger:   testLogger(),
		DeviceID: "00112233445566778899aabbccddeeff",
		Clock:    clock.fn(),
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return e, bus, st
}
