package sensor

import (
	"os"
	"path/filepath"
	"testing"
)

// writeRegistry writes a registry YAML file into a temp dir.
func writeRegistry(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sensors.yaml")
	if err := os.WriteFile(path, []byte(body), 0640); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad(t *testing.T) {
	path := writeRegistry(t, `
devices:
  "00112233445566778899aabbccddeeff":
    sensors:
      1:
        id: "0123ab"
        rid: 2
        data_type: counter
        unit: Wh
        enable: 1
        tmpo: 1
      2:
        id: "45cd"
        rid: 0
        data_type: counter
        unit: L
        enable: 1
      13:
        id: "999999"
        rid: 0
        data_type: counter
        unit: Wh
        enable: 0
      14:
        id: "888888"
        rid: 0
        data_type: counter
        unit: Wh
        enable: 1
        tmpo: 0
`)

	reg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if reg.DeviceCount() != 1 {
		t.Errorf("DeviceCount() = %d, want 1", reg.DeviceCount())
	}

	// Enabled with tmpo: 1 → logged.
	p := reg.Sensor("0123ab")
	if p == nil {
		t.Fatal("Sensor(0123ab) = nil, want params")
	}
	if p.Rid != 2 || p.Unit != "Wh" {
		t.Errorf("params = %+v", p)
	}

	// Enabled with tmpo absent → logged.
	if reg.Sensor("45cd") == nil {
		t.Error("Sensor(45cd) = nil, want logged (tmpo absent)")
	}

	// Disabled → not logged.
	if reg.Sensor("999999") != nil {
		t.Error("Sensor(999999) logged despite enable: 0")
	}

	// tmpo: 0 → not logged, but still reachable through the device.
	if reg.Sensor("888888") != nil {
		t.Error("Sensor(888888) logged despite tmpo: 0")
	}
	dev := reg.Device("00112233445566778899aabbccddeeff")
	if dev == nil {
		t.Fatal("Device() = nil")
	}
	if dev.SensorAt(14) == nil {
		t.Error("SensorAt(14) = nil, want unlogged sensor via device view")
	}
}

func TestLoadSharedParams(t *testing.T) {
	path := writeRegistry(t, `
devices:
  "00112233445566778899aabbccddeeff":
    sensors:
      1:
        id: "0123ab"
        rid: 0
        data_type: counter
        unit: Wh
        enable: 1
`)

	reg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	// Both views share the same *Params: a unit update through the sensor
	// view is visible through the device view.
	reg.Sensor("0123ab").Unit = "kWh"
	if got := reg.Device("00112233445566778899aabbccddeeff").SensorAt(1).Unit; got != "kWh" {
		t.Errorf("device view unit = %q, want %q", got, "kWh")
	}
}

func TestLoadRejectsMissingID(t *testing.T) {
	path := writeRegistry(t, `
devices:
  "00112233445566778899aabbccddeeff":
    sensors:
      1:
        rid: 0
        enable: 1
`)

	if _, err := Load(path); err == nil {
		t.Error("Load() accepted a sensor without an id")
	}
}

func TestSensorIDsSorted(t *testing.T) {
	path := writeRegistry(t, `
devices:
  "00112233445566778899aabbccddeeff":
    sensors:
      1: {id: "cc", rid: 0, enable: 1}
      2: {id: "aa", rid: 0, enable: 1}
      3: {id: "bb", rid: 0, enable: 1}
`)

	reg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	ids := reg.SensorIDs()
	want := []string{"aa", "bb", "cc"}
	for i := range want {
		if ids[i] != want[i] {
			t.Fatalf("SensorIDs() = %v, want %v", ids, want)
		}
	}
}
