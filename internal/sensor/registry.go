package sensor

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// Params describes one sensor as configured for this device.
//
// The same struct is embedded in every block header as the cfg snapshot, so
// the JSON tags are part of the on-disk block format.
type Params struct {
	// ID is the sensor id, a lowercase hex string.
	ID string `yaml:"id" json:"id"`

	// Rid is the reset id of the counter. It is incremented by external
	// configuration whenever the physical counter is reset.
	Rid int `yaml:"rid" json:"rid"`

	// DataType describes the reading semantics (e.g. "counter").
	DataType string `yaml:"data_type" json:"data_type"`

	// Unit is the engineering unit of the counter (e.g. "Wh", "L").
	// Overwritten in place when a reading carries a unit.
	Unit string `yaml:"unit" json:"unit"`

	// Enable gates whether the sensor is logged at all.
	Enable int `yaml:"enable" json:"enable,omitempty"`

	// Tmpo gates block logging for this sensor. nil means enabled.
	Tmpo *int `yaml:"tmpo" json:"tmpo,omitempty"`
}

// Logged reports whether the sensor participates in tmpo block logging.
// A sensor is logged when it is enabled and tmpo is 1 or absent.
func (p *Params) Logged() bool {
	if p.Enable != 1 {
		return false
	}
	return p.Tmpo == nil || *p.Tmpo == 1
}

// Device is one metering device and its sensor slots.
type Device struct {
	Serial  string
	Sensors map[int]*Params
}

// SensorAt returns the sensor configured at the given slot index, or nil.
func (d *Device) SensorAt(idx int) *Params {
	return d.Sensors[idx]
}

// Registry is the in-memory sensor registry.
//
// Both views share the same *Params values: mutating a sensor through one
// view is visible through the other.
type Registry struct {
	devices map[string]*Device
	sensors map[string]*Params
}

// registryFile is the YAML shape of the registry file.
type registryFile struct {
	Devices map[string]struct {
		Sensors map[int]*Params `yaml:"sensors"`
	} `yaml:"devices"`
}

// Load reads the sensor registry from a YAML file.
//
// The filtered sensor view only contains sensors that pass Logged(); disabled
// sensors remain reachable through their device for uplink decoding.
//
// Parameters:
//   - path: Path to the YAML registry file
//
// Returns:
//   - *Registry: Loaded registry
//   - error: If the file cannot be read, parsed, or validated
func Load(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading sensor registry: %w", err)
	}

	var file registryFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing sensor registry: %w", err)
	}

	r := &Registry{
		devices: make(map[string]*Device, len(file.Devices)),
		sensors: make(map[string]*Params),
	}

	for serial, d := range file.Devices {
		dev := &Device{
			Serial:  serial,
			Sensors: make(map[int]*Params, len(d.Sensors)),
		}
		for idx, p := range d.Sensors {
			if p == nil {
				continue
			}
			if p.ID == "" {
				return nil, fmt.Errorf("%w: device %s sensor %d has no id", ErrInvalidRegistry, serial, idx)
			}
			dev.Sensors[idx] = p
			if p.Logged() {
				r.sensors[p.ID] = p
			}
		}
		r.devices[serial] = dev
	}

	return r, nil
}

// Device returns the device registered under the given serial, or nil.
func (r *Registry) Device(serial string) *Device {
	return r.devices[serial]
}

// Sensor returns the parameters for a logged sensor id, or nil.
//
// The returned pointer is shared with the registry; callers on the tick loop
// may mutate it (unit updates from readings).
func (r *Registry) Sensor(sid string) *Params {
	return r.sensors[sid]
}

// SensorIDs returns the ids of all logged sensors in sorted order.
func (r *Registry) SensorIDs() []string {
	ids := make([]string, 0, len(r.sensors))
	for id := range r.sensors {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// DeviceCount returns the number of registered devices.
func (r *Registry) DeviceCount() int {
	return len(r.devices)
}

// SensorCount returns the number of logged sensors.
func (r *Registry) SensorCount() int {
	return len(r.sensors)
}
