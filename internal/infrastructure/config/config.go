package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for tmpod.
// All configuration is loaded from YAML; a fixed set of keys (see
// applyEnvOverrides) can be overridden by environment variables.
type Config struct {
	Device   DeviceConfig   `yaml:"device"`
	Storage  StorageConfig  `yaml:"storage"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	Sensors  SensorsConfig  `yaml:"sensors"`
	InfluxDB InfluxDBConfig `yaml:"influxdb"`
	Journal  JournalConfig  `yaml:"journal"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// DeviceConfig identifies this metering device on the MQTT bus.
type DeviceConfig struct {
	// ID is the 32-hex-character device identifier used in sync topics.
	ID string `yaml:"id"`
}

// StorageConfig contains block store settings.
type StorageConfig struct {
	// Root is the directory holding the block pyramid.
	Root string `yaml:"root"`

	// GCFillThreshold is the filesystem fill ratio above which the oldest
	// level-20 blocks are evicted.
	GCFillThreshold float64 `yaml:"gc_fill_threshold"`
}

// SensorsConfig locates the sensor registry file.
type SensorsConfig struct {
	// Path is the YAML file mapping device serials to sensor parameters.
	Path string `yaml:"path"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// InfluxDBConfig contains the optional reading mirror settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// JournalConfig contains the optional SQLite diagnostics journal settings.
type JournalConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`

	// MaxPublishRows bounds the publish journal; older rows are pruned.
	MaxPublishRows int `yaml:"max_publish_rows"`
}

// MetricsConfig contains the optional Prometheus endpoint settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: TMPOD_SECTION_KEY
// For example: TMPOD_STORAGE_ROOT, TMPOD_MQTT_HOST
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	// Start with defaults
	cfg := defaultConfig()

	// Read and parse YAML file
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Apply environment variable overrides
	applyEnvOverrides(cfg)

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Storage: StorageConfig{
			Root:            "/var/lib/tmpo",
			GCFillThreshold: 0.75,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "tmpod",
			},
			QoS: 0,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		Sensors: SensorsConfig{
			Path: "/etc/tmpod/sensors.yaml",
		},
		Journal: JournalConfig{
			Path:           "/var/lib/tmpo/journal.db",
			WALMode:        true,
			BusyTimeout:    5,
			MaxPublishRows: 10000,
		},
		Metrics: MetricsConfig{
			Listen: ":9273",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: TMPOD_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Device
	if v := os.Getenv("TMPOD_DEVICE_ID"); v != "" {
		cfg.Device.ID = v
	}

	// Storage
	if v := os.Getenv("TMPOD_STORAGE_ROOT"); v != "" {
		cfg.Storage.Root = v
	}

	// Sensors
	if v := os.Getenv("TMPOD_SENSORS_PATH"); v != "" {
		cfg.Sensors.Path = v
	}

	// MQTT
	if v := os.Getenv("TMPOD_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("TMPOD_MQTT_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.MQTT.Broker.Port = port
		}
	}
	if v := os.Getenv("TMPOD_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("TMPOD_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// InfluxDB
	if v := os.Getenv("TMPOD_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}
}

// deviceIDLength is the required length of the device identifier.
const deviceIDLength = 32

// isHex reports whether s consists only of lowercase hex digits.
func isHex(s string) bool {
	for _, c := range s {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	// Device validation
	if c.Device.ID == "" {
		errs = append(errs, "device.id is required (set TMPOD_DEVICE_ID environment variable)")
	} else if len(c.Device.ID) != deviceIDLength || !isHex(c.Device.ID) {
		errs = append(errs, "device.id must be 32 hex characters")
	}

	// Storage validation
	if c.Storage.Root == "" {
		errs = append(errs, "storage.root is required")
	}
	if c.Storage.GCFillThreshold <= 0 || c.Storage.GCFillThreshold > 1 {
		errs = append(errs, "storage.gc_fill_threshold must be in (0, 1]")
	}

	// Sensors validation
	if c.Sensors.Path == "" {
		errs = append(errs, "sensors.path is required")
	}

	// MQTT validation
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	// InfluxDB validation
	if c.InfluxDB.Enabled && c.InfluxDB.URL == "" {
		errs = append(errs, "influxdb.url is required when influxdb.enabled")
	}

	// Journal validation
	if c.Journal.Enabled && c.Journal.Path == "" {
		errs = append(errs, "journal.path is required when journal.enabled")
	}

	// Metrics validation
	if c.Metrics.Enabled && c.Metrics.Listen == "" {
		errs = append(errs, "metrics.listen is required when metrics.enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}
