// tmpod - timeseries block logging daemon for metering devices
//
// tmpod ingests counter readings from an MQTT bus, compresses them into a
// pyramid of time-aligned gzip blocks on local flash, publishes closed
// blocks back over MQTT and serves back-fill requests from remote
// subscribers. It is designed for low-power gateways: single-threaded core,
// bounded memory, crash recovery by idempotent replay.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/meterlog/tmpod/internal/infrastructure/config"
	"github.com/meterlog/tmpod/internal/infrastructure/database"
	"github.com/meterlog/tmpod/internal/infrastructure/influxdb"
	"github.com/meterlog/tmpod/internal/infrastructure/logging"
	"github.com/meterlog/tmpod/internal/infrastructure/mqtt"
	"github.com/meterlog/tmpod/internal/journal"
	"github.com/meterlog/tmpod/internal/metrics"
	"github.com/meterlog/tmpod/internal/sensor"
	"github.com/meterlog/tmpod/internal/store"
	"github.com/meterlog/tmpod/internal/tmpo"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "/etc/tmpod/config.yaml"

func main() {
	// Create a context that cancels on interrupt signals (Ctrl+C, SIGTERM)
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Run the application
	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
// Returning an error allows main to handle exit codes consistently.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting tmpod",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	// Load configuration
	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)

	// Load the sensor registry
	registry, err := sensor.Load(cfg.Sensors.Path)
	if err != nil {
		return fmt.Errorf("loading sensor registry: %w", err)
	}
	log.Info("sensor registry loaded",
		"path", cfg.Sensors.Path,
		"devices", registry.DeviceCount(),
		"sensors", registry.SensorCount(),
	)

	// Open the block store and repair crash debris before anything runs
	blockStore := store.New(cfg.Storage.Root, log.WithComponent("store"))
	scrub, err := blockStore.Scrub()
	if err != nil {
		return fmt.Errorf("scrubbing store: %w", err)
	}
	log.Info("store scrubbed",
		"root", cfg.Storage.Root,
		"checked", scrub.Checked,
		"corrupt", scrub.Corrupt,
		"compacted", scrub.Compacted,
	)

	// Open the diagnostics journal (optional)
	var diag *journal.Journal
	if cfg.Journal.Enabled {
		db, derr := database.Open(database.Config{
			Path:        cfg.Journal.Path,
			WALMode:     cfg.Journal.WALMode,
			BusyTimeout: cfg.Journal.BusyTimeout,
		})
		if derr != nil {
			return fmt.Errorf("opening journal database: %w", derr)
		}
		defer func() {
			log.Info("closing journal database")
			if closeErr := db.Close(); closeErr != nil {
				log.Error("error closing journal database", "error", closeErr)
			}
		}()

		diag, err = journal.Open(db, cfg.Journal.MaxPublishRows)
		if err != nil {
			return fmt.Errorf("opening journal: %w", err)
		}
		log.Info("journal enabled", "path", cfg.Journal.Path)
	}

	// Connect to MQTT broker
	mqttClient, err := mqtt.Connect(cfg.MQTT)
	if err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	defer func() {
		log.Info("disconnecting from MQTT")
		if closeErr := mqttClient.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()
	mqttClient.SetLogger(log.WithComponent("mqtt"))
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)
	mqttClient.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})

	// Connect to InfluxDB (optional)
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		log.Info("InfluxDB mirror enabled",
			"url", cfg.InfluxDB.URL,
			"bucket", cfg.InfluxDB.Bucket,
		)
	}

	// Serve Prometheus metrics (optional)
	if cfg.Metrics.Enabled {
		metrics.Serve(cfg.Metrics.Listen)
		log.Info("metrics endpoint enabled", "listen", cfg.Metrics.Listen)
	}

	// Assemble and run the engine; Run blocks until the context cancels
	engine, err := tmpo.New(tmpo.Options{
		Store:           blockStore,
		Registry:        registry,
		Bus:             mqttClient,
		Logger:          log.WithComponent("tmpo"),
		DeviceID:        cfg.Device.ID,
		GCFillThreshold: cfg.Storage.GCFillThreshold,
		Journal:         diag,
		Influx:          influxClient,
	})
	if err != nil {
		return fmt.Errorf("creating engine: %w", err)
	}

	if err := engine.Run(ctx); err != nil {
		return fmt.Errorf("running engine: %w", err)
	}

	log.Info("tmpod stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses TMPOD_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("TMPOD_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}
