package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/meterlog/tmpod/internal/infrastructure/config"
)

// Logger wraps slog.Logger with tmpod-specific helpers, so every component
// identifies sensors and blocks the same way in the log stream.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type Logger struct {
	*slog.Logger
}

// levels maps config strings to slog levels. Unknown strings fall back to
// info rather than failing startup on a gateway nobody can reach.
var levels = map[string]slog.Level{
	"debug":   slog.LevelDebug,
	"info":    slog.LevelInfo,
	"warn":    slog.LevelWarn,
	"warning": slog.LevelWarn,
	"error":   slog.LevelError,
}

// New creates a Logger from the logging section of config.yaml.
//
// JSON to stdout is the default: on a metering gateway the init system
// collects stdout, and JSON keeps records machine-parseable end to end.
// Text format exists for bench debugging only.
//
// Parameters:
//   - cfg: Logging configuration from config.yaml
//   - version: Daemon version, attached to every record
//
// Returns:
//   - *Logger: Configured logger ready for use
func New(cfg config.LoggingConfig, version string) *Logger {
	var w io.Writer = os.Stdout
	if strings.EqualFold(cfg.Output, "stderr") {
		w = os.Stderr
	}

	level, ok := levels[strings.ToLower(cfg.Level)]
	if !ok {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if strings.EqualFold(cfg.Format, "text") {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}

	return &Logger{
		Logger: slog.New(handler).With("service", "tmpod", "version", version),
	}
}

// Default creates the bootstrap logger used before configuration is loaded:
// JSON to stdout at info level.
func Default() *Logger {
	return &Logger{
		Logger: slog.New(slog.NewJSONHandler(os.Stdout, nil)).With("service", "tmpod"),
	}
}

// With returns a Logger with additional default attributes.
//
// Parameters:
//   - args: Key-value pairs to add as default attributes
//
// Returns:
//   - *Logger: New logger with added attributes
func (l *Logger) With(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...)}
}

// WithComponent returns a Logger for one daemon component.
//
// Example:
//
//	storeLog := log.WithComponent("store")
//	storeLog.Info("scrub complete") // Includes component=store
func (l *Logger) WithComponent(name string) *Logger {
	return l.With("component", name)
}

// WithSensor returns a Logger carrying a sensor's identity on every record.
// Use it wherever a sequence of records concerns one (sensor, rid) pair.
//
// Example:
//
//	log.WithSensor(sid, rid).Warn("scrub: unlinking corrupt block", logging.Block(8, bid))
func (l *Logger) WithSensor(sid string, rid int) *Logger {
	return l.With("sensor", sid, "rid", rid)
}

// Block renders a block's coordinates as a single attribute group, so flush,
// compaction, gc and sync records all locate blocks identically:
//
//	"block":{"lvl":8,"bid":1700000000}
func Block(lvl int, bid uint32) slog.Attr {
	return slog.Group("block", slog.Int("lvl", lvl), slog.Uint64("bid", uint64(bid)))
}
