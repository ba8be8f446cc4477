// Package logging provides structured logging for tmpod.
//
// It wraps the standard library's log/slog with:
//   - Configuration-driven setup (level, format, output)
//   - Default fields on every record (service, version)
//   - Domain helpers so all components log identically: WithComponent,
//     WithSensor, and the Block attribute group
//
// # Usage
//
//	log := logging.New(cfg.Logging, version)
//	log.WithSensor(sid, rid).Info("flushed block", logging.Block(8, bid), "samples", n)
//
// On a metering device logs go to stdout and are collected by the init
// system; JSON format keeps them machine-parseable end to end.
package logging
