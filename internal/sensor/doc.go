// Package sensor holds the static sensor registry consumed by the tmpo core.
//
// The registry is loaded once at startup from a YAML file and maps:
//   - device serial → sensor index → parameters (used to decode uplinks)
//   - sensor id → parameters (filtered view of enabled, tmpo-logged sensors)
//
// # Mutability
//
// The registry is read-mostly. The single mutation the core performs is
// overwriting a sensor's unit when a reading carries one; this is safe because
// all core state transitions run on the tick loop goroutine.
//
// # Reset ids
//
// A sensor's rid increments whenever the operator resets the physical counter.
// Blocks are stored per rid so a reset never produces negative deltas.
package sensor
