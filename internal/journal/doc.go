// Package journal records field diagnostics in a small SQLite database.
//
// Two tables:
//   - readings: the last reported reading per sensor, upserted for every
//     decoded uplink reading, including ones the ingest buffer drops
//   - publishes: a bounded log of block publishes (flush, compaction, sync)
//
// The journal answers the two questions a field engineer asks first — "when
// did this meter last report?" and "what left the device recently?" — without
// unpacking gzip blocks. It is optional and entirely off the block path: a
// journal failure is logged and ignored, never surfaced to the core.
package journal
