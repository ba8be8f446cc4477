// Package tmpo implements the core of the timeseries logging daemon: the
// in-RAM ingest buffer, the clock-driven flusher, the streaming compactor,
// the level-20 garbage collector, the sync engine and the tick loop that
// drives them.
//
// # The pyramid
//
// Readings accumulate in RAM as level-8 blocks (256 s windows). The flusher
// closes and persists them once their window plus a 64 s grace has passed.
// The compactor merges 16 sibling blocks at level L into one block at level
// L+4, walking 8→12→16→20; the garbage collector evicts the oldest level-20
// blocks when the filesystem fills up. The sync engine republishes blocks a
// remote subscriber is missing, coarsest level first.
//
// # Scheduling
//
// Everything runs on a single goroutine paced by the broker's 1 Hz uptime
// heartbeat. MQTT handlers only enqueue events; each tick runs sync, gc and
// flush to completion, then performs at most one compaction step. The
// compactor is an explicit state machine (the cooperative-generator pattern):
// it compacts one sibling group per resumption and then yields until its
// pacing deadline passes, so a large backlog never starves ingest.
//
// # Crash safety
//
// Every writer refuses to overwrite and every compaction either commits
// (coarse block written, inputs unlinked) or is fully reversible. The store's
// startup scrub removes the debris either way, so replay after a power loss
// is idempotent.
package tmpo
