// Package store persists tmpo blocks on the local filesystem.
//
// # Layout
//
// One gzip file per block:
//
//	<root>/sensor/<sid>/<rid>/<lvl>/<bid>
//
// Directories are created lazily on first write. Files are immutable after
// close; the store never overwrites an existing block, which makes every
// writer idempotent under restart.
//
// # Crash safety
//
// A torn write leaves a partial gzip file behind. Scrub runs once at startup:
// it gzip-verifies the newest block at each level (the only files a power
// loss can tear) and removes fine blocks whose coarse block already exists
// (survivors of a crash mid-compaction).
//
// # Streaming
//
// Blocks can be tens of megabytes and never fit in RAM on target hardware.
// OpenStream returns a segment reader that scans the gzip stream in 4 KiB
// chunks and splits it on the three byte anchors of the block format, so the
// compactor can merge blocks without a full JSON parse.
package store
