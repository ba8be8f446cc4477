// Package block implements the tmpo block model: delta-encoded counter
// readings grouped into time-aligned windows.
//
// # Levels
//
// A block at level L covers 2^L seconds. The pyramid has four levels:
//
//	 8 →    256 s
//	12 →   4096 s (≈68 min)
//	16 →  65536 s (≈18 h)
//	20 → 1048576 s (≈12 d)
//
// A block's id (bid) is the inclusive lower bound of its window, always
// aligned down to the level span. Sixteen level-L blocks merge into one
// level-L+4 block.
//
// # Encoding
//
// A block is the JSON document {"h":H,"t":T,"v":V}. T and V are delta arrays
// whose first element is the literal 0; H carries the absolute head and tail
// samples plus the sensor config snapshot. Fractional value deltas are
// rounded to three decimals; time deltas are positive integers.
//
// The byte layout of the encoding is load-bearing: the compactor's streaming
// reader anchors on the literal sequences `,"t":[0`, `],"v":[0` and `]}`, so
// Encode emits exactly that shape.
package block
