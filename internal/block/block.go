package block

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/meterlog/tmpod/internal/sensor"
)

// Block format constants.
const (
	// Vsn is the block format version written into every header.
	Vsn = 1

	// TimestampMin is the lowest timestamp accepted anywhere in the system.
	// Anything below it indicates an unsynced system clock.
	TimestampMin uint32 = 1234567890

	// LevelStep is the level distance between pyramid neighbours: one coarse
	// block merges 2^LevelStep^... exactly 16 fine blocks.
	LevelStep = 4
)

// Levels enumerates the pyramid levels, finest first.
var Levels = []int{8, 12, 16, 20}

// Span returns the window length in seconds of a block at the given level.
func Span(lvl int) uint32 {
	return 1 << uint(lvl)
}

// Align aligns a timestamp down to the level span.
func Align(t uint32, lvl int) uint32 {
	return t - t%Span(lvl)
}

// CompactionID returns the bid of the coarse block that contains the given
// fine block: floor(bid / 2^(lvl+4)) * 2^(lvl+4).
func CompactionID(bid uint32, lvl int) uint32 {
	return Align(bid, lvl+LevelStep)
}

// Sample is an absolute (time, value) pair. It marshals as the two-element
// JSON array [t, v] used for the head and tail header fields.
type Sample struct {
	Time  uint32
	Value float64
}

// MarshalJSON implements json.Marshaler.
//
// Head and tail values are absolute readings, not deltas, so they are
// rendered at full precision.
func (s Sample) MarshalJSON() ([]byte, error) {
	return []byte("[" + strconv.FormatUint(uint64(s.Time), 10) + "," + strconv.FormatFloat(s.Value, 'f', -1, 64) + "]"), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (s *Sample) UnmarshalJSON(data []byte) error {
	var pair [2]float64
	if err := json.Unmarshal(data, &pair); err != nil {
		return fmt.Errorf("block: decoding sample: %w", err)
	}
	s.Time = uint32(pair[0])
	s.Value = pair[1]
	return nil
}

// Header is the h member of a block document.
//
// Cfg is a snapshot of the sensor config taken when the block's first sample
// arrived; it survives compaction from the final input of each merge.
type Header struct {
	Vsn  int           `json:"vsn"`
	Head Sample        `json:"head"`
	Tail Sample        `json:"tail"`
	Cfg  sensor.Params `json:"cfg"`
}

// Block is one in-memory block: header plus the two delta arrays.
//
// Invariants:
//   - T[0] == 0 and V[0] == 0
//   - len(T) == len(V)
//   - sum(T) + H.Head.Time == H.Tail.Time
//   - sum(V) + H.Head.Value == H.Tail.Value (within the rounding tolerance)
type Block struct {
	H Header
	T []uint32
	V []float64
}

// New creates a block holding a single sample, with the given sensor config
// snapshot.
func New(t uint32, v float64, cfg sensor.Params) *Block {
	s := Sample{Time: t, Value: v}
	return &Block{
		H: Header{Vsn: Vsn, Head: s, Tail: s, Cfg: cfg},
		T: []uint32{0},
		V: []float64{0},
	}
}

// Push appends a sample to the block.
//
// Samples must be strictly newer than the current tail; a sample with
// t <= tail time is silently dropped and Push reports false.
func (b *Block) Push(t uint32, v float64) bool {
	if t <= b.H.Tail.Time {
		return false
	}
	b.T = append(b.T, t-b.H.Tail.Time)
	b.V = append(b.V, RoundDelta(v-b.H.Tail.Value))
	b.H.Tail = Sample{Time: t, Value: v}
	return true
}

// Len returns the number of samples in the block.
func (b *Block) Len() int {
	return len(b.T)
}

// RoundDelta rounds a value delta to three decimals using the block format's
// rule: round(x) = floor(x·1000 + 0.5) / 1000. Integer deltas pass through
// exactly.
func RoundDelta(x float64) float64 {
	return math.Floor(x*1000+0.5) / 1000
}

// FormatValue renders a value the way the block encoding requires: integers
// without a decimal point, fractions with at most three decimals and no
// trailing zeroes.
func FormatValue(v float64) string {
	if v == math.Trunc(v) {
		return strconv.FormatFloat(v, 'f', 0, 64)
	}
	s := strconv.FormatFloat(v, 'f', 3, 64)
	s = strings.TrimRight(s, "0")
	return strings.TrimRight(s, ".")
}

// Encode writes the block's JSON document to w.
//
// The output is byte-exact with the on-disk format: header object, then
// `,"t":[0` followed by the time deltas, then `],"v":[0` followed by the
// value deltas, then `]}`.
func (b *Block) Encode(w io.Writer) error {
	h, err := json.Marshal(b.H)
	if err != nil {
		return fmt.Errorf("block: encoding header: %w", err)
	}

	var sb strings.Builder
	sb.WriteString(`{"h":`)
	sb.Write(h)
	sb.WriteString(`,"t":[0`)
	for _, dt := range b.T[1:] {
		sb.WriteByte(',')
		sb.WriteString(strconv.FormatUint(uint64(dt), 10))
	}
	sb.WriteString(`],"v":[0`)
	for _, dv := range b.V[1:] {
		sb.WriteByte(',')
		sb.WriteString(FormatValue(dv))
	}
	sb.WriteString(`]}`)

	if _, err := io.WriteString(w, sb.String()); err != nil {
		return fmt.Errorf("block: writing document: %w", err)
	}
	return nil
}

// Decode parses a complete block document from r.
func Decode(r io.Reader) (*Block, error) {
	var doc struct {
		H Header    `json:"h"`
		T []uint32  `json:"t"`
		V []float64 `json:"v"`
	}
	dec := json.NewDecoder(r)
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("block: decoding document: %w", err)
	}
	b := &Block{H: doc.H, T: doc.T, V: doc.V}
	if err := b.Validate(); err != nil {
		return nil, err
	}
	return b, nil
}

// Validate checks the structural invariants of a decoded block.
func (b *Block) Validate() error {
	if b.H.Vsn != Vsn {
		return fmt.Errorf("block: unsupported version %d", b.H.Vsn)
	}
	if len(b.T) == 0 || len(b.V) == 0 {
		return fmt.Errorf("block: empty delta arrays")
	}
	if len(b.T) != len(b.V) {
		return fmt.Errorf("block: delta length mismatch: %d time vs %d value", len(b.T), len(b.V))
	}
	if b.T[0] != 0 || b.V[0] != 0 {
		return fmt.Errorf("block: delta arrays must start with 0")
	}

	var tsum uint64
	for _, dt := range b.T[1:] {
		if dt == 0 {
			return fmt.Errorf("block: non-monotonic time delta")
		}
		tsum += uint64(dt)
	}
	if uint64(b.H.Head.Time)+tsum != uint64(b.H.Tail.Time) {
		return fmt.Errorf("block: time deltas do not sum to tail")
	}

	var vsum float64
	for _, dv := range b.V[1:] {
		vsum += dv
	}
	if math.Abs(b.H.Head.Value+vsum-b.H.Tail.Value) > 1e-3*float64(len(b.V)) {
		return fmt.Errorf("block: value deltas do not sum to tail")
	}
	return nil
}

// Samples reconstructs the absolute sample sequence from the deltas.
func (b *Block) Samples() []Sample {
	out := make([]Sample, 0, len(b.T))
	t, v := b.H.Head.Time, b.H.Head.Value
	out = append(out, Sample{Time: t, Value: v})
	for i := 1; i < len(b.T); i++ {
		t += b.T[i]
		v += b.V[i]
		out = append(out, Sample{Time: t, Value: v})
	}
	return out
}
