package tmpo

import (
	"errors"
	"testing"

	"github.com/meterlog/tmpod/internal/block"
)

// =============================================================================
// Ingest and Flush Tests
// =============================================================================

func TestSteadyFlow(t *testing.T) {
	clock := &fakeClock{now: 1700000400}
	e, bus, st := testEngine(t, clock)

	e.push8("0123ab", 1700000000, 100, "Wh")
	e.push8("0123ab", 1700000010, 110, "Wh")
	e.push8("0123ab", 1700000300, 140, "Wh")

	// First call initialises close8 and reports no work.
	if flushed, err := e.flush8(false); err != nil || flushed {
		t.Fatalf("flush8(false) = %v, %v, want false, nil on first call", flushed, err)
	}
	// Forced flush closes everything currently buffered.
	if flushed, err := e.flush8(true); err != nil || !flushed {
		t.Fatalf("flush8(true) = %v, %v, want true, nil", flushed, err)
	}

	// Samples straddle one 256 s boundary: two level-8 blocks.
	bids, err := st.Bids("0123ab", 0, 8)
	if err != nil {
		t.Fatalf("Bids() error = %v", err)
	}
	if len(bids) != 2 || bids[0] != 1700000000 || bids[1] != 1700000256 {
		t.Fatalf("Bids() = %v, want [1700000000 1700000256]", bids)
	}

	first, err := st.ReadBlock("0123ab", 0, 8, 1700000000)
	if err != nil {
		t.Fatalf("ReadBlock() error = %v", err)
	}
	if first.Len() != 2 {
		t.Errorf("first block Len() = %d, want 2", first.Len())
	}
	if first.H.Tail.Time != 1700000010 || first.H.Tail.Value != 110 {
		t.Errorf("first block tail = %+v, want [1700000010, 110]", first.H.Tail)
	}
	if first.H.Cfg.ID != "0123ab" || first.H.Cfg.Unit != "Wh" {
		t.Errorf("first block cfg = %+v", first.H.Cfg)
	}
	if err := first.Validate(); err != nil {
		t.Errorf("first block Validate() error = %v", err)
	}

	second, err := st.ReadBlock("0123ab", 0, 8, 1700000256)
	if err != nil {
		t.Fatalf("ReadBlock() error = %v", err)
	}
	if second.Len() != 1 || second.H.Head.Time != 1700000300 {
		t.Errorf("second block = %d samples head %+v", second.Len(), second.H.Head)
	}

	// Both blocks were published on their tmpo topics.
	wantTopics := []string{
		"/sensor/0123ab/tmpo/0/8/1700000000/gz",
		"/sensor/0123ab/tmpo/0/8/1700000256/gz",
	}
	if len(bus.topics) != len(wantTopics) {
		t.Fatalf("published topics = %v, want %v", bus.topics, wantTopics)
	}
	for i := range wantTopics {
		if bus.topics[i] != wantTopics[i] {
			t.Fatalf("published topics = %v, want %v", bus.topics, wantTopics)
		}
	}

	// The buffer is empty after a forced flush.
	if len(e.buffer) != 0 {
		t.Errorf("buffer not empty after forced flush: %v", e.buffer)
	}
}

func TestNonMonotonicSampleDropped(t *testing.T) {
	clock := &fakeClock{now: 1700000400}
	e, _, st := testEngine(t, clock)

	e.push8("0123ab", 1700000100, 50, "Wh")
	e.push8("0123ab", 1700000050, 40, "Wh")

	e.flush8(false)
	if _, err := e.flush8(true); err != nil {
		t.Fatalf("flush8(true) error = %v", err)
	}

	b, err := st.ReadBlock("0123ab", 0, 8, 1700000000)
	if err != nil {
		t.Fatalf("ReadBlock() error = %v", err)
	}
	if b.Len() != 1 {
		t.Errorf("Len() = %d, want 1 (older sample dropped)", b.Len())
	}
	if b.H.Tail.Time != 1700000100 || b.H.Tail.Value != 50 {
		t.Errorf("tail = %+v, want [1700000100, 50]", b.H.Tail)
	}
}

func TestRoundedDeltasSurviveFlush(t *testing.T) {
	clock := &fakeClock{now: 1700000400}
	e, _, st := testEngine(t, clock)

	e.push8("0123ab", 1700000000, 1.0005, "Wh")
	e.push8("0123ab", 1700000010, 1.0014, "Wh")

	e.flush8(false)
	if _, err := e.flush8(true); err != nil {
		t.Fatalf("flush8(true) error = %v", err)
	}

	b, err := st.ReadBlock("0123ab", 0, 8, 1700000000)
	if err != nil {
		t.Fatalf("ReadBlock() error = %v", err)
	}
	if b.V[1] != 0.001 {
		t.Errorf("stored delta = %v, want 0.001", b.V[1])
	}
}

func TestPushRejectsUnsyncedClock(t *testing.T) {
	clock := &fakeClock{now: 1700000400}
	e, _, _ := testEngine(t, clock)

	e.push8("0123ab", block.TimestampMin-1, 10, "Wh")
	if len(e.buffer) != 0 {
		t.Error("push8 accepted a pre-epoch timestamp")
	}
}

func TestFlushNoOpOnUnsyncedClock(t *testing.T) {
	clock := &fakeClock{now: 1000}
	e, _, _ := testEngine(t, clock)

	if flushed, err := e.flush8(false); err != nil || flushed {
		t.Errorf("flush8() = %v, %v, want false, nil with unsynced clock", flushed, err)
	}
	if e.close8 != 0 {
		t.Errorf("close8 = %d, want 0 with unsynced clock", e.close8)
	}
}

func TestGraceWindowHoldsBlocks(t *testing.T) {
	// Just past a boundary: the previous window must stay open for the
	// grace period so late samples still land.
	clock := &fakeClock{now: 1700000256 + 10}
	e, bus, _ := testEngine(t, clock)

	e.flush8(false) // initialise close8 = 1700000512
	e.push8("0123ab", 1700000200, 100, "Wh")

	if flushed, _ := e.flush8(false); flushed {
		t.Fatal("flush8() closed a window inside the grace period")
	}
	if len(bus.topics) != 0 {
		t.Errorf("published = %v, want none inside grace period", bus.topics)
	}

	// A late sample for the old window is still accepted.
	e.push8("0123ab", 1700000210, 101, "Wh")
	if got := e.buffer["0123ab"][0][1700000000].Len(); got != 2 {
		t.Errorf("late sample not buffered: Len() = %d, want 2", got)
	}
}

func TestPublishFailureAbortsFlush(t *testing.T) {
	clock := &fakeClock{now: 1700000400}
	e, bus, st := testEngine(t, clock)
	bus.err = errors.New("broker gone")

	e.push8("0123ab", 1700000000, 100, "Wh")
	e.flush8(false)

	_, err := e.flush8(true)
	if err == nil {
		t.Fatal("flush8() = nil error with failing publisher")
	}

	// The block is on disk even though the publish failed; a later sync can
	// republish it.
	if !st.Exists("0123ab", 0, 8, 1700000000) {
		t.Error("block not persisted before failed publish")
	}
}

func TestUnitOverwrittenFromReading(t *testing.T) {
	clock := &fakeClock{now: 1700000400}
	e, _, _ := testEngine(t, clock)

	e.push8("0123ab", 1700000000, 100, "kWh")
	if got := e.reg.Sensor("0123ab").Unit; got != "kWh" {
		t.Errorf("registry unit = %q, want %q (overwritten from reading)", got, "kWh")
	}
	if got := e.buffer["0123ab"][0][1700000000].H.Cfg.Unit; got != "kWh" {
		t.Errorf("cfg snapshot unit = %q, want %q", got, "kWh")
	}
}
