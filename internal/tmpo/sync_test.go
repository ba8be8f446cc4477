package tmpo

import (
	"strings"
	"testing"

	"github.com/meterlog/tmpod/internal/block"
	"github.com/meterlog/tmpod/internal/sensor"
	"github.com/meterlog/tmpod/internal/store"
)

// writeSimpleBlock persists a minimal block at the given coordinates.
func writeSimpleBlock(t *testing.T, st *store.Store, sid string, rid, lvl int, bid uint32) {
	t.Helper()
	cfg := sensor.Params{ID: sid, Rid: rid, DataType: "counter", Unit: "Wh", Enable: 1}
	b := block.New(bid+1, 100, cfg)
	b.Push(bid+2, 101)
	if err := st.WriteBlock(sid, rid, lvl, bid, b); err != nil {
		t.Fatalf("WriteBlock() error = %v", err)
	}
}

// =============================================================================
// Sync Engine Tests
// =============================================================================

func TestSyncPublishOrdering(t *testing.T) {
	clock := &fakeClock{now: 1800000000}
	e, bus, st := testEngine(t, clock)

	// One block per level, all newer than the watermark.
	writeSimpleBlock(t, st, "67ef", 0, 20, block.Align(1700000000, 20))
	writeSimpleBlock(t, st, "67ef", 0, 16, block.Align(1700000000, 16))
	writeSimpleBlock(t, st, "67ef", 0, 12, block.Align(1700000000, 12))
	writeSimpleBlock(t, st, "67ef", 0, 8, 1700000256)

	e.sync1([]Watermark{{Sid: "67ef", Rid: 0, Lvl: 8, Bid: 1700000000}})
	if err := e.sync2(); err != nil {
		t.Fatalf("sync2() error = %v", err)
	}

	if len(bus.topics) != 4 {
		t.Fatalf("published = %v, want 4 blocks", bus.topics)
	}

	// Coarsest level first: 20 → 16 → 12 → 8.
	wantOrder := []string{"/20/", "/16/", "/12/", "/8/"}
	for i, fragment := range wantOrder {
		if !strings.Contains(bus.topics[i], fragment) {
			t.Errorf("publish %d = %s, want level fragment %s", i, bus.topics[i], fragment)
		}
	}
}

func TestSyncSkipsOlderBlocks(t *testing.T) {
	clock := &fakeClock{now: 1800000000}
	e, bus, st := testEngine(t, clock)

	// Tail equal to the watermark tail: not newer, not republished.
	writeSimpleBlock(t, st, "67ef", 0, 8, 1700000000)
	// Strictly newer: republished.
	writeSimpleBlock(t, st, "67ef", 0, 8, 1700000256)

	e.sync1([]Watermark{{Sid: "67ef", Rid: 0, Lvl: 8, Bid: 1700000000}})
	if err := e.sync2(); err != nil {
		t.Fatalf("sync2() error = %v", err)
	}

	if len(bus.topics) != 1 || !strings.Contains(bus.topics[0], "/8/1700000256/") {
		t.Errorf("published = %v, want only the newer block", bus.topics)
	}
}

func TestSyncSkipsLowerRids(t *testing.T) {
	clock := &fakeClock{now: 1800000000}
	e, bus, st := testEngine(t, clock)

	writeSimpleBlock(t, st, "67ef", 1, 8, 1700000256)
	writeSimpleBlock(t, st, "67ef", 2, 8, 1700000256)
	writeSimpleBlock(t, st, "67ef", 3, 8, 1700000256)

	e.sync1([]Watermark{{Sid: "67ef", Rid: 2, Lvl: 8, Bid: 1700000000}})
	if err := e.sync2(); err != nil {
		t.Fatalf("sync2() error = %v", err)
	}

	if len(bus.topics) != 2 {
		t.Fatalf("published = %v, want rids 2 and 3 only", bus.topics)
	}
	if !strings.Contains(bus.topics[0], "/tmpo/2/") || !strings.Contains(bus.topics[1], "/tmpo/3/") {
		t.Errorf("published = %v, want ascending rids >= 2", bus.topics)
	}
}

func TestSyncListIsOneShot(t *testing.T) {
	clock := &fakeClock{now: 1800000000}
	e, bus, st := testEngine(t, clock)

	writeSimpleBlock(t, st, "67ef", 0, 8, 1700000256)

	e.sync1([]Watermark{{Sid: "67ef", Rid: 0, Lvl: 8, Bid: 1700000000}})
	if err := e.sync2(); err != nil {
		t.Fatalf("sync2() error = %v", err)
	}
	published := len(bus.topics)

	// The list was consumed: a second pass publishes nothing.
	if err := e.sync2(); err != nil {
		t.Fatalf("sync2() error = %v", err)
	}
	if len(bus.topics) != published {
		t.Errorf("second sync2() republished: %v", bus.topics)
	}
}

func TestSyncOverwritesPendingList(t *testing.T) {
	clock := &fakeClock{now: 1800000000}
	e, bus, st := testEngine(t, clock)

	writeSimpleBlock(t, st, "67ef", 0, 8, 1700000256)
	writeSimpleBlock(t, st, "0123ab", 0, 8, 1700000256)

	// Two requests before a tick: the second wins.
	e.sync1([]Watermark{{Sid: "0123ab", Rid: 0, Lvl: 8, Bid: 1700000000}})
	e.sync1([]Watermark{{Sid: "67ef", Rid: 0, Lvl: 8, Bid: 1700000000}})
	if err := e.sync2(); err != nil {
		t.Fatalf("sync2() error = %v", err)
	}

	if len(bus.topics) != 1 || !strings.Contains(bus.topics[0], "/sensor/67ef/") {
		t.Errorf("published = %v, want only the second request's sensor", bus.topics)
	}
}
