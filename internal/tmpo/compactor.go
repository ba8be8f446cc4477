package tmpo

import (
	"encoding/json"
	"fmt"
	"io"
	"runtime"
	"strconv"

	"github.com/meterlog/tmpod/internal/block"
	"github.com/meterlog/tmpod/internal/infrastructure/logging"
	"github.com/meterlog/tmpod/internal/metrics"
	"github.com/meterlog/tmpod/internal/store"
)

// cursor is one position in the compaction traversal.
type cursor struct {
	sid string
	rid int
	lvl int
}

// Compactor is the compaction state machine.
//
// One Compactor instance corresponds to one traversal of the pyramid. Each
// Step call performs at most one full merge of one sibling group, then keeps
// yielding until its pacing deadline passes: the longer a merge took, the
// longer the pause before the next, so ingest traffic is never starved. The
// tick loop discards the instance once Step reports no more work.
//
// A Compactor may be dropped at any point without loss of safety: a group is
// either fully committed (coarse block written, inputs unlinked) or fully
// reversible (inputs present, any partial output removed here or by the
// startup scrub).
type Compactor struct {
	e    *Engine
	work []cursor
	idx  int

	// Pacing state: costart is when the current work phase began, costop
	// when the last group finished.
	costart uint32
	costop  uint32
	pacing  bool
}

// newCompactor snapshots the traversal order from the store.
//
// Levels are visited finest-first within each (sensor, rid), so blocks
// produced by merging level 8 are picked up by the level-12 pass of the same
// traversal.
func (e *Engine) newCompactor(now uint32) (*Compactor, error) {
	sids, err := e.store.Sensors()
	if err != nil {
		return nil, err
	}

	var work []cursor
	for _, sid := range sids {
		rids, err := e.store.Rids(sid)
		if err != nil {
			return nil, err
		}
		for _, rid := range rids {
			for _, lvl := range block.Levels[:len(block.Levels)-1] {
				work = append(work, cursor{sid: sid, rid: rid, lvl: lvl})
			}
		}
	}
	return &Compactor{e: e, work: work, costart: now}, nil
}

// Step resumes the state machine once.
//
// Returns more=false when the traversal is exhausted; the caller discards
// the Compactor. The returned error is a publish failure and aborts the
// current tick; I/O errors are handled internally by skipping the affected
// group.
func (c *Compactor) Step(now uint32) (more bool, err error) {
	if now < block.TimestampMin {
		return true, nil
	}

	if c.pacing {
		if now < c.costop+1+(c.costop-c.costart)/2 {
			// While paced, push the flush boundary ahead so the flusher
			// does not close the level-8 window compaction runs beside.
			c.e.deferClose8(now)
			return true, nil
		}
		c.pacing = false
		c.costart = now
	}

	for c.idx < len(c.work) {
		cur := c.work[c.idx]
		group, err := c.selectGroup(cur, now)
		if err != nil {
			c.e.log.WithSensor(cur.sid, cur.rid).Error("compact: listing blocks failed",
				"lvl", cur.lvl, "error", err)
			c.idx++
			continue
		}
		if len(group) == 0 {
			c.idx++
			continue
		}

		cid := block.CompactionID(group[0], cur.lvl)
		clvl := cur.lvl + block.LevelStep

		// Never overwrite: if the coarse block exists this group is a
		// leftover from an interrupted run. Unlink the inputs and
		// re-select at the same position.
		if c.e.store.Exists(cur.sid, cur.rid, clvl, cid) {
			c.unlinkGroup(cur, group)
			continue
		}

		if err := c.merge(cur, group, cid); err != nil {
			c.e.log.WithSensor(cur.sid, cur.rid).Error("compact: merging group failed",
				logging.Block(clvl, cid), "error", err)
			c.idx++
			continue
		}

		c.unlinkGroup(cur, group)
		metrics.BlocksWrittenTotal.WithLabelValues(lvlLabel(clvl)).Inc()
		metrics.CompactionsTotal.WithLabelValues(lvlLabel(cur.lvl)).Inc()
		c.e.log.WithSensor(cur.sid, cur.rid).Info("compacted group",
			logging.Block(clvl, cid), "inputs", len(group))

		// Bound resident memory between groups; merge buffers on a
		// 64 MiB device are worth reclaiming eagerly.
		runtime.GC()

		c.costop = now
		c.pacing = true

		return true, c.e.publishBlock(cur.sid, cur.rid, clvl, cid)
	}

	return false, nil
}

// selectGroup picks the earliest compactable sibling group at the cursor.
//
// The group is non-empty only when the coarse window containing the earliest
// block has already closed; every level-8 block in a closed window has been
// flushed, so the merge never observes an open buffer.
func (c *Compactor) selectGroup(cur cursor, now uint32) ([]uint32, error) {
	bids, err := c.e.store.Bids(cur.sid, cur.rid, cur.lvl)
	if err != nil {
		return nil, err
	}
	if len(bids) == 0 {
		return nil, nil
	}

	cspan := block.Span(cur.lvl + block.LevelStep)
	window := bids[0] / cspan
	if window >= now/cspan {
		return nil, nil
	}

	group := []uint32{bids[0]}
	for _, bid := range bids[1:] {
		if bid/cspan != window {
			break
		}
		group = append(group, bid)
	}
	return group, nil
}

// unlinkGroup removes the input blocks of a committed or superseded group.
// Unlink failures are logged and ignored; the startup compact-check collects
// stragglers.
func (c *Compactor) unlinkGroup(cur cursor, group []uint32) {
	for _, bid := range group {
		if err := c.e.store.Unlink(cur.sid, cur.rid, cur.lvl, bid); err != nil {
			c.e.log.WithSensor(cur.sid, cur.rid).Error("compact: unlinking input failed",
				logging.Block(cur.lvl, bid), "error", err)
		}
	}
}

// merge streams a sibling group into one coarse block.
//
// The merged header is the LAST input's header with head replaced by the
// FIRST input's head: cfg, tail and vsn survive from the final input, so a
// sensor reconfiguration mid-window is preserved in the coarse block. Delta
// text is copied through verbatim; only the stitch delta between consecutive
// inputs is computed here.
//
// On any error the partial output is removed and the inputs are left intact
// for the next traversal.
func (c *Compactor) merge(cur cursor, group []uint32, cid uint32) error {
	readers := make([]*store.Reader, 0, len(group))
	defer func() {
		for _, r := range readers {
			r.Close()
		}
	}()

	// Headers first: the merged header needs the last input's cfg before
	// any delta text is written. Each reader is left positioned at the
	// start of its time array.
	headers := make([]block.Header, len(group))
	for i, bid := range group {
		r, err := c.e.store.OpenStream(cur.sid, cur.rid, cur.lvl, bid)
		if err != nil {
			return err
		}
		readers = append(readers, r)

		seg, err := r.Next()
		if err != nil {
			return err
		}
		if seg.Kind != store.SegmentHeader {
			return fmt.Errorf("tmpo: block %d: expected header segment, got %s", bid, seg.Kind)
		}
		if err := json.Unmarshal(seg.Chunk, &headers[i]); err != nil {
			return fmt.Errorf("tmpo: block %d: decoding header: %w", bid, err)
		}
	}

	// Inputs must chain strictly forward in time or the stitched deltas
	// would corrupt the coarse block.
	for i := 1; i < len(headers); i++ {
		if headers[i].Head.Time <= headers[i-1].Tail.Time {
			return fmt.Errorf("tmpo: group at %d: inputs overlap at index %d", cid, i)
		}
	}

	merged := headers[len(headers)-1]
	merged.Head = headers[0].Head
	hjson, err := json.Marshal(merged)
	if err != nil {
		return fmt.Errorf("tmpo: encoding merged header: %w", err)
	}

	sink, err := c.e.store.CreateSink(cur.sid, cur.rid, cur.lvl+block.LevelStep, cid)
	if err != nil {
		return err
	}
	defer sink.Abort()

	if err := writeAll(sink, `{"h":`, string(hjson), `,"t":[0`); err != nil {
		return err
	}
	for i, r := range readers {
		if i > 0 {
			dt := headers[i].Head.Time - headers[i-1].Tail.Time
			if err := writeAll(sink, ",", strconv.FormatUint(uint64(dt), 10)); err != nil {
				return err
			}
		}
		if err := copySegments(sink, r, store.SegmentTime); err != nil {
			return err
		}
	}

	if err := writeAll(sink, `],"v":[0`); err != nil {
		return err
	}
	for i, r := range readers {
		if i > 0 {
			dv := block.RoundDelta(headers[i].Head.Value - headers[i-1].Tail.Value)
			if err := writeAll(sink, ",", block.FormatValue(dv)); err != nil {
				return err
			}
		}
		if err := copySegments(sink, r, store.SegmentValue); err != nil {
			return err
		}
	}

	if err := writeAll(sink, `]}`); err != nil {
		return err
	}
	return sink.Commit()
}

// copySegments streams one delta array from a reader into the sink.
func copySegments(w io.Writer, r *store.Reader, kind store.SegmentKind) error {
	for {
		seg, err := r.Next()
		if err != nil {
			return err
		}
		if seg.Kind != kind {
			return fmt.Errorf("tmpo: expected %s segment, got %s", kind, seg.Kind)
		}
		if len(seg.Chunk) > 0 {
			if _, err := w.Write(seg.Chunk); err != nil {
				return err
			}
		}
		if seg.Last {
			return nil
		}
	}
}

// writeAll writes a sequence of strings to the sink.
func writeAll(w io.Writer, parts ...string) error {
	for _, p := range parts {
		if _, err := io.WriteString(w, p); err != nil {
			return err
		}
	}
	return nil
}

// deferClose8 pushes the flush boundary ahead of the current wall clock by at
// least half a span. Only ever advances.
func (e *Engine) deferClose8(now uint32) {
	if next := deferAlign8(now); next > e.close8 {
		e.close8 = next
	}
}
