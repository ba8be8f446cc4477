package tmpo

import (
	"errors"

	"github.com/meterlog/tmpod/internal/block"
	"github.com/meterlog/tmpod/internal/infrastructure/logging"
	"github.com/meterlog/tmpod/internal/metrics"
	"github.com/meterlog/tmpod/internal/store"
)

// graceSeconds is the tolerance added to close8 before flushing, absorbing
// late samples whose timestamps fall inside a just-closed bucket.
const graceSeconds = 64

// ceilAlign8 aligns a timestamp up to the next level-8 boundary.
func ceilAlign8(t uint32) uint32 {
	span := block.Span(8)
	return (t + span - 1) / span * span
}

// deferAlign8 computes the deferred closure boundary used while compaction
// is paced: ceil(now/256 + 0.5) * 256, at least one half-span ahead.
func deferAlign8(t uint32) uint32 {
	span := block.Span(8)
	return (t + span/2 + span - 1) / span * span
}

// flush8 closes and persists every buffered block older than close8.
//
// force advances the comparison clock by one span plus the grace window so
// every buffered block becomes flushable; used at shutdown and in tests.
//
// Returns true when the closure boundary advanced (even if no block was
// buffered), false when the grace window has not yet expired or the clock is
// unsynced. A publish failure aborts the flush mid-way; already-written
// blocks were removed from the buffer, the rest retry on the next tick.
func (e *Engine) flush8(force bool) (bool, error) {
	now := e.clock()
	if force {
		now += block.Span(8) + graceSeconds
	}
	if now < block.TimestampMin {
		return false, nil
	}
	if e.close8 == 0 {
		e.close8 = ceilAlign8(now)
	}
	if now < e.close8+graceSeconds {
		return false, nil
	}

	for _, sid := range e.sortedSids() {
		rids := e.buffer[sid]
		for _, rid := range sortedRids(rids) {
			bids := rids[rid]
			for _, bid := range sortedBids(bids) {
				if bid >= e.close8 {
					continue
				}
				b := bids[bid]
				if err := e.store.WriteBlock(sid, rid, 8, bid, b); err != nil {
					if !errors.Is(err, store.ErrBlockExists) {
						// Transient I/O: keep the block buffered and
						// retry on the next flush.
						e.log.WithSensor(sid, rid).Error("flush: writing block failed",
							logging.Block(8, bid), "error", err)
						continue
					}
				} else {
					metrics.BlocksWrittenTotal.WithLabelValues(lvlLabel(8)).Inc()
				}
				delete(bids, bid)
				if err := e.publishBlock(sid, rid, 8, bid); err != nil {
					return true, err
				}
				e.log.WithSensor(sid, rid).Debug("flushed block",
					logging.Block(8, bid), "samples", b.Len())
			}
			if len(bids) == 0 {
				delete(rids, rid)
			}
		}
		if len(rids) == 0 {
			delete(e.buffer, sid)
		}
	}

	e.close8 = ceilAlign8(now)
	return true, nil
}
