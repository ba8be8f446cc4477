package tmpo

import (
	"github.com/meterlog/tmpod/internal/infrastructure/logging"
	"github.com/meterlog/tmpod/internal/metrics"
)

// gcLevel is the only level the garbage collector touches: history is erased
// coarsest-first, and coarser blocks already subsume their former inputs.
const gcLevel = 20

// gc20 evicts the oldest level-20 blocks when the filesystem fills up.
//
// The policy is strict oldest-first across the entire device: every level-20
// file sharing the minimum bid is unlinked, regardless of sensor. One
// invocation removes exactly one bid; if the store is still too full the next
// tick evicts the next one.
func (e *Engine) gc20() {
	total := e.space.TotalBlocks()
	if total == 0 {
		return
	}
	fill := 1 - float64(e.space.FreeBlocks())/float64(total)
	metrics.StoreFillRatio.Set(fill)
	if fill < e.gcThreshold {
		return
	}

	type location struct {
		sid string
		rid int
	}
	var (
		oldest  uint32
		found   bool
		victims []location
	)

	sids, err := e.store.Sensors()
	if err != nil {
		e.log.Error("gc: listing sensors failed", "error", err)
		return
	}
	for _, sid := range sids {
		rids, err := e.store.Rids(sid)
		if err != nil {
			e.log.Error("gc: listing rids failed", "sensor", sid, "error", err)
			continue
		}
		for _, rid := range rids {
			bids, err := e.store.Bids(sid, rid, gcLevel)
			if err != nil {
				e.log.Error("gc: listing blocks failed", "sensor", sid, "rid", rid, "error", err)
				continue
			}
			for _, bid := range bids {
				switch {
				case !found || bid < oldest:
					oldest, found = bid, true
					victims = victims[:0]
					victims = append(victims, location{sid: sid, rid: rid})
				case bid == oldest:
					victims = append(victims, location{sid: sid, rid: rid})
				}
			}
		}
	}
	if !found {
		return
	}

	for _, v := range victims {
		if err := e.store.Unlink(v.sid, v.rid, gcLevel, oldest); err != nil {
			e.log.WithSensor(v.sid, v.rid).Error("gc: unlink failed",
				logging.Block(gcLevel, oldest), "error", err)
			continue
		}
		metrics.GCEvictionsTotal.Inc()
		e.log.WithSensor(v.sid, v.rid).Info("gc: evicted block",
			logging.Block(gcLevel, oldest), "fill", fill)
	}
}
