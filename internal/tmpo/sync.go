package tmpo

import (
	"github.com/meterlog/tmpod/internal/block"
	"github.com/meterlog/tmpod/internal/metrics"
)

// Watermark is one entry of a remote subscriber's last-known-block list.
type Watermark struct {
	Sid string `json:"sid"`
	Rid int    `json:"rid"`
	Lvl int    `json:"lvl"`
	Bid uint32 `json:"bid"`
}

// syncLevels is the republish order: coarsest first, so the remote ingests a
// quick overview before the fine detail arrives.
var syncLevels = []int{20, 16, 12, 8}

// sync1 stashes an incoming watermark list for the next tick.
//
// The slot holds one list: a second request arriving before the next tick
// overwrites the first. Last-writer-wins is safe because the remote retries
// and a newer list never asks for less than a stale one.
func (e *Engine) sync1(list []Watermark) {
	e.synclist = list
}

// sync2 republishes every local block newer than each pending watermark.
//
// For each watermark: local rids >= the watermark's rid in ascending order,
// levels coarsest-first, blocks in bid order. A block qualifies when its
// window tail is newer than the watermark's window tail. The list is consumed
// before publishing starts; a publish failure aborts the tick and drops the
// rest of the list (the remote re-requests).
func (e *Engine) sync2() error {
	if e.synclist == nil {
		return nil
	}
	list := e.synclist
	e.synclist = nil

	for _, wm := range list {
		if wm.Lvl < 0 || wm.Lvl > 31 {
			e.log.Warn("sync: ignoring watermark with invalid level", "sensor", wm.Sid, "lvl", wm.Lvl)
			continue
		}
		wmTail := uint64(wm.Bid) + uint64(block.Span(wm.Lvl)) - 1

		rids, err := e.store.Rids(wm.Sid)
		if err != nil {
			e.log.Error("sync: listing rids failed", "sensor", wm.Sid, "error", err)
			continue
		}
		for _, rid := range rids {
			if rid < wm.Rid {
				continue
			}
			for _, lvl := range syncLevels {
				bids, err := e.store.Bids(wm.Sid, rid, lvl)
				if err != nil {
					e.log.Error("sync: listing blocks failed",
						"sensor", wm.Sid, "rid", rid, "lvl", lvl, "error", err)
					continue
				}
				for _, bid := range bids {
					if uint64(bid)+uint64(block.Span(lvl))-1 <= wmTail {
						continue
					}
					if err := e.publishBlock(wm.Sid, rid, lvl, bid); err != nil {
						return err
					}
					metrics.SyncPublishesTotal.Inc()
				}
			}
		}
	}
	return nil
}
