package tmpo

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/meterlog/tmpod/internal/block"
	"github.com/meterlog/tmpod/internal/infrastructure/influxdb"
	"github.com/meterlog/tmpod/internal/infrastructure/logging"
	"github.com/meterlog/tmpod/internal/infrastructure/mqtt"
	"github.com/meterlog/tmpod/internal/journal"
	"github.com/meterlog/tmpod/internal/metrics"
	"github.com/meterlog/tmpod/internal/sensor"
	"github.com/meterlog/tmpod/internal/store"
)

// defaultGCFillThreshold is the filesystem fill ratio that triggers eviction
// when the configuration leaves it unset.
const defaultGCFillThreshold = 0.75

// Bus is the MQTT surface the engine needs. Satisfied by *mqtt.Client.
type Bus interface {
	PublishBlock(sid string, rid, lvl int, bid uint32, payload []byte) error
	Bind(deviceID string, h mqtt.Handlers) error
}

// SpaceReporter reports filesystem capacity in 4 KiB units. Satisfied by
// *store.Store; replaced by a fake in gc tests.
type SpaceReporter interface {
	FreeBlocks() uint64
	TotalBlocks() uint64
}

// Options configures an Engine.
type Options struct {
	// Store is the block store. Required.
	Store *store.Store

	// Registry is the sensor registry. Required.
	Registry *sensor.Registry

	// Bus is the MQTT client. Required.
	Bus Bus

	// Logger receives engine logs. Required.
	Logger *logging.Logger

	// DeviceID is this device's 32-hex identifier, used for the sync topic.
	DeviceID string

	// GCFillThreshold overrides the eviction threshold. 0 means default.
	GCFillThreshold float64

	// Space overrides the capacity source. nil means the store itself.
	Space SpaceReporter

	// Journal, when non-nil, records readings and publishes for diagnostics.
	Journal *journal.Journal

	// Influx, when non-nil, mirrors decoded uplink readings to InfluxDB.
	Influx *influxdb.Client

	// Clock overrides the wall clock. nil means time.Now. Tests only.
	Clock func() uint32
}

// Engine owns all core state: the level-8 ingest buffer, the flush boundary,
// the active compactor and the pending sync list.
//
// The engine is NOT safe for concurrent use. All methods except Run must be
// called from the tick loop goroutine; Run is that loop and runs it on the
// calling goroutine.
type Engine struct {
	store   *store.Store
	reg     *sensor.Registry
	bus     Bus
	log     *logging.Logger
	space   SpaceReporter
	journal *journal.Journal
	influx  *influxdb.Client

	deviceID    string
	gcThreshold float64
	clock       func() uint32

	// buffer holds open level-8 blocks: sid → rid → bid → block.
	// A block with bid < close8 stays here, still taking late samples, until
	// the first flush8 after close8 plus the grace window writes it out.
	buffer map[string]map[int]map[uint32]*block.Block

	// close8 is the next level-8 closure boundary. 0 until the first flush.
	close8 uint32

	// comp is the active compaction state machine, nil when idle.
	comp *Compactor

	// synclist is the one-shot pending watermark list, nil when empty.
	synclist []Watermark
}

// New creates an engine.
func New(opts Options) (*Engine, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("tmpo: store is required")
	}
	if opts.Registry == nil {
		return nil, fmt.Errorf("tmpo: registry is required")
	}
	if opts.Bus == nil {
		return nil, fmt.Errorf("tmpo: bus is required")
	}
	if opts.Logger == nil {
		return nil, fmt.Errorf("tmpo: logger is required")
	}

	e := &Engine{
		store:       opts.Store,
		reg:         opts.Registry,
		bus:         opts.Bus,
		log:         opts.Logger,
		space:       opts.Space,
		journal:     opts.Journal,
		influx:      opts.Influx,
		deviceID:    opts.DeviceID,
		gcThreshold: opts.GCFillThreshold,
		clock:       opts.Clock,
		buffer:      make(map[string]map[int]map[uint32]*block.Block),
	}
	if e.space == nil {
		e.space = opts.Store
	}
	if e.gcThreshold == 0 {
		e.gcThreshold = defaultGCFillThreshold
	}
	if e.clock == nil {
		e.clock = func() uint32 { return uint32(time.Now().Unix()) }
	}
	return e, nil
}

// push8 accepts one counter reading into the level-8 buffer.
//
// Readings below TimestampMin are dropped (unsynced clock). The rid and the
// cfg snapshot come from the registry; an unknown sensor gets rid 0 and a
// minimal cfg. The reading's unit overwrites the registry entry in place.
func (e *Engine) push8(sid string, t uint32, v float64, unit string) {
	if t < block.TimestampMin {
		metrics.SamplesDroppedTotal.Inc()
		return
	}

	rid := 0
	var cfg sensor.Params
	if params := e.reg.Sensor(sid); params != nil {
		if unit != "" {
			params.Unit = unit
		}
		rid = params.Rid
		cfg = *params
	} else {
		cfg = sensor.Params{ID: sid, Unit: unit}
	}

	bid := block.Align(t, 8)

	rids := e.buffer[sid]
	if rids == nil {
		rids = make(map[int]map[uint32]*block.Block)
		e.buffer[sid] = rids
	}
	bids := rids[rid]
	if bids == nil {
		bids = make(map[uint32]*block.Block)
		rids[rid] = bids
	}

	b := bids[bid]
	if b == nil {
		bids[bid] = block.New(t, v, cfg)
		metrics.SamplesTotal.Inc()
		return
	}
	if b.Push(t, v) {
		metrics.SamplesTotal.Inc()
	} else {
		metrics.SamplesDroppedTotal.Inc()
	}
}

// publishBlock publishes a persisted block's gzip bytes on its tmpo topic.
//
// Publish failures propagate to the caller and abort the current tick; the
// block stays on disk and a later sync can republish it.
func (e *Engine) publishBlock(sid string, rid, lvl int, bid uint32) error {
	raw, err := e.store.ReadRaw(sid, rid, lvl, bid)
	if err != nil {
		return err
	}

	if err := e.bus.PublishBlock(sid, rid, lvl, bid, raw); err != nil {
		return err
	}

	if e.journal != nil {
		if jerr := e.journal.RecordPublish(context.Background(), sid, rid, lvl, bid); jerr != nil {
			e.log.Warn("journal: recording publish failed", "error", jerr)
		}
	}
	return nil
}

// lvlLabel renders a level for metric labels.
func lvlLabel(lvl int) string {
	return strconv.Itoa(lvl)
}

// sortedSids returns the buffer's sensor ids in sorted order.
func (e *Engine) sortedSids() []string {
	sids := make([]string, 0, len(e.buffer))
	for sid := range e.buffer {
		sids = append(sids, sid)
	}
	sort.Strings(sids)
	return sids
}

// sortedRids returns a buffer level's rids in ascending order.
func sortedRids(m map[int]map[uint32]*block.Block) []int {
	rids := make([]int, 0, len(m))
	for rid := range m {
		rids = append(rids, rid)
	}
	sort.Ints(rids)
	return rids
}

// sortedBids returns a buffer level's bids in ascending order.
func sortedBids(m map[uint32]*block.Block) []uint32 {
	bids := make([]uint32, 0, len(m))
	for bid := range m {
		bids = append(bids, bid)
	}
	sort.Slice(bids, func(i, j int) bool { return bids[i] < bids[j] })
	return bids
}
