package tmpo

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/meterlog/tmpod/internal/infrastructure/mqtt"
	"github.com/meterlog/tmpod/internal/journal"
	"github.com/meterlog/tmpod/internal/metrics"
	"github.com/meterlog/tmpod/internal/sensor"
	"github.com/meterlog/tmpod/internal/uplink"
)

// eventQueueSize bounds the tick loop's inbox. A full queue drops events
// rather than blocking paho's delivery goroutines; ticks are periodic and
// uplinks are re-sent by the gateway.
const eventQueueSize = 256

// eventKind identifies a tick loop input source.
type eventKind int

const (
	evTick eventKind = iota
	evSync
	evUplink
)

// event is one queued tick loop input.
type event struct {
	kind     eventKind
	payload  []byte
	retained bool
}

// Run subscribes the engine's three input topics and drives the tick loop
// until the context is cancelled.
//
// All core state transitions happen on this goroutine; MQTT handlers only
// enqueue.
func (e *Engine) Run(ctx context.Context) error {
	events := make(chan event, eventQueueSize)
	enqueue := func(ev event) {
		select {
		case events <- ev:
		default:
		}
	}

	err := e.bus.Bind(e.deviceID, mqtt.Handlers{
		Tick: func() {
			enqueue(event{kind: evTick})
		},
		Sync: func(payload []byte) {
			enqueue(event{kind: evSync, payload: payload})
		},
		Uplink: func(payload []byte, retained bool) {
			enqueue(event{kind: evUplink, payload: payload, retained: retained})
		},
	})
	if err != nil {
		return fmt.Errorf("binding inbound flows: %w", err)
	}

	e.log.Info("engine running",
		"device", e.deviceID,
		"sensors", e.reg.SensorCount(),
	)

	for {
		select {
		case <-ctx.Done():
			// Final forced flush so a clean shutdown leaves no open
			// buffers behind.
			if _, err := e.flush8(true); err != nil {
				e.log.Error("shutdown flush failed", "error", err)
			}
			return nil
		case ev := <-events:
			e.dispatch(ev)
		}
	}
}

// dispatch routes one queued event.
func (e *Engine) dispatch(ev event) {
	switch ev.kind {
	case evTick:
		if err := e.tick(); err != nil {
			e.log.Error("tick aborted", "error", err)
		}
	case evSync:
		var list []Watermark
		if err := json.Unmarshal(ev.payload, &list); err != nil {
			e.log.Warn("sync: dropping malformed watermark list", "error", err)
			return
		}
		e.sync1(list)
	case evUplink:
		if ev.retained {
			return
		}
		e.handleUplink(ev.payload)
	}
}

// tick runs one heartbeat: sync republish, then gc, then flush, then one
// compaction step. The order is load-bearing: a level-8 block is always
// fully written and published before compaction can observe it.
func (e *Engine) tick() error {
	if err := e.sync2(); err != nil {
		return err
	}
	e.gc20()

	flushed, err := e.flush8(false)
	if err != nil {
		return err
	}
	if flushed && e.comp == nil {
		comp, cerr := e.newCompactor(e.clock())
		if cerr != nil {
			e.log.Error("compact: scanning store failed", "error", cerr)
		} else {
			e.comp = comp
		}
	}
	if e.comp != nil {
		more, serr := e.comp.Step(e.clock())
		if !more {
			e.comp = nil
		}
		if serr != nil {
			return serr
		}
	}
	return nil
}

// handleUplink decodes one gateway uplink and pushes its readings.
//
// An unknown device drops the whole uplink; a zero counter means no reading
// for that slot this interval.
func (e *Engine) handleUplink(payload []byte) {
	u, err := uplink.Decode(payload)
	if err != nil {
		metrics.UplinksDroppedTotal.Inc()
		e.log.Warn("uplink: dropping undecodable payload", "error", err)
		return
	}

	dev := e.reg.Device(u.DevID)
	if dev == nil {
		metrics.UplinksDroppedTotal.Inc()
		e.log.Warn("uplink: unknown device", "serial", u.DevID)
		return
	}

	for i, slot := range uplink.CounterSlots {
		counter := u.Counters[i]
		if counter == 0 {
			continue
		}
		s := dev.SensorAt(slot)
		if s == nil || !s.Logged() {
			continue
		}
		e.push8(s.ID, u.Time, float64(counter), s.Unit)
		e.mirror(s, u.Time, float64(counter))
	}
}

// mirror forwards a decoded reading to the optional sinks. It runs for every
// non-zero counter of a logged sensor, including readings push8 drops.
func (e *Engine) mirror(s *sensor.Params, t uint32, v float64) {
	if e.influx != nil {
		e.influx.WriteCounterReading(s.ID, s.Rid, s.Unit, v, time.Unix(int64(t), 0))
	}
	if e.journal != nil {
		r := journal.Reading{SensorID: s.ID, Rid: s.Rid, Time: t, Value: v}
		if err := e.journal.RecordReading(context.Background(), r); err != nil {
			e.log.Warn("journal: recording reading failed", "error", err)
		}
	}
}
