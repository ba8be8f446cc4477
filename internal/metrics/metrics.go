// Package metrics exposes tmpod's operational counters to Prometheus.
//
// All metrics are global and label-bounded (the only label is the pyramid
// level), so recording is allocation-free on the hot path. When no endpoint
// is served the registrations are harmless.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// SamplesTotal counts counter readings accepted into the ingest buffer.
	SamplesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tmpod_samples_total",
		Help: "Counter readings accepted into the level-8 ingest buffer",
	})

	// SamplesDroppedTotal counts readings dropped for non-monotonic timestamps
	// or for a timestamp below block.TimestampMin (unsynced clock).
	SamplesDroppedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tmpod_samples_dropped_total",
		Help: "Readings dropped by the monotonicity check or unsynced clock",
	})

	// UplinksDroppedTotal counts whole uplinks dropped (unknown device, bad payload).
	UplinksDroppedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tmpod_uplinks_dropped_total",
		Help: "Gateway uplinks dropped before decoding any reading",
	})

	// BlocksWrittenTotal counts blocks persisted to the store, per level.
	BlocksWrittenTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tmpod_blocks_written_total",
		Help: "Blocks written to the local store",
	}, []string{"lvl"})

	// CompactionsTotal counts completed compaction groups, per source level.
	CompactionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tmpod_compactions_total",
		Help: "Completed compaction groups by source level",
	}, []string{"lvl"})

	// GCEvictionsTotal counts level-20 blocks evicted by the garbage collector.
	GCEvictionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tmpod_gc_evictions_total",
		Help: "Level-20 blocks unlinked by the oldest-first garbage collector",
	})

	// SyncPublishesTotal counts blocks republished in response to sync requests.
	SyncPublishesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tmpod_sync_publishes_total",
		Help: "Blocks republished by the sync engine",
	})

	// StoreFillRatio is the fill ratio of the filesystem holding the store.
	StoreFillRatio = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "tmpod_store_fill_ratio",
		Help: "Fill ratio (1 - free/total) of the block store filesystem",
	})
)

func init() {
	// Register metrics eagerly. If no Prometheus endpoint is exposed, the
	// registration is harmless.
	prometheus.MustRegister(
		SamplesTotal,
		SamplesDroppedTotal,
		UplinksDroppedTotal,
		BlocksWrittenTotal,
		CompactionsTotal,
		GCEvictionsTotal,
		SyncPublishesTotal,
		StoreFillRatio,
	)
}

// Serve exposes /metrics on the given addr in a background goroutine.
func Serve(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		_ = server.ListenAndServe()
	}()
}
