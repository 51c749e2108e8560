// Package metrics wires the prometheus counters/gauges shared by
// tilar, tileset, and storage, following the teacher's
// pmtiles/server_metrics.go shape: package-level vectors registered in
// init(), one small accessor type per subsystem.
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

var archiveCacheRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "vts",
	Subsystem: "tilar",
	Name:      "cache_requests_total",
}, []string{"result"}) // "hit" | "miss"

var archiveOpenFiles = prometheus.NewGauge(prometheus.GaugeOpts{
	Namespace: "vts",
	Subsystem: "tilar",
	Name:      "open_archives",
})

var glueBuildDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "vts",
	Subsystem: "storage",
	Name:      "glue_build_duration_seconds",
}, []string{"result"}) // "ok" | "error"

var metatileCacheRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "vts",
	Subsystem: "tileset",
	Name:      "metatile_cache_requests_total",
}, []string{"result"})

func init() {
	for _, c := range []prometheus.Collector{
		archiveCacheRequests, archiveOpenFiles, glueBuildDuration, metatileCacheRequests,
	} {
		if err := prometheus.Register(c); err != nil {
			fmt.Println("metrics: error registering collector", err)
		}
	}
}

// ArchiveCacheHit/ArchiveCacheMiss record a tilar.Cache lookup outcome.
func ArchiveCacheHit()  { archiveCacheRequests.WithLabelValues("hit").Inc() }
func ArchiveCacheMiss() { archiveCacheRequests.WithLabelValues("miss").Inc() }

// SetOpenArchives reports the current count of open archive handles.
func SetOpenArchives(n int) { archiveOpenFiles.Set(float64(n)) }

// ObserveGlueBuild records how long one glue build took.
func ObserveGlueBuild(seconds float64, ok bool) {
	result := "ok"
	if !ok {
		result = "error"
	}
	glueBuildDuration.WithLabelValues(result).Observe(seconds)
}

// MetatileCacheHit/MetatileCacheMiss record a tileset metatile-cache lookup outcome.
func MetatileCacheHit()  { metatileCacheRequests.WithLabelValues("hit").Inc() }
func MetatileCacheMiss() { metatileCacheRequests.WithLabelValues("miss").Inc() }
