// Package metrics exposes Prometheus metrics for the inspector: scan counts
// and durations, region and entity totals, and suspicion counts by kind.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector holds the inspector's metric set on a dedicated registry.
type Collector struct {
	registry *prometheus.Registry

	scansTotal      *prometheus.CounterVec
	scanDuration    prometheus.Histogram
	regionsScanned  prometheus.Counter
	entitiesScanned prometheus.Counter
	suspicionsTotal *prometheus.CounterVec
	dumpsWritten    prometheus.Counter
}

// New creates a collector with the standard Go and process collectors plus
// the inspector metrics registered under the given namespace.
func New(namespace string) *Collector {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	c := &Collector{
		registry: registry,
		scansTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scans_total",
			Help:      "Process scans attempted, by outcome.",
		}, []string{"outcome"}),
		scanDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "scan_duration_seconds",
			Help:      "Wall time of one process scan.",
			Buckets:   prometheus.DefBuckets,
		}),
		regionsScanned: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "regions_scanned_total",
			Help:      "Subregions observed across all scans.",
		}),
		entitiesScanned: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "entities_scanned_total",
			Help:      "Entities reconstructed across all scans.",
		}),
		suspicionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "suspicions_total",
			Help:      "Suspicions surviving the filter pass, by kind.",
		}, []string{"kind"}),
		dumpsWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dumps_written_total",
			Help:      "Memory dump files written.",
		}),
	}

	registry.MustRegister(
		c.scansTotal, c.scanDuration, c.regionsScanned,
		c.entitiesScanned, c.suspicionsTotal, c.dumpsWritten,
	)
	return c
}

// ScanCompleted records one finished scan.
func (c *Collector) ScanCompleted(outcome string, duration time.Duration, regions, entities int) {
	c.scansTotal.WithLabelValues(outcome).Inc()
	c.scanDuration.Observe(duration.Seconds())
	c.regionsScanned.Add(float64(regions))
	c.entitiesScanned.Add(float64(entities))
}

// ScanFailed records one aborted scan.
func (c *Collector) ScanFailed(outcome string) {
	c.scansTotal.WithLabelValues(outcome).Inc()
}

// SuspicionFound records one filtered finding.
func (c *Collector) SuspicionFound(kind string) {
	c.suspicionsTotal.WithLabelValues(kind).Inc()
}

// DumpWritten records one dump file.
func (c *Collector) DumpWritten() {
	c.dumpsWritten.Inc()
}

// Handler serves the registry over HTTP.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Registry returns the underlying registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}
