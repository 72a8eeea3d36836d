package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus counters, histograms, and gauges for the converter.
type Metrics struct {
	ItemsProcessed   *prometheus.CounterVec // labels: outcome={success,failure,cache_hit}
	RecordsProcessed prometheus.Counter
	BatchRunning     prometheus.Gauge

	// Batch processing metrics.
	BatchDuration prometheus.Histogram
	ItemDuration  prometheus.Histogram

	// Streaming transform metrics.
	ChunksProcessed prometheus.Counter
	ChunkFailures   prometheus.Counter
	MemoryPeakMB    prometheus.Gauge

	// Outcome cache metrics.
	CacheHits      prometheus.Counter
	CacheMisses    prometheus.Counter
	CacheEvictions *prometheus.CounterVec // labels: reason={expired,size}
	CacheBytes     prometheus.Gauge

	// Download metrics.
	DownloadRetries prometheus.Counter
	Downloads       *prometheus.CounterVec // labels: outcome={success,error,reused}
}

// NewMetrics creates and registers all converter metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		ItemsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "knmi_epw",
			Name:      "items_processed_total",
			Help:      "Station-year items processed, by outcome.",
		}, []string{"outcome"}),
		RecordsProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "knmi_epw",
			Name:      "records_processed_total",
			Help:      "Hourly records converted across all items.",
		}),
		BatchRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "knmi_epw",
			Name:      "batch_running",
			Help:      "1 while a batch run is active, 0 otherwise.",
		}),
		BatchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "knmi_epw",
			Name:      "batch_duration_seconds",
			Help:      "Wall-clock duration of a whole batch run.",
			Buckets:   []float64{0.5, 1, 5, 15, 30, 60, 120, 300, 600},
		}),
		ItemDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "knmi_epw",
			Name:      "item_duration_seconds",
			Help:      "Duration of one station-year conversion.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30},
		}),
		ChunksProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "knmi_epw",
			Name:      "chunks_processed_total",
			Help:      "Raw data chunks transformed during streaming processing.",
		}),
		ChunkFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "knmi_epw",
			Name:      "chunk_failures_total",
			Help:      "Raw data chunks skipped after a transform failure.",
		}),
		MemoryPeakMB: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "knmi_epw",
			Name:      "memory_peak_mb",
			Help:      "Peak resident set size observed during streaming, in MB.",
		}),
		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "knmi_epw",
			Name:      "cache_hits_total",
			Help:      "Disk cache lookups that returned a valid entry.",
		}),
		CacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "knmi_epw",
			Name:      "cache_misses_total",
			Help:      "Disk cache lookups that found nothing usable.",
		}),
		CacheEvictions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "knmi_epw",
			Name:      "cache_evictions_total",
			Help:      "Cache entries removed, by reason.",
		}, []string{"reason"}),
		CacheBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "knmi_epw",
			Name:      "cache_bytes",
			Help:      "Total on-disk size of cached payloads.",
		}),
		DownloadRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "knmi_epw",
			Name:      "download_retries_total",
			Help:      "HTTP download attempts beyond the first.",
		}),
		Downloads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "knmi_epw",
			Name:      "downloads_total",
			Help:      "Archive downloads, by outcome.",
		}, []string{"outcome"}),
	}

	prometheus.MustRegister(
		m.ItemsProcessed,
		m.RecordsProcessed,
		m.BatchRunning,
		m.BatchDuration,
		m.ItemDuration,
		m.ChunksProcessed,
		m.ChunkFailures,
		m.MemoryPeakMB,
		m.CacheHits,
		m.CacheMisses,
		m.CacheEvictions,
		m.CacheBytes,
		m.DownloadRetries,
		m.Downloads,
	)

	return m
}

// NewMetricsForTesting creates Metrics without registering, avoiding
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return &Metrics{
		ItemsProcessed:   prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: "knmi_epw", Name: "items_processed_total"}, []string{"outcome"}),
		RecordsProcessed: prometheus.NewCounter(prometheus.CounterOpts{Namespace: "knmi_epw", Name: "records_processed_total"}),
		BatchRunning:     prometheus.NewGauge(prometheus.GaugeOpts{Namespace: "knmi_epw", Name: "batch_running"}),
		BatchDuration:    prometheus.NewHistogram(prometheus.HistogramOpts{Namespace: "knmi_epw", Name: "batch_duration_seconds"}),
		ItemDuration:     prometheus.NewHistogram(prometheus.HistogramOpts{Namespace: "knmi_epw", Name: "item_duration_seconds"}),
		ChunksProcessed:  prometheus.NewCounter(prometheus.CounterOpts{Namespace: "knmi_epw", Name: "chunks_processed_total"}),
		ChunkFailures:    prometheus.NewCounter(prometheus.CounterOpts{Namespace: "knmi_epw", Name: "chunk_failures_total"}),
		MemoryPeakMB:     prometheus.NewGauge(prometheus.GaugeOpts{Namespace: "knmi_epw", Name: "memory_peak_mb"}),
		CacheHits:        prometheus.NewCounter(prometheus.CounterOpts{Namespace: "knmi_epw", Name: "cache_hits_total"}),
		CacheMisses:      prometheus.NewCounter(prometheus.CounterOpts{Namespace: "knmi_epw", Name: "cache_misses_total"}),
		CacheEvictions:   prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: "knmi_epw", Name: "cache_evictions_total"}, []string{"reason"}),
		CacheBytes:       prometheus.NewGauge(prometheus.GaugeOpts{Namespace: "knmi_epw", Name: "cache_bytes"}),
		DownloadRetries:  prometheus.NewCounter(prometheus.CounterOpts{Namespace: "knmi_epw", Name: "download_retries_total"}),
		Downloads:        prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: "knmi_epw", Name: "downloads_total"}, []string{"outcome"}),
	}
}
