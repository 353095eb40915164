// Package metrics exports crawl summaries in the Prometheus text format, for
// the node-exporter textfile collector.
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/qubic/qutedb-crawler/pkg/artifact"
	"github.com/qubic/qutedb-crawler/pkg/crawler"
)

const namespace = "qutedb_crawler"

// Metrics holds the gauges describing the last crawl.
type Metrics struct {
	registry *prometheus.Registry

	testRuns    prometheus.Gauge
	directories prometheus.Gauge
	unreadable  prometheus.Gauge
	duration    prometheus.Gauge
	lastRun     prometheus.Gauge
	artifacts   *prometheus.GaugeVec
}

// New creates the crawl gauges on a private registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		testRuns: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "test_runs",
			Help:      "Number of test-run directories processed by the last crawl",
		}),
		directories: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "directories",
			Help:      "Number of container directories listed by the last crawl",
		}),
		unreadable: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "unreadable_directories",
			Help:      "Number of directories the last crawl could not list",
		}),
		duration: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "duration_seconds",
			Help:      "Wall time of the last crawl",
		}),
		lastRun: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time at which the last crawl started",
		}),
		artifacts: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "artifacts",
			Help:      "Artifacts of the last crawl by kind and outcome",
		}, []string{
			"kind",
			"status",
		}),
	}

	m.registry.MustRegister(
		m.testRuns,
		m.directories,
		m.unreadable,
		m.duration,
		m.lastRun,
		m.artifacts,
	)

	return m
}

// Observe sets every gauge from summary.
func (m *Metrics) Observe(summary *crawler.Summary) {
	m.testRuns.Set(float64(summary.TestRuns))
	m.directories.Set(float64(summary.Directories))
	m.unreadable.Set(float64(summary.Unreadable))
	m.duration.Set(summary.Duration.Seconds())
	m.lastRun.Set(float64(summary.StartedAt.Unix()))

	for _, status := range artifact.Statuses {
		m.artifacts.WithLabelValues(string(artifact.KindThumbnail), string(status)).
			Set(float64(summary.Thumbnails[status]))
		m.artifacts.WithLabelValues(string(artifact.KindMetadata), string(status)).
			Set(float64(summary.Metadata[status]))
	}
}

// WriteTextfile writes the gauges to path atomically.
func (m *Metrics) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("writing metrics textfile: %w", err)
	}

	return nil
}

// Gatherer exposes the registry.
func (m *Metrics) Gatherer() prometheus.Gatherer {
	return m.registry
}
