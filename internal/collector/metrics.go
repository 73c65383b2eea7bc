// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

package collector

import (
	"database/sql"
	"strconv"
	"time"

	"github.com/go-gorp/gorp/v3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sapcc/go-bits/logg"
	"github.com/sapcc/go-bits/sqlext"
)

////////////////////////////////////////////////////////////////////////////////
// pipeline metrics

var resumeRestartsCounter = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "tabularium_resume_restarts_total",
		Help: "Number of ingest runs that restarted from a persisted resume token.",
	},
)

var duplicatesSkippedCounter = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "tabularium_duplicates_skipped_total",
		Help: "Number of discovery records dropped by session deduplication.",
	},
	[]string{"region"},
)

var batchesCounter = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "tabularium_batches_total",
		Help: "Number of committed ingest batches.",
	},
	[]string{"region"},
)

var itemsCounter = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "tabularium_items_total",
		Help: "Number of unique discovery records committed by the ingest pipeline.",
	},
	[]string{"region"},
)

var batchDurationHistogram = prometheus.NewHistogram(
	prometheus.HistogramOpts{
		Name:    "tabularium_batch_duration_ms",
		Help:    "Duration of one ingest batch commit in milliseconds.",
		Buckets: prometheus.ExponentialBuckets(10, 2, 10),
	},
)

var pipelineDurationHistogram = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "tabularium_pipeline_duration_ms",
		Help:    "Duration of one full ingest run in milliseconds.",
		Buckets: prometheus.ExponentialBuckets(100, 2, 12),
	},
	[]string{"regions", "dry_run"},
)

// RegisterPipelineMetrics registers the ingest pipeline's instruments with
// the given registry. The collect and ingest tasks call this once at
// startup.
func RegisterPipelineMetrics(registerer prometheus.Registerer) {
	registerer.MustRegister(
		resumeRestartsCounter,
		duplicatesSkippedCounter,
		batchesCounter,
		itemsCounter,
		batchDurationHistogram,
		pipelineDurationHistogram,
	)
}

// PromMetrics lowers the pipeline's metric calls onto the package-level
// Prometheus instruments. Metric names on this interface are bare; the
// Prometheus side carries the tabularium_ prefix.
type PromMetrics struct{}

// Increment implements the core.MetricsSink interface.
func (PromMetrics) Increment(name string, value float64, tags map[string]string) {
	switch name {
	case "resume_restarts_total":
		resumeRestartsCounter.Add(value)
	case "duplicates_skipped_total":
		duplicatesSkippedCounter.WithLabelValues(tags["region"]).Add(value)
	case "batches_total":
		batchesCounter.WithLabelValues(tags["region"]).Add(value)
	case "items_total":
		itemsCounter.WithLabelValues(tags["region"]).Add(value)
	default:
		logg.Debug("PromMetrics: ignoring unknown counter %q", name)
	}
}

// Gauge implements the core.MetricsSink interface. The pipeline has no
// last-value metrics; aggregates over the catalog tables come from
// AggregateMetricsCollector instead.
func (PromMetrics) Gauge(name string, value float64, tags map[string]string) {
	logg.Debug("PromMetrics: ignoring unknown gauge %q", name)
}

// Timing implements the core.MetricsSink interface.
func (PromMetrics) Timing(name string, durationMS float64, tags map[string]string) {
	switch name {
	case "batch_duration_ms":
		batchDurationHistogram.Observe(durationMS)
	case "pipeline_duration_ms":
		pipelineDurationHistogram.WithLabelValues(tags["regions"], tags["dry_run"]).Observe(durationMS)
	default:
		logg.Debug("PromMetrics: ignoring unknown timing %q", name)
	}
}

// initRegionCounters makes the labeled pipeline counters visible with value
// zero before the first increment.
func initRegionCounters(regions []string) {
	for _, region := range regions {
		duplicatesSkippedCounter.WithLabelValues(region).Add(0)
		batchesCounter.WithLabelValues(region).Add(0)
		itemsCounter.WithLabelValues(region).Add(0)
	}
}

////////////////////////////////////////////////////////////////////////////////
// catalog aggregate metrics

var catalogHostsGauge = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "tabularium_hosts",
		Help: "Number of known portal hosts per region.",
	},
	[]string{"region"},
)

var catalogDomainsGauge = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "tabularium_domains",
		Help: "Number of known organizational domains per region.",
	},
	[]string{"region"},
)

var catalogDatasetsGauge = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "tabularium_datasets",
		Help: "Number of catalogued datasets per region, by active state.",
	},
	[]string{"region", "active"},
)

var minNextSyncAtGauge = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "tabularium_oldest_next_sync_at",
		Help: "Oldest (i.e. smallest) next_sync_at timestamp for any host in a region.",
	},
	[]string{"region"},
)

// AggregateMetricsCollector is a prometheus.Collector that submits
// dynamically-calculated aggregate metrics about the catalog contents and
// the sync schedule.
type AggregateMetricsCollector struct {
	DB *gorp.DbMap
}

// Describe implements the prometheus.Collector interface.
func (c *AggregateMetricsCollector) Describe(ch chan<- *prometheus.Desc) {
	catalogHostsGauge.Describe(ch)
	catalogDomainsGauge.Describe(ch)
	catalogDatasetsGauge.Describe(ch)
	minNextSyncAtGauge.Describe(ch)
}

var hostAggregateQuery = sqlext.SimplifyWhitespace(`
	SELECT region, COUNT(*), MIN(next_sync_at) FROM hosts GROUP BY region
`)

var domainAggregateQuery = sqlext.SimplifyWhitespace(`
	SELECT region, COUNT(*) FROM domains GROUP BY region
`)

var datasetAggregateQuery = sqlext.SimplifyWhitespace(`
	SELECT h.region, d.active, COUNT(*)
	  FROM datasets d JOIN hosts h ON h.host = d.host
	 GROUP BY h.region, d.active
`)

// Collect implements the prometheus.Collector interface.
func (c *AggregateMetricsCollector) Collect(ch chan<- prometheus.Metric) {
	//NOTE: I use NewConstMetric() instead of storing the values in the GaugeVec
	//instances because it is faster.

	descCh := make(chan *prometheus.Desc, 1)
	catalogHostsGauge.Describe(descCh)
	catalogHostsDesc := <-descCh
	catalogDomainsGauge.Describe(descCh)
	catalogDomainsDesc := <-descCh
	catalogDatasetsGauge.Describe(descCh)
	catalogDatasetsDesc := <-descCh
	minNextSyncAtGauge.Describe(descCh)
	minNextSyncAtDesc := <-descCh

	err := sqlext.ForeachRow(c.DB, hostAggregateQuery, nil, func(rows *sql.Rows) error {
		var (
			region     string
			count      uint64
			nextSyncAt *time.Time
		)
		err := rows.Scan(&region, &count, &nextSyncAt)
		if err != nil {
			return err
		}
		ch <- prometheus.MustNewConstMetric(
			catalogHostsDesc,
			prometheus.GaugeValue, float64(count),
			region,
		)
		ch <- prometheus.MustNewConstMetric(
			minNextSyncAtDesc,
			prometheus.GaugeValue, timeAsUnixOrZero(nextSyncAt),
			region,
		)
		return nil
	})
	if err != nil {
		logg.Error("collect host aggregate metrics failed: " + err.Error())
	}

	err = sqlext.ForeachRow(c.DB, domainAggregateQuery, nil, func(rows *sql.Rows) error {
		var (
			region string
			count  uint64
		)
		err := rows.Scan(&region, &count)
		if err != nil {
			return err
		}
		ch <- prometheus.MustNewConstMetric(
			catalogDomainsDesc,
			prometheus.GaugeValue, float64(count),
			region,
		)
		return nil
	})
	if err != nil {
		logg.Error("collect domain aggregate metrics failed: " + err.Error())
	}

	err = sqlext.ForeachRow(c.DB, datasetAggregateQuery, nil, func(rows *sql.Rows) error {
		var (
			region string
			active bool
			count  uint64
		)
		err := rows.Scan(&region, &active, &count)
		if err != nil {
			return err
		}
		ch <- prometheus.MustNewConstMetric(
			catalogDatasetsDesc,
			prometheus.GaugeValue, float64(count),
			region, strconv.FormatBool(active),
		)
		return nil
	})
	if err != nil {
		logg.Error("collect dataset aggregate metrics failed: " + err.Error())
	}
}

func timeAsUnixOrZero(t *time.Time) float64 {
	if t == nil {
		return 0
	}
	return float64(t.Unix())
}
