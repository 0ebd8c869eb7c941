// Package metrics provides Prometheus metrics for ingestion, scoring and recalculation.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "clogpoints"

// Metrics holds every collector on a private registry. A nil *Metrics is a no-op.
type Metrics struct {
	registry *prometheus.Registry

	catalogItems   prometheus.Gauge
	ingestRuns     *prometheus.CounterVec
	ingestDuration prometheus.Histogram
	rowsSkipped    prometheus.Counter

	scoreLookups *prometheus.CounterVec

	recalcRuns        *prometheus.CounterVec
	recalcCorrections prometheus.Counter
	rankingUpdates    *prometheus.CounterVec
}

// New registers all collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	auto := promauto.With(reg)

	return &Metrics{
		registry: reg,
		catalogItems: auto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "catalog",
			Name:      "items",
			Help:      "Number of items in the in-memory rarity lookup",
		}),
		ingestRuns: auto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "runs_total",
			Help:      "Ingestion runs by result",
		}, []string{"result"}),
		ingestDuration: auto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "duration_seconds",
			Help:      "Duration of ingestion runs",
			Buckets:   prometheus.DefBuckets,
		}),
		rowsSkipped: auto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "rows_skipped_total",
			Help:      "Table rows skipped because they could not be parsed",
		}),
		scoreLookups: auto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "catalog",
			Name:      "score_lookups_total",
			Help:      "Score lookups by result (hit, miss)",
		}, []string{"result"}),
		recalcRuns: auto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "recalc",
			Name:      "runs_total",
			Help:      "Recalculation runs by result (changed, noop, error)",
		}, []string{"result"}),
		recalcCorrections: auto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "recalc",
			Name:      "corrections_total",
			Help:      "Ledger entries corrected by recalculation",
		}),
		rankingUpdates: auto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "recalc",
			Name:      "ranking_updates_total",
			Help:      "Per-player ranking ledger updates by result",
		}, []string{"result"}),
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) SetCatalogItems(n int) {
	if m == nil {
		return
	}
	m.catalogItems.Set(float64(n))
}

func (m *Metrics) ObserveIngest(d time.Duration, skipped int, err error) {
	if m == nil {
		return
	}
	m.ingestDuration.Observe(d.Seconds())
	m.rowsSkipped.Add(float64(skipped))
	m.ingestRuns.WithLabelValues(result(err)).Inc()
}

func (m *Metrics) ObserveScoreLookup(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.scoreLookups.WithLabelValues("hit").Inc()
		return
	}
	m.scoreLookups.WithLabelValues("miss").Inc()
}

func (m *Metrics) ObserveRecalc(corrected int, err error) {
	if m == nil {
		return
	}
	switch {
	case err != nil:
		m.recalcRuns.WithLabelValues("error").Inc()
	case corrected == 0:
		m.recalcRuns.WithLabelValues("noop").Inc()
	default:
		m.recalcRuns.WithLabelValues("changed").Inc()
		m.recalcCorrections.Add(float64(corrected))
	}
}

func (m *Metrics) ObserveRankingUpdate(err error) {
	if m == nil {
		return
	}
	m.rankingUpdates.WithLabelValues(result(err)).Inc()
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
