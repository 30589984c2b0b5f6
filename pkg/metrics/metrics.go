package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	metricPrefix = "energyhub_"

	resultSuccess = "success"
	resultError   = "error"
)

var (
	registerOnce sync.Once

	sourceFetchTotal   *prometheus.CounterVec
	sourceFetchLatency *prometheus.HistogramVec

	readingErrorsTotal *prometheus.CounterVec

	pathDiscrepancy    *prometheus.GaugeVec
	reconcileDaysTotal *prometheus.CounterVec
)

// Init registers the metrics with the default registry. Observations made
// before Init are dropped.
func Init() {
	registerOnce.Do(func() {
		sourceFetchTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "source_fetch_total",
				Help: "Total upstream data fetches by source and result",
			},
			[]string{"source", "result"},
		)
		sourceFetchLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "source_fetch_latency_seconds",
				Help:    "Upstream data fetch latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"source"},
		)
		readingErrorsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "meter_reading_errors_total",
				Help: "Total meter reading errors by kind",
			},
			[]string{"kind"},
		)
		pathDiscrepancy = prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: metricPrefix + "path_discrepancy_ratio",
				Help: "Relative difference between estimated and calculated figures of the last reconciled day",
			},
			[]string{"direction", "quantity"},
		)
		reconcileDaysTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "reconcile_days_total",
				Help: "Total reconciled days by outcome",
			},
			[]string{"outcome"},
		)

		prometheus.MustRegister(
			sourceFetchTotal,
			sourceFetchLatency,
			readingErrorsTotal,
			pathDiscrepancy,
			reconcileDaysTotal,
		)
	})
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveSourceFetch records one upstream fetch.
func ObserveSourceFetch(source string, err error, duration time.Duration) {
	if source == "" {
		source = "unknown"
	}
	result := resultSuccess
	if err != nil {
		result = resultError
	}
	if sourceFetchTotal != nil {
		sourceFetchTotal.WithLabelValues(source, result).Inc()
	}
	if sourceFetchLatency != nil {
		sourceFetchLatency.WithLabelValues(source).Observe(duration.Seconds())
	}
}

// IncReadingError increments the meter reading error counter.
func IncReadingError(kind string) {
	if kind == "" {
		kind = "unknown"
	}
	if readingErrorsTotal != nil {
		readingErrorsTotal.WithLabelValues(kind).Inc()
	}
}

// SetDiscrepancy records the relative difference between the two billing
// paths for direction. quantity is "energy" or "cost".
func SetDiscrepancy(direction, quantity string, ratio float64) {
	if pathDiscrepancy != nil {
		pathDiscrepancy.WithLabelValues(direction, quantity).Set(ratio)
	}
}

// IncReconcileDay counts one reconciled day.
func IncReconcileDay(outcome string) {
	if outcome == "" {
		outcome = "unknown"
	}
	if reconcileDaysTotal != nil {
		reconcileDaysTotal.WithLabelValues(outcome).Inc()
	}
}
