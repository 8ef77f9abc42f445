// Package metrics exposes oracle polling and leaderboard activity as
// Prometheus metrics.
package metrics

import (
	"errors"
	"fmt"

	"github.com/grip-leaderboard/internal/domain"
	"github.com/grip-leaderboard/internal/oracle"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics records fetch outcomes. It implements oracle.Observer.
type Metrics struct {
	fetches         *prometheus.CounterVec
	decoded         *prometheus.CounterVec
	skipped         *prometheus.CounterVec
	transportErrors *prometheus.CounterVec
	truncated       *prometheus.CounterVec
	fetchDuration   *prometheus.HistogramVec
	logEntries      prometheus.Gauge
	entriesAdded    prometheus.Counter
	sinkFailures    *prometheus.CounterVec
}

var _ oracle.Observer = (*Metrics)(nil)

// NewMetrics registers the metrics with reg under namespace
func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		fetches: factory.NewCounterVec(prometheus.CounterOpts{
			Name: fmt.Sprintf("%s_oracle_fetches_total", namespace),
			Help: "Completed fetch calls by the endpoint that served them",
		}, []string{"endpoint"}),
		decoded: factory.NewCounterVec(prometheus.CounterOpts{
			Name: fmt.Sprintf("%s_oracle_reports_decoded_total", namespace),
			Help: "Reports decoded into leaderboard entries",
		}, []string{"query_id"}),
		skipped: factory.NewCounterVec(prometheus.CounterOpts{
			Name: fmt.Sprintf("%s_oracle_reports_skipped_total", namespace),
			Help: "Reports skipped because they could not be decoded",
		}, []string{"query_id", "reason"}),
		transportErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: fmt.Sprintf("%s_oracle_transport_errors_total", namespace),
			Help: "Failed requests to oracle endpoints",
		}, []string{"query_id"}),
		truncated: factory.NewCounterVec(prometheus.CounterOpts{
			Name: fmt.Sprintf("%s_oracle_fetches_truncated_total", namespace),
			Help: "Fetch calls stopped by the entry cap",
		}, []string{"query_id"}),
		fetchDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    fmt.Sprintf("%s_oracle_fetch_duration_seconds", namespace),
			Help:    "Duration of fetch calls",
			Buckets: prometheus.DefBuckets,
		}, []string{"query_id"}),
		logEntries: factory.NewGauge(prometheus.GaugeOpts{
			Name: fmt.Sprintf("%s_leaderboard_entries", namespace),
			Help: "Entries currently held in the leaderboard log",
		}),
		entriesAdded: factory.NewCounter(prometheus.CounterOpts{
			Name: fmt.Sprintf("%s_leaderboard_entries_added_total", namespace),
			Help: "Entries merged into the leaderboard log",
		}),
		sinkFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: fmt.Sprintf("%s_sink_failures_total", namespace),
			Help: "Failed writes to optional entry sinks",
		}, []string{"sink"}),
	}
}

// ObserveFetch records a completed fetch call
func (m *Metrics) ObserveFetch(result oracle.FetchResult) {
	endpoint := "primary"
	if result.UsedFallback {
		endpoint = "fallback"
	}
	m.fetches.WithLabelValues(endpoint).Inc()
	m.decoded.WithLabelValues(result.QueryID).Add(float64(result.Decoded))
	m.transportErrors.WithLabelValues(result.QueryID).Add(float64(result.TransportErrors))
	if result.Truncated {
		m.truncated.WithLabelValues(result.QueryID).Inc()
	}
	m.fetchDuration.WithLabelValues(result.QueryID).Observe(result.Duration.Seconds())
}

// ObserveSkipped records a report that failed to decode
func (m *Metrics) ObserveSkipped(queryID string, _ domain.RawReport, err error) {
	m.skipped.WithLabelValues(queryID, skipReason(err)).Inc()
}

// ObserveMerge records the outcome of merging a fetch into the log
func (m *Metrics) ObserveMerge(added, total int) {
	m.entriesAdded.Add(float64(added))
	m.logEntries.Set(float64(total))
}

// ObserveSinkFailure records a failed write to a sink
func (m *Metrics) ObserveSinkFailure(sink string) {
	m.sinkFailures.WithLabelValues(sink).Inc()
}

func skipReason(err error) string {
	switch {
	case errors.Is(err, domain.ErrInsufficientData):
		return "insufficient_data"
	case errors.Is(err, domain.ErrInvalidTimestamp):
		return "invalid_timestamp"
	case errors.Is(err, domain.ErrInvalidHex):
		return "invalid_hex"
	default:
		return "other"
	}
}
