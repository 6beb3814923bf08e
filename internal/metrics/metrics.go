package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	// OutcomeAccepted labels signals that passed normalization.
	OutcomeAccepted = "accepted"
	// OutcomeMalformed labels signals rejected during normalization.
	OutcomeMalformed = "malformed"
	// OutcomeDeduplicated labels signals folded into an existing incident.
	OutcomeDeduplicated = "deduplicated"

	// OutcomeRecorded labels change events accepted into the registry.
	OutcomeRecorded = "recorded"
	// OutcomeDuplicate labels change events rejected as duplicates.
	OutcomeDuplicate = "duplicate"

	// OutcomeApplied labels analyses attached to their incident.
	OutcomeApplied = "applied"
	// OutcomeStale labels analyses superseded before they completed.
	OutcomeStale = "stale"
	// OutcomeFallback labels analyses that recovered from a scoring failure.
	OutcomeFallback = "fallback"
)

var (
	signalsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "causeway",
			Name:      "signals_total",
			Help:      "Total number of ingested signals, partitioned by outcome.",
		},
		[]string{"outcome"},
	)

	changeEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "causeway",
			Name:      "change_events_total",
			Help:      "Total number of change event registrations, partitioned by outcome.",
		},
		[]string{"outcome"},
	)

	analysesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "causeway",
			Name:      "analyses_total",
			Help:      "Total number of completed analysis passes, partitioned by outcome.",
		},
		[]string{"outcome"},
	)

	analysisDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "causeway",
			Name:      "analysis_seconds",
			Help:      "Correlation and scoring latency in seconds.",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
	)

	openIncidents = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "causeway",
			Name:      "open_incidents",
			Help:      "Number of incidents currently in a non-terminal state.",
		},
	)
)

// Register attaches causeway collectors to the supplied Prometheus registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		signalsTotal,
		changeEventsTotal,
		analysesTotal,
		analysisDurationSeconds,
		openIncidents,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// IncSignal counts one ingested signal with its outcome label.
func IncSignal(outcome string) {
	signalsTotal.WithLabelValues(outcome).Inc()
}

// IncChangeEvent counts one change event registration attempt.
func IncChangeEvent(outcome string) {
	changeEventsTotal.WithLabelValues(outcome).Inc()
}

// ObserveAnalysis records an analysis duration and outcome label.
func ObserveAnalysis(duration time.Duration, outcome string) {
	analysesTotal.WithLabelValues(outcome).Inc()
	if duration < 0 {
		duration = 0
	}
	analysisDurationSeconds.Observe(duration.Seconds())
}

// SetOpenIncidents updates the open incident gauge.
func SetOpenIncidents(n int) {
	openIncidents.Set(float64(n))
}
