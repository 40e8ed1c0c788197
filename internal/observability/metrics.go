package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "leak_twin"

// Metrics holds the Prometheus counters, histograms, and gauges for the service.
type Metrics struct {
	PipelineRunning prometheus.Gauge
	PollCycles      prometheus.Counter
	CycleDuration   prometheus.Histogram

	// Telemetry.
	ReadingsPolled       prometheus.Counter
	TelemetryFetchErrors *prometheus.CounterVec // labels: sensor
	TelemetrySubstituted *prometheus.CounterVec // labels: sensor
	TelemetryDuration    prometheus.Histogram

	// Assessment.
	ClassifierErrors  prometheus.Counter
	OutcomesProduced  prometheus.Counter
	LeaksDetected     *prometheus.CounterVec   // labels: sensor
	Prescriptions     *prometheus.CounterVec   // labels: severity
	LeakProbability   *prometheus.GaugeVec     // labels: sensor
	LeakDiameter      *prometheus.GaugeVec     // labels: sensor
	SinkWriteErrors   *prometheus.CounterVec   // labels: sink
	SinkWriteDuration *prometheus.HistogramVec // labels: sink
}

// NewMetrics creates and registers all service metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(
		m.PipelineRunning,
		m.PollCycles,
		m.CycleDuration,
		m.ReadingsPolled,
		m.TelemetryFetchErrors,
		m.TelemetrySubstituted,
		m.TelemetryDuration,
		m.ClassifierErrors,
		m.OutcomesProduced,
		m.LeaksDetected,
		m.Prescriptions,
		m.LeakProbability,
		m.LeakDiameter,
		m.SinkWriteErrors,
		m.SinkWriteDuration,
	)
	return m
}

// NewMetricsForTesting creates unregistered Metrics to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

func newMetrics() *Metrics {
	return &Metrics{
		PipelineRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pipeline_running",
			Help:      "1 when the poll pipeline is active, 0 when shut down.",
		}),
		PollCycles: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "poll_cycles_total",
			Help:      "Total completed telemetry poll cycles.",
		}),
		CycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "poll_cycle_duration_seconds",
			Help:      "Duration of a complete poll-evaluate-load cycle.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),
		ReadingsPolled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "readings_polled_total",
			Help:      "Total sensor readings obtained from telemetry.",
		}),
		TelemetryFetchErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "telemetry_fetch_errors_total",
			Help:      "Telemetry fetches that failed after retries, by sensor.",
		}, []string{"sensor"}),
		TelemetrySubstituted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "telemetry_substituted_total",
			Help:      "Readings where a default value replaced missing or malformed telemetry.",
		}, []string{"sensor"}),
		TelemetryDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "telemetry_fetch_duration_seconds",
			Help:      "Telemetry channel fetch duration in seconds, including retries.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),
		ClassifierErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "classifier_errors_total",
			Help:      "Readings dropped because the classifier was unavailable.",
		}),
		OutcomesProduced: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outcomes_produced_total",
			Help:      "Total sensor outcomes produced.",
		}),
		LeaksDetected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "leaks_detected_total",
			Help:      "Outcomes classified as leaks, by sensor.",
		}, []string{"sensor"}),
		Prescriptions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "prescriptions_total",
			Help:      "Prescriptions issued by severity.",
		}, []string{"severity"}),
		LeakProbability: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "leak_probability",
			Help:      "Latest classifier leak probability per sensor.",
		}, []string{"sensor"}),
		LeakDiameter: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "leak_diameter_mm",
			Help:      "Latest estimated equivalent leak diameter per sensor.",
		}, []string{"sensor"}),
		SinkWriteErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sink_write_errors_total",
			Help:      "Failed outcome batch writes by sink.",
		}, []string{"sink"}),
		SinkWriteDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sink_write_duration_seconds",
			Help:      "Outcome batch write duration by sink.",
			Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 2.5, 5},
		}, []string{"sink"}),
	}
}
