package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	predictions *prometheus.CounterVec
	errorsTotal *prometheus.CounterVec
	dropped     *prometheus.CounterVec
	clients     prometheus.Gauge
	latency     *prometheus.HistogramVec
}

// New creates a new Prometheus metrics recorder.
func New() *Recorder {
	return &Recorder{
		predictions: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "predpulse_predictions_total",
				Help: "Total predictions served, by provenance",
			},
			[]string{"provenance", "symbol"},
		),
		errorsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "predpulse_errors_total",
				Help: "Total number of errors encountered",
			},
			[]string{"type"},
		),
		dropped: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "predpulse_dropped_messages_total",
				Help: "Outbound messages dropped by overflow policy",
			},
			[]string{"policy"},
		),
		clients: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "predpulse_connected_clients",
				Help: "Currently connected WebSocket subscribers",
			},
		),
		latency: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "predpulse_operation_duration_seconds",
				Help:    "Duration of operations in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
	}
}

// RecordPrediction records a prediction served with its provenance.
func (r *Recorder) RecordPrediction(provenance, symbol string) {
	r.predictions.WithLabelValues(provenance, symbol).Inc()
}

// RecordError records an error occurrence.
func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}

// RecordLatency records operation latency in seconds.
func (r *Recorder) RecordLatency(op string, seconds float64) {
	r.latency.WithLabelValues(op).Observe(seconds)
}

// SetConnectedClients records the current subscriber count.
func (r *Recorder) SetConnectedClients(n int) {
	r.clients.Set(float64(n))
}

// RecordDropped records an outbound message dropped by overflow policy.
func (r *Recorder) RecordDropped(policy string) {
	r.dropped.WithLabelValues(policy).Inc()
}
