package repository

import (
	"context"
	"errors"

	"PredPulse/internal/domain/models"
)

// ErrNotFound is returned by KnowledgeStore when a key has no value.
var ErrNotFound = errors.New("knowledge: key not found")

// Model is the external inference service. Calls are synchronous and must
// honor ctx deadlines; the pipeline enforces the timeout.
type Model interface {
	Infer(ctx context.Context, f *models.Features) (*models.RawOutput, error)
}

// KnowledgeStore is a read-only key lookup used for prediction context.
// Never mutated by the serving core.
type KnowledgeStore interface {
	Lookup(ctx context.Context, key string) (string, error)
	Close() error
}

// Broadcaster receives finished predictions for fan-out. Implemented by the
// connection registry.
type Broadcaster interface {
	Publish(topic string, result *models.PredictionResult)
}

// HealthGate is the pipeline's view of the monitor.
type HealthGate interface {
	Allow() error // nil, or a service_degraded PredictionError
	Record(stage string, err error, latencySeconds float64)
	Snapshot() models.HealthSnapshot
}

// Metrics records operational counters.
type Metrics interface {
	RecordPrediction(provenance, symbol string)
	RecordError(kind string)
	RecordLatency(op string, seconds float64)
	SetConnectedClients(n int)
	RecordDropped(policy string)
}
