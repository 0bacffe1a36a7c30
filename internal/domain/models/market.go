package models

import "time"

// MarketEvent is a single tick of market state produced by an upstream feed.
// Immutable once created; the pipeline consumes each event exactly once.
type MarketEvent struct {
	Symbol    string  `json:"symbol"`
	Timestamp int64   `json:"timestamp"` // unix seconds
	Price     float64 `json:"price"`
	Volume    float64 `json:"volume"`
	ChangePct float64 `json:"change_pct"`
	Session   string  `json:"session,omitempty"` // "regular", "pre", "post"
}

// Features is the deterministic model input derived from a MarketEvent.
type Features struct {
	Symbol      string    `json:"symbol"`
	Bucket      int64     `json:"bucket"` // unix seconds, truncated
	Price       float64   `json:"price"`
	LogVolume   float64   `json:"log_volume"`
	Momentum    float64   `json:"momentum"`
	PriceVolume float64   `json:"price_volume"`
	Session     string    `json:"session,omitempty"`
	Context     string    `json:"context,omitempty"` // knowledge-store enrichment
	DerivedAt   time.Time `json:"-"`
}

// RawOutput is what the external model returns for one inference call.
type RawOutput struct {
	Predicted  []float64 `json:"predicted"`
	Confidence float64   `json:"confidence"`
	ModelName  string    `json:"model,omitempty"`
}

// PredictionResult is the pipeline's finished product. Owned by the pipeline
// until handed to the registry, immutable after that.
type PredictionResult struct {
	Symbol      string    `json:"symbol"`
	Predicted   []float64 `json:"predicted"`
	Confidence  float64   `json:"confidence"`
	GeneratedAt time.Time `json:"generated_at"`
	Session     string    `json:"session,omitempty"`
	Cached      bool      `json:"cached"`
	Model       string    `json:"model,omitempty"`
}

// HealthState is the monitor's derived admission state.
type HealthState string

const (
	StateHealthy     HealthState = "healthy"
	StateDegraded    HealthState = "degraded"
	StateUnavailable HealthState = "unavailable"
)

// Stage names observed by the monitor.
const (
	StageCompute   = "compute" // cache-miss path: features + model
	StageModel     = "model"
	StageBroadcast = "broadcast"
)

// StageStats holds rolling counters for one pipeline stage.
type StageStats struct {
	Success      int64   `json:"success"`
	Failure      int64   `json:"failure"`
	P95LatencyMS float64 `json:"p95_latency_ms"`
}

// HealthSnapshot is the monitor's view at one recompute instant.
type HealthSnapshot struct {
	State       HealthState           `json:"state"`
	Stages      map[string]StageStats `json:"stages"`
	Consecutive int                   `json:"consecutive_failures"`
	ComputedAt  time.Time             `json:"computed_at"`
}
