package pipeline

import (
	"context"
	"errors"
	"net"
	"time"

	"PredPulse/internal/cache"
	"PredPulse/internal/domain/models"
	"PredPulse/internal/domain/repository"
	"PredPulse/pkg/logger"
)

// Option configures Pipeline.
type Option func(*Pipeline)

// WithKnowledgeStore attaches the read-only context lookup.
func WithKnowledgeStore(ks repository.KnowledgeStore) Option {
	return func(p *Pipeline) { p.knowledge = ks }
}

// WithBucket sets the fingerprint timestamp bucket.
func WithBucket(d time.Duration) Option {
	return func(p *Pipeline) {
		if d > 0 {
			p.bucket = d
		}
	}
}

// WithModelTimeout sets the per-attempt model call timeout.
func WithModelTimeout(d time.Duration) Option {
	return func(p *Pipeline) {
		if d > 0 {
			p.modelTimeout = d
		}
	}
}

// Pipeline is the event -> features -> prediction serving path. It consults
// the cache before and after the model call, asks the monitor for admission
// on every miss, and hands fresh results to the broadcaster.
type Pipeline struct {
	cache       *cache.InferenceCache
	model       repository.Model
	knowledge   repository.KnowledgeStore
	gate        repository.HealthGate
	broadcaster repository.Broadcaster
	metrics     repository.Metrics
	log         *logger.Logger

	bucket       time.Duration
	modelTimeout time.Duration
}

// New creates a pipeline.
func New(
	c *cache.InferenceCache,
	model repository.Model,
	gate repository.HealthGate,
	broadcaster repository.Broadcaster,
	metrics repository.Metrics,
	log *logger.Logger,
	opts ...Option,
) *Pipeline {
	p := &Pipeline{
		cache:        c,
		model:        model,
		gate:         gate,
		broadcaster:  broadcaster,
		metrics:      metrics,
		log:          log,
		bucket:       10 * time.Second,
		modelTimeout: 3 * time.Second,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Process runs one event through the serving path. Invoked once per
// incoming event; identical events within a fingerprint bucket share one
// model invocation.
func (p *Pipeline) Process(ctx context.Context, event *models.MarketEvent) (*models.PredictionResult, error) {
	if err := ValidateEvent(event); err != nil {
		p.metrics.RecordError("invalid_event")
		return nil, models.InvalidInputError("malformed market event", err)
	}

	start := time.Now()
	fp := cache.Fingerprint(event.Symbol, event.Timestamp, p.bucket, nil)

	result, hit, err := p.cache.GetOrCompute(fp, func() (*models.PredictionResult, error) {
		return p.compute(ctx, event)
	})
	if err != nil {
		p.metrics.RecordError(string(models.CodeOf(err)))
		return nil, err
	}

	if hit {
		// Shared ownership ends at the cache; hand each caller its own copy
		// so provenance marking cannot race.
		served := *result
		served.Cached = true
		p.metrics.RecordPrediction("cache", event.Symbol)
		p.metrics.RecordLatency("process", time.Since(start).Seconds())
		return &served, nil
	}

	p.metrics.RecordPrediction("fresh", event.Symbol)
	p.metrics.RecordLatency("process", time.Since(start).Seconds())
	return result, nil
}

// compute is the cache-miss path: admission gate, feature transform, model
// call, broadcast. It runs at most once per fingerprint at any instant.
func (p *Pipeline) compute(ctx context.Context, event *models.MarketEvent) (res *models.PredictionResult, err error) {
	if err := p.gate.Allow(); err != nil {
		return nil, err
	}

	start := time.Now()
	defer func() {
		p.gate.Record(models.StageCompute, err, time.Since(start).Seconds())
	}()

	features, ferr := ExtractFeatures(event, p.bucket)
	if ferr != nil {
		err = models.InvalidInputError("feature extraction failed", ferr)
		return nil, err
	}
	p.enrich(ctx, features)

	raw, ierr := p.infer(ctx, features)
	if ierr != nil {
		err = ierr
		return nil, err
	}

	res = &models.PredictionResult{
		Symbol:      event.Symbol,
		Predicted:   raw.Predicted,
		Confidence:  raw.Confidence,
		GeneratedAt: time.Now().UTC(),
		Session:     event.Session,
		Model:       raw.ModelName,
	}

	p.broadcaster.Publish(res.Symbol, res)
	return res, nil
}

// enrich attaches knowledge-store context when available. Lookup misses are
// normal; only transport errors are worth a log line.
func (p *Pipeline) enrich(ctx context.Context, features *models.Features) {
	if p.knowledge == nil {
		return
	}
	value, err := p.knowledge.Lookup(ctx, "context:"+features.Symbol)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			p.log.Warn("knowledge lookup failed", logger.String("symbol", features.Symbol), logger.Error(err))
		}
		return
	}
	features.Context = value
}

// retryable reports whether a model error deserves the single retry:
// timeouts and transport failures only. Terminal errors such as a malformed
// model response fail immediately.
func retryable(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var nerr net.Error
	return errors.As(err, &nerr)
}

// infer calls the model with the enforced timeout, retrying once on a
// timeout or transport failure before the error is reported and cached.
func (p *Pipeline) infer(ctx context.Context, features *models.Features) (*models.RawOutput, error) {
	attempt := func() (*models.RawOutput, error) {
		cctx, cancel := context.WithTimeout(ctx, p.modelTimeout)
		defer cancel()

		start := time.Now()
		out, err := p.model.Infer(cctx, features)
		elapsed := time.Since(start).Seconds()
		p.gate.Record(models.StageModel, err, elapsed)
		p.metrics.RecordLatency("model_infer", elapsed)
		return out, err
	}

	out, err := attempt()
	if err != nil && retryable(err) {
		p.log.Warn("model call failed, retrying once", logger.Error(err))
		out, err = attempt()
	}
	if err != nil {
		return nil, models.UpstreamUnavailableError("model call failed", err)
	}
	return out, nil
}
