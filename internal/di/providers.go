package di

import (
	"fmt"

	"PredPulse/internal/cache"
	"PredPulse/internal/domain/repository"
	"PredPulse/internal/handler/api"
	"PredPulse/internal/handler/ws"
	"PredPulse/internal/monitor"
	"PredPulse/internal/pipeline"
	"PredPulse/internal/registry"
	"PredPulse/internal/service/knowledge"
	"PredPulse/internal/service/predictor"
	"PredPulse/internal/usecase"
	"PredPulse/pkg/config"
	xhttp "PredPulse/pkg/http"
	pkgkafka "PredPulse/pkg/kafka"
	"PredPulse/pkg/logger"
	"PredPulse/pkg/metrics"
	"PredPulse/pkg/server"
)

// ProvideLogger creates the application logger.
func ProvideLogger(cfg *config.Config) (*logger.Logger, error) {
	return logger.New(&logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})
}

// ProvideMetrics creates a Prometheus metrics recorder.
func ProvideMetrics() repository.Metrics {
	return metrics.New()
}

// ProvideCache creates the inference result cache.
func ProvideCache(cfg *config.Config) *cache.InferenceCache {
	return cache.New(
		cache.WithTTLs(cfg.Cache.SuccessTTL, cfg.Cache.FailureTTL),
		cache.WithMaxEntries(cfg.Cache.MaxEntries),
		cache.WithSweepInterval(cfg.Cache.SweepInterval),
	)
}

// ProvideMonitor creates the health monitor.
func ProvideMonitor(cfg *config.Config, log *logger.Logger) *monitor.Monitor {
	return monitor.New(monitor.Config{
		DegradedRatio:       cfg.Breaker.DegradedRatio,
		UnavailableRatio:    cfg.Breaker.UnavailableRatio,
		ConsecutiveFailures: cfg.Breaker.ConsecutiveFailures,
		DegradedConcurrency: cfg.Breaker.DegradedConcurrency,
		Window:              cfg.Breaker.Window,
		Cooldown:            cfg.Breaker.Cooldown,
		RecomputeInterval:   cfg.Breaker.RecomputeInterval,
	}, log)
}

// ProvideHealthGate exposes the monitor as the pipeline admission gate.
func ProvideHealthGate(m *monitor.Monitor) repository.HealthGate {
	return m
}

// ProvideRegistry creates the connection registry.
func ProvideRegistry(
	cfg *config.Config,
	gate repository.HealthGate,
	m repository.Metrics,
	log *logger.Logger,
) (*registry.Registry, error) {
	policy, err := registry.ParsePolicy(cfg.Registry.OverflowPolicy)
	if err != nil {
		return nil, fmt.Errorf("registry config: %w", err)
	}
	return registry.New(registry.Config{
		QueueCapacity:     cfg.Registry.QueueCapacity,
		OverflowPolicy:    policy,
		HeartbeatInterval: cfg.Registry.HeartbeatInterval,
		MissedHeartbeats:  cfg.Registry.MissedHeartbeats,
	}, gate, m, log), nil
}

// ProvideBroadcaster exposes the registry as the pipeline broadcaster.
func ProvideBroadcaster(r *registry.Registry) repository.Broadcaster {
	return r
}

// ProvideModel creates the HTTP inference model client.
func ProvideModel(cfg *config.Config) repository.Model {
	return predictor.New(cfg.Model.URL, cfg.Model.Name, cfg.Model.Timeout)
}

// ProvideKnowledgeStore creates the Redis enrichment store when enabled.
func ProvideKnowledgeStore(cfg *config.Config) (repository.KnowledgeStore, error) {
	if !cfg.Knowledge.Enabled {
		return nil, nil
	}
	store, err := knowledge.New(cfg.Knowledge.Addr,
		knowledge.WithPassword(cfg.Knowledge.Password),
		knowledge.WithDB(cfg.Knowledge.DB),
		knowledge.WithKeyPrefix(cfg.Knowledge.KeyPrefix),
	)
	if err != nil {
		return nil, fmt.Errorf("knowledge store: %w", err)
	}
	return store, nil
}

// ProvidePipeline assembles the serving path.
func ProvidePipeline(
	cfg *config.Config,
	c *cache.InferenceCache,
	model repository.Model,
	gate repository.HealthGate,
	broadcaster repository.Broadcaster,
	m repository.Metrics,
	ks repository.KnowledgeStore,
	log *logger.Logger,
) *pipeline.Pipeline {
	opts := []pipeline.Option{
		pipeline.WithBucket(cfg.Cache.Bucket),
		pipeline.WithModelTimeout(cfg.Model.Timeout),
	}
	if ks != nil {
		opts = append(opts, pipeline.WithKnowledgeStore(ks))
	}
	return pipeline.New(c, model, gate, broadcaster, m, log, opts...)
}

// ProvideKafkaConsumer creates a Kafka consumer when enabled.
func ProvideKafkaConsumer(cfg *config.Config, log *logger.Logger) (*pkgkafka.Consumer, error) {
	if !cfg.Kafka.Enabled {
		return nil, nil
	}
	consumer, err := pkgkafka.NewConsumer(log,
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithGroupID(cfg.Kafka.GroupID),
		pkgkafka.WithWorkers(cfg.Kafka.Workers),
		pkgkafka.WithBufferSize(cfg.Kafka.BufferSize),
		pkgkafka.WithFetch(cfg.Kafka.MinBytes, cfg.Kafka.MaxBytes),
		pkgkafka.WithReadTimeout(cfg.Kafka.ReadTimeout),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka consumer: %w", err)
	}
	return consumer, nil
}

// ProvideEventCollector creates the Kafka ingest handler.
func ProvideEventCollector(
	cfg *config.Config,
	p *pipeline.Pipeline,
	m repository.Metrics,
	log *logger.Logger,
) pkgkafka.MessageHandler {
	return usecase.NewEventCollector(cfg.Kafka.Topic, p, m, log)
}

// ProvideHTTPHandler groups all route registrations.
func ProvideHTTPHandler(
	log *logger.Logger,
	p *pipeline.Pipeline,
	gate repository.HealthGate,
	r *registry.Registry,
) xhttp.Handler {
	return xhttp.Handlers{
		ws.NewHandler(r, log),
		api.NewEventsHandler(log, p),
		api.NewStatusHandler(gate, r),
	}
}

// ProvideApp creates the application server.
func ProvideApp(
	cfg *config.Config,
	log *logger.Logger,
	c *cache.InferenceCache,
	m *monitor.Monitor,
	r *registry.Registry,
	consumer *pkgkafka.Consumer,
	collector pkgkafka.MessageHandler,
	ks repository.KnowledgeStore,
	handler xhttp.Handler,
) *server.App {
	return server.New(cfg, log, c, m, r, consumer, collector, ks, handler)
}
