package server

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"PredPulse/internal/cache"
	"PredPulse/internal/domain/models"
	domrepo "PredPulse/internal/domain/repository"
	"PredPulse/internal/monitor"
	"PredPulse/internal/registry"
	"PredPulse/pkg/config"
	xhttp "PredPulse/pkg/http"
	pkgkafka "PredPulse/pkg/kafka"
	applogger "PredPulse/pkg/logger"
)

// App encapsulates the entire application lifecycle.
type App struct {
	cfg        *config.Config
	log        *applogger.Logger
	cache      *cache.InferenceCache
	monitor    *monitor.Monitor
	registry   *registry.Registry
	consumer   *pkgkafka.Consumer
	collector  pkgkafka.MessageHandler
	knowledge  domrepo.KnowledgeStore
	handler    xhttp.Handler
	httpServer *xhttp.Server
}

// New creates a new App instance with all dependencies.
func New(
	cfg *config.Config,
	log *applogger.Logger,
	c *cache.InferenceCache,
	m *monitor.Monitor,
	r *registry.Registry,
	consumer *pkgkafka.Consumer,
	collector pkgkafka.MessageHandler,
	knowledge domrepo.KnowledgeStore,
	handler xhttp.Handler,
) *App {
	return &App{
		cfg:       cfg,
		log:       log,
		cache:     c,
		monitor:   m,
		registry:  r,
		consumer:  consumer,
		collector: collector,
		knowledge: knowledge,
		handler:   handler,
	}
}

// Run starts the application and blocks until interrupted.
func (a *App) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a.monitor.Start(ctx)
	a.registry.Start(ctx)

	if a.consumer != nil && a.collector != nil {
		a.consumer.RegisterHandler(a.collector)
		if err := a.consumer.Start(); err != nil {
			a.log.Error("kafka consumer start", applogger.Error(err))
			return err
		}
	}

	go a.statusLoop(ctx)

	a.httpServer = xhttp.NewServer(a.handler,
		xhttp.WithPort(a.cfg.Server.Port),
		xhttp.WithTimeouts(a.cfg.Server.ReadTimeout, a.cfg.Server.WriteTimeout, a.cfg.Server.ShutdownTimeout),
		xhttp.WithHTTPMetrics(a.log, time.Second),
	)
	if err := a.httpServer.Start(); err != nil {
		a.log.Error("http server start", applogger.Error(err))
		return err
	}
	a.log.Info("serving",
		applogger.Int("port", a.cfg.Server.Port),
		applogger.String("environment", a.cfg.Environment),
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	a.log.Info("shutdown signal received")
	return a.shutdown()
}

// statusLoop pushes periodic health snapshots to every connected client.
func (a *App) statusLoop(ctx context.Context) {
	ticker := time.NewTicker(a.cfg.Server.StatusInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if a.registry.Count() == 0 {
				continue
			}
			a.registry.Broadcast(models.StatusMessage{
				Type:     models.MessageStatus,
				Snapshot: a.monitor.Snapshot(),
			})
		}
	}
}

// shutdown stops components in dependency order: intake first, then the
// HTTP surface, then fan-out, then shared resources.
func (a *App) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()

	if a.consumer != nil {
		if err := a.consumer.Stop(ctx); err != nil {
			a.log.Warn("kafka consumer stop", applogger.Error(err))
		}
	}

	if a.httpServer != nil {
		if err := a.httpServer.Stop(ctx); err != nil {
			a.log.Error("http shutdown", applogger.Error(err))
		}
	}

	a.registry.Close()

	if err := a.cache.Close(); err != nil {
		a.log.Warn("cache close", applogger.Error(err))
	}
	if a.knowledge != nil {
		if err := a.knowledge.Close(); err != nil {
			a.log.Warn("knowledge close", applogger.Error(err))
		}
	}

	a.log.Info("shutdown complete")
	return nil
}
