//go:build wireinject
// +build wireinject

package di

import (
	"PredPulse/pkg/config"
	"PredPulse/pkg/server"

	"github.com/google/wire"
)

// InitializeApp wires up all dependencies and returns the application.
// Wire will generate the implementation of this function.
func InitializeApp(cfg *config.Config) (*server.App, error) {
	wire.Build(
		ProvideLogger,
		ProvideMetrics,

		// Core serving path
		ProvideCache,
		ProvideMonitor,
		ProvideHealthGate,
		ProvideRegistry,
		ProvideBroadcaster,
		ProvideModel,
		ProvideKnowledgeStore,
		ProvidePipeline,

		// Intake
		ProvideKafkaConsumer,
		ProvideEventCollector,

		// HTTP surface
		ProvideHTTPHandler,

		// Application server
		ProvideApp,
	)
	return &server.App{}, nil
}
