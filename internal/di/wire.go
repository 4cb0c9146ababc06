//go:build wireinject
// +build wireinject

package di

import (
	"SignalGate/pkg/config"
	"SignalGate/pkg/server"

	"github.com/google/wire"
)

// InitializeApp wires up all dependencies and returns the application.
// Wire generates the implementation in wire_gen.go.
func InitializeApp(cfg *config.Config) (*server.App, error) {
	wire.Build(
		// Ambient
		ProvideLogger,
		ProvideRegistry,
		ProvideMetrics,

		// Infrastructure clients
		ProvideStateStore,
		ProvideClickHouseClient,
		ProvideKafkaProducer,

		// Repositories
		ProvideJournal,
		ProvideDecisionPublisher,
		ProvideRiskManager,

		// Admission stages
		ProvideModelRegistry,
		ProvideValidator,
		ProvideScoringGate,
		ProvideRSIFilter,
		ProvideBlocker,
		ProvideMonitor,
		ProvideQueue,

		// Use cases
		ProvidePipeline,
		ProvideIngestPipeline,
		ProvideDispatcher,
		ProvideHousekeeper,
		ProvideKafkaConsumer,
		ProvideSnapshotCollector,

		// HTTP
		ProvideHTTPHandler,
		ProvideHTTPServer,

		// Application server
		wire.Struct(new(server.Deps), "*"),
		server.New,
	)
	return &server.App{}, nil
}
