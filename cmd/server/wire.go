//go:build wireinject
// +build wireinject

package main

import (
	"spotalert_backend/internal/alert"
	"spotalert_backend/internal/app"
	"spotalert_backend/internal/config"
	"spotalert_backend/internal/device"
	"spotalert_backend/internal/geofence"
	"spotalert_backend/internal/jobs"
	"spotalert_backend/internal/ledger"
	"spotalert_backend/internal/platform/elasticsearch"
	"spotalert_backend/internal/proximity"
	"spotalert_backend/internal/target"
	"spotalert_backend/internal/tracker"

	"github.com/google/wire"
)

// initializeServer is the main Wire injector.
func initializeServer(cfg *config.Config) (*app.Server, func(), error) {
	wire.Build(
		// Platform Layer
		app.ProvideLogger,
		app.ProvideDatabase,
		app.ProvideRedis,
		elasticsearch.NewClient,
		app.ProvideClock,
		app.ProvideTuning,

		// Targets
		app.ProvideTargetSource,
		target.NewRegistry,
		wire.Bind(new(tracker.Targets), new(*target.Registry)),
		wire.Bind(new(jobs.Refresher), new(*target.Registry)),
		tracker.New,

		// Device adapters
		device.NewRegionBook,
		device.NewFixBroker,
		app.ProvidePushClient,
		app.ProvideSender,
		app.ProvideWaker,

		// Notifications
		ledger.NewGORMRepository,
		app.ProvideLedger,
		wire.Bind(new(alert.Recorder), new(*ledger.Ledger)),
		alert.NewGORMCompletionStore,
		app.ProvideCooldownStore,
		alert.NewDispatcher,

		// Background path
		geofence.NewGORMMarkerStore,
		app.ProvideCoordinator,

		// Handlers
		target.NewHandler,
		proximity.NewHandler,
		tracker.NewHandler,
		geofence.NewHandler,
		app.ProvideDeviceHandler,
		alert.NewHandler,
		ledger.NewHandler,
		wire.Struct(new(app.Handlers), "*"),

		// Application Layer
		app.NewPipeline,
		jobs.NewTargetRefreshJob,
		app.NewServer,
	)
	return nil, nil, nil
}
