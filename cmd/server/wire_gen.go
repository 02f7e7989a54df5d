//go:build !wireinject
// +build !wireinject

// Hand-maintained counterpart of the injector in wire.go; running wire
// regenerates it.
//
//go:generate go run -mod=mod github.com/google/wire/cmd/wire

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
)

// Injectors from wire.go:

// initializeServer is the main Wire injector.
func initializeServer(cfg *config.Config) (*app.Server, func(), error) {
	logger, cleanup, err := app.ProvideLogger(cfg)
	if err != nil {
		return nil, nil, err
	}
	db, cleanup2, err := app.ProvideDatabase(cfg, logger)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	esClientWrapper, err := elasticsearch.NewClient(cfg, logger)
	if err != nil {
		cleanup2()
		cleanup()
		return nil, nil, err
	}
	source := app.ProvideTargetSource(cfg, db, esClientWrapper, logger)
	clock := app.ProvideClock()
	registry := target.NewRegistry(source, clock, logger)
	handler := target.NewHandler(registry, logger)
	tuning, err := app.ProvideTuning(cfg, logger)
	if err != nil {
		cleanup2()
		cleanup()
		return nil, nil, err
	}
	proximityHandler := proximity.NewHandler(tuning, logger)
	trackerTracker := tracker.New(registry, tuning, clock, logger)
	trackerHandler := tracker.NewHandler(trackerTracker, registry, logger)
	regionBook := device.NewRegionBook(clock, logger)
	pushClient := app.ProvidePushClient(cfg, logger)
	waker := app.ProvideWaker(pushClient)
	fixBroker := device.NewFixBroker(waker, clock, logger)
	sender := app.ProvideSender(pushClient)
	repository := ledger.NewGORMRepository(db)
	ledgerLedger := app.ProvideLedger(repository, cfg, clock, logger)
	client, cleanup3, err := app.ProvideRedis(cfg, logger)
	if err != nil {
		cleanup2()
		cleanup()
		return nil, nil, err
	}
	cooldownStore := app.ProvideCooldownStore(client)
	completionStore := alert.NewGORMCompletionStore(db)
	dispatcher := alert.NewDispatcher(sender, ledgerLedger, cooldownStore, completionStore, tuning, clock, logger)
	markerStore := geofence.NewGORMMarkerStore(db)
	coordinator := app.ProvideCoordinator(registry, regionBook, fixBroker, dispatcher, markerStore, tuning, clock, logger)
	geofenceHandler := geofence.NewHandler(coordinator, logger)
	deviceHandler := app.ProvideDeviceHandler(regionBook, fixBroker, coordinator, logger)
	alertHandler := alert.NewHandler(dispatcher, logger)
	ledgerHandler := ledger.NewHandler(ledgerLedger, clock, logger)
	handlers := app.Handlers{
		Targets:       handler,
		Tuning:        proximityHandler,
		Tracker:       trackerHandler,
		Geofence:      geofenceHandler,
		Device:        deviceHandler,
		Alerts:        alertHandler,
		Notifications: ledgerHandler,
	}
	pipeline := app.NewPipeline(cfg, registry, trackerTracker, coordinator, dispatcher, ledgerLedger, tuning, logger)
	targetRefreshJob := jobs.NewTargetRefreshJob(registry, logger, cfg)
	server := app.NewServer(cfg, logger, handlers, pipeline, targetRefreshJob)
	return server, func() {
		cleanup3()
		cleanup2()
		cleanup()
	}, nil
}
