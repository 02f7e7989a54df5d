package app

import (
	"context"
	"log"
	"time"

	"spotalert_backend/internal/alert"
	"spotalert_backend/internal/config"
	"spotalert_backend/internal/device"
	"spotalert_backend/internal/geofence"
	"spotalert_backend/internal/ledger"
	"spotalert_backend/internal/platform/cache"
	"spotalert_backend/internal/platform/clock"
	"spotalert_backend/internal/platform/database"
	"spotalert_backend/internal/platform/elasticsearch"
	"spotalert_backend/internal/platform/logger"
	"spotalert_backend/internal/proximity"
	"spotalert_backend/internal/push"
	"spotalert_backend/internal/target"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Models lists every table the service owns.
func Models() []interface{} {
	return []interface{}{
		&target.Record{},
		&geofence.DetectionMarker{},
		&alert.CompletionMarker{},
		&ledger.Record{},
		&ledger.State{},
	}
}

// ProvideLogger builds the application logger; the cleanup flushes it.
func ProvideLogger(cfg *config.Config) (*zap.Logger, func(), error) {
	l, err := logger.New(cfg)
	if err != nil {
		return nil, nil, err
	}
	return l, func() {
		if err := l.Sync(); err != nil {
			log.Printf("ERROR: Failed to sync logger during cleanup: %v", err)
		}
	}, nil
}

// ProvideDatabase opens and migrates the database.
func ProvideDatabase(cfg *config.Config, logger *zap.Logger) (*gorm.DB, func(), error) {
	db, err := database.NewGORM(cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	if err := database.Migrate(db, Models()...); err != nil {
		database.CloseGORMDB(db, logger)
		return nil, nil, err
	}
	return db, func() { database.CloseGORMDB(db, logger) }, nil
}

// ProvideRedis connects to Redis when REDIS_ADDR is set; otherwise the
// client is nil.
func ProvideRedis(cfg *config.Config, logger *zap.Logger) (*redis.Client, func(), error) {
	client, err := cache.NewRedisClient(cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	return client, func() { cache.CloseRedis(client, logger) }, nil
}

// ProvideClock returns the wall clock.
func ProvideClock() clock.Clock {
	return clock.New()
}

// ProvideTuning builds the live tuning from the start-up configuration.
func ProvideTuning(cfg *config.Config, logger *zap.Logger) (*proximity.Tuning, error) {
	return proximity.NewTuning(proximity.SettingsFromConfig(cfg), logger)
}

// ProvideTargetSource selects the target source named by TARGET_SOURCE. The
// Elasticsearch index is created on first use.
func ProvideTargetSource(cfg *config.Config, db *gorm.DB, es *elasticsearch.ESClientWrapper, logger *zap.Logger) target.Source {
	if cfg.TargetSource == "elasticsearch" && es != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := elasticsearch.CreateTargetsIndexIfNotExists(ctx, es, cfg.TargetsIndex, logger); err != nil {
			logger.Error("Failed to create targets index; refreshes will fail until it exists", zap.Error(err))
		}
		return target.NewElasticsearchSource(es.Client, cfg.TargetsIndex)
	}
	return target.NewGORMSource(db)
}

// PushClient delivers both alerts and silent fix requests.
type PushClient interface {
	push.Sender
	push.Waker
}

// ProvidePushClient uses Firebase Cloud Messaging when credentials are
// configured and falls back to logging otherwise.
func ProvidePushClient(cfg *config.Config, logger *zap.Logger) PushClient {
	if !cfg.PushEnabled() {
		logger.Warn("FIREBASE_SERVICE_ACCOUNT_KEY_PATH not set, push path disabled; alerts are only logged")
		return push.NewLogSender(logger)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sender, err := push.NewFCMSender(ctx, cfg, logger)
	if err != nil {
		logger.Error("Firebase messaging unavailable, push path disabled", zap.Error(err))
		return push.NewLogSender(logger)
	}
	return sender
}

func ProvideSender(p PushClient) push.Sender { return p }

func ProvideWaker(p PushClient) push.Waker { return p }

// ProvideCooldownStore shares cooldowns through Redis when a client exists.
func ProvideCooldownStore(client *redis.Client) alert.CooldownStore {
	if client == nil {
		return alert.NewMemoryCooldownStore()
	}
	return alert.NewRedisCooldownStore(client)
}

// ProvideLedger builds the notification ledger with the configured capacity.
func ProvideLedger(repo ledger.Repository, cfg *config.Config, clk clock.Clock, logger *zap.Logger) *ledger.Ledger {
	return ledger.New(repo, cfg.LedgerCapacity, clk, logger)
}

// ProvideCoordinator builds the geofence coordinator on top of the device
// adapters and hands confirmed detections to the dispatcher.
func ProvideCoordinator(
	registry *target.Registry,
	regions *device.RegionBook,
	fixes *device.FixBroker,
	dispatcher *alert.Dispatcher,
	markers geofence.MarkerStore,
	tuning *proximity.Tuning,
	clk clock.Clock,
	logger *zap.Logger,
) *geofence.Coordinator {
	c := geofence.NewCoordinator(registry, regions, fixes, dispatcher, markers, tuning, clk, logger)
	c.SetNotifier(dispatcher)
	return c
}

// ProvideDeviceHandler wires the permission callbacks to the coordinator.
func ProvideDeviceHandler(regions *device.RegionBook, fixes *device.FixBroker, coordinator *geofence.Coordinator, logger *zap.Logger) *device.Handler {
	return device.NewHandler(regions, fixes, coordinator.PermissionGranted, coordinator.PermissionDenied, logger)
}
