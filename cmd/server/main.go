package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log" // Standard log for messages before/after zap is active
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"spotalert_backend/internal/config"
	"spotalert_backend/internal/platform/database"
	platformElasticsearch "spotalert_backend/internal/platform/elasticsearch"
	"spotalert_backend/internal/platform/logger"
	"spotalert_backend/internal/target"

	"go.uber.org/zap"
)

func main() {
	seedCmd := flag.NewFlagSet("seed-targets", flag.ExitOnError)
	seedFile := seedCmd.String("file", "spots.json", "JSON file holding the target list")

	if len(os.Args) > 1 && os.Args[1] == "seed-targets" {
		_ = seedCmd.Parse(os.Args[2:])

		cfg, err := config.Load()
		if err != nil {
			log.Fatalf("FATAL: Failed to load configuration for seeding: %v", err)
		}
		appLogger, err := logger.New(cfg)
		if err != nil {
			log.Fatalf("FATAL: Failed to initialize logger for seeding: %v", err)
		}
		if err := runSeedTargets(cfg, appLogger, *seedFile); err != nil {
			appLogger.Fatal("FATAL: Target seeding failed", zap.Error(err))
		}
		appLogger.Info("Target seeding completed successfully.")
		return
	}

	startServer()
}

func startServer() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err)
	}

	server, cleanup, err := initializeServer(cfg)
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize server: %v", err)
	}
	defer cleanup()

	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("FATAL: Server failed to start or crashed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	log.Printf("INFO: Received signal '%s'. Shutting down server...", sig)

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), cfg.ServerTimeout)
	defer cancelShutdown()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("ERROR: Server forced to shutdown due to error: %v", err)
	} else {
		log.Println("INFO: Server shutdown complete.")
	}
	log.Println("INFO: Application exiting.")
}

// runSeedTargets reads a target list from path, validates it as a whole and
// writes it to the spots table. When Elasticsearch is configured the same
// list is bulk indexed.
func runSeedTargets(cfg *config.Config, logger *zap.Logger, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}
	var targets []target.Target
	if err := json.Unmarshal(raw, &targets); err != nil {
		return fmt.Errorf("decoding %s: %w", path, err)
	}
	targets, err = target.Normalize(targets)
	if err != nil {
		return err
	}
	logger.Info("Seeding targets", zap.String("file", path), zap.Int("count", len(targets)))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	db, err := database.NewGORM(cfg, logger)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer database.CloseGORMDB(db, logger)
	if err := database.Migrate(db, &target.Record{}); err != nil {
		return err
	}
	if err := target.NewGORMSource(db).Upsert(ctx, targets); err != nil {
		return err
	}

	esClient, err := platformElasticsearch.NewClient(cfg, logger)
	if err != nil {
		return fmt.Errorf("connecting to Elasticsearch: %w", err)
	}
	if esClient == nil {
		return nil
	}
	if err := platformElasticsearch.CreateTargetsIndexIfNotExists(ctx, esClient, cfg.TargetsIndex, logger); err != nil {
		return err
	}
	docs := make([]platformElasticsearch.TargetDocument, 0, len(targets))
	for _, t := range targets {
		docs = append(docs, target.ToDocument(t))
	}
	failed, err := platformElasticsearch.BulkIndexTargets(ctx, esClient, cfg.TargetsIndex, docs, logger)
	if err != nil {
		return err
	}
	if failed > 0 {
		return fmt.Errorf("%d targets failed to index", failed)
	}
	logger.Info("Targets indexed", zap.String("index", cfg.TargetsIndex), zap.Int("count", len(docs)))
	return nil
}
