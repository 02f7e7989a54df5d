package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"spotalert_backend/internal/alert"
	"spotalert_backend/internal/config"
	"spotalert_backend/internal/device"
	"spotalert_backend/internal/geofence"
	"spotalert_backend/internal/jobs"
	"spotalert_backend/internal/ledger"
	"spotalert_backend/internal/middleware"
	"spotalert_backend/internal/platform/metrics"
	"spotalert_backend/internal/proximity"
	"spotalert_backend/internal/target"
	"spotalert_backend/internal/tracker"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Handlers groups the HTTP handlers of every package.
type Handlers struct {
	Targets       *target.Handler
	Tuning        *proximity.Handler
	Tracker       *tracker.Handler
	Geofence      *geofence.Handler
	Device        *device.Handler
	Alerts        *alert.Handler
	Notifications *ledger.Handler
}

// Server struct holds the dependencies for the HTTP server.
type Server struct {
	httpServer *http.Server
	router     *gin.Engine
	cfg        *config.Config
	logger     *zap.Logger

	pipeline   *Pipeline
	refreshJob *jobs.TargetRefreshJob
}

// NewServer creates a new instance of our application server.
func NewServer(
	cfg *config.Config,
	logger *zap.Logger,
	handlers Handlers,
	pipeline *Pipeline,
	refreshJob *jobs.TargetRefreshJob,
) *Server {
	gin.SetMode(cfg.GinMode)
	router := NewRouter(cfg, logger, handlers)

	addr := fmt.Sprintf("%s:%s", cfg.ServerHost, cfg.ServerPort)
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		// No WriteTimeout: /tracker/events is a long-lived stream.
		IdleTimeout: 120 * time.Second,
	}

	return &Server{
		httpServer: httpServer,
		router:     router,
		cfg:        cfg,
		logger:     logger,
		pipeline:   pipeline,
		refreshJob: refreshJob,
	}
}

// NewRouter builds the gin engine with global middleware and every route.
func NewRouter(cfg *config.Config, logger *zap.Logger, h Handlers) *gin.Engine {
	router := gin.New()
	router.HandleMethodNotAllowed = true

	router.Use(middleware.ZapLogger(logger, cfg))
	router.Use(middleware.ErrorHandler(logger))
	router.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = []string{"*"}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Accept", middleware.RequestIDHeader}
	corsConfig.ExposeHeaders = []string{"Content-Length", middleware.RequestIDHeader}
	router.Use(cors.New(corsConfig))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "UP", "message": "SpotAlert API is healthy!"})
	})
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	ingest := middleware.IngestRateLimiter(cfg, logger.Named("IngestRateLimiter"))

	v1 := router.Group("/api/v1")
	h.Tracker.RegisterRoutes(v1, ingest)

	targets := v1.Group("/targets")
	h.Targets.RegisterRoutes(targets)
	h.Alerts.RegisterTargetRoutes(targets)

	h.Alerts.RegisterRoutes(v1.Group("/alerts"))
	h.Tuning.RegisterRoutes(v1.Group("/tuning"))
	h.Notifications.RegisterRoutes(v1.Group("/notifications"))

	geofenceGroup := v1.Group("/geofence")
	h.Geofence.RegisterRoutes(geofenceGroup, ingest)
	h.Device.RegisterRoutes(geofenceGroup, ingest)

	return router
}

// Router exposes the engine for tests.
func (s *Server) Router() *gin.Engine {
	return s.router
}

func (s *Server) Start() error {
	if err := s.pipeline.Start(context.Background()); err != nil {
		s.logger.Error("Failed to start detection pipeline", zap.Error(err))
		return err
	}

	if s.refreshJob != nil {
		if err := s.refreshJob.SetupAndStart(); err != nil {
			s.logger.Error("Failed to setup and start target refresh job", zap.Error(err))
		}
	}

	s.logger.Info("HTTP Server starting",
		zap.String("address", s.httpServer.Addr),
		zap.String("gin_mode", s.cfg.GinMode),
	)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		s.logger.Error("Failed to start HTTP server", zap.Error(err))
		return err
	}
	s.logger.Info("HTTP Server stopped")
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Attempting graceful server shutdown...")
	if s.refreshJob != nil {
		s.refreshJob.Stop()
	}
	// Stopping the pipeline first closes the event streams held open by clients.
	s.pipeline.Stop()
	return s.httpServer.Shutdown(ctx)
}
