package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/san-kum/detection-lights/server/cache"
	"github.com/san-kum/detection-lights/server/config"
	"github.com/san-kum/detection-lights/server/detection"
	"github.com/san-kum/detection-lights/server/eventlog"
	"github.com/san-kum/detection-lights/server/handlers"
	"github.com/san-kum/detection-lights/server/middleware"
	"github.com/san-kum/detection-lights/server/processor"
	"go.uber.org/zap"
)

type Server struct {
	router      *gin.Engine
	logger      *zap.Logger
	controller  *processor.Controller
	eventLog    *eventlog.EventLog
	records     *handlers.RecordHub
	cache       cache.Cache
	publisher   *cache.StatePublisher
	rateLimiter *middleware.RateLimiter
	config      *config.Config
	runID       string
}

func main() {
	cfg := config.LoadConfig()

	logger, err := newLogger(cfg.Logging)
	if err != nil {
		log.Fatal("Failed to initialize logger:", err)
	}
	defer logger.Sync()

	if err := cfg.ValidateConfig(logger); err != nil {
		logger.Fatal("Configuration validation failed", zap.Error(err))
	}

	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	server, err := NewServer(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to create server", zap.Error(err))
	}

	var srv *http.Server
	var serveErr <-chan error
	if cfg.Server.Enabled {
		addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
		srv = &http.Server{
			Addr:         addr,
			Handler:      server.router,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
			IdleTimeout:  cfg.Server.IdleTimeout,
		}

		logger.Info("Starting server",
			zap.String("addr", addr),
			zap.String("environment", cfg.Server.Environment))
		serveErr = server.listen(srv)
	}

	sourceCtx, stopSource := context.WithCancel(context.Background())
	sourceDone := make(chan error, 1)
	go func() {
		sourceDone <- server.runSource(sourceCtx)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	toggle := make(chan os.Signal, 1)
	signal.Notify(toggle, syscall.SIGUSR1)

	logger.Info("Controller running",
		zap.String("run_id", server.runID),
		zap.String("variant", cfg.Controller.Variant),
		zap.String("driver", cfg.Actuator.Driver),
		zap.String("source", cfg.Detection.Source))

	exitCode := 0
wait:
	for {
		select {
		case <-toggle:
			enabled, err := server.controller.ToggleLights()
			if err != nil {
				logger.Warn("Failed to toggle lights", zap.Error(err))
				continue
			}
			logger.Info("Lights toggled by signal", zap.Bool("enabled", enabled))
		case sig := <-quit:
			logger.Info("Received signal", zap.Stringer("signal", sig))
			break wait
		case err := <-serveErr:
			logger.Error("HTTP server failed", zap.Error(err))
			exitCode = 1
			break wait
		case err := <-sourceDone:
			if err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("Detection source failed", zap.Error(err))
			} else {
				logger.Info("Detection source finished")
			}
			break wait
		}
	}

	logger.Info("Shutting down server...")
	stopSource()

	ctx, cancel := context.WithTimeout(context.Background(), shutdownDeadline(cfg.Controller))
	defer cancel()

	server.Shutdown(ctx, srv)

	logger.Info("Server exited")
	if exitCode != 0 {
		cancel()
		logger.Sync()
		os.Exit(exitCode)
	}
}

// listen serves HTTP in the background. A failure to serve is reported on
// the returned channel so the caller can still run the shutdown sequence.
func (s *Server) listen(srv *http.Server) <-chan error {
	serveErr := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErr <- err
		}
	}()
	return serveErr
}

func NewServer(cfg *config.Config, logger *zap.Logger) (*Server, error) {
	runID := uuid.NewString()

	driver, err := newDriver(cfg.Actuator)
	if err != nil {
		return nil, fmt.Errorf("failed to open actuator: %w", err)
	}

	controllerConfig, err := newControllerConfig(cfg.Controller, cfg.Actuator.StateMap)
	if err != nil {
		driver.Close()
		return nil, fmt.Errorf("invalid controller configuration: %w", err)
	}

	sinks, err := newSinks(cfg.EventLog)
	if err != nil {
		driver.Close()
		return nil, fmt.Errorf("failed to open event log: %w", err)
	}
	eventLog := eventlog.New(runID, logger, sinks...)

	checkOrigin := func(origin string) bool {
		return middleware.OriginAllowed(cfg.Security.AllowedOrigins, origin)
	}
	records := handlers.NewRecordHub(checkOrigin, logger)
	eventLog.AddSink(records)

	queue := processor.NewCommandQueue(newQueueConfig(cfg.Controller), logger)

	controller, err := processor.NewController(controllerConfig, driver, queue, eventLog, logger)
	if err != nil {
		queue.Shutdown(time.Second)
		driver.Close()
		eventLog.Close()
		return nil, fmt.Errorf("failed to create controller: %w", err)
	}

	cacheInstance := newCache(cfg.Redis, logger)
	publisher := cache.NewStatePublisher(cacheInstance, logger)
	controller.SetPublisher(publisher)
	publisher.Publish(controller.Snapshot())

	rateLimiter := middleware.NewRateLimiter(
		cfg.Security.RateLimitRPS,
		cfg.Security.RateLimitBurst,
		logger,
	)

	authMiddleware := middleware.NewAuthMiddleware(cfg.Security.OperatorToken, logger)

	router := gin.New()

	router.Use(middleware.RequestLogger(logger))
	router.Use(gin.Recovery())
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.CORS(cfg.Security.AllowedOrigins))

	lightsHandler := handlers.NewLightsHandler(controller, publisher, eventLog, runID, cfg.Controller.Variant, logger)

	var ingest *handlers.DetectionIngest
	if cfg.Detection.Source == config.SourceWebSocket {
		ingest = handlers.NewDetectionIngest(controller, checkOrigin, logger)
	}

	setupRoutes(router, lightsHandler, records, ingest, authMiddleware, rateLimiter)

	return &Server{
		router:      router,
		logger:      logger,
		controller:  controller,
		eventLog:    eventLog,
		records:     records,
		cache:       cacheInstance,
		publisher:   publisher,
		rateLimiter: rateLimiter,
		config:      cfg,
		runID:       runID,
	}, nil
}

func setupRoutes(router *gin.Engine, lights *handlers.LightsHandler, records *handlers.RecordHub, ingest *handlers.DetectionIngest, auth *middleware.AuthMiddleware, rateLimiter *middleware.RateLimiter) {
	router.GET("/health", middleware.HealthCheck())
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	router.GET("/ws/records", records.HandleWebSocket)
	if ingest != nil {
		router.GET("/ws/detections", auth.RequireOperator(), ingest.HandleWebSocket)
	}

	api := router.Group("/api/v1")
	{
		api.GET("/health", middleware.HealthCheck())
		api.GET("/status", lights.GetStatus)
		api.GET("/state", lights.GetState)

		control := api.Group("/lights")
		control.Use(rateLimiter.RateLimit())
		control.Use(auth.RequireOperator())
		{
			control.POST("/enable", lights.EnableLights)
			control.POST("/disable", lights.DisableLights)
			control.POST("/toggle", lights.ToggleLights)
		}
	}
}

// runSource feeds detection events to the controller until the source ends
// or ctx is cancelled. The websocket source is served by the HTTP router, so
// this only waits.
func (s *Server) runSource(ctx context.Context) error {
	cfg := s.config.Detection

	switch cfg.Source {
	case config.SourceNone, config.SourceWebSocket:
		<-ctx.Done()
		return ctx.Err()
	case config.SourceStdin:
		return detection.NewReader(s.controller, s.logger).Run(ctx, os.Stdin)
	case config.SourceClient:
		client, err := detection.NewClient(detection.ClientConfig{
			URL:         cfg.URL,
			MaxRetries:  cfg.MaxRetries,
			RetryDelay:  cfg.RetryDelay,
			ReadTimeout: cfg.ReadTimeout,
		}, s.controller, s.logger)
		if err != nil {
			return err
		}
		return client.Run(ctx)
	default:
		f, err := os.Open(cfg.Source)
		if err != nil {
			return fmt.Errorf("open detection source: %w", err)
		}
		defer f.Close()
		return detection.NewReader(s.controller, s.logger).Run(ctx, f)
	}
}

// Shutdown turns the lights off and releases the hardware before the cache
// and HTTP server go away.
func (s *Server) Shutdown(ctx context.Context, srv *http.Server) {
	if err := s.controller.Shutdown(ctx); err != nil {
		s.logger.Error("Failed to shutdown controller", zap.Error(err))
	}

	s.publisher.Close()

	if err := s.cache.Close(); err != nil {
		s.logger.Error("Failed to close cache", zap.Error(err))
	}

	s.rateLimiter.Shutdown()

	if srv != nil {
		if err := srv.Shutdown(ctx); err != nil {
			s.logger.Error("Server forced to shutdown", zap.Error(err))
		}
	}
}
