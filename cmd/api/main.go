package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/hlsmill/hlsmill/internal/cache"
	"github.com/hlsmill/hlsmill/internal/config"
	"github.com/hlsmill/hlsmill/internal/database"
	"github.com/hlsmill/hlsmill/internal/logging"
	"github.com/hlsmill/hlsmill/internal/memory"
	"github.com/hlsmill/hlsmill/internal/middleware"
	"github.com/hlsmill/hlsmill/internal/queue"
	"github.com/hlsmill/hlsmill/internal/storage"
	"github.com/hlsmill/hlsmill/internal/tracing"
	"github.com/hlsmill/hlsmill/internal/transcoder"
)

func main() {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}

	if _, err := logging.NewLogger(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	}); err != nil {
		log.Fatal().Err(err).Msg("Failed to configure logging")
	}

	closer, err := tracing.Init(cfg.Tracing)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize tracing")
	}
	defer closer.Close()

	db, err := database.New(cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()

	schemaCtx, cancelSchema := context.WithTimeout(context.Background(), 30*time.Second)
	if err := db.EnsureSchema(schemaCtx); err != nil {
		cancelSchema()
		log.Fatal().Err(err).Msg("Failed to ensure database schema")
	}
	cancelSchema()

	repo := database.NewRepository(db)

	stor, err := storage.New(cfg.Storage)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize storage")
	}

	cacheClient, err := cache.NewCache(cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to redis")
	}
	defer cacheClient.Close()

	q, err := queue.New(cfg.Queue)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to queue")
	}
	defer q.Close()

	monitor := memory.NewMonitor(memory.Thresholds{
		WarningPercent:   cfg.Memory.WarningPercent,
		CriticalPercent:  cfg.Memory.CriticalPercent,
		EmergencyPercent: cfg.Memory.EmergencyPercent,
	})
	monitor.SetStopWait(cfg.Memory.StopTimeout)
	manager := memory.NewManager(monitor)
	manager.Start(cfg.Memory.SampleInterval)
	defer manager.Stop()

	ffmpeg := transcoder.NewFFmpeg(cfg.Transcoder.FFmpegPath, cfg.Transcoder.FFprobePath, cfg.Transcoder.SegmentSeconds)
	svc := transcoder.NewService(cfg.Transcoder, ffmpeg, manager, stor, repo, cacheClient)

	api := &API{
		service: svc,
		queue:   q,
		repo:    repo,
		status:  cacheClient,
		manager: manager,
		probes: []healthProbe{
			{name: "database", check: db.Health},
			{name: "redis", check: cacheClient.Ping},
			{name: "storage", check: stor.Ping},
			{name: "queue", check: func(context.Context) error { return q.Ping() }},
		},
	}

	router := setupRouter(api)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("Starting API server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server stopped")
}

func setupRouter(api *API) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(middleware.Logger(), gin.Recovery())

	router.GET("/health", api.healthCheck)
	router.GET("/status", api.getStatus)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	router.POST("/process", api.processVideo)
	router.POST("/pubsub", api.enqueueVideo)

	router.GET("/jobs", api.listJobs)
	router.GET("/jobs/:id", api.getJob)
	router.GET("/jobs/:id/progress", api.getJobProgress)

	router.POST("/admin/memory/reset", api.resetMemoryFlags)

	return router
}
