package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/hlsmill/hlsmill/internal/cache"
	"github.com/hlsmill/hlsmill/internal/config"
	"github.com/hlsmill/hlsmill/internal/database"
	"github.com/hlsmill/hlsmill/internal/logging"
	"github.com/hlsmill/hlsmill/internal/memory"
	"github.com/hlsmill/hlsmill/internal/metrics"
	"github.com/hlsmill/hlsmill/internal/monitoring"
	"github.com/hlsmill/hlsmill/internal/queue"
	"github.com/hlsmill/hlsmill/internal/storage"
	"github.com/hlsmill/hlsmill/internal/tracing"
	"github.com/hlsmill/hlsmill/internal/transcoder"
	"github.com/hlsmill/hlsmill/pkg/models"
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

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Metrics listener serves /metrics, /health and the admission status.
	metricsSrv := metrics.NewServer(cfg.Metrics.Port, func() interface{} {
		return manager.Status()
	})
	go func() {
		if err := metricsSrv.Start(); err != nil {
			log.Error().Err(err).Msg("Metrics server stopped")
		}
	}()

	collector := monitoring.NewCollector(svc, q, monitoring.DefaultInterval)
	collector.Start(ctx)

	handler := func(ctx context.Context, req models.TranscodeRequest) error {
		log.Info().
			Str("video_id", req.VideoID).
			Str("input_uri", req.InputURI).
			Msg("Picked up transcode request")

		_, err := svc.Process(ctx, req)
		return err
	}

	if err := q.ConsumeRequests(ctx, handler); err != nil {
		log.Fatal().Err(err).Msg("Failed to start consuming")
	}

	log.Info().Str("worker_id", svc.WorkerID()).Msg("Worker started, waiting for requests")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Info().Msg("Shutting down worker")
	cancel()

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancelShutdown()
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Metrics server forced to shutdown")
	}

	log.Info().Msg("Worker stopped")
}
