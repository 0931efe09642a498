package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"deedstudio/internal/app"
	"deedstudio/internal/cache"
	"deedstudio/internal/config"
	"deedstudio/internal/ffmpeg"
	"deedstudio/internal/handler"
	"deedstudio/internal/ingest"
	"deedstudio/internal/intake"
	"deedstudio/internal/logger"
	"deedstudio/internal/queue"
	"deedstudio/internal/service"
	transport "deedstudio/internal/transport/http"
)

const (
	janitorInterval = 5 * time.Minute
	streamMaxLen    = 100000
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		logger.New("info").Fatalf("Failed to load config: %v", err)
	}
	log := logger.New(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	deps, err := app.Open(ctx, cfg, log)
	if err != nil {
		log.Fatalf("Failed to open backends: %v", err)
	}
	defer deps.Close()

	objects, err := deps.ObjectStore(ctx, cfg, log)
	if err != nil {
		log.Fatalf("Failed to open object store: %v", err)
	}

	policy := cfg.Policy()

	// Intake: local selections, probing and cover candidates
	toolkit := ffmpeg.NewToolkit(ffmpeg.NewCommandRunner(logger.Component(log, "ffmpeg")), cfg.FFmpegPath, cfg.FFprobePath)
	selections := intake.New(toolkit, policy, cfg.SpoolDir, logger.Component(log, "intake"))
	defer selections.Close()
	go selections.RunJanitor(ctx, janitorInterval, cfg.SelectionTTL)

	// Ingest platform (optional: without credentials every video needs a server mix)
	var ingestSvc ingest.Service
	if cfg.IngestTokenID != "" {
		ingestSvc = ingest.NewClient(ingest.Config{
			BaseURL:     cfg.IngestBaseURL,
			TokenID:     cfg.IngestTokenID,
			TokenSecret: cfg.IngestTokenSecret,
			CORSOrigin:  cfg.IngestCORSOrigin,
		}, logger.Component(log, "ingest"))
	} else {
		log.Warn("INGEST_TOKEN_ID not set, video ingest is disabled")
	}

	publisher := queue.NewPublisher(deps.Redis.Client, streamMaxLen, logger.Component(log, "queue"))
	progress := cache.NewProgressCache(deps.Redis.Client, logger.Component(log, "progress"))

	finalizer := service.NewFinalizer(deps.Docs, logger.Component(log, "finalizer"))

	publishSvc := service.NewPublishService(selections, objects, ingestSvc, finalizer, service.RequestGeo{}, policy, logger.Component(log, "publish"))
	publishSvc.SetPublisher(publisher)
	publishSvc.SetProgressCache(progress, cfg.ProgressResetDelay)

	postSvc := service.NewPostService(finalizer, objects, ingestSvc, logger.Component(log, "posts"))
	postSvc.SetPublisher(publisher)

	httpLog := logger.Component(log, "http")
	router := transport.NewRouter(transport.RouterConfig{
		StudioHandler:  handler.NewStudioHandler(selections, policy.MaxSizeBytes, httpLog),
		PublishHandler: handler.NewPublishHandler(publishSvc, policy.MaxSizeBytes, httpLog),
		PostHandler:    handler.NewPostHandler(postSvc, progress, httpLog),
		WebhookHandler: handler.NewWebhookHandler(cfg.IngestWebhookSecret, publisher, httpLog),
		JWTSecret:      cfg.JWTSecret,
	})

	if err := transport.NewServer(cfg.ServerPort, router, httpLog).Run(ctx); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}
