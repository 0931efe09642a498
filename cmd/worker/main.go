package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"deedstudio/internal/app"
	"deedstudio/internal/config"
	"deedstudio/internal/logger"
	"deedstudio/internal/notify"
	"deedstudio/internal/queue"
	"deedstudio/internal/service"
	"deedstudio/internal/worker"
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

	finalizer := service.NewFinalizer(deps.Docs, logger.Component(log, "finalizer"))
	h := worker.NewHandler(finalizer, logger.Component(log, "handler"))

	if deps.Firebase != nil {
		notifier, err := notify.NewFCMNotifier(ctx, deps.Firebase, logger.Component(log, "fcm"))
		if err != nil {
			log.Warnf("FCM disabled: %v", err)
		} else {
			h.SetNotifier(notifier)
		}
	}

	hostname, _ := os.Hostname()
	managerCfg := worker.DefaultManagerConfig()
	managerCfg.WorkerCount = cfg.WorkerCount
	if hostname != "" {
		managerCfg.ConsumerPrefix = hostname
	}

	consumer := queue.NewConsumer(deps.Redis.Client, logger.Component(log, "queue"))
	manager := worker.NewManager(consumer, h, managerCfg, logger.Component(log, "worker"))
	if err := manager.Start(ctx); err != nil {
		log.Fatalf("Failed to start workers: %v", err)
	}

	<-ctx.Done()
	manager.Stop()
}
