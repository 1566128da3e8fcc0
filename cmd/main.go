package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/jobforge/scheduler/config"
	"github.com/jobforge/scheduler/internal/archive"
	"github.com/jobforge/scheduler/internal/catalog"
	"github.com/jobforge/scheduler/internal/clock"
	"github.com/jobforge/scheduler/internal/database"
	"github.com/jobforge/scheduler/internal/engine"
	"github.com/jobforge/scheduler/internal/handler"
	"github.com/jobforge/scheduler/internal/notifier"
	"github.com/jobforge/scheduler/internal/queue"
	"github.com/jobforge/scheduler/internal/resourcegroup"
	"github.com/jobforge/scheduler/internal/router"
	"github.com/jobforge/scheduler/internal/service"
	"github.com/jobforge/scheduler/internal/store"
	"github.com/jobforge/scheduler/internal/supervisor"
	"github.com/jobforge/scheduler/internal/telemetry"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer logger.Sync()

	db, err := database.NewPostgresConnection(&cfg.Postgres)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer database.Close(db)

	if err := database.AutoMigrate(db); err != nil {
		logger.Fatal("failed to auto-migrate", zap.Error(err))
	}

	ctx := context.Background()

	provider, err := telemetry.Init(ctx, cfg.Tracing)
	if err != nil {
		logger.Fatal("failed to init telemetry", zap.Error(err))
	}
	defer provider.Shutdown(ctx)

	table := resourcegroup.NewTable(cfg.ResourceGroups)

	cat := catalog.New(db)
	if err := cat.Load(); err != nil {
		logger.Fatal("failed to load job catalog", zap.Error(err))
	}

	archiveSnk, err := newArchiveSink(ctx, cfg.Archive)
	if err != nil {
		logger.Fatal("failed to init archive sink", zap.Error(err))
	}

	var notifySink notifier.Sink = notifier.NoopSink{}
	if cfg.Notify.WebhookURL != "" {
		notifySink = notifier.NewRestySink(cfg.Notify.WebhookURL)
	}
	notif := notifier.New(notifySink, logger, cfg.Scheduler.NotifyRatePerMin)

	runStore := store.New(cfg.Scheduler.HistoryPerJob, cfg.Scheduler.RecentEvents)
	q := queue.New()
	sup := supervisor.New(time.Duration(cfg.Scheduler.GraceKillSeconds) * time.Second)

	mode := engine.ModeAuto
	if cfg.Scheduler.Mode == string(engine.ModeSingle) {
		mode = engine.ModeSingle
	}

	eng := engine.New(
		engine.Config{
			TickInterval: cfg.Scheduler.TickInterval,
			GraceKill:    time.Duration(cfg.Scheduler.GraceKillSeconds) * time.Second,
			NotifyRate:   cfg.Scheduler.NotifyRatePerMin,
			Mode:         mode,
		},
		clock.Real{},
		logger,
		provider.Tracer(),
		cat,
		table,
		runStore,
		q,
		sup,
		notif,
		archiveSnk,
	)

	catalogService := service.NewCatalogService(cat, table)
	runsService := service.NewRunsService(eng)

	handlers := &router.Handlers{
		Task:      handler.NewTaskHandler(catalogService, runsService),
		Scheduler: handler.NewSchedulerHandler(runsService),
		Health:    handler.NewHealthHandler(db, eng),
	}

	app := fiber.New(fiber.Config{
		AppName:      "Job Forge Scheduler",
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	})

	router.SetupRouter(app, handlers)

	if err := eng.Start(ctx); err != nil {
		logger.Fatal("failed to start scheduler", zap.Error(err))
	}

	go func() {
		addr := fmt.Sprintf(":%d", cfg.Server.Port)
		logger.Info("starting scheduler service", zap.String("addr", addr))
		if err := app.Listen(addr); err != nil {
			logger.Fatal("failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down scheduler service")

	eng.Stop(time.Duration(cfg.Scheduler.GraceKillSeconds) * time.Second)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}

	logger.Info("scheduler service stopped")
}

// newArchiveSink selects the run-transcript archive backend per
// cfg.Backend ("local" or "s3").
func newArchiveSink(ctx context.Context, cfg config.ArchiveConfig) (archive.Sink, error) {
	switch cfg.Backend {
	case "s3":
		return archive.NewS3Sink(ctx, archive.S3Config{
			Bucket:          cfg.S3Bucket,
			Prefix:          cfg.S3Prefix,
			Region:          cfg.S3Region,
			Endpoint:        cfg.S3Endpoint,
			AccessKeyID:     cfg.S3AccessKeyID,
			SecretAccessKey: cfg.S3SecretKey,
		})
	default:
		return archive.NewLocalSink(cfg.LocalDir)
	}
}
