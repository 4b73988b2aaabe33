package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivermigrate"
	"github.com/rs/cors"

	"github.com/gospodapp/backend/internal/analytics"
	"github.com/gospodapp/backend/internal/config"
	"github.com/gospodapp/backend/internal/handlers"
	"github.com/gospodapp/backend/internal/middleware"
	"github.com/gospodapp/backend/internal/repository"
	"github.com/gospodapp/backend/internal/retention"
	"github.com/gospodapp/backend/internal/router"
	"github.com/gospodapp/backend/internal/services"
	"github.com/gospodapp/backend/internal/upstream"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	_ = godotenv.Load()
	cfg := config.Load()

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("Unable to create database pool", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		slog.Error("Cannot reach PostgreSQL. Ensure Postgres is running and schema.sql has been applied", "error", err)
		os.Exit(1)
	}
	slog.Info("Connected to PostgreSQL database")

	// River migrations (job queue tables only; app tables come from schema.sql)
	migrator, err := rivermigrate.New(riverpgxv5.New(pool), nil)
	if err != nil {
		slog.Error("Failed to create River migrator", "error", err)
		os.Exit(1)
	}
	if _, err := migrator.Migrate(ctx, rivermigrate.DirectionUp, nil); err != nil {
		slog.Error("River migrate up failed", "error", err)
		os.Exit(1)
	}
	slog.Info("River migrations applied")

	// Repositories
	usageRepo := repository.NewUsageRepo(pool)
	deviceRepo := repository.NewDeviceRepo(pool)
	referralRepo := repository.NewReferralRepo(pool)
	chatRepo := repository.NewChatRepo(pool)
	eventRepo := repository.NewEventRepo(pool)

	// Background workers
	workers := river.NewWorkers()
	river.AddWorker(workers, analytics.NewLogUsageWorker(eventRepo))
	river.AddWorker(workers, retention.NewPurgeWorker(deviceRepo, usageRepo, chatRepo, logger))

	riverClient, err := river.NewClient(riverpgxv5.New(pool), &river.Config{
		Queues: map[string]river.QueueConfig{
			river.QueueDefault: {MaxWorkers: 10},
		},
		Workers: workers,
		PeriodicJobs: []*river.PeriodicJob{
			river.NewPeriodicJob(
				river.PeriodicInterval(24*time.Hour),
				func() (river.JobArgs, *river.InsertOpts) {
					return retention.PurgeArgs{ChatRetentionDays: cfg.ChatRetentionDays}, nil
				},
				&river.PeriodicJobOpts{RunOnStart: true},
			),
		},
	})
	if err != nil {
		slog.Error("Failed to create River client", "error", err)
		os.Exit(1)
	}

	recorder := analytics.NewRecorder(func(ctx context.Context, args river.JobArgs) error {
		_, err := riverClient.Insert(ctx, args, nil)
		return err
	}, eventRepo, logger)

	// Rate-limit counter store: Redis when configured, otherwise the
	// single-process file fallback (approximate across processes).
	var counterStore services.CounterStore
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		if err := rdb.Ping(ctx).Err(); err != nil {
			slog.Warn("Redis unreachable, falling back to file-based rate limiting", "error", err)
			counterStore = services.NewFileCounterStore("")
		} else {
			counterStore = services.NewRedisCounterStore(rdb)
		}
	} else {
		slog.Warn("REDIS_ADDR not set, using file-based rate limiting (single process only)")
		counterStore = services.NewFileCounterStore("")
	}

	// Services
	quotaSvc := services.NewQuotaService(usageRepo, deviceRepo, referralRepo,
		services.Limits{Text: cfg.FreeTextLimit, Image: cfg.FreeImageLimit},
		services.Limits{Text: cfg.PremiumTextLimit, Image: cfg.PremiumImageLimit},
	)
	limiter := services.NewRateLimiter(counterStore, logger)
	referralSvc := services.NewReferralService(referralRepo, deviceRepo, cfg.ReferralBonusDays, logger)
	convoSvc := services.NewConversationService(chatRepo)

	completer := upstream.NewOpenAICompleter(cfg.OpenAIBaseURL, cfg.OpenAIKey)
	classifier := upstream.NewGoogleVisionClassifier(cfg.VisionBaseURL, cfg.VisionKey)

	orchestrator := services.NewOrchestrator(
		quotaSvc, limiter, referralSvc, convoSvc, classifier, completer, recorder,
		services.OrchestratorOptions{
			RateLimit:               cfg.RateLimit,
			RateWindow:              cfg.RateWindow,
			HistoryWindow:           cfg.HistoryWindow,
			SystemPrompt:            cfg.SystemPrompt,
			ChargeOnUpstreamFailure: cfg.ChargeOnUpstreamFailure,
		},
		logger,
	)

	// Handlers & routes
	chatHandler := handlers.NewChatHandler(orchestrator, logger)
	usageHandler := handlers.NewUsageHandler(quotaSvc, logger)
	deviceHandler := handlers.NewDeviceHandler(deviceRepo, referralSvc, cfg.DeletionGraceDays, logger)

	apiAuth := middleware.APIKeyAuth(cfg.APISecretKey)
	signed := middleware.VerifySignature(cfg.SigningSecret, recorder, logger)

	apiRouter := router.New(chatHandler, usageHandler, deviceHandler, apiAuth, signed)

	corsHandler := cors.New(cors.Options{
		AllowedOrigins: cfg.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-API-Key", "X-Signature", "X-Timestamp"},
	}).Handler(apiRouter)

	// Start River (analytics + retention jobs)
	riverCtx, stopRiver := context.WithCancel(ctx)
	defer stopRiver()
	go func() {
		if err := riverClient.Start(riverCtx); err != nil && riverCtx.Err() == nil {
			slog.Error("River client stopped", "error", err)
		}
	}()

	serverAddr := "0.0.0.0:" + cfg.Port
	slog.Info("Starting HTTP server", "addr", serverAddr)
	if err := http.ListenAndServe(serverAddr, corsHandler); err != nil {
		slog.Error("HTTP server failed", "error", err)
		os.Exit(1)
	}
}
