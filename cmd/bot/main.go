package main

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-telegram/bot"

	challengebot "github.com/push21/challengebot"
	"github.com/push21/challengebot/internal/config"
	"github.com/push21/challengebot/internal/handler"
	"github.com/push21/challengebot/internal/middleware"
	"github.com/push21/challengebot/internal/repository"
	"github.com/push21/challengebot/internal/service"
)

func main() {
	// Setup structured logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// Setup context with graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Connect to database
	pool, err := repository.NewPool(ctx, cfg.DatabaseURL, repository.PoolOptions{
		MaxConns: cfg.DBMaxConns,
		MinConns: cfg.DBMinConns,
	})
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	// Run migrations
	migrationsFS, err := fs.Sub(challengebot.MigrationsFS, "migrations")
	if err != nil {
		slog.Error("failed to load embedded migrations", "error", err)
		os.Exit(1)
	}
	if err := repository.RunMigrations(cfg.DatabaseURL, migrationsFS); err != nil {
		slog.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}

	store := repository.NewPostgres(pool)

	// Balance authority: real Lumia or the in-process mock
	var authority service.BalanceAuthority
	if cfg.LumiaEnabled {
		authority = service.NewLumiaClient(cfg.LumiaURL, cfg.LumiaToken)
	} else {
		authority = service.NewMockAuthority(cfg.StartingBalance)
	}

	// Initialize services
	notifier := service.NewNotifier()
	userService := service.NewUserService(store, authority)
	streamClock := service.NewStreamClock(store, notifier)
	refunds := service.NewRefundDistributor(store, authority)
	challengeService := service.NewChallengeService(store, authority, notifier, streamClock, refunds, cfg)
	streamClock.SetLifecycle(challengeService)
	quoteService := service.NewQuoteService(store, authority, notifier, streamClock)
	maintenanceService := service.NewMaintenanceService(store, streamClock, challengeService)

	// Rebuild liveness from the session table after a crash or restart
	if err := streamClock.Recover(ctx); err != nil {
		slog.Error("failed to recover stream clock", "error", err)
		os.Exit(1)
	}

	// Log lifecycle events
	for _, kind := range []service.EventKind{
		service.EventChallengeSubmitted, service.EventChallengePushed,
		service.EventChallengeDugOut, service.EventChallengeRemoved,
		service.EventChallengeExecuted, service.EventChallengeCompleted,
		service.EventGMOverride, service.EventWentLive, service.EventWentOffline,
	} {
		notifier.Subscribe(kind, func(e service.Event) {
			attrs := []any{"kind", e.Kind, "user_id", e.UserID, "amount", e.Amount}
			if e.Challenge != nil {
				attrs = append(attrs, "challenge_id", e.Challenge.ID)
			}
			slog.Info("event", attrs...)
		})
	}

	// Create bot
	opts := []bot.Option{
		bot.WithMiddlewares(
			middleware.Recover(),
			middleware.Logging(),
			middleware.ActorLoader(userService, cfg),
		),
	}

	b, err := bot.New(cfg.BotToken, opts...)
	if err != nil {
		slog.Error("failed to create bot", "error", err)
		os.Exit(1)
	}

	h := handler.New(handler.Deps{
		Bot:         b,
		Cfg:         cfg,
		Users:       userService,
		Quotes:      quoteService,
		Challenges:  challengeService,
		Maintenance: maintenanceService,
		StreamClock: streamClock,
	})
	h.Register()

	// Session ticker: advances the executing challenge and sweeps dead quotes
	go func() {
		ticker := time.NewTicker(config.SessionTickInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if !streamClock.IsLive() {
					continue
				}
				if _, err := challengeService.Tick(ctx); err != nil {
					slog.Error("session tick", "error", err)
				}
				if _, err := quoteService.PruneExpired(ctx); err != nil {
					slog.Error("prune quotes", "error", err)
				}
			}
		}
	}()

	// Daily maintenance: RunDaily gates itself on the calendar date, so
	// polling more often than once a day is harmless.
	go func() {
		ticker := time.NewTicker(config.MaintenanceCheckInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				result, err := maintenanceService.RunDaily(ctx, time.Now())
				if err != nil {
					slog.Error("daily maintenance", "error", err)
					continue
				}
				if !result.AlreadyRan {
					slog.Info("daily maintenance done",
						"real_day", result.RealDay,
						"broadcast_day", result.BroadcastDay,
						"users_ticked", result.UsersTicked,
						"archived", result.Archived,
						"one_offs_failed", result.OneOffsFailed,
						"cadence_failed", result.CadenceFailed,
					)
				}
			}
		}
	}()

	slog.Info("bot started")
	b.Start(ctx)
	slog.Info("bot stopped")
}
