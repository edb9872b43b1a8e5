package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	httptransport "github.com/spec-kit/account-workflows/internal/api/http"
	"github.com/spec-kit/account-workflows/internal/api/http/handlers"
	"github.com/spec-kit/account-workflows/internal/auth"
	"github.com/spec-kit/account-workflows/internal/changefeed"
	"github.com/spec-kit/account-workflows/internal/config"
	"github.com/spec-kit/account-workflows/internal/events"
	"github.com/spec-kit/account-workflows/internal/live"
	"github.com/spec-kit/account-workflows/internal/notify"
	"github.com/spec-kit/account-workflows/internal/observability"
	"github.com/spec-kit/account-workflows/internal/persistence"
	"github.com/spec-kit/account-workflows/internal/repository"
	"github.com/spec-kit/account-workflows/internal/repository/memory"
	"github.com/spec-kit/account-workflows/internal/service"
	"github.com/spec-kit/account-workflows/internal/timemath"
	"github.com/spec-kit/account-workflows/internal/worker"
)

const feedChannel = "account-workflows:changes"

// repositories is the storage backend selected at startup.
type repositories struct {
	closures  repository.ClosureRepository
	investors repository.InvestorRepository
	tickets   repository.TicketRepository
	actions   repository.TicketActionRepository
	staff     repository.StaffDirectory
	tx        repository.TxManager
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tracer, shutdownTracing, err := observability.SetupTracing(ctx, cfg.Tracing)
	if err != nil {
		logger.Fatal("failed to init tracing", zap.Error(err))
	}
	metrics := observability.NewMetrics()

	pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
	if err != nil {
		logger.Fatal("failed to connect postgres", zap.Error(err))
	}
	defer pg.Close()

	if cfg.Postgres.RunMigrations {
		if err := persistence.RunMigrations(ctx, pg.PoolHandle(), cfg.Postgres.MigrationsDir, logger); err != nil {
			logger.Fatal("failed to run migrations", zap.Error(err))
		}
	}

	repos, err := openRepositories(ctx, cfg, pg, logger)
	if err != nil {
		logger.Fatal("failed to open store", zap.Error(err))
	}

	redis := persistence.NewRedis(cfg.Redis, logger)
	defer redis.Close()

	feed, err := openFeed(ctx, cfg.Live, redis, logger)
	if err != nil {
		logger.Fatal("failed to open change feed", zap.Error(err))
	}

	dispatcher := events.NewInMemoryDispatcher(logger)
	notifier, closeNotifier := buildNotifier(cfg.Notification, logger)
	clock := timemath.SystemClock{}

	closureService := service.NewClosureService(service.ClosureDependencies{
		ClosureRepo:  repos.closures,
		InvestorRepo: repos.investors,
		Tx:           repos.tx,
		Dispatcher:   dispatcher,
		Feed:         feed,
		Clock:        clock,
		Metrics:      metrics,
		Tracer:       tracer,
		Logger:       logger,
	})
	ticketService := newTicketService(repos, dispatcher, feed, clock, metrics, tracer, logger)
	notificationService := service.NewNotificationService(service.NotificationDependencies{
		Dispatcher: dispatcher,
		StaffRepo:  repos.staff,
		Notifier:   notifier,
		Logger:     logger,
		Metrics:    metrics,
		Config:     cfg.Notification,
	})
	notificationWorker := worker.StartNotificationWorker(ctx, notificationService, 4, 256, logger)

	sweepWorker := worker.NewClosureSweepWorker(closureService, func() worker.Locker {
		return redis.NewLock(worker.SweepLockKey, cfg.Closure.SweepLockTTL)
	}, cfg.Closure.SweepLockTTL, logger)
	if err := sweepWorker.Start(cfg.Closure.SweepSchedule); err != nil {
		logger.Fatal("failed to schedule closure sweep", zap.Error(err))
	}

	closureQuery := live.NewClosureQuery(closureService, feed, clock, cfg.Live.RefreshInterval, logger, metrics)
	ticketQuery := live.NewTicketQuery(ticketService, feed, logger, metrics)

	tokens := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenTTL())
	authMiddleware := auth.NewAuthMiddleware(tokens, repos.staff)

	streamCtx, stopStreams := context.WithCancel(ctx)
	defer stopStreams()

	app := fiber.New(fiber.Config{AppName: cfg.App.Name})
	httptransport.RegisterMiddlewares(app, logger, metrics, cfg.App.RequestTimeout())
	httptransport.RegisterRoutes(app, httptransport.RouteConfig{
		Health:         handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, pg, redis),
		Closures:       handlers.NewClosureHandler(streamCtx, closureService, closureQuery, sweepWorker, logger),
		Tickets:        handlers.NewTicketsHandler(streamCtx, ticketService, ticketQuery, logger),
		AuthMiddleware: authMiddleware,
		Metrics:        metrics.Handler(),
	})

	go func() {
		if err := app.Listen(cfg.App.Addr()); err != nil {
			logger.Fatal("fiber listen", zap.Error(err))
		}
	}()

	waitForShutdown(logger)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	sweepWorker.Stop(shutdownCtx)
	// streams end first so fiber can drain their connections
	stopStreams()
	if err := feed.Close(); err != nil {
		logger.Warn("change feed close", zap.Error(err))
	}
	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	notificationWorker.Stop()
	closeNotifier()
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Warn("tracing shutdown", zap.Error(err))
	}
}

func openRepositories(ctx context.Context, cfg *config.Config, pg *persistence.Postgres, logger *zap.Logger) (repositories, error) {
	if pool := pg.PoolHandle(); pool != nil {
		return repositories{
			closures:  repository.NewClosureRepository(pool),
			investors: repository.NewInvestorRepository(pool),
			tickets:   repository.NewTicketRepository(pool),
			actions:   repository.NewTicketActionRepository(pool),
			staff:     repository.NewStaffRepository(pool),
			tx:        repository.NewTxManager(pool),
		}, nil
	}

	logger.Warn("using in-memory store; data is lost on restart")
	store := memory.NewStore()
	if cfg.App.SeedFile != "" {
		if err := memory.LoadSeed(ctx, store, cfg.App.SeedFile); err != nil {
			return repositories{}, err
		}
		logger.Info("seed loaded", zap.String("file", cfg.App.SeedFile))
	}
	return repositories{
		closures:  store.Closures(),
		investors: store.Investors(),
		tickets:   store.Tickets(),
		actions:   store.Actions(),
		staff:     store.Staff(),
		tx:        store,
	}, nil
}

func openFeed(ctx context.Context, cfg config.LiveConfig, redis *persistence.Redis, logger *zap.Logger) (changefeed.Feed, error) {
	if cfg.FeedBackend == "redis" {
		if !redis.Enabled() {
			logger.Warn("LIVE_FEED_BACKEND=redis but redis is disabled; using in-process feed")
			return changefeed.NewMemoryFeed(), nil
		}
		feed, err := changefeed.NewRedisFeed(ctx, redis.Client, feedChannel, logger)
		if err != nil {
			return nil, err
		}
		return feed, nil
	}
	return changefeed.NewMemoryFeed(), nil
}

func buildNotifier(cfg config.NotificationConfig, logger *zap.Logger) (notify.Notifier, func()) {
	sinks := notify.Fanout{notify.NewLogNotifier(logger)}
	closers := []func() error{}
	if cfg.WebhookURL != "" {
		sinks = append(sinks, notify.NewWebhookNotifier(cfg.WebhookURL, cfg.WebhookTimeout))
	}
	if len(cfg.KafkaBrokers) > 0 {
		kafka := notify.NewKafkaNotifier(cfg.KafkaBrokers, cfg.KafkaTopic)
		sinks = append(sinks, kafka)
		closers = append(closers, kafka.Close)
	}
	return sinks, func() {
		for _, closeFn := range closers {
			if err := closeFn(); err != nil {
				logger.Warn("notifier close", zap.Error(err))
			}
		}
	}
}

func newTicketService(repos repositories, dispatcher events.Dispatcher, feed changefeed.Feed, clock timemath.Clock, metrics *observability.Metrics, tracer trace.Tracer, logger *zap.Logger) *service.TicketService {
	return service.NewTicketService(service.TicketDependencies{
		TicketRepo: repos.tickets,
		ActionRepo: repos.actions,
		StaffRepo:  repos.staff,
		Tx:         repos.tx,
		Dispatcher: dispatcher,
		Feed:       feed,
		Clock:      clock,
		Metrics:    metrics,
		Tracer:     tracer,
		Logger:     logger,
	})
}

func waitForShutdown(logger *zap.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("shutting down", zap.String("signal", sig.String()))
}
