package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/helpdesk-engine/internal/api/http"
	"github.com/spec-kit/helpdesk-engine/internal/auth"
	"github.com/spec-kit/helpdesk-engine/internal/cache"
	"github.com/spec-kit/helpdesk-engine/internal/config"
	"github.com/spec-kit/helpdesk-engine/internal/events"
	"github.com/spec-kit/helpdesk-engine/internal/observability"
	"github.com/spec-kit/helpdesk-engine/internal/persistence"
	"github.com/spec-kit/helpdesk-engine/internal/repository"
	"github.com/spec-kit/helpdesk-engine/internal/service"
	"github.com/spec-kit/helpdesk-engine/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger, err := observability.NewLogger(cfg.Logger)
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	postgres, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
	if err != nil {
		logger.Fatal("postgres connection failed", zap.Error(err))
	}
	defer postgres.Close()

	if cfg.Postgres.RunMigrations {
		if err := persistence.RunMigrations(ctx, postgres.PoolHandle(), logger); err != nil {
			logger.Fatal("migrations failed", zap.Error(err))
		}
	}

	redis := persistence.NewRedis(cfg.Redis, logger)
	defer redis.Close()

	pool := postgres.PoolHandle()
	users := repository.NewUserRepository(pool)
	tickets := repository.NewTicketRepository(pool)
	queue := repository.NewQueueRepository(pool)
	memberships := repository.NewMembershipRepository(pool)
	departments := repository.NewDepartmentRepository(pool)
	history := repository.NewHistoryRepository(pool)
	notifications := repository.NewNotificationRepository(pool)

	metrics := observability.NewMetrics()
	queueCache := cache.NewQueueCache(redis.Client)
	dispatcher := events.NewInMemoryDispatcher()

	accessSvc := service.NewAccessService(queue, memberships, history)
	queueSvc := service.NewQueueService(service.QueueServiceDeps{
		DB:          pool,
		Users:       users,
		Tickets:     tickets,
		Queue:       queue,
		Memberships: memberships,
		History:     history,
		Access:      accessSvc,
		Cache:       queueCache,
		Logger:      logger,
		Metrics:     metrics,
	})
	rejectionSvc := service.NewRejectionService(service.RejectionServiceDeps{
		DB:          pool,
		Users:       users,
		Tickets:     tickets,
		Queue:       queue,
		Memberships: memberships,
		History:     history,
		Access:      accessSvc,
		Cache:       queueCache,
		Dispatcher:  dispatcher,
		Logger:      logger,
		Metrics:     metrics,
	})
	lifecycleSvc := service.NewLifecycleService(service.LifecycleServiceDeps{
		DB:          pool,
		Users:       users,
		Tickets:     tickets,
		Queue:       queue,
		Memberships: memberships,
		Departments: departments,
		History:     history,
		Access:      accessSvc,
		QueueSvc:    queueSvc,
		Cache:       queueCache,
		Dispatcher:  dispatcher,
		Logger:      logger,
		Metrics:     metrics,
	})
	directorySvc := service.NewDirectoryService(departments, memberships, users, queueSvc, logger)
	notificationSvc := service.NewNotificationService(notifications, logger)
	notificationSvc.Register(dispatcher)

	hasher := auth.NewPasswordHasher(cfg.Auth.BcryptCost)
	tokens := auth.NewTokenManager(cfg.Auth.JWTSecret,
		time.Duration(cfg.Auth.AccessTokenTTLMinutes)*time.Minute)
	authSvc := service.NewAuthService(users, hasher, tokens, logger)

	emailWorker := worker.NewEmailWorker(notifications,
		&worker.LogEmailSender{From: cfg.Notification.EmailFrom, Logger: logger},
		30*time.Second, logger)
	go emailWorker.Run(ctx)

	app := http.NewServer(http.ServerDeps{
		Config:        cfg,
		Logger:        logger,
		Metrics:       metrics,
		Postgres:      postgres,
		Users:         users,
		Tokens:        tokens,
		AuthSvc:       authSvc,
		Lifecycle:     lifecycleSvc,
		Rejection:     rejectionSvc,
		QueueSvc:      queueSvc,
		Directory:     directorySvc,
		Notifications: notificationSvc,
	})

	go func() {
		<-ctx.Done()
		logger.Info("shutting down")
		_ = app.ShutdownWithTimeout(10 * time.Second)
	}()

	logger.Info("server starting", zap.String("addr", cfg.App.Addr()))
	if err := app.Listen(cfg.App.Addr()); err != nil {
		logger.Fatal("server stopped", zap.Error(err))
	}
}
