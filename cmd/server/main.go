package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"

	"github.com/ignatzorin/gig-escrow/internal/config"
	"github.com/ignatzorin/gig-escrow/internal/db"
	"github.com/ignatzorin/gig-escrow/internal/domain/valueobject"
	"github.com/ignatzorin/gig-escrow/internal/events"
	"github.com/ignatzorin/gig-escrow/internal/gateway"
	"github.com/ignatzorin/gig-escrow/internal/gateway/escrow"
	"github.com/ignatzorin/gig-escrow/internal/gateway/payout"
	httpHandlers "github.com/ignatzorin/gig-escrow/internal/http/handlers"
	"github.com/ignatzorin/gig-escrow/internal/http/middleware"
	httpRouter "github.com/ignatzorin/gig-escrow/internal/http/router"
	"github.com/ignatzorin/gig-escrow/internal/logger"
	"github.com/ignatzorin/gig-escrow/internal/notify"
	"github.com/ignatzorin/gig-escrow/internal/repository"
	"github.com/ignatzorin/gig-escrow/internal/scheduler"
	"github.com/ignatzorin/gig-escrow/internal/service"
	"github.com/ignatzorin/gig-escrow/internal/ws"
)

func main() {
	// Готовим контекст для graceful shutdown.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("main: ошибка загрузки конфигурации: %v", err)
	}

	logger.Init(cfg.LogLevel, cfg.Env)
	logger.Log.WithField("env", cfg.Env).Info("запуск gig-escrow")

	// Подключение к базе и миграции.
	dbConn, err := db.NewPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("main: ошибка подключения к базе: %v", err)
	}
	defer safeClose(dbConn)

	if err := db.RunMigrations(ctx, dbConn, cfg.MigrationsPath); err != nil {
		log.Fatalf("main: ошибка миграций: %v", err)
	}

	store := repository.NewStore(dbConn)

	fees, err := valueobject.NewFeePolicy(cfg.PlatformFeeRate)
	if err != nil {
		log.Fatalf("main: некорректная комиссия платформы: %v", err)
	}

	// Платёжные шлюзы.
	gwCfg := gateway.Config{Timeout: cfg.Gateway.Timeout, MaxRetries: cfg.Gateway.MaxRetries}
	escrowCfg := gwCfg
	escrowCfg.BaseURL = cfg.Escrow.APIURL
	payoutCfg := gwCfg
	payoutCfg.BaseURL = cfg.Payout.APIURL
	escrowClient := escrow.NewClient(escrowCfg, cfg.Escrow.SecretKey)
	payoutClient := payout.NewClient(payoutCfg, cfg.Payout.APIToken, cfg.Payout.ProfileID)

	// Уведомления: вебсокеты всегда, шина событий если настроена.
	hub := ws.NewHub()
	go hub.Run(ctx)

	targets := []notify.Target{hub}
	healthChecks := map[string]httpHandlers.Checker{"database": store}
	if cfg.AMQPURL != "" {
		publisher, err := events.NewPublisher(cfg.AMQPURL)
		if err != nil {
			log.Fatalf("main: %v", err)
		}
		defer publisher.Close()
		targets = append(targets, publisher)
		healthChecks["events"] = httpHandlers.CheckerFunc(func(context.Context) error {
			if !publisher.IsConnected() {
				return events.ErrNotConnected
			}
			return nil
		})
	}
	notifier := notify.New(targets...)

	// Лимиты запросов: общий redis store между инстансами, иначе память.
	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
		defer redisClient.Close()
		healthChecks["redis"] = httpHandlers.CheckerFunc(func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		})
	}
	limitStore, err := middleware.NewRateLimitStore(redisClient)
	if err != nil {
		log.Fatalf("main: %v", err)
	}

	// Сервисы.
	tokenManager := service.NewTokenManager(cfg.JWTSecret, cfg.AccessTokenTTL)
	ledgerService := service.NewLedgerService(store)
	escrowService := service.NewEscrowService(store, escrowClient, ledgerService, notifier)
	holdReleaser := service.NewHoldReleaser(store, escrowClient)
	payoutService := service.NewPayoutService(store, payoutClient, ledgerService)
	gigService := service.NewGigService(store, escrowClient, notifier, fees, cfg.DefaultCurrency)
	projectService := service.NewProjectService(store, payoutService, ledgerService)
	disputeService := service.NewDisputeService(store, escrowService, payoutService, ledgerService, notifier, fees)
	reconciler := service.NewWebhookReconciler(store, escrowService, payoutService, ledgerService, service.WebhookSecrets{
		Escrow:          cfg.Escrow.WebhookSecret,
		EscrowTolerance: cfg.Escrow.WebhookTolerance,
		Payout:          cfg.Payout.WebhookSecret,
	})

	// Фоновые задачи.
	sweeps := scheduler.New(cfg.SweepSchedule, cfg.Gateway.Timeout*time.Duration(cfg.Gateway.MaxRetries+1),
		scheduler.Job{Name: "expire_gigs", Run: func(ctx context.Context) (int, error) {
			return gigService.ExpireStale(ctx, time.Now())
		}},
		scheduler.Job{Name: "expire_pending_payments", Run: func(ctx context.Context) (int, error) {
			return escrowService.ExpirePendingPayments(ctx, time.Now().Add(-cfg.PendingPaymentTTL))
		}},
		scheduler.Job{Name: "resubmit_payouts", Run: func(ctx context.Context) (int, error) {
			return payoutService.ResubmitPending(ctx, time.Now().Add(-time.Minute))
		}},
		scheduler.Job{Name: "poll_stale_payouts", Run: func(ctx context.Context) (int, error) {
			return payoutService.PollStale(ctx, time.Now().Add(-cfg.PayoutPollAfter))
		}},
		scheduler.Job{Name: "retry_webhooks", Run: reconciler.RetryFailed},
		scheduler.Job{Name: "release_holds", Run: holdReleaser.RetryPending},
	)
	if err := sweeps.Start(); err != nil {
		log.Fatalf("main: ошибка запуска планировщика: %v", err)
	}
	defer sweeps.Stop()

	// Роутер.
	engine := httpRouter.SetupRouter(cfg, httpRouter.Handlers{
		Health:   httpHandlers.NewHealthHandler(healthChecks),
		Gigs:     httpHandlers.NewGigHandler(gigService),
		Projects: httpHandlers.NewProjectHandler(projectService, escrowService, payoutService, ledgerService),
		Disputes: httpHandlers.NewDisputeHandler(disputeService),
		Webhooks: httpHandlers.NewWebhookHandler(reconciler),
		WS:       httpHandlers.NewWSHandler(hub, tokenManager, cfg.AllowedOrigins),
	}, tokenManager, limitStore)

	server := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Завершаем сервер при получении сигнала.
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("main: ошибка остановки http сервера: %v", err)
		}
	}()

	logger.Log.WithField("port", cfg.HTTPPort).Info("HTTP сервер запущен")

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("main: сервер завершился с ошибкой: %v", err)
	}
}

// safeClose закрывает соединение с базой.
func safeClose(db *sqlx.DB) {
	if err := db.Close(); err != nil {
		log.Printf("main: ошибка закрытия базы: %v", err)
	}
}
