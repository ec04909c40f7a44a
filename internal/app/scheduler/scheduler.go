// Package scheduler собирает приложение фоновых задач: подключения к
// инфраструктуре, доменные сервисы и cron с расписаниями из конфига.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/streadway/amqp"

	"github.com/perfumeclub/subscription-bot/internal/cache"
	"github.com/perfumeclub/subscription-bot/internal/config"
	"github.com/perfumeclub/subscription-bot/internal/lib/rabbitmq"
	"github.com/perfumeclub/subscription-bot/internal/lib/sl"
	"github.com/perfumeclub/subscription-bot/internal/notify"
	"github.com/perfumeclub/subscription-bot/internal/paymentprovider"
	paymentservice "github.com/perfumeclub/subscription-bot/internal/services/payment"
	referralservice "github.com/perfumeclub/subscription-bot/internal/services/referral"
	schedulerservice "github.com/perfumeclub/subscription-bot/internal/services/scheduler"
	settlementservice "github.com/perfumeclub/subscription-bot/internal/services/settlement"
	subscriptionservice "github.com/perfumeclub/subscription-bot/internal/services/subscription"
	userservice "github.com/perfumeclub/subscription-bot/internal/services/user"
	"github.com/perfumeclub/subscription-bot/internal/storage/repository"
)

// App представляет приложение планировщика.
type App struct {
	schedulerService *schedulerservice.Service
	cron             *cron.Cron
	conn             *amqp.Connection
	ch               *amqp.Channel
	db               *repository.Storage
	logger           *slog.Logger
	schedules        config.Scheduler
}

func waitForDB(db *repository.Storage) error {
	for i := 0; i < 10; i++ {
		err := repository.CheckDatabaseReady(db)
		if err == nil {
			return nil
		}
		time.Sleep(3 * time.Second)
	}
	return fmt.Errorf("database not ready after retries")
}

// New создает новый экземпляр приложения планировщика.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	conn, err := rabbitmq.Connect(cfg.RabbitMQURL, cfg.RabbitMQMaxRetries, cfg.RabbitMQRetryDelay)
	if err != nil {
		return nil, fmt.Errorf("failed to connect RabbitMQ: %w", err)
	}

	ch, err := rabbitmq.SetupChannel(conn, rabbitmq.GetNotificationQueues())
	if err != nil {
		closeResources(nil, conn, logger)
		return nil, fmt.Errorf("failed to setup RabbitMQ channel: %w", err)
	}

	db, err := repository.New(cfg.StorageConnectionString)
	if err != nil {
		closeResources(ch, conn, logger)
		return nil, fmt.Errorf("failed to connect storage: %w", err)
	}
	if err := waitForDB(db); err != nil {
		closeResources(ch, conn, logger)
		return nil, err
	}

	cacheRedis, err := cache.InitServer(ctx, cfg.RedisConnection)
	if err != nil {
		closeResources(ch, conn, logger)
		return nil, fmt.Errorf("cache not initialized: %w", err)
	}

	notifier := notify.NewRabbitNotifier(ch)
	referralService := referralservice.New(db, logger)
	userService := userservice.New(db, referralService, logger)
	subscriptionService := subscriptionservice.New(db, cacheRedis, logger)
	gateway := paymentprovider.NewClient(cfg.YooKassa.ShopID, cfg.YooKassa.SecretKey, cfg.YooKassa.Timeout)
	paymentService := paymentservice.New(db, gateway, cfg.Bot.BotUsername, logger)
	settlementService := settlementservice.New(
		paymentService, subscriptionService, referralService, userService, notifier, logger)

	schedulerService := schedulerservice.New(
		subscriptionService,
		paymentService,
		settlementService,
		userService,
		referralService,
		notifier,
		cfg.Bot.AdminIDs(),
		cfg.Bot.ManagerWhatsApp,
		logger,
	)

	return &App{
		schedulerService: schedulerService,
		cron:             cron.New(),
		conn:             conn,
		ch:               ch,
		db:               db,
		logger:           logger,
		schedules:        cfg.Scheduler,
	}, nil
}

func closeResources(ch *amqp.Channel, conn *amqp.Connection, logger *slog.Logger) {
	if ch != nil {
		if err := ch.Close(); err != nil {
			logger.Error("failed to close channel", sl.Err(err))
		}
	}
	if conn != nil {
		if err := conn.Close(); err != nil {
			logger.Error("failed to close connection", sl.Err(err))
		}
	}
}

// Run регистрирует задачи в cron и блокируется до отмены контекста.
func (a *App) Run(ctx context.Context) error {
	jobs := []struct {
		name string
		spec string
		run  func(context.Context) error
	}{
		{"daily_report", a.schedules.ReportCron, a.schedulerService.RunDailyReport},
		{"subscription_sweep", a.schedules.SubscriptionCron, a.schedulerService.RunSubscriptionSweep},
		{"bonus_sweep", a.schedules.BonusCron, a.schedulerService.RunBonusSweep},
		{"payment_sweep", a.schedules.PaymentCron, a.schedulerService.RunPaymentSweep},
	}

	for _, job := range jobs {
		job := job
		_, err := a.cron.AddFunc(job.spec, func() {
			a.logger.Info("running scheduled job", slog.String("job", job.name))
			if err := job.run(ctx); err != nil {
				a.logger.Error("scheduled job failed", slog.String("job", job.name), sl.Err(err))
			}
		})
		if err != nil {
			return fmt.Errorf("failed to schedule job %s: %w", job.name, err)
		}
	}

	a.cron.Start()
	a.logger.Info("scheduler started", slog.Int("jobs", len(jobs)))

	<-ctx.Done()

	a.logger.Info("shutting down scheduler service")
	stopCtx := a.cron.Stop()
	<-stopCtx.Done()

	if err := a.ch.Close(); err != nil {
		a.logger.Error("failed to close channel", sl.Err(err))
	}
	if err := a.conn.Close(); err != nil {
		a.logger.Error("failed to close connection", sl.Err(err))
	}
	a.db.DB.Close()

	return nil
}
