// Package bot собирает HTTP-приложение сервиса: хранилище, кеш, RabbitMQ,
// доменные сервисы и сервер с вебхуком шлюза и служебными ручками.
package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/streadway/amqp"

	"github.com/perfumeclub/subscription-bot/internal/cache"
	"github.com/perfumeclub/subscription-bot/internal/config"
	"github.com/perfumeclub/subscription-bot/internal/lib/rabbitmq"
	"github.com/perfumeclub/subscription-bot/internal/notify"
	"github.com/perfumeclub/subscription-bot/internal/paymentprovider"
	paymentservice "github.com/perfumeclub/subscription-bot/internal/services/payment"
	referralservice "github.com/perfumeclub/subscription-bot/internal/services/referral"
	settlementservice "github.com/perfumeclub/subscription-bot/internal/services/settlement"
	subscriptionservice "github.com/perfumeclub/subscription-bot/internal/services/subscription"
	tariffservice "github.com/perfumeclub/subscription-bot/internal/services/tariff"
	userservice "github.com/perfumeclub/subscription-bot/internal/services/user"
	"github.com/perfumeclub/subscription-bot/internal/storage/repository"
)

// App представляет HTTP-приложение.
type App struct {
	server *http.Server
	logger *slog.Logger
	db     *repository.Storage
	conn   *amqp.Connection
	ch     *amqp.Channel
}

// New создает новый экземпляр приложения.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	db, err := repository.New(cfg.StorageConnectionString)
	if err != nil {
		return nil, err
	}
	if err := db.InitSchema(ctx); err != nil {
		db.DB.Close()
		return nil, fmt.Errorf("failed to init schema: %w", err)
	}

	cacheRedis, err := cache.InitServer(ctx, cfg.RedisConnection)
	if err != nil {
		db.DB.Close()
		return nil, fmt.Errorf("cache not initialized: %w", err)
	}

	conn, err := rabbitmq.Connect(cfg.RabbitMQURL, cfg.RabbitMQMaxRetries, cfg.RabbitMQRetryDelay)
	if err != nil {
		db.DB.Close()
		return nil, fmt.Errorf("failed to connect RabbitMQ: %w", err)
	}
	ch, err := rabbitmq.SetupChannel(conn, rabbitmq.GetNotificationQueues())
	if err != nil {
		db.DB.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("failed to setup RabbitMQ channel: %w", err)
	}
	notifier := notify.NewRabbitNotifier(ch)

	tariffService := tariffservice.New(db, cacheRedis, logger)
	if err := tariffService.EnsureDefaults(ctx); err != nil {
		db.DB.Close()
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("failed to seed tariffs: %w", err)
	}

	referralService := referralservice.New(db, logger)
	userService := userservice.New(db, referralService, logger)
	subscriptionService := subscriptionservice.New(db, cacheRedis, logger)
	gateway := paymentprovider.NewClient(cfg.YooKassa.ShopID, cfg.YooKassa.SecretKey, cfg.YooKassa.Timeout)
	paymentService := paymentservice.New(db, gateway, cfg.Bot.BotUsername, logger)
	settlementService := settlementservice.New(
		paymentService, subscriptionService, referralService, userService, notifier, logger)

	router := NewRouter(logger, cfg, db, settlementService)

	srv := &http.Server{
		Addr:         cfg.AddressHTTP,
		Handler:      router,
		ReadTimeout:  cfg.TimeoutHTTP,
		WriteTimeout: cfg.TimeoutHTTP,
		IdleTimeout:  cfg.IdleTimeout,
	}

	return &App{
		server: srv,
		logger: logger,
		db:     db,
		conn:   conn,
		ch:     ch,
	}, nil
}

// Run запускает HTTP-сервер и останавливает его по отмене контекста.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("HTTP server starting on", slog.String("address", a.server.Addr))
		err := a.server.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			errCh <- nil
		} else {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		timeoutCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		a.logger.Info("shutting down HTTP server gracefully")
		err := a.server.Shutdown(timeoutCtx)
		_ = a.ch.Close()
		_ = a.conn.Close()
		a.db.DB.Close()
		return err
	}
}
