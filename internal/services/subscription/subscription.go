// Package subscription содержит бизнес-логику жизненного цикла подписки:
// создание, активацию с продлением от даты окончания, проверку доступа
// и массовые переходы для фоновых задач.
package subscription

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/perfumeclub/subscription-bot/internal/lib/month"
	"github.com/perfumeclub/subscription-bot/internal/models"
	"github.com/perfumeclub/subscription-bot/internal/storage/repository"
)

// Repository определяет методы для работы с подписками в хранилище.
type Repository interface {
	CreateSubscription(ctx context.Context, userID, tariffID int64) (int64, error)
	GetSubscription(ctx context.Context, id int64) (*models.Subscription, error)
	GetActiveSubscription(ctx context.Context, userID int64, now time.Time) (*models.Subscription, error)
	ActivateSubscription(ctx context.Context, id int64, startDate, endDate time.Time) (bool, error)
	ExpireStaleSubscriptions(ctx context.Context, now time.Time) (int, error)
	FindDueForReminder(ctx context.Context, now time.Time) ([]*models.Subscription, error)
	MarkReminderSent(ctx context.Context, id int64) error
	ListActiveSubscriberInfo(ctx context.Context, now time.Time) ([]*models.ActiveSubscriberInfo, error)
	GetTariffByID(ctx context.Context, id int64) (*models.Tariff, error)
}

// Cache описывает методы для кэширования данных.
type Cache interface {
	Get(key string, result any) (bool, error)
	Set(key string, value any, expiration time.Duration) error
	Invalidate(key string) error
}

// Service реализует жизненный цикл подписок. Время берётся из now()
// для тестируемости; в проде это time.Now в UTC.
type Service struct {
	repo  Repository
	cache Cache
	log   *slog.Logger
	now   func() time.Time
}

// New создает новый Service.
func New(repo Repository, cache Cache, log *slog.Logger) *Service {
	return &Service{
		repo:  repo,
		cache: cache,
		log:   log,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// WithClock подменяет источник времени. Используется в тестах.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

func activeCacheKey(userID int64) string {
	return fmt.Sprintf("subscription:active:%d", userID)
}

// Create создает подписку в статусе pending без дат.
func (s *Service) Create(ctx context.Context, userID, tariffID int64) (*models.Subscription, error) {
	const op = "services.subscription.Create"

	id, err := s.repo.CreateSubscription(ctx, userID, tariffID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	s.log.Info("created pending subscription", slog.Int64("id", id), slog.Int64("user_id", userID))

	return s.repo.GetSubscription(ctx, id)
}

// Get возвращает подписку по ID.
func (s *Service) Get(ctx context.Context, id int64) (*models.Subscription, error) {
	const op = "services.subscription.Get"

	sub, err := s.repo.GetSubscription(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return sub, nil
}

// Activate переводит подписку в active и рассчитывает даты.
// Если у пользователя уже есть активная подписка, новая начинается с её
// даты окончания — оплаченные дни не сгорают. Иначе старт — текущий момент.
// Окончание — старт плюс длительность тарифа в календарных месяцах.
// Повторная активация уже активной подписки — безопасный no-op.
func (s *Service) Activate(ctx context.Context, subscriptionID int64) (*models.Subscription, error) {
	const op = "services.subscription.Activate"

	sub, err := s.repo.GetSubscription(ctx, subscriptionID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if sub.Status == models.SubscriptionActive {
		return sub, nil
	}

	tariff, err := s.repo.GetTariffByID(ctx, sub.TariffID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	now := s.now()
	startDate := now
	if current, err := s.repo.GetActiveSubscription(ctx, sub.UserID, now); err == nil {
		if current.EndDate != nil && current.EndDate.After(now) {
			startDate = *current.EndDate
		}
	} else if !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	endDate := month.Add(startDate, tariff.DurationMonths)

	activated, err := s.repo.ActivateSubscription(ctx, subscriptionID, startDate, endDate)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if !activated {
		// Параллельная активация успела раньше; отдаем текущее состояние.
		return s.repo.GetSubscription(ctx, subscriptionID)
	}
	s.log.Info("activated subscription",
		slog.Int64("id", subscriptionID),
		slog.Time("start_date", startDate),
		slog.Time("end_date", endDate))

	if err := s.cache.Invalidate(activeCacheKey(sub.UserID)); err != nil {
		s.log.Warn("failed to invalidate active subscription cache", slog.Any("err", err))
	}

	return s.repo.GetSubscription(ctx, subscriptionID)
}

// GetActive возвращает действующую подписку пользователя с самой поздней
// датой окончания или nil, если её нет. Это единственная проверка доступа.
func (s *Service) GetActive(ctx context.Context, userID int64) (*models.Subscription, error) {
	const op = "services.subscription.GetActive"

	now := s.now()
	cacheKey := activeCacheKey(userID)

	var cached *models.Subscription
	found, err := s.cache.Get(cacheKey, &cached)
	if err != nil {
		s.log.Warn("failed to read active subscription cache", slog.Any("err", err))
	}
	// Кеш может пережить дату окончания, поэтому срок проверяется ещё раз.
	if found && cached != nil && cached.EndDate != nil && cached.EndDate.After(now) {
		return cached, nil
	}

	sub, err := s.repo.GetActiveSubscription(ctx, userID, now)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if err := s.cache.Set(cacheKey, sub, 5*time.Minute); err != nil {
		s.log.Warn("failed to cache active subscription", slog.Any("err", err))
	}
	return sub, nil
}

// ExpireStale переводит все просроченные активные подписки в expired
// и возвращает количество. Повторный запуск без сдвига времени — no-op.
func (s *Service) ExpireStale(ctx context.Context) (int, error) {
	const op = "services.subscription.ExpireStale"

	count, err := s.repo.ExpireStaleSubscriptions(ctx, s.now())
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return count, nil
}

// DueForReminder возвращает активные подписки, заканчивающиеся в ближайшие
// три дня, по которым напоминание ещё не отправлялось. Ничего не меняет.
func (s *Service) DueForReminder(ctx context.Context) ([]*models.Subscription, error) {
	const op = "services.subscription.DueForReminder"

	subs, err := s.repo.FindDueForReminder(ctx, s.now())
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return subs, nil
}

// MarkReminderSent отмечает напоминание отправленным. Идемпотентна.
func (s *Service) MarkReminderSent(ctx context.Context, id int64) error {
	const op = "services.subscription.MarkReminderSent"

	if err := s.repo.MarkReminderSent(ctx, id); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// ListActiveSubscribers возвращает снимок активных подписчиков для отчёта.
func (s *Service) ListActiveSubscribers(ctx context.Context) ([]*models.ActiveSubscriberInfo, error) {
	const op = "services.subscription.ListActiveSubscribers"

	infos, err := s.repo.ListActiveSubscriberInfo(ctx, s.now())
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return infos, nil
}
