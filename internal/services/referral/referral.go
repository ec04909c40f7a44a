// Package referral содержит бизнес-логику реферальной системы: учёт
// приглашений, отметку оплативших и выдачу бонуса за приглашённых.
package referral

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/perfumeclub/subscription-bot/internal/models"
	"github.com/perfumeclub/subscription-bot/internal/storage/repository"
)

// BonusThreshold количество активных оплаченных рефералов для бонуса.
const BonusThreshold = 3

// Repository определяет методы для работы с рефералами в хранилище.
type Repository interface {
	CreateReferral(ctx context.Context, referrerID, referredID int64) (*models.Referral, error)
	MarkReferralPaid(ctx context.Context, referredID int64) (*models.Referral, bool, error)
	ListPaidReferrals(ctx context.Context, referrerID int64) ([]*models.Referral, error)
	CountReferrals(ctx context.Context, referrerID int64) (total, paid int, err error)
	HasNonPendingBonus(ctx context.Context, userID int64) (bool, error)
	HasAnyBonus(ctx context.Context, userID int64) (bool, error)
	CreateBonus(ctx context.Context, userID int64, activeReferralsCount int) (int64, error)
	ListPendingBonuses(ctx context.Context) ([]*models.ReferralBonus, error)
	MarkBonusNotified(ctx context.Context, bonusID int64) (bool, error)
	GetActiveSubscription(ctx context.Context, userID int64, now time.Time) (*models.Subscription, error)
	GetUserByID(ctx context.Context, id int64) (*models.User, error)
}

// Service реализует реферальную механику.
type Service struct {
	repo Repository
	log  *slog.Logger
	now  func() time.Time
}

// New создает новый Service.
func New(repo Repository, log *slog.Logger) *Service {
	return &Service{
		repo: repo,
		log:  log,
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// WithClock подменяет источник времени. Используется в тестах.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// CreateReferral регистрирует ребро приглашения. Идемпотентна: для уже
// приглашённого пользователя возвращается существующая запись.
func (s *Service) CreateReferral(ctx context.Context, referrerID, referredID int64) (*models.Referral, error) {
	const op = "services.referral.CreateReferral"

	r, err := s.repo.CreateReferral(ctx, referrerID, referredID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return r, nil
}

// MarkPaid отмечает приглашённого как оплатившего подписку. Вызывается при
// первой успешной активации; повторные вызовы после продлений — безопасный
// no-op, как и вызов для пользователя без реферальной записи. При первом
// переключении флага запускается оценка бонуса реферера.
func (s *Service) MarkPaid(ctx context.Context, referredUserID int64) error {
	const op = "services.referral.MarkPaid"

	r, flipped, err := s.repo.MarkReferralPaid(ctx, referredUserID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if !flipped {
		return nil
	}
	s.log.Info("referral marked as paid",
		slog.Int64("referred_id", referredUserID),
		slog.Int64("referrer_id", r.ReferrerID))

	return s.evaluateBonus(ctx, r.ReferrerID)
}

// evaluateBonus выдаёт бонус, если реферер достиг порога. Реферер участвует
// в механике один раз: любой бонус, прошедший стадию pending, закрывает её
// навсегда, а существующий pending не дублируется. Считаются только
// оплатившие рефералы, которые прямо сейчас держат активную подписку, —
// членство преходящее: завтра тот же реферал может не засчитаться.
func (s *Service) evaluateBonus(ctx context.Context, referrerID int64) error {
	const op = "services.referral.evaluateBonus"

	consumed, err := s.repo.HasNonPendingBonus(ctx, referrerID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if consumed {
		return nil
	}

	activeCount, err := s.countActivePaidReferrals(ctx, referrerID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if activeCount < BonusThreshold {
		return nil
	}

	queued, err := s.repo.HasAnyBonus(ctx, referrerID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if queued {
		return nil
	}

	bonusID, err := s.repo.CreateBonus(ctx, referrerID, activeCount)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	s.log.Info("issued referral bonus",
		slog.Int64("bonus_id", bonusID),
		slog.Int64("referrer_id", referrerID),
		slog.Int("active_referrals", activeCount))
	return nil
}

func (s *Service) countActivePaidReferrals(ctx context.Context, referrerID int64) (int, error) {
	referrals, err := s.repo.ListPaidReferrals(ctx, referrerID)
	if err != nil {
		return 0, err
	}

	now := s.now()
	count := 0
	for _, r := range referrals {
		_, err := s.repo.GetActiveSubscription(ctx, r.ReferredID, now)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				continue
			}
			return 0, err
		}
		count++
	}
	return count, nil
}

// Stats возвращает агрегированную статистику рефералов пользователя.
func (s *Service) Stats(ctx context.Context, userID int64) (*models.ReferralStats, error) {
	const op = "services.referral.Stats"

	u, err := s.repo.GetUserByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	total, paid, err := s.repo.CountReferrals(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	activePaid, err := s.countActivePaidReferrals(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	bonusIssued, err := s.repo.HasNonPendingBonus(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	remaining := BonusThreshold - activePaid
	if remaining < 0 {
		remaining = 0
	}

	return &models.ReferralStats{
		TotalReferrals:      total,
		PaidReferrals:       paid,
		ActivePaidReferrals: activePaid,
		BonusAvailable:      activePaid >= BonusThreshold && !bonusIssued,
		BonusIssued:         bonusIssued,
		ReferralCode:        u.ReferralCode,
		RemainingForBonus:   remaining,
	}, nil
}

// PendingBonuses возвращает бонусы, ожидающие уведомления.
func (s *Service) PendingBonuses(ctx context.Context) ([]*models.ReferralBonus, error) {
	return s.repo.ListPendingBonuses(ctx)
}

// MarkNotified переводит бонус в notified. Возвращает true, если переход
// произошёл именно сейчас; повторный вызов — no-op.
func (s *Service) MarkNotified(ctx context.Context, bonusID int64) (bool, error) {
	const op = "services.referral.MarkNotified"

	ok, err := s.repo.MarkBonusNotified(ctx, bonusID)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return ok, nil
}
