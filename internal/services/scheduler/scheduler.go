// Package scheduler содержит фоновые задачи сверки: истечение подписок и
// напоминания, опрос платежей, уведомления о бонусах и ежедневный отчёт.
// Каждая задача изолирует ошибки по элементам: сбой на одном пользователе
// не прерывает обход остальных.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/perfumeclub/subscription-bot/internal/lib/sl"
	"github.com/perfumeclub/subscription-bot/internal/metrics"
	"github.com/perfumeclub/subscription-bot/internal/models"
	"github.com/perfumeclub/subscription-bot/internal/notify"
)

// SubscriptionService операции жизненного цикла подписок, нужные задачам.
type SubscriptionService interface {
	ExpireStale(ctx context.Context) (int, error)
	DueForReminder(ctx context.Context) ([]*models.Subscription, error)
	MarkReminderSent(ctx context.Context, id int64) error
	ListActiveSubscribers(ctx context.Context) ([]*models.ActiveSubscriberInfo, error)
}

// PaymentService операции платёжного цикла, нужные задачам.
type PaymentService interface {
	ListPending(ctx context.Context) ([]*models.Payment, error)
	CheckStatus(ctx context.Context, paymentID int64) (models.PaymentStatus, error)
}

// SettlementService завершение платежа после подтверждения шлюзом.
type SettlementService interface {
	ConfirmPayment(ctx context.Context, p *models.Payment) error
	CancelPayment(ctx context.Context, p *models.Payment) error
}

// UserService выборка пользователей для адресации уведомлений.
type UserService interface {
	ByID(ctx context.Context, id int64) (*models.User, error)
}

// ReferralService операции реферальной механики, нужные задачам.
type ReferralService interface {
	PendingBonuses(ctx context.Context) ([]*models.ReferralBonus, error)
	MarkNotified(ctx context.Context, bonusID int64) (bool, error)
}

// Service объединяет фоновые задачи над доменными сервисами.
type Service struct {
	subscriptions SubscriptionService
	payments      PaymentService
	settlement    SettlementService
	users         UserService
	referrals     ReferralService
	notifier      notify.Notifier

	adminIDs        []int64
	managerWhatsApp string
	log             *slog.Logger
}

// New создает новый Service.
func New(
	subscriptions SubscriptionService,
	payments PaymentService,
	settlement SettlementService,
	users UserService,
	referrals ReferralService,
	notifier notify.Notifier,
	adminIDs []int64,
	managerWhatsApp string,
	log *slog.Logger,
) *Service {
	return &Service{
		subscriptions:   subscriptions,
		payments:        payments,
		settlement:      settlement,
		users:           users,
		referrals:       referrals,
		notifier:        notifier,
		adminIDs:        adminIDs,
		managerWhatsApp: managerWhatsApp,
		log:             log,
	}
}

// RunSubscriptionSweep переводит просроченные подписки в expired и шлёт
// напоминания тем, у кого подписка заканчивается в ближайшие три дня.
// Повторный запуск без сдвига времени ничего не меняет: истечение
// срабатывает по условию в базе, напоминание помечается до повторной выборки.
func (s *Service) RunSubscriptionSweep(ctx context.Context) error {
	const op = "services.scheduler.RunSubscriptionSweep"

	expired, err := s.subscriptions.ExpireStale(ctx)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if expired > 0 {
		metrics.SubscriptionsExpired.Add(float64(expired))
		s.log.Info("expired stale subscriptions", slog.Int("count", expired))
	}

	due, err := s.subscriptions.DueForReminder(ctx)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	for _, sub := range due {
		if err := s.remind(ctx, sub); err != nil {
			metrics.SweepErrors.WithLabelValues("subscription").Inc()
			s.log.Error("failed to send expiry reminder",
				slog.Int64("subscription_id", sub.ID), sl.Err(err))
		}
	}
	return nil
}

func (s *Service) remind(ctx context.Context, sub *models.Subscription) error {
	u, err := s.users.ByID(ctx, sub.UserID)
	if err != nil {
		return err
	}

	text := "Ваша подписка скоро закончится. Продлите её, чтобы не потерять доступ к каталогу."
	if sub.EndDate != nil {
		text = fmt.Sprintf("Ваша подписка заканчивается %s. Продлите её, чтобы не потерять доступ к каталогу.",
			sub.EndDate.Format("02.01.2006"))
	}
	if err := s.notifier.Send(ctx, u.TelegramID, text, nil); err != nil {
		return err
	}
	metrics.RemindersSent.Inc()

	return s.subscriptions.MarkReminderSent(ctx, sub.ID)
}

// RunPaymentSweep опрашивает шлюз по всем незавершённым платежам и завершает
// те, по которым пришёл терминальный статус. Уже активированная подписка
// повторно не активируется и не уведомляется.
func (s *Service) RunPaymentSweep(ctx context.Context) error {
	const op = "services.scheduler.RunPaymentSweep"

	pending, err := s.payments.ListPending(ctx)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	for _, p := range pending {
		if err := s.settle(ctx, p); err != nil {
			metrics.SweepErrors.WithLabelValues("payment").Inc()
			s.log.Error("failed to settle payment", slog.Int64("payment_id", p.ID), sl.Err(err))
		}
	}
	return nil
}

func (s *Service) settle(ctx context.Context, p *models.Payment) error {
	status, err := s.payments.CheckStatus(ctx, p.ID)
	if err != nil {
		return err
	}
	metrics.PaymentsPolled.Inc()

	switch status {
	case models.PaymentSucceeded:
		return s.settlement.ConfirmPayment(ctx, p)
	case models.PaymentCanceled:
		return s.settlement.CancelPayment(ctx, p)
	default:
		return nil
	}
}

// RunBonusSweep доставляет уведомления о заработанных бонусах. Бонус сначала
// переводится из pending условным обновлением и только потом уведомляется,
// поэтому два параллельных запуска не продублируют сообщение.
func (s *Service) RunBonusSweep(ctx context.Context) error {
	const op = "services.scheduler.RunBonusSweep"

	bonuses, err := s.referrals.PendingBonuses(ctx)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	for _, b := range bonuses {
		if err := s.deliverBonus(ctx, b); err != nil {
			metrics.SweepErrors.WithLabelValues("bonus").Inc()
			s.log.Error("failed to deliver bonus notification",
				slog.Int64("bonus_id", b.ID), sl.Err(err))
		}
	}
	return nil
}

func (s *Service) deliverBonus(ctx context.Context, b *models.ReferralBonus) error {
	flipped, err := s.referrals.MarkNotified(ctx, b.ID)
	if err != nil {
		return err
	}
	if !flipped {
		return nil
	}

	u, err := s.users.ByID(ctx, b.UserID)
	if err != nil {
		return err
	}

	text := fmt.Sprintf(
		"Поздравляем! Вы пригласили %d друзей с активной подпиской и заработали бонус — месяц подписки в подарок. Напишите менеджеру: %s",
		b.ActiveReferralsCount, s.managerWhatsApp)
	if err := s.notifier.Send(ctx, u.TelegramID, text, nil); err != nil {
		return err
	}
	metrics.BonusesNotified.Inc()

	adminText := fmt.Sprintf("Пользователь %s (tg %d) заработал реферальный бонус: %d активных рефералов.",
		u.FullName(), u.TelegramID, b.ActiveReferralsCount)
	if err := s.notifier.SendAdmin(ctx, s.adminIDs, adminText); err != nil {
		s.log.Error("failed to notify admins about bonus", slog.Int64("bonus_id", b.ID), sl.Err(err))
	}
	return nil
}

// RunDailyReport отправляет админам сводку по активным подписчикам.
func (s *Service) RunDailyReport(ctx context.Context) error {
	const op = "services.scheduler.RunDailyReport"

	subscribers, err := s.subscriptions.ListActiveSubscribers(ctx)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	text := s.formatReport(subscribers, time.Now())
	if err := s.notifier.SendAdmin(ctx, s.adminIDs, text); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	s.log.Info("daily report sent", slog.Int("subscribers", len(subscribers)))
	return nil
}

func (s *Service) formatReport(subscribers []*models.ActiveSubscriberInfo, now time.Time) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Отчёт за %s\nАктивных подписчиков: %d\n",
		now.Format("02.01.2006"), len(subscribers))
	for i, info := range subscribers {
		name := info.FullName
		if name == "" && info.Username != nil {
			name = "@" + *info.Username
		}
		fmt.Fprintf(&sb, "%d. %s, %s, тариф %s, до %s\n",
			i+1, name, info.Phone, info.TariffName, info.EndDate.Format("02.01.2006"))
	}
	return sb.String()
}
