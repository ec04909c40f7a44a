// Package settlement содержит общий сценарий завершения платежа: активацию
// подписки, отметку реферала и уведомление пользователя. Сценарий один и
// тот же для вебхука шлюза и для периодического опроса — оба пути сходятся
// здесь, чтобы подписка не активировалась и не уведомлялась дважды.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/perfumeclub/subscription-bot/internal/lib/sl"
	"github.com/perfumeclub/subscription-bot/internal/metrics"
	"github.com/perfumeclub/subscription-bot/internal/models"
	"github.com/perfumeclub/subscription-bot/internal/notify"
	"github.com/perfumeclub/subscription-bot/internal/paymentprovider"
	"github.com/perfumeclub/subscription-bot/internal/storage/repository"
)

// PaymentService операции платёжного цикла, нужные для обработки событий шлюза.
type PaymentService interface {
	ByExternalID(ctx context.Context, externalID string) (*models.Payment, error)
	UpdateStatus(ctx context.Context, paymentID int64, status models.PaymentStatus) (*models.Payment, error)
}

// SubscriptionService операции жизненного цикла подписок.
type SubscriptionService interface {
	Get(ctx context.Context, id int64) (*models.Subscription, error)
	Activate(ctx context.Context, subscriptionID int64) (*models.Subscription, error)
}

// ReferralService отметка оплатившего реферала.
type ReferralService interface {
	MarkPaid(ctx context.Context, referredUserID int64) error
}

// UserService выборка пользователей для адресации уведомлений.
type UserService interface {
	ByID(ctx context.Context, id int64) (*models.User, error)
}

// Service реализует завершение платежей.
type Service struct {
	payments      PaymentService
	subscriptions SubscriptionService
	referrals     ReferralService
	users         UserService
	notifier      notify.Notifier
	log           *slog.Logger
}

// New создает новый Service.
func New(
	payments PaymentService,
	subscriptions SubscriptionService,
	referrals ReferralService,
	users UserService,
	notifier notify.Notifier,
	log *slog.Logger,
) *Service {
	return &Service{
		payments:      payments,
		subscriptions: subscriptions,
		referrals:     referrals,
		users:         users,
		notifier:      notifier,
		log:           log,
	}
}

func mapGatewayStatus(status string) models.PaymentStatus {
	switch status {
	case paymentprovider.StatusSucceeded:
		return models.PaymentSucceeded
	case paymentprovider.StatusCanceled:
		return models.PaymentCanceled
	default:
		return models.PaymentPending
	}
}

// ProcessWebhookEvent обрабатывает событие шлюза по внешнему идентификатору
// платежа. Неизвестный платёж и платёж в терминальном статусе игнорируются,
// поэтому повторная доставка вебхука безопасна.
func (s *Service) ProcessWebhookEvent(ctx context.Context, externalID, gatewayStatus string) error {
	const op = "services.settlement.ProcessWebhookEvent"

	p, err := s.payments.ByExternalID(ctx, externalID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			s.log.Warn("webhook for unknown payment", slog.String("external_id", externalID))
			return nil
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	if p.Status.IsTerminal() {
		return nil
	}

	newStatus := mapGatewayStatus(gatewayStatus)
	if newStatus == p.Status {
		return nil
	}

	p, err = s.payments.UpdateStatus(ctx, p.ID, newStatus)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	switch newStatus {
	case models.PaymentSucceeded:
		return s.ConfirmPayment(ctx, p)
	case models.PaymentCanceled:
		return s.CancelPayment(ctx, p)
	default:
		return nil
	}
}

// ConfirmPayment активирует подписку по успешному платежу, отмечает
// реферала оплатившим и уведомляет пользователя. Если подписка уже активна,
// ничего не делает: оплаченный платёж обрабатывается ровно один раз,
// каким бы путём ни пришло подтверждение.
func (s *Service) ConfirmPayment(ctx context.Context, p *models.Payment) error {
	const op = "services.settlement.ConfirmPayment"

	if p.SubscriptionID == nil {
		return nil
	}

	sub, err := s.subscriptions.Get(ctx, *p.SubscriptionID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if sub.Status == models.SubscriptionActive {
		return nil
	}

	activated, err := s.subscriptions.Activate(ctx, sub.ID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	metrics.PaymentsActivated.Inc()

	// Реферальная отметка не должна ронять активацию: подписка уже
	// оплачена и включена, бонус догонит на следующем цикле.
	if err := s.referrals.MarkPaid(ctx, sub.UserID); err != nil {
		s.log.Error("failed to mark referral as paid", slog.Int64("user_id", sub.UserID), sl.Err(err))
	}

	u, err := s.users.ByID(ctx, sub.UserID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	text := "Оплата прошла успешно! Подписка активирована."
	if activated.EndDate != nil {
		text = fmt.Sprintf("Оплата прошла успешно! Подписка активна до %s.",
			activated.EndDate.Format("02.01.2006"))
	}
	return s.notifier.Send(ctx, u.TelegramID, text, &notify.Menu{
		Kind:                  "main_menu",
		HasActiveSubscription: true,
	})
}

// CancelPayment уведомляет пользователя об отменённом платеже.
func (s *Service) CancelPayment(ctx context.Context, p *models.Payment) error {
	const op = "services.settlement.CancelPayment"

	u, err := s.users.ByID(ctx, p.UserID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := s.notifier.Send(ctx, u.TelegramID,
		"Платёж не прошёл. Попробуйте оформить подписку ещё раз.", nil); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}
