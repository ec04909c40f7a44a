// Package payment содержит бизнес-логику платежей: создание счёта в шлюзе,
// переходы статусов и сверку с шлюзом.
package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/perfumeclub/subscription-bot/internal/models"
	"github.com/perfumeclub/subscription-bot/internal/paymentprovider"
	"github.com/perfumeclub/subscription-bot/internal/storage/repository"
)

// Repository определяет методы для работы с платежами в хранилище.
type Repository interface {
	CreatePayment(ctx context.Context, p models.Payment) (int64, error)
	GetPayment(ctx context.Context, id int64) (*models.Payment, error)
	GetPaymentByExternalID(ctx context.Context, externalID string) (*models.Payment, error)
	FindPendingPaymentBySubscription(ctx context.Context, subscriptionID int64) (*models.Payment, error)
	UpdatePaymentStatus(ctx context.Context, id int64, status models.PaymentStatus) error
	ListPendingPayments(ctx context.Context) ([]*models.Payment, error)
}

// Gateway описывает вызовы платёжного шлюза.
type Gateway interface {
	CreatePayment(ctx context.Context, req paymentprovider.CreatePaymentRequest) (*paymentprovider.PaymentResponse, error)
	GetPayment(ctx context.Context, paymentID string) (*paymentprovider.PaymentResponse, error)
}

// Service реализует платёжный цикл.
type Service struct {
	repo        Repository
	gateway     Gateway
	botUsername string
	log         *slog.Logger
}

// New создает новый Service.
func New(repo Repository, gateway Gateway, botUsername string, log *slog.Logger) *Service {
	return &Service{
		repo:        repo,
		gateway:     gateway,
		botUsername: botUsername,
		log:         log,
	}
}

// mapGatewayStatus переводит словарь шлюза во внутренний статус.
// Всё, что не succeeded и не canceled, считается pending.
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

// Create выставляет счёт за подписку и возвращает платёж со ссылкой на
// оплату. Если к подписке уже привязан незавершённый платёж, новый счёт
// не создаётся: у шлюза запрашивается ссылка существующего — повторные
// нажатия в боте не приводят к двойному списанию. Локальная запись
// вставляется только после успешного ответа шлюза, поэтому при сбое
// шлюза не остаётся висячих строк.
func (s *Service) Create(ctx context.Context, userID, subscriptionID int64, amount float64) (*models.Payment, string, error) {
	const op = "services.payment.Create"

	existing, err := s.repo.FindPendingPaymentBySubscription(ctx, subscriptionID)
	if err == nil && existing.ExternalID != nil {
		resp, err := s.gateway.GetPayment(ctx, *existing.ExternalID)
		if err != nil {
			return nil, "", fmt.Errorf("%s: %w", op, err)
		}
		return existing, resp.Confirmation.ConfirmationURL, nil
	}
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, "", fmt.Errorf("%s: %w", op, err)
	}

	metadata := map[string]string{
		"user_id":         strconv.FormatInt(userID, 10),
		"subscription_id": strconv.FormatInt(subscriptionID, 10),
	}
	resp, err := s.gateway.CreatePayment(ctx, paymentprovider.CreatePaymentRequest{
		Amount: paymentprovider.Amount{
			Value:    fmt.Sprintf("%.2f", amount),
			Currency: "RUB",
		},
		Confirmation: paymentprovider.Confirmation{
			Type:      "redirect",
			ReturnURL: "https://t.me/" + s.botUsername,
		},
		Description: "Подписка на парфюмерию",
		Metadata:    metadata,
		Capture:     true,
	})
	if err != nil {
		return nil, "", fmt.Errorf("%s: %w", op, err)
	}

	metadataJSON, err := json.Marshal(metadata)
	if err != nil {
		return nil, "", fmt.Errorf("%s: %w", op, err)
	}
	metadataStr := string(metadataJSON)

	newID, err := s.repo.CreatePayment(ctx, models.Payment{
		UserID:         userID,
		SubscriptionID: &subscriptionID,
		ExternalID:     &resp.ID,
		Amount:         amount,
		Currency:       "RUB",
		Status:         models.PaymentPending,
		Metadata:       &metadataStr,
	})
	if err != nil {
		return nil, "", fmt.Errorf("%s: %w", op, err)
	}
	s.log.Info("created payment",
		slog.Int64("id", newID),
		slog.String("external_id", resp.ID),
		slog.Float64("amount", amount))

	p, err := s.repo.GetPayment(ctx, newID)
	if err != nil {
		return nil, "", fmt.Errorf("%s: %w", op, err)
	}
	return p, resp.Confirmation.ConfirmationURL, nil
}

// UpdateStatus записывает новый статус платежа и возвращает свежую запись.
func (s *Service) UpdateStatus(ctx context.Context, paymentID int64, status models.PaymentStatus) (*models.Payment, error) {
	const op = "services.payment.UpdateStatus"

	if err := s.repo.UpdatePaymentStatus(ctx, paymentID, status); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return s.repo.GetPayment(ctx, paymentID)
}

// CheckStatus сверяет локальный статус платежа со шлюзом. Терминальный
// локальный статус не перезаписывается: для succeeded и canceled опрос
// шлюза пропускается, что бы шлюз ни ответил позже. Изменившийся статус
// сохраняется, неизменившийся — нет.
func (s *Service) CheckStatus(ctx context.Context, paymentID int64) (models.PaymentStatus, error) {
	const op = "services.payment.CheckStatus"

	p, err := s.repo.GetPayment(ctx, paymentID)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	if p.Status.IsTerminal() {
		return p.Status, nil
	}
	if p.ExternalID == nil {
		return p.Status, nil
	}

	resp, err := s.gateway.GetPayment(ctx, *p.ExternalID)
	if err != nil {
		// Сбой опроса трактуем как "ещё pending", попробуем в следующем цикле.
		s.log.Warn("gateway poll failed", slog.Int64("payment_id", paymentID), slog.Any("err", err))
		return p.Status, nil
	}

	newStatus := mapGatewayStatus(resp.Status)
	if newStatus != p.Status {
		if err := s.repo.UpdatePaymentStatus(ctx, paymentID, newStatus); err != nil {
			return "", fmt.Errorf("%s: %w", op, err)
		}
		s.log.Info("payment status changed",
			slog.Int64("payment_id", paymentID),
			slog.String("status", string(newStatus)))
		return newStatus, nil
	}
	return p.Status, nil
}

// ListPending возвращает незавершённые платежи с внешним идентификатором,
// подлежащие сверке со шлюзом.
func (s *Service) ListPending(ctx context.Context) ([]*models.Payment, error) {
	const op = "services.payment.ListPending"

	payments, err := s.repo.ListPendingPayments(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return payments, nil
}

// ByExternalID возвращает платёж по идентификатору шлюза.
func (s *Service) ByExternalID(ctx context.Context, externalID string) (*models.Payment, error) {
	return s.repo.GetPaymentByExternalID(ctx, externalID)
}
