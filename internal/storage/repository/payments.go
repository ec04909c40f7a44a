package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/perfumeclub/subscription-bot/internal/models"
)

const paymentColumns = `id, user_id, subscription_id, external_payment_id,
	amount, currency, status, payment_metadata, created_at`

func scanPayment(scanner interface {
	Scan(dest ...any) error
}) (*models.Payment, error) {
	var p models.Payment
	err := scanner.Scan(&p.ID, &p.UserID, &p.SubscriptionID, &p.ExternalID,
		&p.Amount, &p.Currency, &p.Status, &p.Metadata, &p.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// CreatePayment вставляет платёж и возвращает его ID. Запись создаётся
// только после успешного ответа шлюза, поэтому external_payment_id уже известен.
func (s *Storage) CreatePayment(ctx context.Context, p models.Payment) (int64, error) {
	const op = "storage.CreatePayment"
	select {
	case <-ctx.Done():
		return 0, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `INSERT INTO payments (user_id, subscription_id, external_payment_id, amount, currency, status, payment_metadata)
			  VALUES ($1, $2, $3, $4, $5, $6, $7)
			  RETURNING id`
	var newID int64
	err := s.DB.QueryRowContext(ctx, query,
		p.UserID, p.SubscriptionID, p.ExternalID, p.Amount, p.Currency, p.Status, p.Metadata).Scan(&newID)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return newID, nil
}

// GetPayment возвращает платёж по ID.
func (s *Storage) GetPayment(ctx context.Context, id int64) (*models.Payment, error) {
	const op = "storage.GetPayment"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT ` + paymentColumns + ` FROM payments WHERE id = $1`
	p, err := scanPayment(s.DB.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return p, nil
}

// GetPaymentByExternalID возвращает платёж по идентификатору в ЮKassa.
func (s *Storage) GetPaymentByExternalID(ctx context.Context, externalID string) (*models.Payment, error) {
	const op = "storage.GetPaymentByExternalID"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT ` + paymentColumns + ` FROM payments WHERE external_payment_id = $1`
	p, err := scanPayment(s.DB.QueryRowContext(ctx, query, externalID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return p, nil
}

// FindPendingPaymentBySubscription ищет незавершённый платёж, привязанный
// к подписке. Нужен для защиты от дублирования счетов при повторных нажатиях.
func (s *Storage) FindPendingPaymentBySubscription(ctx context.Context, subscriptionID int64) (*models.Payment, error) {
	const op = "storage.FindPendingPaymentBySubscription"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT ` + paymentColumns + `
			  FROM payments
			  WHERE subscription_id = $1 AND status = 'pending'`
	p, err := scanPayment(s.DB.QueryRowContext(ctx, query, subscriptionID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return p, nil
}

// UpdatePaymentStatus записывает новый статус платежа.
func (s *Storage) UpdatePaymentStatus(ctx context.Context, id int64, status models.PaymentStatus) error {
	const op = "storage.UpdatePaymentStatus"
	select {
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `UPDATE payments SET status = $1 WHERE id = $2`
	result, err := s.DB.ExecContext(ctx, query, status, id)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if rows == 0 {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	return nil
}

// ListPendingPayments возвращает все незавершённые платежи, у которых уже
// есть идентификатор шлюза, — кандидаты на опрос статуса.
func (s *Storage) ListPendingPayments(ctx context.Context) ([]*models.Payment, error) {
	const op = "storage.ListPendingPayments"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT ` + paymentColumns + `
			  FROM payments
			  WHERE status = 'pending' AND external_payment_id IS NOT NULL
			  ORDER BY created_at DESC`
	rows, err := s.DB.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var result []*models.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		result = append(result, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return result, nil
}
