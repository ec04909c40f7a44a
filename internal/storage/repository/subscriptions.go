package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/perfumeclub/subscription-bot/internal/models"
)

const subscriptionColumns = `id, user_id, tariff_id, status, start_date, end_date, reminder_sent, created_at`

func scanSubscription(scanner interface {
	Scan(dest ...any) error
}) (*models.Subscription, error) {
	var sub models.Subscription
	err := scanner.Scan(&sub.ID, &sub.UserID, &sub.TariffID, &sub.Status,
		&sub.StartDate, &sub.EndDate, &sub.ReminderSent, &sub.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

// CreateSubscription вставляет подписку в статусе pending без дат.
func (s *Storage) CreateSubscription(ctx context.Context, userID, tariffID int64) (int64, error) {
	const op = "storage.CreateSubscription"
	select {
	case <-ctx.Done():
		return 0, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `INSERT INTO subscriptions (user_id, tariff_id, status)
			  VALUES ($1, $2, 'pending')
			  RETURNING id`
	var newID int64
	if err := s.DB.QueryRowContext(ctx, query, userID, tariffID).Scan(&newID); err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return newID, nil
}

// GetSubscription возвращает подписку по ID.
func (s *Storage) GetSubscription(ctx context.Context, id int64) (*models.Subscription, error) {
	const op = "storage.GetSubscription"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE id = $1`
	sub, err := scanSubscription(s.DB.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return sub, nil
}

// GetActiveSubscription возвращает активную подписку пользователя с самой
// поздней датой окончания. Подписка с end_date <= now активной не считается.
func (s *Storage) GetActiveSubscription(ctx context.Context, userID int64, now time.Time) (*models.Subscription, error) {
	const op = "storage.GetActiveSubscription"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT ` + subscriptionColumns + `
			  FROM subscriptions
			  WHERE user_id = $1 AND status = 'active' AND end_date > $2
			  ORDER BY end_date DESC
			  LIMIT 1`
	sub, err := scanSubscription(s.DB.QueryRowContext(ctx, query, userID, now))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return sub, nil
}

// ActivateSubscription переводит подписку в active с заданными датами.
// Условие status <> 'active' — защита от двойной активации: повторный
// вызов для уже активной подписки ничего не меняет и возвращает false.
func (s *Storage) ActivateSubscription(ctx context.Context, id int64, startDate, endDate time.Time) (bool, error) {
	const op = "storage.ActivateSubscription"
	select {
	case <-ctx.Done():
		return false, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `UPDATE subscriptions
			  SET status = 'active', start_date = $1, end_date = $2, reminder_sent = FALSE
			  WHERE id = $3 AND status <> 'active'`
	result, err := s.DB.ExecContext(ctx, query, startDate, endDate, id)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return rows > 0, nil
}

// ExpireStaleSubscriptions переводит все активные подписки с истёкшей датой
// окончания в expired и возвращает количество обновлённых строк.
func (s *Storage) ExpireStaleSubscriptions(ctx context.Context, now time.Time) (int, error) {
	const op = "storage.ExpireStaleSubscriptions"
	select {
	case <-ctx.Done():
		return 0, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `UPDATE subscriptions
			  SET status = 'expired'
			  WHERE status = 'active' AND end_date <= $1`
	result, err := s.DB.ExecContext(ctx, query, now)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return int(rows), nil
}

// FindDueForReminder возвращает активные подписки без отправленного
// напоминания, заканчивающиеся в ближайшие три дня.
func (s *Storage) FindDueForReminder(ctx context.Context, now time.Time) ([]*models.Subscription, error) {
	const op = "storage.FindDueForReminder"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT ` + subscriptionColumns + `
			  FROM subscriptions
			  WHERE status = 'active'
			    AND reminder_sent = FALSE
			    AND end_date > $1
			    AND end_date <= $2
			  ORDER BY end_date`
	rows, err := s.DB.QueryContext(ctx, query, now, now.Add(3*24*time.Hour))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var result []*models.Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		result = append(result, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return result, nil
}

// MarkReminderSent отмечает, что напоминание отправлено. Повторный вызов —
// безопасный no-op благодаря условию reminder_sent = FALSE.
func (s *Storage) MarkReminderSent(ctx context.Context, id int64) error {
	const op = "storage.MarkReminderSent"
	select {
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `UPDATE subscriptions SET reminder_sent = TRUE WHERE id = $1 AND reminder_sent = FALSE`
	if _, err := s.DB.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// ListActiveSubscriberInfo возвращает строки ежедневного отчёта: активные
// подписки вместе с данными пользователя и тарифа.
func (s *Storage) ListActiveSubscriberInfo(ctx context.Context, now time.Time) ([]*models.ActiveSubscriberInfo, error) {
	const op = "storage.ListActiveSubscriberInfo"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT u.telegram_id, u.username,
			         COALESCE(TRIM(CONCAT_WS(' ', u.surname, u.name, u.patronymic)), ''),
			         COALESCE(u.phone, ''),
			         t.name, sub.end_date
			  FROM subscriptions sub
			  JOIN users u ON u.id = sub.user_id
			  JOIN tariffs t ON t.id = sub.tariff_id
			  WHERE sub.status = 'active' AND sub.end_date > $1
			  ORDER BY sub.end_date`
	rows, err := s.DB.QueryContext(ctx, query, now)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var result []*models.ActiveSubscriberInfo
	for rows.Next() {
		var info models.ActiveSubscriberInfo
		if err := rows.Scan(&info.TelegramID, &info.Username, &info.FullName,
			&info.Phone, &info.TariffName, &info.EndDate); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		result = append(result, &info)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return result, nil
}
