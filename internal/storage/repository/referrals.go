package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/perfumeclub/subscription-bot/internal/models"
)

const referralColumns = `id, referrer_id, referred_id, has_paid_subscription, created_at`

func scanReferral(scanner interface {
	Scan(dest ...any) error
}) (*models.Referral, error) {
	var r models.Referral
	err := scanner.Scan(&r.ID, &r.ReferrerID, &r.ReferredID, &r.HasPaidSubscription, &r.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// GetReferralByReferred возвращает реферальную запись по приглашённому.
// Приглашённый уникален среди всех записей, поэтому запись не более одной.
func (s *Storage) GetReferralByReferred(ctx context.Context, referredID int64) (*models.Referral, error) {
	const op = "storage.GetReferralByReferred"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT ` + referralColumns + ` FROM referrals WHERE referred_id = $1`
	r, err := scanReferral(s.DB.QueryRowContext(ctx, query, referredID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return r, nil
}

// CreateReferral вставляет ребро referrer -> referred. Повторная вставка
// для уже приглашённого пользователя не создаёт дубликат: ON CONFLICT
// по referred_id превращает её в no-op, после чего возвращается
// существующая запись.
func (s *Storage) CreateReferral(ctx context.Context, referrerID, referredID int64) (*models.Referral, error) {
	const op = "storage.CreateReferral"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `INSERT INTO referrals (referrer_id, referred_id)
			  VALUES ($1, $2)
			  ON CONFLICT (referred_id) DO NOTHING`
	if _, err := s.DB.ExecContext(ctx, query, referrerID, referredID); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return s.GetReferralByReferred(ctx, referredID)
}

// MarkReferralPaid отмечает приглашённого как оплатившего. Условие
// has_paid_subscription = FALSE делает повторные вызовы безопасными.
// Возвращает запись и true, если флаг переключился именно сейчас.
func (s *Storage) MarkReferralPaid(ctx context.Context, referredID int64) (*models.Referral, bool, error) {
	const op = "storage.MarkReferralPaid"
	select {
	case <-ctx.Done():
		return nil, false, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `UPDATE referrals
			  SET has_paid_subscription = TRUE
			  WHERE referred_id = $1 AND has_paid_subscription = FALSE`
	result, err := s.DB.ExecContext(ctx, query, referredID)
	if err != nil {
		return nil, false, fmt.Errorf("%s: %w", op, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("%s: %w", op, err)
	}
	if rows == 0 {
		return nil, false, nil
	}

	r, err := s.GetReferralByReferred(ctx, referredID)
	if err != nil {
		return nil, false, fmt.Errorf("%s: %w", op, err)
	}
	return r, true, nil
}

// ListPaidReferrals возвращает оплаченные рефералы пользователя.
func (s *Storage) ListPaidReferrals(ctx context.Context, referrerID int64) ([]*models.Referral, error) {
	const op = "storage.ListPaidReferrals"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT ` + referralColumns + `
			  FROM referrals
			  WHERE referrer_id = $1 AND has_paid_subscription = TRUE`
	rows, err := s.DB.QueryContext(ctx, query, referrerID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var result []*models.Referral
	for rows.Next() {
		r, err := scanReferral(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		result = append(result, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return result, nil
}

// CountReferrals считает все рефералы пользователя и отдельно оплаченные.
func (s *Storage) CountReferrals(ctx context.Context, referrerID int64) (total, paid int, err error) {
	const op = "storage.CountReferrals"
	select {
	case <-ctx.Done():
		return 0, 0, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT COUNT(*), COUNT(*) FILTER (WHERE has_paid_subscription)
			  FROM referrals WHERE referrer_id = $1`
	if err := s.DB.QueryRowContext(ctx, query, referrerID).Scan(&total, &paid); err != nil {
		return 0, 0, fmt.Errorf("%s: %w", op, err)
	}
	return total, paid, nil
}

// HasNonPendingBonus проверяет, есть ли у пользователя бонус, прошедший
// стадию pending. Такой бонус означает, что механика уже отработала.
func (s *Storage) HasNonPendingBonus(ctx context.Context, userID int64) (bool, error) {
	const op = "storage.HasNonPendingBonus"
	select {
	case <-ctx.Done():
		return false, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	var exists bool
	err := s.DB.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM referral_bonuses WHERE user_id = $1 AND status <> 'pending')`,
		userID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return exists, nil
}

// HasAnyBonus проверяет наличие любой бонусной записи у пользователя.
func (s *Storage) HasAnyBonus(ctx context.Context, userID int64) (bool, error) {
	const op = "storage.HasAnyBonus"
	select {
	case <-ctx.Done():
		return false, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	var exists bool
	err := s.DB.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM referral_bonuses WHERE user_id = $1)`,
		userID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return exists, nil
}

// CreateBonus вставляет бонус в статусе pending со снимком количества
// активных рефералов.
func (s *Storage) CreateBonus(ctx context.Context, userID int64, activeReferralsCount int) (int64, error) {
	const op = "storage.CreateBonus"
	select {
	case <-ctx.Done():
		return 0, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `INSERT INTO referral_bonuses (user_id, status, active_referrals_count)
			  VALUES ($1, 'pending', $2)
			  RETURNING id`
	var newID int64
	if err := s.DB.QueryRowContext(ctx, query, userID, activeReferralsCount).Scan(&newID); err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return newID, nil
}

// ListPendingBonuses возвращает бонусы, ожидающие уведомления.
func (s *Storage) ListPendingBonuses(ctx context.Context) ([]*models.ReferralBonus, error) {
	const op = "storage.ListPendingBonuses"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT id, user_id, status, active_referrals_count, created_at
			  FROM referral_bonuses
			  WHERE status = 'pending'
			  ORDER BY created_at`
	rows, err := s.DB.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var result []*models.ReferralBonus
	for rows.Next() {
		var b models.ReferralBonus
		if err := rows.Scan(&b.ID, &b.UserID, &b.Status, &b.ActiveReferralsCount, &b.CreatedAt); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		result = append(result, &b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return result, nil
}

// MarkBonusNotified переводит бонус в notified. Условие status = 'pending'
// исключает повторное уведомление. Возвращает true, если переход произошёл.
func (s *Storage) MarkBonusNotified(ctx context.Context, bonusID int64) (bool, error) {
	const op = "storage.MarkBonusNotified"
	select {
	case <-ctx.Done():
		return false, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `UPDATE referral_bonuses SET status = 'notified' WHERE id = $1 AND status = 'pending'`
	result, err := s.DB.ExecContext(ctx, query, bonusID)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return rows > 0, nil
}
