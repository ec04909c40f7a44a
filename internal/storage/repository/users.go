package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/perfumeclub/subscription-bot/internal/models"
)

const userColumns = `id, telegram_id, username, first_name, last_name,
	surname, name, patronymic, phone, referral_code, referrer_id, created_at`

func scanUser(row *sql.Row) (*models.User, error) {
	var u models.User
	err := row.Scan(&u.ID, &u.TelegramID, &u.Username, &u.FirstName, &u.LastName,
		&u.Surname, &u.Name, &u.Patronymic, &u.Phone, &u.ReferralCode, &u.ReferrerID, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &u, nil
}

// CreateUser вставляет нового пользователя и возвращает его ID.
func (s *Storage) CreateUser(ctx context.Context, u models.User) (int64, error) {
	const op = "storage.CreateUser"
	select {
	case <-ctx.Done():
		return 0, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `INSERT INTO users (telegram_id, username, first_name, last_name, referral_code, referrer_id)
			  VALUES ($1, $2, $3, $4, $5, $6)
			  RETURNING id`
	var newID int64
	err := s.DB.QueryRowContext(ctx, query,
		u.TelegramID, u.Username, u.FirstName, u.LastName, u.ReferralCode, u.ReferrerID).Scan(&newID)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return newID, nil
}

// GetUserByTelegramID возвращает пользователя по идентификатору Telegram.
func (s *Storage) GetUserByTelegramID(ctx context.Context, telegramID int64) (*models.User, error) {
	const op = "storage.GetUserByTelegramID"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT ` + userColumns + ` FROM users WHERE telegram_id = $1`
	u, err := scanUser(s.DB.QueryRowContext(ctx, query, telegramID))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return u, nil
}

// GetUserByID возвращает пользователя по внутреннему ID.
func (s *Storage) GetUserByID(ctx context.Context, id int64) (*models.User, error) {
	const op = "storage.GetUserByID"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	u, err := scanUser(s.DB.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return u, nil
}

// GetUserByReferralCode возвращает пользователя по реферальному коду.
func (s *Storage) GetUserByReferralCode(ctx context.Context, code string) (*models.User, error) {
	const op = "storage.GetUserByReferralCode"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT ` + userColumns + ` FROM users WHERE referral_code = $1`
	u, err := scanUser(s.DB.QueryRowContext(ctx, query, code))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return u, nil
}

// ReferralCodeExists проверяет занятость реферального кода.
func (s *Storage) ReferralCodeExists(ctx context.Context, code string) (bool, error) {
	const op = "storage.ReferralCodeExists"
	select {
	case <-ctx.Done():
		return false, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	var exists bool
	err := s.DB.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM users WHERE referral_code = $1)`, code).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return exists, nil
}

// UpdateUserDisplayFields обновляет данные профиля Telegram, если они изменились.
func (s *Storage) UpdateUserDisplayFields(ctx context.Context, id int64, username, firstName, lastName *string) error {
	const op = "storage.UpdateUserDisplayFields"
	select {
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `UPDATE users
			  SET username = COALESCE($1, username),
			      first_name = COALESCE($2, first_name),
			      last_name = COALESCE($3, last_name)
			  WHERE id = $4`
	if _, err := s.DB.ExecContext(ctx, query, username, firstName, lastName, id); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// UpdateUserProfile сохраняет данные анкеты пользователя.
func (s *Storage) UpdateUserProfile(ctx context.Context, id int64, surname, name, patronymic, phone string) error {
	const op = "storage.UpdateUserProfile"
	select {
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `UPDATE users SET surname = $1, name = $2, patronymic = $3, phone = $4 WHERE id = $5`
	result, err := s.DB.ExecContext(ctx, query, surname, name, patronymic, phone, id)
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

// SetReferrer привязывает реферера к пользователю. Привязка возможна
// только один раз: условие referrer_id IS NULL защищает от переназначения.
// Возвращает true, если привязка произошла.
func (s *Storage) SetReferrer(ctx context.Context, userID, referrerID int64) (bool, error) {
	const op = "storage.SetReferrer"
	select {
	case <-ctx.Done():
		return false, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `UPDATE users SET referrer_id = $1 WHERE id = $2 AND referrer_id IS NULL`
	result, err := s.DB.ExecContext(ctx, query, referrerID, userID)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return rows > 0, nil
}
