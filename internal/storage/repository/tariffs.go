package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/perfumeclub/subscription-bot/internal/models"
)

// ListActiveTariffs возвращает активные тарифы в порядке возрастания длительности.
func (s *Storage) ListActiveTariffs(ctx context.Context) ([]*models.Tariff, error) {
	const op = "storage.ListActiveTariffs"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT id, code, name, duration_months, price, is_active, created_at
			  FROM tariffs
			  WHERE is_active = TRUE
			  ORDER BY duration_months`
	rows, err := s.DB.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var result []*models.Tariff
	for rows.Next() {
		var t models.Tariff
		if err := rows.Scan(&t.ID, &t.Code, &t.Name, &t.DurationMonths, &t.Price, &t.IsActive, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		result = append(result, &t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return result, nil
}

// GetTariffByCode возвращает активный тариф по коду.
func (s *Storage) GetTariffByCode(ctx context.Context, code string) (*models.Tariff, error) {
	const op = "storage.GetTariffByCode"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT id, code, name, duration_months, price, is_active, created_at
			  FROM tariffs WHERE code = $1 AND is_active = TRUE`
	var t models.Tariff
	err := s.DB.QueryRowContext(ctx, query, code).
		Scan(&t.ID, &t.Code, &t.Name, &t.DurationMonths, &t.Price, &t.IsActive, &t.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &t, nil
}

// GetTariffByID возвращает тариф по ID.
func (s *Storage) GetTariffByID(ctx context.Context, id int64) (*models.Tariff, error) {
	const op = "storage.GetTariffByID"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT id, code, name, duration_months, price, is_active, created_at
			  FROM tariffs WHERE id = $1`
	var t models.Tariff
	err := s.DB.QueryRowContext(ctx, query, id).
		Scan(&t.ID, &t.Code, &t.Name, &t.DurationMonths, &t.Price, &t.IsActive, &t.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &t, nil
}

// EnsureTariff вставляет тариф, если тарифа с таким кодом ещё нет.
// Используется для первичного наполнения каталога.
func (s *Storage) EnsureTariff(ctx context.Context, t models.Tariff) error {
	const op = "storage.EnsureTariff"
	select {
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `INSERT INTO tariffs (code, name, duration_months, price, is_active)
			  VALUES ($1, $2, $3, $4, TRUE)
			  ON CONFLICT (code) DO NOTHING`
	if _, err := s.DB.ExecContext(ctx, query, t.Code, t.Name, t.DurationMonths, t.Price); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}
