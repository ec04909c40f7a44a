// Package repository реализует хранилище данных на основе PostgreSQL
// для пользователей, тарифов, подписок, платежей и реферальных записей.
// Каждый метод — короткая самостоятельная операция; длинных транзакций
// между запросами нет, инварианты держатся на условных UPDATE.
package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	// Регистрация драйвера pgx для использования с database/sql.
	_ "github.com/jackc/pgx/v5/stdlib"
)

// ErrNotFound возвращается, когда запрошенная запись отсутствует.
var ErrNotFound = errors.New("not found")

// Storage инкапсулирует соединение с базой данных PostgreSQL.
type Storage struct {
	DB *sql.DB
}

// New создаёт подключение к PostgreSQL.
func New(storageConnectionString string) (*Storage, error) {
	const op = "storage.New"

	db, err := sql.Open("pgx", storageConnectionString)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err = db.PingContext(context.Background()); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &Storage{
		DB: db,
	}, nil
}

// CheckDatabaseReady проверяет готовность базы данных.
func CheckDatabaseReady(storage *Storage) error {
	var exists bool
	err := storage.DB.QueryRow(`SELECT EXISTS (
        SELECT FROM information_schema.tables
        WHERE table_name = 'subscriptions'
    )`).Scan(&exists)
	if err != nil || !exists {
		return fmt.Errorf("required table subscriptions missing or query error: %w", err)
	}
	return nil
}

// InitSchema создаёт таблицы и индексы, если их ещё нет.
func (s *Storage) InitSchema(ctx context.Context) error {
	const op = "storage.InitSchema"

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	statements := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id BIGSERIAL PRIMARY KEY,
			telegram_id BIGINT NOT NULL UNIQUE,
			username TEXT,
			first_name TEXT,
			last_name TEXT,
			surname TEXT,
			name TEXT,
			patronymic TEXT,
			phone TEXT,
			referral_code TEXT NOT NULL UNIQUE,
			referrer_id BIGINT REFERENCES users(id),
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_users_telegram_id ON users (telegram_id)`,
		`CREATE INDEX IF NOT EXISTS idx_users_referral_code ON users (referral_code)`,
		`CREATE TABLE IF NOT EXISTS tariffs (
			id BIGSERIAL PRIMARY KEY,
			code TEXT NOT NULL UNIQUE,
			name TEXT NOT NULL,
			duration_months INT NOT NULL,
			price NUMERIC(10, 2) NOT NULL,
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS subscriptions (
			id BIGSERIAL PRIMARY KEY,
			user_id BIGINT NOT NULL REFERENCES users(id),
			tariff_id BIGINT NOT NULL REFERENCES tariffs(id),
			status TEXT NOT NULL DEFAULT 'pending',
			start_date TIMESTAMPTZ,
			end_date TIMESTAMPTZ,
			reminder_sent BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_subscriptions_user_id ON subscriptions (user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_subscriptions_status ON subscriptions (status)`,
		`CREATE INDEX IF NOT EXISTS idx_subscriptions_end_date ON subscriptions (end_date)`,
		`CREATE TABLE IF NOT EXISTS payments (
			id BIGSERIAL PRIMARY KEY,
			user_id BIGINT NOT NULL REFERENCES users(id),
			subscription_id BIGINT UNIQUE REFERENCES subscriptions(id),
			external_payment_id TEXT UNIQUE,
			amount NUMERIC(10, 2) NOT NULL,
			currency TEXT NOT NULL DEFAULT 'RUB',
			status TEXT NOT NULL DEFAULT 'pending',
			payment_metadata TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_payments_user_id ON payments (user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_payments_status ON payments (status)`,
		`CREATE TABLE IF NOT EXISTS referrals (
			id BIGSERIAL PRIMARY KEY,
			referrer_id BIGINT NOT NULL REFERENCES users(id),
			referred_id BIGINT NOT NULL UNIQUE REFERENCES users(id),
			has_paid_subscription BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_referrals_referrer_id ON referrals (referrer_id)`,
		`CREATE TABLE IF NOT EXISTS referral_bonuses (
			id BIGSERIAL PRIMARY KEY,
			user_id BIGINT NOT NULL REFERENCES users(id),
			status TEXT NOT NULL DEFAULT 'pending',
			active_referrals_count INT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_bonuses_user_id ON referral_bonuses (user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_bonuses_status ON referral_bonuses (status)`,
	}

	for _, stmt := range statements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}
