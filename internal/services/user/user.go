// Package user содержит бизнес-логику справочника пользователей:
// создание при первом обращении, анкета и привязка реферера.
package user

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/go-playground/validator"

	"github.com/perfumeclub/subscription-bot/internal/models"
	"github.com/perfumeclub/subscription-bot/internal/storage/repository"
)

// Ошибки привязки реферера.
var (
	// ErrSelfReferral попытка указать собственный код.
	ErrSelfReferral = errors.New("self referral is not allowed")
	// ErrAlreadyReferred у пользователя уже есть реферер.
	ErrAlreadyReferred = errors.New("user already has a referrer")
	// ErrCodeNotFound код не принадлежит ни одному пользователю.
	ErrCodeNotFound = errors.New("referral code not found")
)

// Repository определяет методы для работы с пользователями в хранилище.
type Repository interface {
	CreateUser(ctx context.Context, u models.User) (int64, error)
	GetUserByTelegramID(ctx context.Context, telegramID int64) (*models.User, error)
	GetUserByID(ctx context.Context, id int64) (*models.User, error)
	GetUserByReferralCode(ctx context.Context, code string) (*models.User, error)
	ReferralCodeExists(ctx context.Context, code string) (bool, error)
	UpdateUserDisplayFields(ctx context.Context, id int64, username, firstName, lastName *string) error
	UpdateUserProfile(ctx context.Context, id int64, surname, name, patronymic, phone string) error
	SetReferrer(ctx context.Context, userID, referrerID int64) (bool, error)
}

// ReferralLedger регистрирует ребро приглашения при привязке реферера.
type ReferralLedger interface {
	CreateReferral(ctx context.Context, referrerID, referredID int64) (*models.Referral, error)
}

// Service реализует справочник пользователей.
type Service struct {
	repo      Repository
	referrals ReferralLedger
	validate  *validator.Validate
	log       *slog.Logger
}

// New создает новый Service.
func New(repo Repository, referrals ReferralLedger, log *slog.Logger) *Service {
	return &Service{
		repo:      repo,
		referrals: referrals,
		validate:  validator.New(),
		log:       log,
	}
}

const referralCodeLen = 8

const codeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

func generateReferralCode() (string, error) {
	buf := make([]byte, referralCodeLen)
	for i := range buf {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(codeAlphabet))))
		if err != nil {
			return "", err
		}
		buf[i] = codeAlphabet[n.Int64()]
	}
	return string(buf), nil
}

// GetOrCreate возвращает пользователя по telegram_id, создавая его при
// первом обращении. Новому пользователю генерируется уникальный
// реферальный код; если передан чужой валидный referrerCode, реферер
// привязывается сразу и создаётся реферальная запись. Самоприглашение
// молча игнорируется. Возвращает (user, isNew).
func (s *Service) GetOrCreate(ctx context.Context, telegramID int64, username, firstName, lastName *string, referrerCode string) (*models.User, bool, error) {
	const op = "services.user.GetOrCreate"

	existing, err := s.repo.GetUserByTelegramID(ctx, telegramID)
	if err == nil {
		if err := s.repo.UpdateUserDisplayFields(ctx, existing.ID, username, firstName, lastName); err != nil {
			s.log.Warn("failed to refresh display fields", slog.Int64("user_id", existing.ID), slog.Any("err", err))
		}
		return existing, false, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, false, fmt.Errorf("%s: %w", op, err)
	}

	code, err := s.uniqueReferralCode(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("%s: %w", op, err)
	}

	var referrerID *int64
	if referrerCode != "" {
		referrer, err := s.repo.GetUserByReferralCode(ctx, referrerCode)
		if err == nil && referrer.TelegramID != telegramID {
			referrerID = &referrer.ID
		} else if err != nil && !errors.Is(err, repository.ErrNotFound) {
			return nil, false, fmt.Errorf("%s: %w", op, err)
		}
	}

	newID, err := s.repo.CreateUser(ctx, models.User{
		TelegramID:   telegramID,
		Username:     username,
		FirstName:    firstName,
		LastName:     lastName,
		ReferralCode: code,
		ReferrerID:   referrerID,
	})
	if err != nil {
		return nil, false, fmt.Errorf("%s: %w", op, err)
	}
	s.log.Info("created new user", slog.Int64("id", newID), slog.Int64("telegram_id", telegramID))

	if referrerID != nil {
		if _, err := s.referrals.CreateReferral(ctx, *referrerID, newID); err != nil {
			s.log.Error("failed to record referral edge", slog.Int64("referrer_id", *referrerID), slog.Any("err", err))
		}
	}

	created, err := s.repo.GetUserByID(ctx, newID)
	if err != nil {
		return nil, false, fmt.Errorf("%s: %w", op, err)
	}
	return created, true, nil
}

func (s *Service) uniqueReferralCode(ctx context.Context) (string, error) {
	for {
		code, err := generateReferralCode()
		if err != nil {
			return "", err
		}
		exists, err := s.repo.ReferralCodeExists(ctx, code)
		if err != nil {
			return "", err
		}
		if !exists {
			return code, nil
		}
	}
}

// AttachReferrer привязывает реферера к уже существующему пользователю,
// который ввёл код позже регистрации. Привязка возможна один раз;
// самоприглашение и повторная привязка отклоняются.
func (s *Service) AttachReferrer(ctx context.Context, userID int64, code string) error {
	const op = "services.user.AttachReferrer"

	u, err := s.repo.GetUserByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if u.ReferrerID != nil {
		return ErrAlreadyReferred
	}

	referrer, err := s.repo.GetUserByReferralCode(ctx, code)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrCodeNotFound
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	if referrer.ID == userID {
		return ErrSelfReferral
	}

	attached, err := s.repo.SetReferrer(ctx, userID, referrer.ID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if !attached {
		// Кто-то успел привязать реферера между чтением и записью.
		return ErrAlreadyReferred
	}

	if _, err := s.referrals.CreateReferral(ctx, referrer.ID, userID); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	s.log.Info("attached referrer", slog.Int64("user_id", userID), slog.Int64("referrer_id", referrer.ID))
	return nil
}

// UpdateProfile валидирует и сохраняет анкету пользователя.
// Ошибки валидации возвращаются вызывающему без изменения состояния.
func (s *Service) UpdateProfile(ctx context.Context, userID int64, req models.ProfileUpdate) error {
	const op = "services.user.UpdateProfile"

	if err := s.validate.Struct(req); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := s.repo.UpdateUserProfile(ctx, userID, req.Surname, req.Name, req.Patronymic, req.Phone); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	s.log.Info("updated user profile", slog.Int64("user_id", userID))
	return nil
}

// ByTelegramID возвращает пользователя по идентификатору Telegram.
func (s *Service) ByTelegramID(ctx context.Context, telegramID int64) (*models.User, error) {
	return s.repo.GetUserByTelegramID(ctx, telegramID)
}

// ByID возвращает пользователя по внутреннему ID.
func (s *Service) ByID(ctx context.Context, id int64) (*models.User, error) {
	return s.repo.GetUserByID(ctx, id)
}

// ByReferralCode возвращает владельца реферального кода.
func (s *Service) ByReferralCode(ctx context.Context, code string) (*models.User, error) {
	return s.repo.GetUserByReferralCode(ctx, code)
}
