// Package tariff содержит бизнес-логику каталога тарифов.
package tariff

import (
	"context"
	"log/slog"
	"time"

	"github.com/perfumeclub/subscription-bot/internal/models"
)

// Repository определяет методы для работы с тарифами в хранилище.
type Repository interface {
	ListActiveTariffs(ctx context.Context) ([]*models.Tariff, error)
	GetTariffByCode(ctx context.Context, code string) (*models.Tariff, error)
	GetTariffByID(ctx context.Context, id int64) (*models.Tariff, error)
	EnsureTariff(ctx context.Context, t models.Tariff) error
}

// Cache описывает методы для кэширования данных.
type Cache interface {
	Get(key string, result any) (bool, error)
	Set(key string, value any, expiration time.Duration) error
	Invalidate(key string) error
}

// Service реализует каталог тарифов с кешированием списка.
type Service struct {
	repo  Repository
	cache Cache
	log   *slog.Logger
}

// New создает новый Service.
func New(repo Repository, cache Cache, log *slog.Logger) *Service {
	return &Service{
		repo:  repo,
		cache: cache,
		log:   log,
	}
}

const tariffListCacheKey = "tariffs:active"

// defaultTariffs тарифы, заводимые при первом старте, если каталог пуст.
var defaultTariffs = []models.Tariff{
	{Code: "monthly", Name: "Месячный", DurationMonths: 1, Price: 249.00},
	{Code: "half_year", Name: "Полгода", DurationMonths: 6, Price: 1499.00},
	{Code: "yearly", Name: "Годовой", DurationMonths: 12, Price: 1999.00},
}

// EnsureDefaults наполняет каталог дефолтными тарифами, пропуская уже
// существующие коды.
func (s *Service) EnsureDefaults(ctx context.Context) error {
	for _, t := range defaultTariffs {
		if err := s.repo.EnsureTariff(ctx, t); err != nil {
			return err
		}
	}
	s.log.Info("tariff catalog seeded", slog.Int("count", len(defaultTariffs)))
	return nil
}

// ListActive возвращает активные тарифы, используя кеш или репозиторий.
func (s *Service) ListActive(ctx context.Context) ([]*models.Tariff, error) {
	var cached []*models.Tariff
	found, err := s.cache.Get(tariffListCacheKey, &cached)
	if err != nil {
		s.log.Warn("failed to read tariff cache", slog.Any("err", err))
	}
	if found {
		return cached, nil
	}

	tariffs, err := s.repo.ListActiveTariffs(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.cache.Set(tariffListCacheKey, tariffs, time.Hour); err != nil {
		s.log.Warn("failed to cache tariffs", slog.Any("err", err))
	}
	return tariffs, nil
}

// ByCode возвращает активный тариф по коду.
func (s *Service) ByCode(ctx context.Context, code string) (*models.Tariff, error) {
	return s.repo.GetTariffByCode(ctx, code)
}

// ByID возвращает тариф по ID.
func (s *Service) ByID(ctx context.Context, id int64) (*models.Tariff, error) {
	return s.repo.GetTariffByID(ctx, id)
}
