package subscription

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/perfumeclub/subscription-bot/internal/models"
	"github.com/perfumeclub/subscription-bot/internal/storage/repository"
)

type RepoMock struct{ mock.Mock }

func (m *RepoMock) CreateSubscription(ctx context.Context, userID, tariffID int64) (int64, error) {
	args := m.Called(ctx, userID, tariffID)
	return args.Get(0).(int64), args.Error(1)
}
func (m *RepoMock) GetSubscription(ctx context.Context, id int64) (*models.Subscription, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Subscription), args.Error(1)
}
func (m *RepoMock) GetActiveSubscription(ctx context.Context, userID int64, now time.Time) (*models.Subscription, error) {
	args := m.Called(ctx, userID, now)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Subscription), args.Error(1)
}
func (m *RepoMock) ActivateSubscription(ctx context.Context, id int64, startDate, endDate time.Time) (bool, error) {
	args := m.Called(ctx, id, startDate, endDate)
	return args.Bool(0), args.Error(1)
}
func (m *RepoMock) ExpireStaleSubscriptions(ctx context.Context, now time.Time) (int, error) {
	args := m.Called(ctx, now)
	return args.Int(0), args.Error(1)
}
func (m *RepoMock) FindDueForReminder(ctx context.Context, now time.Time) ([]*models.Subscription, error) {
	args := m.Called(ctx, now)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.Subscription), args.Error(1)
}
func (m *RepoMock) MarkReminderSent(ctx context.Context, id int64) error {
	return m.Called(ctx, id).Error(0)
}
func (m *RepoMock) ListActiveSubscriberInfo(ctx context.Context, now time.Time) ([]*models.ActiveSubscriberInfo, error) {
	args := m.Called(ctx, now)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.ActiveSubscriberInfo), args.Error(1)
}
func (m *RepoMock) GetTariffByID(ctx context.Context, id int64) (*models.Tariff, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Tariff), args.Error(1)
}

type CacheMock struct{ mock.Mock }

func (m *CacheMock) Get(key string, result any) (bool, error) {
	args := m.Called(key, result)
	return args.Bool(0), args.Error(1)
}
func (m *CacheMock) Set(key string, value any, expiration time.Duration) error {
	return m.Called(key, value, expiration).Error(0)
}
func (m *CacheMock) Invalidate(key string) error {
	return m.Called(key).Error(0)
}

func newNoopLogger() *slog.Logger {
	h := slog.NewTextHandler(io.Discard, &slog.HandlerOptions{})
	return slog.New(h)
}

func newTestService(now time.Time) (*Service, *RepoMock, *CacheMock) {
	repo := new(RepoMock)
	cache := new(CacheMock)
	svc := New(repo, cache, newNoopLogger()).WithClock(func() time.Time { return now })
	return svc, repo, cache
}

func TestActivate_FirstSubscription(t *testing.T) {
	now := time.Date(2025, 3, 15, 12, 0, 0, 0, time.UTC)
	svc, repo, cache := newTestService(now)

	pending := &models.Subscription{ID: 7, UserID: 1, TariffID: 2, Status: models.SubscriptionPending}
	wantEnd := time.Date(2025, 4, 15, 12, 0, 0, 0, time.UTC)
	active := &models.Subscription{ID: 7, UserID: 1, TariffID: 2, Status: models.SubscriptionActive, StartDate: &now, EndDate: &wantEnd}

	repo.On("GetSubscription", mock.Anything, int64(7)).Return(pending, nil).Once()
	repo.On("GetTariffByID", mock.Anything, int64(2)).Return(&models.Tariff{ID: 2, DurationMonths: 1}, nil).Once()
	repo.On("GetActiveSubscription", mock.Anything, int64(1), now).Return(nil, repository.ErrNotFound).Once()
	repo.On("ActivateSubscription", mock.Anything, int64(7), now, wantEnd).Return(true, nil).Once()
	cache.On("Invalidate", "subscription:active:1").Return(nil).Once()
	repo.On("GetSubscription", mock.Anything, int64(7)).Return(active, nil).Once()

	got, err := svc.Activate(context.Background(), 7)
	assert.NoError(t, err)
	assert.Equal(t, models.SubscriptionActive, got.Status)
	assert.Equal(t, wantEnd, *got.EndDate)
	repo.AssertExpectations(t)
	cache.AssertExpectations(t)
}

func TestActivate_StacksOnCurrentSubscription(t *testing.T) {
	now := time.Date(2025, 3, 15, 12, 0, 0, 0, time.UTC)
	svc, repo, cache := newTestService(now)

	currentEnd := time.Date(2025, 3, 20, 12, 0, 0, 0, time.UTC)
	current := &models.Subscription{ID: 5, UserID: 1, Status: models.SubscriptionActive, EndDate: &currentEnd}
	pending := &models.Subscription{ID: 8, UserID: 1, TariffID: 3, Status: models.SubscriptionPending}
	// Новая подписка стартует с конца текущей, оплаченные дни не сгорают.
	wantEnd := time.Date(2025, 9, 20, 12, 0, 0, 0, time.UTC)

	repo.On("GetSubscription", mock.Anything, int64(8)).Return(pending, nil).Once()
	repo.On("GetTariffByID", mock.Anything, int64(3)).Return(&models.Tariff{ID: 3, DurationMonths: 6}, nil).Once()
	repo.On("GetActiveSubscription", mock.Anything, int64(1), now).Return(current, nil).Once()
	repo.On("ActivateSubscription", mock.Anything, int64(8), currentEnd, wantEnd).Return(true, nil).Once()
	cache.On("Invalidate", "subscription:active:1").Return(nil).Once()
	repo.On("GetSubscription", mock.Anything, int64(8)).Return(&models.Subscription{ID: 8, Status: models.SubscriptionActive}, nil).Once()

	_, err := svc.Activate(context.Background(), 8)
	assert.NoError(t, err)
	repo.AssertExpectations(t)
}

func TestActivate_AlreadyActiveIsNoop(t *testing.T) {
	now := time.Date(2025, 3, 15, 12, 0, 0, 0, time.UTC)
	svc, repo, _ := newTestService(now)

	end := now.AddDate(0, 1, 0)
	active := &models.Subscription{ID: 7, UserID: 1, Status: models.SubscriptionActive, StartDate: &now, EndDate: &end}
	repo.On("GetSubscription", mock.Anything, int64(7)).Return(active, nil).Once()

	got, err := svc.Activate(context.Background(), 7)
	assert.NoError(t, err)
	assert.Equal(t, active, got)
	repo.AssertNotCalled(t, "ActivateSubscription", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestActivate_RacedActivationReturnsCurrentState(t *testing.T) {
	now := time.Date(2025, 3, 15, 12, 0, 0, 0, time.UTC)
	svc, repo, _ := newTestService(now)

	pending := &models.Subscription{ID: 9, UserID: 2, TariffID: 2, Status: models.SubscriptionPending}
	wantEnd := time.Date(2025, 4, 15, 12, 0, 0, 0, time.UTC)
	raced := &models.Subscription{ID: 9, UserID: 2, Status: models.SubscriptionActive}

	repo.On("GetSubscription", mock.Anything, int64(9)).Return(pending, nil).Once()
	repo.On("GetTariffByID", mock.Anything, int64(2)).Return(&models.Tariff{ID: 2, DurationMonths: 1}, nil).Once()
	repo.On("GetActiveSubscription", mock.Anything, int64(2), now).Return(nil, repository.ErrNotFound).Once()
	repo.On("ActivateSubscription", mock.Anything, int64(9), now, wantEnd).Return(false, nil).Once()
	repo.On("GetSubscription", mock.Anything, int64(9)).Return(raced, nil).Once()

	got, err := svc.Activate(context.Background(), 9)
	assert.NoError(t, err)
	assert.Equal(t, raced, got)
	repo.AssertExpectations(t)
}

func TestGetActive_CacheHit(t *testing.T) {
	now := time.Date(2025, 3, 15, 12, 0, 0, 0, time.UTC)
	svc, repo, cache := newTestService(now)

	end := now.Add(48 * time.Hour)
	cache.On("Get", "subscription:active:1", mock.Anything).Run(func(args mock.Arguments) {
		ptr := args.Get(1).(**models.Subscription)
		*ptr = &models.Subscription{ID: 3, UserID: 1, Status: models.SubscriptionActive, EndDate: &end}
	}).Return(true, nil).Once()

	got, err := svc.GetActive(context.Background(), 1)
	assert.NoError(t, err)
	assert.Equal(t, int64(3), got.ID)
	repo.AssertNotCalled(t, "GetActiveSubscription", mock.Anything, mock.Anything, mock.Anything)
}

func TestGetActive_StaleCacheFallsThrough(t *testing.T) {
	now := time.Date(2025, 3, 15, 12, 0, 0, 0, time.UTC)
	svc, repo, cache := newTestService(now)

	stale := now.Add(-time.Hour)
	cache.On("Get", "subscription:active:1", mock.Anything).Run(func(args mock.Arguments) {
		ptr := args.Get(1).(**models.Subscription)
		*ptr = &models.Subscription{ID: 3, UserID: 1, EndDate: &stale}
	}).Return(true, nil).Once()
	repo.On("GetActiveSubscription", mock.Anything, int64(1), now).Return(nil, repository.ErrNotFound).Once()

	got, err := svc.GetActive(context.Background(), 1)
	assert.NoError(t, err)
	assert.Nil(t, got)
	repo.AssertExpectations(t)
}

func TestGetActive_NoSubscriptionReturnsNil(t *testing.T) {
	now := time.Date(2025, 3, 15, 12, 0, 0, 0, time.UTC)
	svc, repo, cache := newTestService(now)

	cache.On("Get", "subscription:active:4", mock.Anything).Return(false, nil).Once()
	repo.On("GetActiveSubscription", mock.Anything, int64(4), now).Return(nil, repository.ErrNotFound).Once()

	got, err := svc.GetActive(context.Background(), 4)
	assert.NoError(t, err)
	assert.Nil(t, got)
}

func TestExpireStale(t *testing.T) {
	now := time.Date(2025, 3, 15, 12, 0, 0, 0, time.UTC)
	svc, repo, _ := newTestService(now)

	repo.On("ExpireStaleSubscriptions", mock.Anything, now).Return(3, nil).Once()

	count, err := svc.ExpireStale(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestExpireStale_RepoError(t *testing.T) {
	now := time.Date(2025, 3, 15, 12, 0, 0, 0, time.UTC)
	svc, repo, _ := newTestService(now)

	repo.On("ExpireStaleSubscriptions", mock.Anything, now).Return(0, errors.New("db down")).Once()

	_, err := svc.ExpireStale(context.Background())
	assert.Error(t, err)
}
