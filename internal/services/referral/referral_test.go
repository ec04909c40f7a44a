package referral

import (
	"context"
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

func (m *RepoMock) CreateReferral(ctx context.Context, referrerID, referredID int64) (*models.Referral, error) {
	args := m.Called(ctx, referrerID, referredID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Referral), args.Error(1)
}
func (m *RepoMock) MarkReferralPaid(ctx context.Context, referredID int64) (*models.Referral, bool, error) {
	args := m.Called(ctx, referredID)
	if args.Get(0) == nil {
		return nil, args.Bool(1), args.Error(2)
	}
	return args.Get(0).(*models.Referral), args.Bool(1), args.Error(2)
}
func (m *RepoMock) ListPaidReferrals(ctx context.Context, referrerID int64) ([]*models.Referral, error) {
	args := m.Called(ctx, referrerID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.Referral), args.Error(1)
}
func (m *RepoMock) CountReferrals(ctx context.Context, referrerID int64) (int, int, error) {
	args := m.Called(ctx, referrerID)
	return args.Int(0), args.Int(1), args.Error(2)
}
func (m *RepoMock) HasNonPendingBonus(ctx context.Context, userID int64) (bool, error) {
	args := m.Called(ctx, userID)
	return args.Bool(0), args.Error(1)
}
func (m *RepoMock) HasAnyBonus(ctx context.Context, userID int64) (bool, error) {
	args := m.Called(ctx, userID)
	return args.Bool(0), args.Error(1)
}
func (m *RepoMock) CreateBonus(ctx context.Context, userID int64, activeReferralsCount int) (int64, error) {
	args := m.Called(ctx, userID, activeReferralsCount)
	return args.Get(0).(int64), args.Error(1)
}
func (m *RepoMock) ListPendingBonuses(ctx context.Context) ([]*models.ReferralBonus, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.ReferralBonus), args.Error(1)
}
func (m *RepoMock) MarkBonusNotified(ctx context.Context, bonusID int64) (bool, error) {
	args := m.Called(ctx, bonusID)
	return args.Bool(0), args.Error(1)
}
func (m *RepoMock) GetActiveSubscription(ctx context.Context, userID int64, now time.Time) (*models.Subscription, error) {
	args := m.Called(ctx, userID, now)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Subscription), args.Error(1)
}
func (m *RepoMock) GetUserByID(ctx context.Context, id int64) (*models.User, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}

func newNoopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{}))
}

func newTestService(now time.Time) (*Service, *RepoMock) {
	repo := new(RepoMock)
	svc := New(repo, newNoopLogger()).WithClock(func() time.Time { return now })
	return svc, repo
}

func paidReferrals(referrerID int64, referredIDs ...int64) []*models.Referral {
	res := make([]*models.Referral, 0, len(referredIDs))
	for _, id := range referredIDs {
		res = append(res, &models.Referral{ReferrerID: referrerID, ReferredID: id, HasPaidSubscription: true})
	}
	return res
}

func TestMarkPaid_NoReferralIsNoop(t *testing.T) {
	now := time.Date(2025, 3, 15, 12, 0, 0, 0, time.UTC)
	svc, repo := newTestService(now)

	repo.On("MarkReferralPaid", mock.Anything, int64(99)).Return(nil, false, nil).Once()

	err := svc.MarkPaid(context.Background(), 99)
	assert.NoError(t, err)
	repo.AssertNotCalled(t, "HasNonPendingBonus", mock.Anything, mock.Anything)
}

func TestMarkPaid_SecondActivationIsNoop(t *testing.T) {
	now := time.Date(2025, 3, 15, 12, 0, 0, 0, time.UTC)
	svc, repo := newTestService(now)

	// Флаг уже стоит, условный UPDATE ничего не поменял.
	repo.On("MarkReferralPaid", mock.Anything, int64(20)).
		Return(&models.Referral{ReferrerID: 1, ReferredID: 20, HasPaidSubscription: true}, false, nil).Once()

	err := svc.MarkPaid(context.Background(), 20)
	assert.NoError(t, err)
	repo.AssertNotCalled(t, "CreateBonus", mock.Anything, mock.Anything, mock.Anything)
}

func TestMarkPaid_ThresholdReachedCreatesBonus(t *testing.T) {
	now := time.Date(2025, 3, 15, 12, 0, 0, 0, time.UTC)
	svc, repo := newTestService(now)

	repo.On("MarkReferralPaid", mock.Anything, int64(22)).
		Return(&models.Referral{ReferrerID: 1, ReferredID: 22, HasPaidSubscription: true}, true, nil).Once()
	repo.On("HasNonPendingBonus", mock.Anything, int64(1)).Return(false, nil).Once()
	repo.On("ListPaidReferrals", mock.Anything, int64(1)).Return(paidReferrals(1, 20, 21, 22), nil).Once()
	for _, id := range []int64{20, 21, 22} {
		repo.On("GetActiveSubscription", mock.Anything, id, now).
			Return(&models.Subscription{UserID: id, Status: models.SubscriptionActive}, nil).Once()
	}
	repo.On("HasAnyBonus", mock.Anything, int64(1)).Return(false, nil).Once()
	repo.On("CreateBonus", mock.Anything, int64(1), 3).Return(int64(100), nil).Once()

	err := svc.MarkPaid(context.Background(), 22)
	assert.NoError(t, err)
	repo.AssertExpectations(t)
}

func TestMarkPaid_ExpiredReferralsDoNotCount(t *testing.T) {
	now := time.Date(2025, 3, 15, 12, 0, 0, 0, time.UTC)
	svc, repo := newTestService(now)

	repo.On("MarkReferralPaid", mock.Anything, int64(22)).
		Return(&models.Referral{ReferrerID: 1, ReferredID: 22, HasPaidSubscription: true}, true, nil).Once()
	repo.On("HasNonPendingBonus", mock.Anything, int64(1)).Return(false, nil).Once()
	repo.On("ListPaidReferrals", mock.Anything, int64(1)).Return(paidReferrals(1, 20, 21, 22), nil).Once()
	// Один из оплативших уже без активной подписки — порог не достигнут.
	repo.On("GetActiveSubscription", mock.Anything, int64(20), now).Return(nil, repository.ErrNotFound).Once()
	for _, id := range []int64{21, 22} {
		repo.On("GetActiveSubscription", mock.Anything, id, now).
			Return(&models.Subscription{UserID: id, Status: models.SubscriptionActive}, nil).Once()
	}

	err := svc.MarkPaid(context.Background(), 22)
	assert.NoError(t, err)
	repo.AssertNotCalled(t, "CreateBonus", mock.Anything, mock.Anything, mock.Anything)
}

func TestMarkPaid_ConsumedBonusBlocksSecond(t *testing.T) {
	now := time.Date(2025, 3, 15, 12, 0, 0, 0, time.UTC)
	svc, repo := newTestService(now)

	repo.On("MarkReferralPaid", mock.Anything, int64(23)).
		Return(&models.Referral{ReferrerID: 1, ReferredID: 23, HasPaidSubscription: true}, true, nil).Once()
	repo.On("HasNonPendingBonus", mock.Anything, int64(1)).Return(true, nil).Once()

	err := svc.MarkPaid(context.Background(), 23)
	assert.NoError(t, err)
	repo.AssertNotCalled(t, "ListPaidReferrals", mock.Anything, mock.Anything)
	repo.AssertNotCalled(t, "CreateBonus", mock.Anything, mock.Anything, mock.Anything)
}

func TestMarkPaid_PendingBonusNotDuplicated(t *testing.T) {
	now := time.Date(2025, 3, 15, 12, 0, 0, 0, time.UTC)
	svc, repo := newTestService(now)

	// Четвёртый оплативший реферал при ещё не доставленном бонусе.
	repo.On("MarkReferralPaid", mock.Anything, int64(24)).
		Return(&models.Referral{ReferrerID: 1, ReferredID: 24, HasPaidSubscription: true}, true, nil).Once()
	repo.On("HasNonPendingBonus", mock.Anything, int64(1)).Return(false, nil).Once()
	repo.On("ListPaidReferrals", mock.Anything, int64(1)).Return(paidReferrals(1, 20, 21, 22, 24), nil).Once()
	for _, id := range []int64{20, 21, 22, 24} {
		repo.On("GetActiveSubscription", mock.Anything, id, now).
			Return(&models.Subscription{UserID: id, Status: models.SubscriptionActive}, nil).Once()
	}
	repo.On("HasAnyBonus", mock.Anything, int64(1)).Return(true, nil).Once()

	err := svc.MarkPaid(context.Background(), 24)
	assert.NoError(t, err)
	repo.AssertNotCalled(t, "CreateBonus", mock.Anything, mock.Anything, mock.Anything)
}

func TestStats(t *testing.T) {
	now := time.Date(2025, 3, 15, 12, 0, 0, 0, time.UTC)
	svc, repo := newTestService(now)

	repo.On("GetUserByID", mock.Anything, int64(1)).
		Return(&models.User{ID: 1, ReferralCode: "AB12CD34"}, nil).Once()
	repo.On("CountReferrals", mock.Anything, int64(1)).Return(5, 2, nil).Once()
	repo.On("ListPaidReferrals", mock.Anything, int64(1)).Return(paidReferrals(1, 20, 21), nil).Once()
	repo.On("GetActiveSubscription", mock.Anything, int64(20), now).
		Return(&models.Subscription{UserID: 20, Status: models.SubscriptionActive}, nil).Once()
	repo.On("GetActiveSubscription", mock.Anything, int64(21), now).Return(nil, repository.ErrNotFound).Once()
	repo.On("HasNonPendingBonus", mock.Anything, int64(1)).Return(false, nil).Once()

	stats, err := svc.Stats(context.Background(), 1)
	assert.NoError(t, err)
	assert.Equal(t, 5, stats.TotalReferrals)
	assert.Equal(t, 2, stats.PaidReferrals)
	assert.Equal(t, 1, stats.ActivePaidReferrals)
	assert.False(t, stats.BonusAvailable)
	assert.Equal(t, 2, stats.RemainingForBonus)
	assert.Equal(t, "AB12CD34", stats.ReferralCode)
}

func TestMarkNotified_SecondCallIsNoop(t *testing.T) {
	now := time.Date(2025, 3, 15, 12, 0, 0, 0, time.UTC)
	svc, repo := newTestService(now)

	repo.On("MarkBonusNotified", mock.Anything, int64(100)).Return(true, nil).Once()
	repo.On("MarkBonusNotified", mock.Anything, int64(100)).Return(false, nil).Once()

	ok, err := svc.MarkNotified(context.Background(), 100)
	assert.NoError(t, err)
	assert.True(t, ok)

	ok, err = svc.MarkNotified(context.Background(), 100)
	assert.NoError(t, err)
	assert.False(t, ok)
}
